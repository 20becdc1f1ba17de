package hgbridge

import (
	"bytes"
	"fmt"
	"strconv"
)

// Authorship describes one author or committer identity together with the
// moment it was recorded. It converts between Git's single-line form,
//
//	Jane Doe <jane@example.com> 1700000000 +0100
//
// and Mercurial's three fields: "Jane Doe <jane@example.com>", "1700000000"
// and "-3600". Mercurial stores the offset as seconds west of UTC, so its
// sign is the opposite of Git's.
type Authorship struct {
	// Name is the personal name exactly as it appears in the Git line,
	// without the separating space before the e-mail.
	Name []byte

	// Email is the text between the angle brackets. It may be empty.
	Email []byte

	// Timestamp is the number of seconds since the Unix epoch.
	Timestamp int64

	// UTCOffset is the Mercurial-style offset in seconds west of UTC.
	UTCOffset int
}

// ParseGitAuthorship splits a Git author or committer value (everything
// after the "author " / "committer " keyword) into its parts.
//
// The line is scanned from the end: time zone, then timestamp, then the
// identity. The e-mail is located by its closing '>' first because the name
// itself may contain '<'.
func ParseGitAuthorship(line []byte) (Authorship, error) {
	sp := bytes.LastIndexByte(line, ' ')
	if sp < 0 {
		return Authorship{}, fmt.Errorf("%w: missing time zone in %q", ErrMalformedAuthorship, line)
	}
	tz := line[sp+1:]
	rest := line[:sp]

	sp = bytes.LastIndexByte(rest, ' ')
	if sp < 0 {
		return Authorship{}, fmt.Errorf("%w: missing timestamp in %q", ErrMalformedAuthorship, line)
	}
	ts := rest[sp+1:]
	who := rest[:sp]

	sec, err := strconv.ParseInt(string(ts), 10, 64)
	if err != nil {
		return Authorship{}, fmt.Errorf("%w: invalid timestamp %q", ErrMalformedAuthorship, ts)
	}
	zone, err := strconv.Atoi(string(tz))
	if err != nil {
		return Authorship{}, fmt.Errorf("%w: invalid time zone %q", ErrMalformedAuthorship, tz)
	}

	if len(who) == 0 || who[len(who)-1] != '>' {
		return Authorship{}, fmt.Errorf("%w: missing '>' in %q", ErrMalformedAuthorship, line)
	}
	emailEnd := len(who) - 1
	emailStart := bytes.LastIndexByte(who[:emailEnd], '<')
	if emailStart < 0 {
		return Authorship{}, fmt.Errorf("%w: missing '<' in %q", ErrMalformedAuthorship, line)
	}

	return Authorship{
		Name:      bytes.TrimRight(who[:emailStart], " "),
		Email:     who[emailStart+1 : emailEnd],
		Timestamp: sec,
		UTCOffset: hgOffset(zone),
	}, nil
}

// hgOffset turns a Git "+HHMM" zone, already parsed as the integer HHMM,
// into Mercurial's seconds-west-of-UTC.
func hgOffset(zone int) int {
	sign := 0
	switch {
	case zone > 0:
		sign = -1
	case zone < 0:
		sign = 1
		zone = -zone
	}
	return sign * ((zone/100)*60 + zone%100) * 60
}

// HgAuthor renders the identity the way Mercurial stores it. A name without
// an e-mail drops the brackets; otherwise an empty name leaves "<email>",
// which is "<>" when both are empty.
func (a Authorship) HgAuthor() []byte {
	switch {
	case len(a.Email) == 0 && len(a.Name) > 0:
		return append([]byte(nil), a.Name...)
	case len(a.Name) == 0:
		out := make([]byte, 0, len(a.Email)+2)
		out = append(out, '<')
		out = append(out, a.Email...)
		return append(out, '>')
	}
	out := make([]byte, 0, len(a.Name)+len(a.Email)+3)
	out = append(out, a.Name...)
	out = append(out, " <"...)
	out = append(out, a.Email...)
	return append(out, '>')
}

// HgParts returns the three Mercurial fields: author, timestamp and offset.
func (a Authorship) HgParts() (author, timestamp, utcoffset []byte) {
	return a.HgAuthor(),
		strconv.AppendInt(nil, a.Timestamp, 10),
		strconv.AppendInt(nil, int64(a.UTCOffset), 10)
}

// HgBytes joins the three Mercurial fields with single spaces. This is the
// form used for the "committer:" extra entry.
func (a Authorship) HgBytes() []byte {
	author, ts, off := a.HgParts()
	out := make([]byte, 0, len(author)+len(ts)+len(off)+2)
	out = append(out, author...)
	out = append(out, ' ')
	out = append(out, ts...)
	out = append(out, ' ')
	return append(out, off...)
}
