package hgbridge

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
)

// DefaultAbbrev is the number of hex digits rendered when a caller asks for
// an abbreviation without naming a width.
const DefaultAbbrev = 12

const (
	hashSize   = 20
	hexSize    = hashSize * 2
	minAbbrev  = 3
	maxAbbrev  = hexSize
	nullHexStr = "0000000000000000000000000000000000000000"
)

var (
	ErrInvalidHash   = errors.New("invalid hash")
	ErrInvalidAbbrev = errors.New("invalid abbreviated hash")
)

// Hash represents a raw Git object identifier.
//
// It is the 20-byte binary form of a SHA-1 digest as used by Git internally.
// The zero value is the all-zero hash, which never resolves to a real object
// and stands for "absent" wherever a lookup comes back empty.
type Hash [hashSize]byte

// HgHash is a Mercurial node id. It has the same shape as Hash but lives in
// a different hash space: the digest covers the two parent nodes followed by
// the revision text, not a typed object envelope.
type HgHash [hashSize]byte

// ParseHash converts the canonical, 40-character hexadecimal SHA-1 string
// produced by Git into its raw 20-byte representation.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if err := decodeFullHex(h[:], s); err != nil {
		return Hash{}, err
	}
	return h, nil
}

// ParseHgHash is ParseHash for Mercurial node ids.
func ParseHgHash(s string) (HgHash, error) {
	var h HgHash
	if err := decodeFullHex(h[:], s); err != nil {
		return HgHash{}, err
	}
	return h, nil
}

func decodeFullHex(dst []byte, s string) error {
	if len(s) != hexSize {
		return fmt.Errorf("%w: length %d", ErrInvalidHash, len(s))
	}
	if _, err := hex.Decode(dst, []byte(s)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	return nil
}

func (h Hash) String() string   { return hex.EncodeToString(h[:]) }
func (h HgHash) String() string { return hex.EncodeToString(h[:]) }

// IsNull reports whether h is the all-zero sentinel.
func (h Hash) IsNull() bool   { return h == Hash{} }
func (h HgHash) IsNull() bool { return h == HgHash{} }

// Compare orders hashes by byte value.
func (h Hash) Compare(o Hash) int     { return bytes.Compare(h[:], o[:]) }
func (h HgHash) Compare(o HgHash) int { return bytes.Compare(h[:], o[:]) }

// Abbrev renders the first width hex digits of h. A non-positive width means
// DefaultAbbrev; widths past 40 are clamped.
func (h Hash) Abbrev(width int) string { return abbrevHex(h.String(), width) }

// Abbrev renders the first width hex digits of h. See Hash.Abbrev.
func (h HgHash) Abbrev(width int) string { return abbrevHex(h.String(), width) }

func abbrevHex(full string, width int) string {
	switch {
	case width <= 0:
		width = DefaultAbbrev
	case width > hexSize:
		width = hexSize
	}
	return full[:width]
}

// AbbrevHgHash is a Mercurial node id as a user typed it: possibly only a
// prefix. The digits past Len are zero and carry no meaning.
type AbbrevHgHash struct {
	id  HgHash
	len int
}

// ParseAbbrevHgHash accepts between 3 and 40 hex digits.
func ParseAbbrevHgHash(s string) (AbbrevHgHash, error) {
	if len(s) < minAbbrev || len(s) > maxAbbrev {
		return AbbrevHgHash{}, fmt.Errorf("%w: %q must have %d to %d hex digits",
			ErrInvalidAbbrev, s, minAbbrev, maxAbbrev)
	}
	// Pad to an even length so hex.Decode sees whole bytes; the padding
	// nibble is zero and sits past len.
	padded := s
	if len(padded)%2 == 1 {
		padded += "0"
	}
	var a AbbrevHgHash
	if _, err := hex.Decode(a.id[:], []byte(padded)); err != nil {
		return AbbrevHgHash{}, fmt.Errorf("%w: %q: %v", ErrInvalidAbbrev, s, err)
	}
	a.len = len(s)
	return a, nil
}

// FullAbbrev wraps a complete node id.
func FullAbbrev(h HgHash) AbbrevHgHash { return AbbrevHgHash{id: h, len: hexSize} }

// Len is the number of significant hex digits.
func (a AbbrevHgHash) Len() int { return a.len }

// IsFull reports whether all 40 digits were supplied.
func (a AbbrevHgHash) IsFull() bool { return a.len == hexSize }

// HgHash returns the digits as a node id, zero-padded when abbreviated.
func (a AbbrevHgHash) HgHash() HgHash { return a.id }

// Prefix returns the significant hex digits.
func (a AbbrevHgHash) Prefix() string { return a.id.String()[:a.len] }

func (a AbbrevHgHash) String() string { return a.Prefix() }

// matches reports whether the full node id k starts with the abbreviation.
func (a AbbrevHgHash) matches(k HgHash) bool { return prefixMatch(a.id[:], a.len, k[:]) }

// prefixMatch compares the first n hex digits of id and k.
func prefixMatch(id []byte, n int, k []byte) bool {
	whole := n / 2
	if !bytes.Equal(id[:whole], k[:whole]) {
		return false
	}
	if n%2 == 1 {
		return id[whole]&0xf0 == k[whole]&0xf0
	}
	return true
}

// minGitAbbrev is the shortest abbreviated Git id a committish may use.
const minGitAbbrev = 4

// hexPrefix is an abbreviated Git object id, zero-padded past n digits.
type hexPrefix struct {
	id Hash
	n  int
}

// parseHexPrefix accepts 4 to 40 hex digits.
func parseHexPrefix(s string) (hexPrefix, bool) {
	if len(s) < minGitAbbrev || len(s) > hexSize || !isHex(s) {
		return hexPrefix{}, false
	}
	padded := s
	if len(padded)%2 == 1 {
		padded += "0"
	}
	var p hexPrefix
	if _, err := hex.Decode(p.id[:], []byte(padded)); err != nil {
		return hexPrefix{}, false
	}
	p.n = len(s)
	return p, true
}

func (p hexPrefix) first() byte { return p.id[0] }

// low is the smallest id carrying the prefix.
func (p hexPrefix) low() Hash { return p.id }

func (p hexPrefix) matches(h Hash) bool { return prefixMatch(p.id[:], p.n, h[:]) }

func (p hexPrefix) String() string { return p.id.String()[:p.n] }
