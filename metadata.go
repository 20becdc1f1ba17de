package hgbridge

import (
	"bytes"
	"fmt"
	"strconv"
)

// MetadataRecord is the side-record attached, as a git2hg note, to every Git
// commit that was translated from a Mercurial changeset. It carries what the
// Git commit cannot express on its own.
//
// On disk it is a sequence of "key value" lines:
//
//	changeset <40 hex>
//	manifest <40 hex>
//	author <raw Mercurial author>
//	extra <key:value>\0<key:value>...
//	files <path>\0<path>...
//	patch <start>,<end>,<percent-encoded data>\0...
//
// Only changeset is mandatory.
type MetadataRecord struct {
	Changeset HgHash
	Manifest  HgHash

	// Author overrides the name derived from the commit's author line.
	// Nil when absent.
	Author []byte

	// Extra is the NUL-joined extra payload, stored sorted by key.
	// Nil when absent.
	Extra []byte

	// Files lists the paths touched by the changeset, in storage order.
	Files [][]byte

	// Patch edits the reconstructed text. Nil when absent.
	Patch []PatchEdit
}

// PatchEdit replaces the bytes [Start, End) of the baseline text with Data.
type PatchEdit struct {
	Start int
	End   int
	Data  []byte
}

// ParseMetadata parses a git2hg note blob. Every problem, including an
// unknown key, is reported as ErrCorruptIndex: a translated commit with
// unreadable metadata means the index itself is damaged.
func ParseMetadata(blob []byte) (*MetadataRecord, error) {
	m := &MetadataRecord{}
	haveNode := false

	blob = bytes.TrimSuffix(blob, []byte{'\n'})
	for n, line := range bytes.Split(blob, []byte{'\n'}) {
		key, val, ok := bytes.Cut(line, []byte{' '})
		if !ok {
			return nil, fmt.Errorf("%w: malformed metadata line %d: %q", ErrCorruptIndex, n+1, line)
		}
		switch string(key) {
		case "changeset":
			h, err := ParseHgHash(string(val))
			if err != nil {
				return nil, fmt.Errorf("%w: changeset: %v", ErrCorruptIndex, err)
			}
			m.Changeset, haveNode = h, true
		case "manifest":
			h, err := ParseHgHash(string(val))
			if err != nil {
				return nil, fmt.Errorf("%w: manifest: %v", ErrCorruptIndex, err)
			}
			m.Manifest = h
		case "author":
			m.Author = val
		case "extra":
			m.Extra = val
		case "files":
			m.Files = bytes.Split(val, []byte{0})
		case "patch":
			edits, err := parsePatch(val)
			if err != nil {
				return nil, err
			}
			m.Patch = edits
		default:
			return nil, fmt.Errorf("%w: unknown metadata key %q", ErrCorruptIndex, key)
		}
	}

	if !haveNode {
		return nil, fmt.Errorf("%w: metadata has no changeset line", ErrCorruptIndex)
	}
	return m, nil
}

func parsePatch(val []byte) ([]PatchEdit, error) {
	parts := bytes.Split(val, []byte{0})
	edits := make([]PatchEdit, 0, len(parts))
	for _, part := range parts {
		fields := bytes.SplitN(part, []byte{','}, 3)
		if len(fields) != 3 {
			return nil, fmt.Errorf("%w: patch entry %q is not start,end,data", ErrCorruptIndex, part)
		}
		start, err := strconv.Atoi(string(fields[0]))
		if err != nil {
			return nil, fmt.Errorf("%w: patch start %q", ErrCorruptIndex, fields[0])
		}
		end, err := strconv.Atoi(string(fields[1]))
		if err != nil {
			return nil, fmt.Errorf("%w: patch end %q", ErrCorruptIndex, fields[1])
		}
		edits = append(edits, PatchEdit{Start: start, End: end, Data: percentDecode(fields[2])})
	}
	return edits, nil
}
