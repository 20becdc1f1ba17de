package hgbridge

import (
	"bytes"
	"fmt"
)

// CommitHeader is the subset of a Git commit object the bridge needs.
type CommitHeader struct {
	Tree Hash

	// Parents lists parent commits in the order they appear in the object.
	Parents []Hash

	// Author and Committer hold the raw values after the keyword.
	Author    []byte
	Committer []byte

	// Body is the commit message, verbatim.
	Body []byte
}

// ParseCommitHeader splits raw commit bytes on the first blank line and
// reads the "key value" header lines that precede it. Continuation lines of
// multi-line headers (gpgsig, mergetag) start with a space and are skipped.
func ParseCommitHeader(raw []byte) (*CommitHeader, error) {
	header, body, ok := bytes.Cut(raw, []byte("\n\n"))
	if !ok {
		return nil, fmt.Errorf("%w: commit has no header/body separator", ErrCorruptIndex)
	}

	c := &CommitHeader{Body: body}
	var haveAuthor, haveCommitter bool
	for len(header) > 0 {
		var line []byte
		line, header, _ = bytes.Cut(header, []byte{'\n'})
		if len(line) == 0 || line[0] == ' ' {
			continue
		}
		key, val, _ := bytes.Cut(line, []byte{' '})
		switch string(key) {
		case "tree":
			h, err := ParseHash(string(val))
			if err != nil {
				return nil, fmt.Errorf("%w: tree: %v", ErrCorruptIndex, err)
			}
			c.Tree = h
		case "parent":
			h, err := ParseHash(string(val))
			if err != nil {
				return nil, fmt.Errorf("%w: parent: %v", ErrCorruptIndex, err)
			}
			c.Parents = append(c.Parents, h)
		case "author":
			if haveAuthor {
				return nil, fmt.Errorf("%w: commit has more than one author line", ErrCorruptIndex)
			}
			c.Author, haveAuthor = val, true
		case "committer":
			if haveCommitter {
				return nil, fmt.Errorf("%w: commit has more than one committer line", ErrCorruptIndex)
			}
			c.Committer, haveCommitter = val, true
		}
	}

	if !haveAuthor {
		return nil, fmt.Errorf("%w: commit has no author line", ErrCorruptIndex)
	}
	if !haveCommitter {
		return nil, fmt.Errorf("%w: commit has no committer line", ErrCorruptIndex)
	}
	return c, nil
}
