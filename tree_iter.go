// tree_iter.go
//
// Zero-allocation iterator for Git tree objects.
// Entries are parsed one at a time directly from the raw tree bytes; notes
// trees and manifest trees are both walked this way.

package hgbridge

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

var ErrCorruptTree = errors.New("corrupt tree object")

// Tree entry modes. Manifest trees store Mercurial file nodes as gitlinks
// and encode the Mercurial flags in the low bits of the mode.
const (
	modeDir         uint32 = 0o040000
	modeGitlink     uint32 = 0o160000
	modeHgRegular   uint32 = 0o160644
	modeHgExec      uint32 = 0o160755
	modeHgSymlink          = modeGitlink
	minTreeEntryLen        = 1 + 1 + 1 + 1 + hashSize // mode, space, name, NUL, id
)

// TreeIter is a forward-only iterator over the entries of a raw Git tree
// object. It keeps a reference to the caller's buffer and never copies
// entry data except for the 20-byte object ids it reports, so the buffer
// must stay immutable while iterating. A TreeIter is not safe for
// concurrent use.
type TreeIter struct {
	// rest holds the unread portion of the raw tree object.
	rest []byte
}

func newTreeIter(raw []byte) *TreeIter { return &TreeIter{rest: raw} }

// Next parses and returns the next entry in the raw Git tree.
//
// When ok is false the iterator has been exhausted and err is io.EOF, or the
// input was malformed and err wraps ErrCorruptTree.
func (it *TreeIter) Next() (name string, oid Hash, mode uint32, ok bool, err error) {
	if len(it.rest) == 0 {
		return "", Hash{}, 0, false, io.EOF
	}
	if len(it.rest) < minTreeEntryLen {
		return "", Hash{}, 0, false, fmt.Errorf(
			"%w: %d trailing bytes are too short for an entry", ErrCorruptTree, len(it.rest),
		)
	}

	// <mode> in octal, terminated by a space.
	sp := bytes.IndexByte(it.rest, ' ')
	if sp <= 0 {
		return "", Hash{}, 0, false, fmt.Errorf("%w: no space after mode", ErrCorruptTree)
	}
	for _, b := range it.rest[:sp] {
		if b < '0' || b > '7' {
			return "", Hash{}, 0, false, fmt.Errorf(
				"%w: invalid octal digit %q in mode", ErrCorruptTree, b,
			)
		}
		mode = mode<<3 | uint32(b-'0')
	}
	it.rest = it.rest[sp+1:]

	// <name>\0
	nul := bytes.IndexByte(it.rest, 0)
	if nul < 0 {
		return "", Hash{}, 0, false, fmt.Errorf("%w: no NUL after entry name", ErrCorruptTree)
	}
	name = btostr(it.rest[:nul])
	it.rest = it.rest[nul+1:]

	// <id>, 20 raw bytes.
	if len(it.rest) < hashSize {
		return "", Hash{}, 0, false, fmt.Errorf(
			"%w: %d bytes left for the id of %q", ErrCorruptTree, len(it.rest), name,
		)
	}
	copy(oid[:], it.rest[:hashSize])
	it.rest = it.rest[hashSize:]

	return name, oid, mode, true, nil
}
