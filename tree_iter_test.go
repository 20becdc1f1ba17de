package hgbridge

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTreeIter_Empty(t *testing.T) {
	iter := newTreeIter(nil)

	name, oid, mode, ok, err := iter.Next()
	assert.False(t, ok)
	assert.Equal(t, io.EOF, err)
	assert.Empty(t, name)
	assert.Equal(t, Hash{}, oid)
	assert.Zero(t, mode)
}

func TestTreeIter_ManifestEntries(t *testing.T) {
	entries := []treeEntry{
		{mode: modeHgRegular, name: "_README", oid: Hash(hgNode("11"))},
		{mode: modeDir, name: "_src", oid: calculateHash(ObjTree, nil)},
		{mode: modeHgExec, name: "_run.sh", oid: Hash(hgNode("33"))},
		{mode: modeHgSymlink, name: "_latest", oid: Hash(hgNode("44"))},
	}
	raw := encodeTree(entries)

	var got []treeEntry
	iter := newTreeIter(raw)
	for {
		name, oid, mode, ok, err := iter.Next()
		if !ok {
			require.Equal(t, io.EOF, err)
			break
		}
		got = append(got, treeEntry{mode: mode, name: name, oid: oid})
	}
	assert.ElementsMatch(t, entries, got)
}

func TestTreeIter_ModeParsing(t *testing.T) {
	tests := []struct {
		mode string
		want uint32
	}{
		{"100644", 0o100644},
		{"40000", modeDir},
		{"040000", modeDir},
		{"160644", modeHgRegular},
		{"160755", modeHgExec},
		{"160000", modeGitlink},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			raw := append([]byte(tt.mode+" f\x00"), bytes.Repeat([]byte{0xaa}, hashSize)...)
			_, _, mode, ok, err := newTreeIter(raw).Next()
			require.True(t, ok, "err=%v", err)
			assert.Equal(t, tt.want, mode)
		})
	}
}

func TestTreeIter_Corrupt(t *testing.T) {
	id := bytes.Repeat([]byte{0xcc}, hashSize)
	tests := map[string][]byte{
		"bad octal":     append([]byte("100844 file\x00"), id...),
		"missing space": append([]byte("100644file\x00"), id...),
		"empty mode":    append([]byte(" file\x00"), id...),
		"missing nul":   append([]byte("100644 file"), id...),
		"truncated id":  append([]byte("100644 file\x00"), id[:10]...),
		"short tail":    []byte("100644 "),
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, _, ok, err := newTreeIter(raw).Next()
			assert.False(t, ok)
			assert.ErrorIs(t, err, ErrCorruptTree)
		})
	}
}

func TestTreeIter_DoesNotMutate(t *testing.T) {
	raw := encodeTree([]treeEntry{{mode: 0o100644, name: "a", oid: Hash(hgNode("12"))}})
	backup := bytes.Clone(raw)

	iter := newTreeIter(raw)
	for {
		if _, _, _, ok, _ := iter.Next(); !ok {
			break
		}
	}
	assert.Equal(t, backup, raw)
}
