package hgbridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObjectTypeString(t *testing.T) {
	tests := []struct {
		objType  ObjectType
		expected string
	}{
		{ObjCommit, "commit"},
		{ObjTree, "tree"},
		{ObjBlob, "blob"},
		{ObjTag, "tag"},
		{ObjOfsDelta, "ofs-delta"},
		{ObjRefDelta, "ref-delta"},
		{ObjectType(99), ""},
	}

	for _, test := range tests {
		assert.Equal(t, test.expected, test.objType.String())
	}
}

func TestParseObjectType(t *testing.T) {
	tests := []struct {
		word     string
		expected ObjectType
	}{
		{"commit", ObjCommit},
		{"tree", ObjTree},
		{"blob", ObjBlob},
		{"tag", ObjTag},
		{"ofs-delta", ObjBad},
		{"Blob", ObjBad},
		{"", ObjBad},
	}

	for _, test := range tests {
		assert.Equal(t, test.expected, parseObjectType(test.word), test.word)
	}
}
