package hgbridge

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// TreeManifests renders Mercurial manifests from the manifest commits of the
// source store.
//
// A manifest commit's tree mirrors the Mercurial file hierarchy. Every entry
// name carries a leading '_' so that names like ".git" stay legal. File
// entries are gitlinks whose id is the Mercurial file node and whose mode
// encodes the manifest flag.
type TreeManifests struct {
	reader ObjectReader
}

// NewTreeManifests returns a ManifestGenerator over r.
func NewTreeManifests(r ObjectReader) *TreeManifests { return &TreeManifests{reader: r} }

var _ ManifestGenerator = (*TreeManifests)(nil)

// GenerateManifest returns the manifest text, one "path\0<node hex><flag>\n"
// line per file in path order. oid may name the manifest commit or its tree.
func (g *TreeManifests) GenerateManifest(oid Hash) ([]byte, error) {
	obj, err := g.reader.ReadObject(oid)
	if err != nil {
		return nil, err
	}
	tree := oid
	switch obj.Type {
	case ObjCommit:
		hdr, err := ParseCommitHeader(obj.Data)
		if err != nil {
			return nil, fmt.Errorf("manifest commit %s: %w", oid, err)
		}
		tree = hdr.Tree
	case ObjTree:
	default:
		return nil, fmt.Errorf("%w: manifest %s is a %s", ErrTypeMismatch, oid, obj.Type)
	}

	var buf bytes.Buffer
	if err := g.render(&buf, tree, ""); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", oid, err)
	}
	return buf.Bytes(), nil
}

// render appends the lines of tree. Git orders a directory as if its name
// ended in '/', which is also the byte order of the full Mercurial paths, so
// entries come out sorted without a separate pass.
func (g *TreeManifests) render(buf *bytes.Buffer, tree Hash, dir string) error {
	obj, err := g.reader.ReadObject(tree)
	if err != nil {
		return err
	}
	if obj.Type != ObjTree {
		return fmt.Errorf("%w: %s is a %s, want tree", ErrTypeMismatch, tree, obj.Type)
	}

	var hexBuf [hexSize]byte
	it := newTreeIter(obj.Data)
	for {
		name, oid, mode, ok, err := it.Next()
		if !ok {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		stripped, found := strings.CutPrefix(name, "_")
		if !found {
			return fmt.Errorf("%w: manifest entry %q in %s lacks the '_' prefix", ErrCorruptIndex, name, tree)
		}
		path := dir + stripped

		if mode == modeDir {
			if err := g.render(buf, oid, path+"/"); err != nil {
				return err
			}
			continue
		}

		flag, err := manifestFlag(mode)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		hex.Encode(hexBuf[:], oid[:])
		buf.WriteString(path)
		buf.WriteByte(0)
		buf.Write(hexBuf[:])
		buf.WriteString(flag)
		buf.WriteByte('\n')
	}
}

func manifestFlag(mode uint32) (string, error) {
	switch mode {
	case modeHgRegular:
		return "", nil
	case modeHgExec:
		return "x", nil
	case modeHgSymlink:
		return "l", nil
	}
	return "", fmt.Errorf("%w: unexpected manifest entry mode %o", ErrCorruptIndex, mode)
}
