package hgbridge

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// looseStore reads zlib-compressed objects stored one per file under
// objects/xx/yyyy..., where xx is the first byte of the id in hex.
type looseStore struct {
	dir string
}

func (s *looseStore) path(oid Hash) string {
	hex := oid.String()
	return filepath.Join(s.dir, hex[:2], hex[2:])
}

// Has reports whether a loose file exists for oid.
func (s *looseStore) Has(oid Hash) bool {
	_, err := os.Stat(s.path(oid))
	return err == nil
}

// ReadObject inflates the loose object oid and strips its
// "<type> <size>\0" envelope.
func (s *looseStore) ReadObject(oid Hash) (RawObject, error) {
	f, err := os.Open(s.path(oid))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return RawObject{}, fmt.Errorf("%w: %s", ErrObjectNotFound, oid)
		}
		return RawObject{}, err
	}
	defer f.Close()

	raw, err := inflate(f, 0)
	if err != nil {
		return RawObject{}, fmt.Errorf("loose object %s: %w", oid, err)
	}
	obj, err := parseLooseEnvelope(raw)
	if err != nil {
		return RawObject{}, fmt.Errorf("loose object %s: %w", oid, err)
	}
	return obj, nil
}

var ErrBadLooseObject = errors.New("malformed loose object")

func parseLooseEnvelope(raw []byte) (RawObject, error) {
	nul := bytes.IndexByte(raw, 0)
	if nul < 0 {
		return RawObject{}, fmt.Errorf("%w: no header terminator", ErrBadLooseObject)
	}
	kind, size, ok := bytes.Cut(raw[:nul], []byte{' '})
	if !ok {
		return RawObject{}, fmt.Errorf("%w: header %q", ErrBadLooseObject, raw[:nul])
	}
	typ := parseObjectType(string(kind))
	if typ == ObjBad {
		return RawObject{}, fmt.Errorf("%w: type %q", ErrBadLooseObject, kind)
	}
	n, err := strconv.Atoi(string(size))
	if err != nil || n != len(raw)-nul-1 {
		return RawObject{}, fmt.Errorf("%w: size %q for %d bytes", ErrBadLooseObject, size, len(raw)-nul-1)
	}
	return RawObject{Type: typ, Data: raw[nul+1:]}, nil
}

// withPrefix appends loose ids that start with prefix, up to limit.
func (s *looseStore) withPrefix(dst []Hash, prefix hexPrefix, limit int) []Hash {
	p := prefix.String()
	entries, err := os.ReadDir(filepath.Join(s.dir, p[:2]))
	if err != nil {
		return dst
	}
	for _, e := range entries {
		if len(dst) >= limit {
			break
		}
		oid, err := ParseHash(p[:2] + e.Name())
		if err != nil || !prefix.matches(oid) {
			continue
		}
		dst = appendDistinct(dst, oid)
	}
	return dst
}
