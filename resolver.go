package hgbridge

import (
	"errors"
	"fmt"
	"io"
)

// Kind selects which Mercurial object a revision names.
type Kind int

const (
	KindFile Kind = iota
	KindChangeset
	KindManifest
)

func (k Kind) String() string {
	switch k {
	case KindChangeset:
		return "changeset"
	case KindManifest:
		return "manifest"
	case KindFile:
		return "file"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// fileMetaMarker delimits the copy/rename header Mercurial prepends to file
// revisions that carry metadata.
var fileMetaMarker = []byte("\x01\n")

// RevisionError reports a revision the index cannot map.
type RevisionError struct {
	Rev string
}

func (e *RevisionError) Error() string { return "Unknown revision: " + e.Rev }

func (e *RevisionError) Unwrap() error { return ErrUnknownRevision }

// Resolver serves the raw bytes of Mercurial changesets, manifests and file
// revisions.
type Resolver struct {
	reader     ObjectReader
	index      *ObjectIndex
	filesMeta  *NotesTree
	manifests  ManifestGenerator
	changesets *ChangesetReconstructor
}

// NewResolver composes the pieces a dump needs.
func NewResolver(
	r ObjectReader,
	index *ObjectIndex,
	filesMeta *NotesTree,
	manifests ManifestGenerator,
	changesets *ChangesetReconstructor,
) *Resolver {
	return &Resolver{
		reader:     r,
		index:      index,
		filesMeta:  filesMeta,
		manifests:  manifests,
		changesets: changesets,
	}
}

// Render returns the bytes of the revision rev of the given kind.
func (r *Resolver) Render(kind Kind, rev AbbrevHgHash) ([]byte, error) {
	node, oid, err := r.index.ToGit(rev)
	if err != nil {
		return nil, err
	}
	if oid.IsNull() {
		return nil, &RevisionError{Rev: rev.String()}
	}

	var out []byte
	switch kind {
	case KindChangeset:
		out, err = r.changesets.Reconstruct(oid)
	case KindManifest:
		out, err = r.manifests.GenerateManifest(oid)
	case KindFile:
		out, err = r.file(node, oid)
	default:
		return nil, fmt.Errorf("unsupported kind %s", kind)
	}
	if errors.Is(err, ErrUnknownRevision) {
		return nil, &RevisionError{Rev: rev.String()}
	}
	return out, err
}

// Write renders rev and writes it to w verbatim.
func (r *Resolver) Write(w io.Writer, kind Kind, rev AbbrevHgHash) error {
	out, err := r.Render(kind, rev)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

// file returns the blob, prefixed with its metadata block when the
// files-meta notes tree has an entry for node.
func (r *Resolver) file(node HgHash, oid Hash) ([]byte, error) {
	blob, err := r.readBlob(oid)
	if err != nil {
		return nil, err
	}
	metaOID, ok, err := r.filesMeta.Get(Hash(node))
	if err != nil {
		return nil, err
	}
	if !ok {
		return blob, nil
	}
	meta, err := r.readBlob(metaOID)
	if err != nil {
		return nil, fmt.Errorf("%w: file metadata %s of %s: %v", ErrCorruptIndex, metaOID, node, err)
	}

	out := make([]byte, 0, 2*len(fileMetaMarker)+len(meta)+len(blob))
	out = append(out, fileMetaMarker...)
	out = append(out, meta...)
	out = append(out, fileMetaMarker...)
	return append(out, blob...), nil
}

func (r *Resolver) readBlob(oid Hash) ([]byte, error) {
	obj, err := r.reader.ReadObject(oid)
	if err != nil {
		return nil, err
	}
	if obj.Type != ObjBlob {
		return nil, fmt.Errorf("%w: %s is a %s, want blob", ErrTypeMismatch, oid, obj.Type)
	}
	return obj.Data, nil
}
