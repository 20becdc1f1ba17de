package hgbridge

import "errors"

var (
	// ErrUnknownRevision reports a revision that has no object or no
	// recorded mapping. Batch lookups turn it into a null placeholder.
	ErrUnknownRevision = errors.New("unknown revision")

	// ErrCorruptIndex reports missing or malformed metadata for an object
	// that the index claims to know. It is never papered over.
	ErrCorruptIndex = errors.New("corrupt index")

	// ErrMalformedPatch reports a changeset patch whose offsets cannot be
	// applied to the reconstructed text.
	ErrMalformedPatch = errors.New("malformed changeset patch")

	// ErrObjectNotFound is returned by the source store for absent objects.
	ErrObjectNotFound = errors.New("object not found")

	// ErrMalformedAuthorship reports an author or committer line that does
	// not follow "name <email> timestamp tz".
	ErrMalformedAuthorship = errors.New("malformed authorship line")

	// ErrTypeMismatch reports an object that is not of the type its
	// reference promised, such as a manifest commit pointing at a blob.
	ErrTypeMismatch = errors.New("unexpected object type")
)
