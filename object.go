package hgbridge

// ObjectType enumerates the kinds of Git objects that can appear in a pack
// or loose-object store.
//
// The zero value, ObjBad, denotes an invalid or unknown object type.
// The String method returns the canonical, lower-case Git spelling.
type ObjectType byte

const (
	// ObjBad represents an invalid or unspecified object kind.
	ObjBad ObjectType = iota

	// ObjCommit is a regular commit object.
	ObjCommit

	// ObjTree is a directory tree object describing the hierarchy of a commit.
	ObjTree

	// ObjBlob is a file-content blob object.
	ObjBlob

	// ObjTag is an annotated tag object.
	ObjTag

	_ // Unused

	// ObjOfsDelta is a delta object whose base is addressed by packfile offset.
	ObjOfsDelta

	// ObjRefDelta is a delta object whose base is addressed by object ID.
	ObjRefDelta
)

var typeNames = map[ObjectType]string{
	ObjCommit:   "commit",
	ObjTree:     "tree",
	ObjBlob:     "blob",
	ObjTag:      "tag",
	ObjOfsDelta: "ofs-delta",
	ObjRefDelta: "ref-delta",
}

func (t ObjectType) String() string { return typeNames[t] }

// parseObjectType maps the type word of a loose-object envelope back to an
// ObjectType. Delta kinds never appear there.
func parseObjectType(s string) ObjectType {
	switch s {
	case "commit":
		return ObjCommit
	case "tree":
		return ObjTree
	case "blob":
		return ObjBlob
	case "tag":
		return ObjTag
	}
	return ObjBad
}

// RawObject is a fully materialized object as handed out by the source
// store. Data may be shared with the store's caches and must not be
// modified.
type RawObject struct {
	Type ObjectType
	Data []byte
}

// ObjectReader is the read primitive of the source store.
// Implementations return an error wrapping ErrObjectNotFound when oid is
// absent.
type ObjectReader interface {
	ReadObject(oid Hash) (RawObject, error)
}

// CommittishResolver resolves a revision expression ("HEAD~2", a branch
// name, an abbreviated hash) to a commit id.
type CommittishResolver interface {
	ResolveCommittish(expr string) (Hash, error)
}

// RefResolver resolves a fully or partially qualified ref name.
type RefResolver interface {
	ResolveRef(name string) (Hash, error)
}

// ManifestGenerator renders the Mercurial manifest text that corresponds to
// a manifest commit of the source store.
type ManifestGenerator interface {
	GenerateManifest(oid Hash) ([]byte, error)
}

// SourceStore is everything the bridge needs from the git side.
type SourceStore interface {
	ObjectReader
	CommittishResolver
	RefResolver
}
