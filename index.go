package hgbridge

import (
	"errors"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultMetadataCacheSize = 4096

// ObjectIndex maps node ids between the two hash spaces.
//
// Git to Mercurial goes through the git2hg notes tree: every translated
// commit carries a MetadataRecord whose changeset field is the Mercurial
// node. Mercurial to Git goes through the generated hg2git notes tree, keyed
// by Mercurial node, whose entries point straight at the Git object
// (commit, manifest commit or file blob).
//
// Missing mappings are not errors: they come back as the null hash.
type ObjectIndex struct {
	store  SourceStore
	hg2git *NotesTree
	git2hg *NotesTree
	log    *slog.Logger

	// meta caches parsed git2hg records; parents are looked up again for
	// every child when reconstructing a run of changesets.
	meta *lru.Cache[Hash, *MetadataRecord]
}

// NewObjectIndex wires an index over the two mapping notes trees.
func NewObjectIndex(store SourceStore, hg2git, git2hg *NotesTree, logger *slog.Logger) (*ObjectIndex, error) {
	if logger == nil {
		logger = discardLogger()
	}
	cache, err := lru.New[Hash, *MetadataRecord](defaultMetadataCacheSize)
	if err != nil {
		return nil, fmt.Errorf("metadata cache: %w", err)
	}
	return &ObjectIndex{store: store, hg2git: hg2git, git2hg: git2hg, log: logger, meta: cache}, nil
}

// Ensure materializes both notes trees.
func (x *ObjectIndex) Ensure() error {
	if err := x.hg2git.Ensure(); err != nil {
		return err
	}
	return x.git2hg.Ensure()
}

// Metadata returns the git2hg record attached to commit. ok is false when
// the commit has no record.
func (x *ObjectIndex) Metadata(commit Hash) (*MetadataRecord, bool, error) {
	if m, ok := x.meta.Get(commit); ok {
		return m, true, nil
	}
	note, ok, err := x.git2hg.Get(commit)
	if err != nil || !ok {
		return nil, false, err
	}
	obj, err := x.store.ReadObject(note)
	if err != nil {
		return nil, false, fmt.Errorf("%w: metadata note %s of %s: %v", ErrCorruptIndex, note, commit, err)
	}
	if obj.Type != ObjBlob {
		return nil, false, fmt.Errorf("%w: metadata note %s of %s is a %s",
			ErrCorruptIndex, note, commit, obj.Type)
	}
	m, err := ParseMetadata(obj.Data)
	if err != nil {
		return nil, false, fmt.Errorf("metadata of %s: %w", commit, err)
	}
	x.meta.Add(commit, m)
	return m, true, nil
}

// ToHg returns the Mercurial node of a translated commit, or the null hash.
func (x *ObjectIndex) ToHg(commit Hash) (HgHash, error) {
	m, ok, err := x.Metadata(commit)
	if err != nil || !ok {
		return HgHash{}, err
	}
	return m.Changeset, nil
}

// ToGit resolves a possibly abbreviated Mercurial node. It returns the full
// node together with the Git object, or two null hashes.
func (x *ObjectIndex) ToGit(rev AbbrevHgHash) (HgHash, Hash, error) {
	node, oid, ok, err := x.hg2git.Resolve(rev)
	if err != nil || !ok {
		return HgHash{}, Hash{}, err
	}
	return node, oid, nil
}

// CommittishToHg resolves expr in the source store and maps the commit.
// An expression the store cannot resolve yields the null hash.
func (x *ObjectIndex) CommittishToHg(expr string) (HgHash, error) {
	oid, err := x.store.ResolveCommittish(expr)
	if err != nil {
		if errors.Is(err, ErrUnknownRevision) || errors.Is(err, ErrObjectNotFound) {
			x.log.Debug("committish does not resolve", "committish", expr, "err", err)
			return HgHash{}, nil
		}
		return HgHash{}, err
	}
	return x.ToHg(oid)
}
