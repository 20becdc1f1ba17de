package hgbridge

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Parents of the metadata commit, in order.
const (
	metaChangesets = iota
	metaManifests
	metaHg2Git
	metaGit2Hg
	metaFilesMeta
)

// Bridge answers Mercurial queries against a Git repository produced by a
// Git/Mercurial bridge. It is the entry point of the package.
//
// A Bridge is meant for one invocation: notes trees are read once, on first
// use, and never refreshed.
type Bridge struct {
	store      SourceStore
	index      *ObjectIndex
	filesMeta  *NotesTree
	changesets *ChangesetReconstructor
	resolver   *Resolver
	log        *slog.Logger
	metrics    *Metrics
}

// Open opens the repository described by cfg and wires a Bridge over it.
func Open(cfg Config, opts ...Option) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts = append([]Option{WithChangesetVerification(cfg.VerifyChangesets)}, opts...)

	repo, err := OpenRepository(cfg, opts...)
	if err != nil {
		return nil, err
	}
	b, err := New(repo, cfg.MetadataRef, opts...)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}
	return b, nil
}

// New wires a Bridge over an already open source store. metadataRef names
// the commit whose parents carry the mapping notes trees.
func New(store SourceStore, metadataRef string, opts ...Option) (*Bridge, error) {
	o := applyOptions(opts)

	meta := metadataCommit(store, metadataRef)
	hg2git := NewNotesTree("hg2git", store, notesLocator(store, meta, metaHg2Git), o.logger)
	git2hg := NewNotesTree("git2hg", store, notesLocator(store, meta, metaGit2Hg), o.logger)
	filesMeta := NewNotesTree("files-meta", store, notesLocator(store, meta, metaFilesMeta), o.logger)

	index, err := NewObjectIndex(store, hg2git, git2hg, o.logger)
	if err != nil {
		return nil, err
	}
	changesets := NewChangesetReconstructor(store, index, opts...)
	resolver := NewResolver(store, index, filesMeta, NewTreeManifests(store), changesets)

	return &Bridge{
		store:      store,
		index:      index,
		filesMeta:  filesMeta,
		changesets: changesets,
		resolver:   resolver,
		log:        o.logger,
		metrics:    o.metrics,
	}, nil
}

// Close releases the source store when it holds resources.
func (b *Bridge) Close() error {
	if c, ok := b.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Index exposes the translation index.
func (b *Bridge) Index() *ObjectIndex { return b.index }

// metadataCommit reads the metadata commit once. A missing ref yields a nil
// header: the repository has not been translated yet and every notes tree
// is empty.
func metadataCommit(store SourceStore, ref string) func() (*CommitHeader, error) {
	return sync.OnceValues(func() (*CommitHeader, error) {
		oid, err := store.ResolveRef(ref)
		if err != nil {
			if errors.Is(err, ErrUnknownRevision) || errors.Is(err, ErrObjectNotFound) {
				return nil, nil
			}
			return nil, fmt.Errorf("metadata ref %s: %w", ref, err)
		}
		obj, err := store.ReadObject(oid)
		if err != nil {
			return nil, fmt.Errorf("metadata commit %s: %w", oid, err)
		}
		if obj.Type != ObjCommit {
			return nil, fmt.Errorf("%w: metadata %s is a %s", ErrCorruptIndex, oid, obj.Type)
		}
		hdr, err := ParseCommitHeader(obj.Data)
		if err != nil {
			return nil, fmt.Errorf("metadata commit %s: %w", oid, err)
		}
		return hdr, nil
	})
}

// notesLocator returns the tree of the n-th parent of the metadata commit.
func notesLocator(store ObjectReader, meta func() (*CommitHeader, error), n int) NotesLocator {
	return func() (Hash, error) {
		hdr, err := meta()
		if err != nil || hdr == nil || len(hdr.Parents) <= n {
			return Hash{}, err
		}
		parent := hdr.Parents[n]
		obj, err := store.ReadObject(parent)
		if err != nil {
			return Hash{}, fmt.Errorf("notes commit %s: %w", parent, err)
		}
		if obj.Type != ObjCommit {
			return Hash{}, fmt.Errorf("%w: notes commit %s is a %s", ErrCorruptIndex, parent, obj.Type)
		}
		phdr, err := ParseCommitHeader(obj.Data)
		if err != nil {
			return Hash{}, fmt.Errorf("notes commit %s: %w", parent, err)
		}
		return phdr.Tree, nil
	}
}

// TranslateHgToGit prints, for every Mercurial node or abbreviation in revs,
// one line with the Git object it maps to, abbreviated to width digits.
// Unknown nodes and input that is not hex print as zeros.
func (b *Bridge) TranslateHgToGit(w io.Writer, revs []string, width int) error {
	if err := b.index.Ensure(); err != nil {
		return err
	}

	for _, rev := range revs {
		oid, err := b.hgToGit(rev)
		if err != nil {
			b.log.Debug("hg2git lookup failed", "rev", rev, "err", err)
			oid = Hash{}
		}
		b.metrics.recordTranslation("hg2git", !oid.IsNull())
		if _, err := fmt.Fprintln(w, oid.Abbrev(width)); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bridge) hgToGit(rev string) (Hash, error) {
	a, err := ParseAbbrevHgHash(rev)
	if err != nil {
		return Hash{}, err
	}
	_, oid, err := b.index.ToGit(a)
	return oid, err
}

// TranslateGitToHg prints, for every committish, one line with the
// Mercurial changeset it maps to. Unresolvable input prints as zeros.
func (b *Bridge) TranslateGitToHg(w io.Writer, committish []string, width int) error {
	if err := b.index.Ensure(); err != nil {
		return err
	}
	for _, expr := range committish {
		node, err := b.index.CommittishToHg(expr)
		if err != nil {
			b.log.Debug("git2hg lookup failed", "committish", expr, "err", err)
			node = HgHash{}
		}
		b.metrics.recordTranslation("git2hg", !node.IsNull())
		if _, err := fmt.Fprintln(w, node.Abbrev(width)); err != nil {
			return err
		}
	}
	return nil
}

// Dump writes the raw Mercurial bytes of rev to w.
func (b *Bridge) Dump(w io.Writer, kind Kind, rev string) (err error) {
	defer func() { b.metrics.recordDump(kind, err) }()

	a, err := ParseAbbrevHgHash(rev)
	if err != nil {
		return &RevisionError{Rev: rev}
	}
	if err := b.index.Ensure(); err != nil {
		return err
	}
	return asTyped(b.resolver.Write(w, kind, a), rev)
}

// asTyped reports revision errors with the text the caller typed.
func asTyped(err error, rev string) error {
	var re *RevisionError
	if errors.As(err, &re) {
		return &RevisionError{Rev: rev}
	}
	return err
}

// VerifyResult compares a rendered revision with reference bytes.
type VerifyResult struct {
	Kind Kind

	// Node is the full Mercurial node the revision resolved to.
	Node HgHash

	// Match reports whether the rendered bytes equal the reference.
	Match bool

	// NodeMatch reports, for changesets, whether the rendered bytes hash to
	// Node. It is always false for other kinds.
	NodeMatch bool

	// Diff is a unified diff from the reference to the rendering when they
	// differ.
	Diff string
}

// Verify renders rev and compares it with want.
func (b *Bridge) Verify(kind Kind, rev string, want []byte) (VerifyResult, error) {
	a, err := ParseAbbrevHgHash(rev)
	if err != nil {
		return VerifyResult{}, &RevisionError{Rev: rev}
	}
	if err := b.index.Ensure(); err != nil {
		return VerifyResult{}, err
	}
	node, oid, err := b.index.ToGit(a)
	if err != nil {
		return VerifyResult{}, err
	}
	if oid.IsNull() {
		return VerifyResult{}, &RevisionError{Rev: rev}
	}

	got, err := b.resolver.Render(kind, FullAbbrev(node))
	if err != nil {
		return VerifyResult{}, asTyped(err, rev)
	}
	res := VerifyResult{Kind: kind, Node: node, Match: bytes.Equal(got, want)}
	if !res.Match {
		res.Diff = DiffBytes("expected", kind.String()+" "+node.String(), want, got)
	}
	if kind == KindChangeset {
		computed, err := b.changesets.ComputeNode(oid, got)
		if err != nil {
			return VerifyResult{}, err
		}
		res.NodeMatch = computed == node
	}
	return res, nil
}
