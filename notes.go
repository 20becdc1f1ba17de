package hgbridge

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
)

// NotesLocator returns the root tree of a notes tree. The null hash means
// the notes tree does not exist yet and is treated as empty.
type NotesLocator func() (Hash, error)

// NotesTree is a lazily materialized view of one Git notes tree: a tree
// whose leaf names, once fan-out directories are concatenated, spell the
// hex id of the annotated object and whose entries point at the note.
//
// Materialization happens at most once per handle, on the first lookup or
// an explicit Ensure. The handle is read-only afterwards.
type NotesTree struct {
	name   string
	reader ObjectReader
	locate NotesLocator
	log    *slog.Logger

	once  sync.Once
	err   error
	notes map[Hash]Hash
	keys  []Hash // sorted, for prefix resolution
}

// NewNotesTree creates an unmaterialized handle.
func NewNotesTree(name string, r ObjectReader, locate NotesLocator, logger *slog.Logger) *NotesTree {
	if logger == nil {
		logger = discardLogger()
	}
	return &NotesTree{name: name, reader: r, locate: locate, log: logger}
}

// Name identifies the tree in logs and errors.
func (t *NotesTree) Name() string { return t.name }

// Ensure materializes the tree. Repeated calls are no-ops that return the
// outcome of the first one.
func (t *NotesTree) Ensure() error {
	t.once.Do(func() {
		t.notes = make(map[Hash]Hash)
		root, err := t.locate()
		if err != nil {
			t.err = fmt.Errorf("notes %s: %w", t.name, err)
			return
		}
		if !root.IsNull() {
			if err := t.walk(root, ""); err != nil {
				t.err = fmt.Errorf("notes %s: %w", t.name, err)
				return
			}
		}
		t.keys = make([]Hash, 0, len(t.notes))
		for k := range t.notes {
			t.keys = append(t.keys, k)
		}
		slices.SortFunc(t.keys, Hash.Compare)
		t.log.Debug("notes tree materialized", "notes", t.name, "tree", root, "entries", len(t.notes))
	})
	return t.err
}

// Len returns the number of notes. It materializes the tree.
func (t *NotesTree) Len() (int, error) {
	if err := t.Ensure(); err != nil {
		return 0, err
	}
	return len(t.notes), nil
}

// walk flattens a (possibly fanned-out) notes tree into t.notes.
func (t *NotesTree) walk(tree Hash, prefix string) error {
	obj, err := t.reader.ReadObject(tree)
	if err != nil {
		return err
	}
	if obj.Type != ObjTree {
		return fmt.Errorf("%w: %s is a %s, want tree", ErrTypeMismatch, tree, obj.Type)
	}

	it := newTreeIter(obj.Data)
	for {
		name, oid, mode, ok, err := it.Next()
		if !ok {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		path := prefix + name
		if len(path) > hexSize || !isHex(name) {
			continue
		}
		if mode == modeDir {
			if err := t.walk(oid, path); err != nil {
				return err
			}
			continue
		}
		if len(path) != hexSize {
			continue
		}
		key, err := ParseHash(path)
		if err != nil {
			continue
		}
		t.notes[key] = oid
	}
}

// Get returns the note attached to key.
func (t *NotesTree) Get(key Hash) (Hash, bool, error) {
	if err := t.Ensure(); err != nil {
		return Hash{}, false, err
	}
	v, ok := t.notes[key]
	return v, ok, nil
}

// Resolve looks up a possibly abbreviated Mercurial node. It returns the
// full key and its note. An abbreviation that matches several keys does not
// resolve.
func (t *NotesTree) Resolve(a AbbrevHgHash) (HgHash, Hash, bool, error) {
	if err := t.Ensure(); err != nil {
		return HgHash{}, Hash{}, false, err
	}
	if a.IsFull() {
		k := Hash(a.HgHash())
		v, ok := t.notes[k]
		return a.HgHash(), v, ok, nil
	}

	// The abbreviation is zero-padded, so it sorts at or before every key
	// that shares its prefix.
	lo := Hash(a.HgHash())
	i, _ := slices.BinarySearchFunc(t.keys, lo, Hash.Compare)
	if i >= len(t.keys) || !a.matches(HgHash(t.keys[i])) {
		return HgHash{}, Hash{}, false, nil
	}
	if i+1 < len(t.keys) && a.matches(HgHash(t.keys[i+1])) {
		t.log.Debug("ambiguous abbreviation", "notes", t.name, "prefix", a.Prefix())
		return HgHash{}, Hash{}, false, nil
	}
	k := t.keys[i]
	return HgHash(k), t.notes[k], true, nil
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		if _, ok := unhex(s[i]); !ok {
			return false
		}
	}
	return len(s) > 0
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }
