package hgbridge

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// maxTagDepth bounds the annotated tags peeled on the way to a commit.
const maxTagDepth = 8

// Repository is a read-only view of a git directory: its packs, its loose
// objects and its refs. It implements SourceStore.
type Repository struct {
	gitDir string
	packs  *packStore
	loose  *looseStore
	refs   *refStore
	log    *slog.Logger
}

var _ SourceStore = (*Repository)(nil)

// OpenRepository opens cfg.GitDir. Only ObjectCacheSize, MaxDeltaDepth and
// VerifyCRC are read from cfg besides the path.
func OpenRepository(cfg Config, opts ...Option) (*Repository, error) {
	o := applyOptions(opts)
	st, err := os.Stat(cfg.GitDir)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("open repository: %s is not a directory", cfg.GitDir)
	}
	objects := filepath.Join(cfg.GitDir, "objects")
	if _, err := os.Stat(objects); err != nil {
		return nil, fmt.Errorf("open repository: %s has no objects directory: %w", cfg.GitDir, err)
	}

	if cfg.ObjectCacheSize <= 0 {
		cfg.ObjectCacheSize = defaultObjectCacheSize
	}
	if cfg.MaxDeltaDepth <= 0 {
		cfg.MaxDeltaDepth = defaultMaxDeltaDepth
	}
	packs, err := openPackStore(filepath.Join(objects, "pack"), cfg, o.logger)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	o.logger.Debug("repository opened", "git_dir", cfg.GitDir, "packs", len(packs.packs))

	return &Repository{
		gitDir: cfg.GitDir,
		packs:  packs,
		loose:  &looseStore{dir: objects},
		refs:   newRefStore(cfg.GitDir),
		log:    o.logger,
	}, nil
}

// GitDir returns the directory the repository was opened on.
func (r *Repository) GitDir() string { return r.gitDir }

// Close unmaps the packs.
func (r *Repository) Close() error { return r.packs.Close() }

// ReadObject looks in the packs first, then among loose objects.
func (r *Repository) ReadObject(oid Hash) (RawObject, error) {
	obj, err := r.packs.ReadObject(oid)
	if err == nil || !errors.Is(err, ErrObjectNotFound) {
		return obj, err
	}
	return r.loose.ReadObject(oid)
}

// ResolveRef resolves a full or short ref name.
func (r *Repository) ResolveRef(name string) (Hash, error) { return r.refs.Resolve(name) }

// ResolveCommittish resolves a revision expression to a commit:
//
//	<40 hex> | <unique hex prefix of 4+ digits> | <ref> | @
//
// followed by any number of "^", "^N" and "~N" suffixes. Annotated tags are
// peeled on the way.
func (r *Repository) ResolveCommittish(expr string) (Hash, error) {
	base, ops := splitCommittish(expr)
	oid, err := r.resolveBase(base)
	if err != nil {
		return Hash{}, err
	}

	for ops != "" {
		op := ops[0]
		ops = ops[1:]
		digits := len(ops) - len(strings.TrimLeft(ops, "0123456789"))
		n := 1
		if digits > 0 {
			if n, err = strconv.Atoi(ops[:digits]); err != nil {
				return Hash{}, fmt.Errorf("%w: %q", ErrUnknownRevision, expr)
			}
			ops = ops[digits:]
		}

		hdr, peeled, err := r.commit(oid)
		if err != nil {
			return Hash{}, fmt.Errorf("%s: %w", expr, err)
		}
		oid = peeled
		switch op {
		case '^':
			if n == 0 {
				continue
			}
			if n > len(hdr.Parents) {
				return Hash{}, fmt.Errorf("%w: %s has no parent %d", ErrUnknownRevision, oid, n)
			}
			oid = hdr.Parents[n-1]
		case '~':
			for range n {
				if len(hdr.Parents) == 0 {
					return Hash{}, fmt.Errorf("%w: %q walks past a root commit", ErrUnknownRevision, expr)
				}
				oid = hdr.Parents[0]
				if hdr, _, err = r.commit(oid); err != nil {
					return Hash{}, fmt.Errorf("%s: %w", expr, err)
				}
			}
		}
	}

	_, oid, err = r.commit(oid)
	if err != nil {
		return Hash{}, fmt.Errorf("%s: %w", expr, err)
	}
	return oid, nil
}

// splitCommittish separates the object name from its suffix operators. Ref
// names cannot contain '^' or '~', so the first of either starts the suffix.
func splitCommittish(expr string) (string, string) {
	if i := strings.IndexAny(expr, "^~"); i >= 0 {
		return expr[:i], expr[i:]
	}
	return expr, ""
}

func (r *Repository) resolveBase(base string) (Hash, error) {
	if base == "" || base == "@" {
		base = "HEAD"
	}
	if len(base) == hexSize {
		if oid, err := ParseHash(base); err == nil {
			return oid, nil
		}
	}

	oid, err := r.refs.Resolve(base)
	if err == nil || !errors.Is(err, ErrUnknownRevision) {
		return oid, err
	}
	if prefix, ok := parseHexPrefix(base); ok {
		return r.resolvePrefix(prefix)
	}
	return Hash{}, err
}

// resolvePrefix returns the only object whose id starts with prefix. An
// object stored both packed and loose counts once.
func (r *Repository) resolvePrefix(prefix hexPrefix) (Hash, error) {
	matches := r.packs.withPrefix(nil, prefix, 2)
	matches = r.loose.withPrefix(matches, prefix, 2)
	switch {
	case len(matches) == 0:
		return Hash{}, fmt.Errorf("%w: no object starts with %s", ErrUnknownRevision, prefix)
	case len(matches) > 1:
		return Hash{}, fmt.Errorf("%w: %s is ambiguous", ErrUnknownRevision, prefix)
	}
	return matches[0], nil
}

// commit peels oid down to a commit and parses it.
func (r *Repository) commit(oid Hash) (*CommitHeader, Hash, error) {
	for range maxTagDepth {
		obj, err := r.ReadObject(oid)
		if err != nil {
			if errors.Is(err, ErrObjectNotFound) {
				return nil, Hash{}, fmt.Errorf("%w: %v", ErrUnknownRevision, err)
			}
			return nil, Hash{}, err
		}
		switch obj.Type {
		case ObjCommit:
			hdr, err := ParseCommitHeader(obj.Data)
			if err != nil {
				return nil, Hash{}, err
			}
			return hdr, oid, nil
		case ObjTag:
			target, err := tagTarget(obj.Data)
			if err != nil {
				return nil, Hash{}, err
			}
			oid = target
		default:
			return nil, Hash{}, fmt.Errorf("%w: %s is a %s", ErrUnknownRevision, oid, obj.Type)
		}
	}
	return nil, Hash{}, fmt.Errorf("%w: tag chain at %s is too long", ErrUnknownRevision, oid)
}

// tagTarget reads the "object" header of an annotated tag.
func tagTarget(data []byte) (Hash, error) {
	line, _, _ := bytes.Cut(data, []byte{'\n'})
	hex, ok := bytes.CutPrefix(line, []byte("object "))
	if !ok {
		return Hash{}, fmt.Errorf("%w: tag without object header", ErrTypeMismatch)
	}
	return ParseHash(string(hex))
}

// FindGitDir locates the git directory for start: $GIT_DIR when set,
// otherwise the first ".git" directory or gitfile found walking up, or start
// itself when it is a bare repository.
func FindGitDir(start string) (string, error) {
	if env := os.Getenv("GIT_DIR"); env != "" {
		return env, nil
	}
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	for {
		dot := filepath.Join(dir, ".git")
		if st, err := os.Stat(dot); err == nil {
			if st.IsDir() {
				return dot, nil
			}
			return readGitFile(dot)
		}
		if isBareRepo(dir) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not a git repository (or any parent up to %s)", dir)
		}
		dir = parent
	}
}

// readGitFile follows a "gitdir: <path>" file as used by worktrees and
// submodules.
func readGitFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	target, ok := strings.CutPrefix(strings.TrimSpace(string(data)), "gitdir:")
	if !ok {
		return "", fmt.Errorf("%s: not a gitdir file", path)
	}
	target = strings.TrimSpace(target)
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(path), target)
	}
	return target, nil
}

func isBareRepo(dir string) bool {
	for _, name := range []string{"HEAD", "objects", "refs"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return false
		}
	}
	return true
}
