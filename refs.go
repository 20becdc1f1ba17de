package hgbridge

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const maxSymrefDepth = 5

// refStore reads refs from the loose files under the git directory and from
// packed-refs. Loose files win over packed entries of the same name.
type refStore struct {
	gitDir string
	packed func() (map[string]Hash, error)
}

func newRefStore(gitDir string) *refStore {
	r := &refStore{gitDir: gitDir}
	r.packed = sync.OnceValues(r.loadPacked)
	return r
}

// dwimRules are the places git looks for a short ref name, in order.
var dwimRules = []string{
	"%s",
	"refs/%s",
	"refs/tags/%s",
	"refs/heads/%s",
	"refs/remotes/%s",
	"refs/remotes/%s/HEAD",
}

// Resolve expands name the way git does for a short ref and returns the id
// it points at.
func (r *refStore) Resolve(name string) (Hash, error) {
	if !validRefName(name) {
		return Hash{}, fmt.Errorf("%w: invalid ref name %q", ErrUnknownRevision, name)
	}
	for i, rule := range dwimRules {
		if i == 0 && !strings.HasPrefix(name, "refs/") && !isPseudoRef(name) {
			continue
		}
		oid, ok, err := r.read(fmt.Sprintf(rule, name), 0)
		if err != nil {
			return Hash{}, err
		}
		if ok {
			return oid, nil
		}
	}
	return Hash{}, fmt.Errorf("%w: ref %s", ErrUnknownRevision, name)
}

// read resolves a fully qualified ref, following symbolic refs.
func (r *refStore) read(name string, depth int) (Hash, bool, error) {
	if depth > maxSymrefDepth {
		return Hash{}, false, fmt.Errorf("%w: symbolic ref loop at %s", ErrUnknownRevision, name)
	}
	data, err := os.ReadFile(filepath.Join(r.gitDir, filepath.FromSlash(name)))
	switch {
	case err == nil:
		line := strings.TrimSpace(string(data))
		if target, ok := strings.CutPrefix(line, "ref:"); ok {
			return r.read(strings.TrimSpace(target), depth+1)
		}
		oid, err := ParseHash(line)
		if err != nil {
			return Hash{}, false, fmt.Errorf("ref %s: %w", name, err)
		}
		return oid, true, nil
	case errors.Is(err, os.ErrNotExist), isDirErr(err):
	default:
		return Hash{}, false, err
	}

	packed, err := r.packed()
	if err != nil {
		return Hash{}, false, err
	}
	oid, ok := packed[name]
	return oid, ok, nil
}

// isDirErr reports the error os.ReadFile gives for a directory, which is
// what "refs/heads" resolves to when a short name matches a namespace.
func isDirErr(err error) bool {
	var pe *os.PathError
	if !errors.As(err, &pe) {
		return false
	}
	st, serr := os.Stat(pe.Path)
	return serr == nil && st.IsDir()
}

// loadPacked parses packed-refs. Peeled "^" lines and comments are skipped.
func (r *refStore) loadPacked() (map[string]Hash, error) {
	refs := make(map[string]Hash)
	f, err := os.Open(filepath.Join(r.gitDir, "packed-refs"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return refs, nil
		}
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 || line[0] == '#' || line[0] == '^' {
			continue
		}
		id, name, ok := bytes.Cut(line, []byte{' '})
		if !ok {
			return nil, fmt.Errorf("packed-refs: malformed line %q", line)
		}
		oid, err := ParseHash(string(id))
		if err != nil {
			return nil, fmt.Errorf("packed-refs: %w", err)
		}
		refs[string(name)] = oid
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("packed-refs: %w", err)
	}
	return refs, nil
}

// isPseudoRef matches top-level names like HEAD or FETCH_HEAD, the only
// files directly under the git directory that are refs.
func isPseudoRef(name string) bool {
	for _, c := range name {
		if (c < 'A' || c > 'Z') && c != '_' {
			return false
		}
	}
	return true
}

// validRefName rejects names that could escape the git directory or that
// git itself refuses.
func validRefName(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") {
		return false
	}
	if strings.ContainsAny(name, " ~^:?*[\\\x00") || strings.Contains(name, "..") || strings.Contains(name, "@{") {
		return false
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || strings.HasPrefix(part, ".") || strings.HasSuffix(part, ".lock") {
			return false
		}
	}
	return true
}
