package hgbridge

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/require"
)

// calculateHash returns the Git id of an object.
func calculateHash(objType ObjectType, data []byte) Hash {
	h := sha1.New()
	fmt.Fprintf(h, "%s %d\x00", objType, len(data))
	h.Write(data)
	var out Hash
	h.Sum(out[:0])
	return out
}

func mustHash(t testing.TB, s string) Hash {
	t.Helper()
	h, err := ParseHash(s)
	require.NoError(t, err)
	return h
}

func mustHgHash(t testing.TB, s string) HgHash {
	t.Helper()
	h, err := ParseHgHash(s)
	require.NoError(t, err)
	return h
}

// hgNode builds a recognisable node id from a short hex seed.
func hgNode(seed string) HgHash {
	h, err := ParseHgHash((seed + strings.Repeat("0", hexSize))[:hexSize])
	if err != nil {
		panic(err)
	}
	return h
}

// memStore is an in-memory SourceStore.
type memStore struct {
	objects map[Hash]RawObject
	refs    map[string]Hash
	reads   map[Hash]int
}

func newMemStore() *memStore {
	return &memStore{
		objects: make(map[Hash]RawObject),
		refs:    make(map[string]Hash),
		reads:   make(map[Hash]int),
	}
}

func (m *memStore) put(typ ObjectType, data []byte) Hash {
	oid := calculateHash(typ, data)
	m.objects[oid] = RawObject{Type: typ, Data: data}
	return oid
}

func (m *memStore) ReadObject(oid Hash) (RawObject, error) {
	m.reads[oid]++
	obj, ok := m.objects[oid]
	if !ok {
		return RawObject{}, fmt.Errorf("%w: %s", ErrObjectNotFound, oid)
	}
	return obj, nil
}

func (m *memStore) ResolveRef(name string) (Hash, error) {
	if oid, ok := m.refs[name]; ok {
		return oid, nil
	}
	return Hash{}, fmt.Errorf("%w: ref %s", ErrUnknownRevision, name)
}

func (m *memStore) ResolveCommittish(expr string) (Hash, error) {
	if oid, ok := m.refs[expr]; ok {
		return oid, nil
	}
	if oid, err := ParseHash(expr); err == nil {
		if obj, ok := m.objects[oid]; ok && obj.Type == ObjCommit {
			return oid, nil
		}
	}
	return Hash{}, fmt.Errorf("%w: %s", ErrUnknownRevision, expr)
}

type treeEntry struct {
	mode uint32
	name string
	oid  Hash
}

// encodeTree serializes entries in Git order: a directory sorts as if its
// name ended in '/'.
func encodeTree(entries []treeEntry) []byte {
	sorted := slices.Clone(entries)
	key := func(e treeEntry) string {
		if e.mode == modeDir {
			return e.name + "/"
		}
		return e.name
	}
	slices.SortFunc(sorted, func(a, b treeEntry) int { return strings.Compare(key(a), key(b)) })

	var buf bytes.Buffer
	for _, e := range sorted {
		fmt.Fprintf(&buf, "%o %s\x00", e.mode, e.name)
		buf.Write(e.oid[:])
	}
	return buf.Bytes()
}

func (m *memStore) tree(entries ...treeEntry) Hash { return m.put(ObjTree, encodeTree(entries)) }

func (m *memStore) blob(data string) Hash { return m.put(ObjBlob, []byte(data)) }

func encodeCommit(tree Hash, parents []Hash, author, committer, body string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "tree %s\n", tree)
	for _, p := range parents {
		fmt.Fprintf(&buf, "parent %s\n", p)
	}
	fmt.Fprintf(&buf, "author %s\ncommitter %s\n\n%s", author, committer, body)
	return buf.Bytes()
}

func (m *memStore) commit(tree Hash, parents []Hash, author, committer, body string) Hash {
	return m.put(ObjCommit, encodeCommit(tree, parents, author, committer, body))
}

// notesTree stores notes keyed by hex id, optionally fanned out as
// "ab/cdef...".
func (m *memStore) notesTree(notes map[Hash]Hash, fanout bool) Hash {
	if !fanout {
		entries := make([]treeEntry, 0, len(notes))
		for k, v := range notes {
			entries = append(entries, treeEntry{mode: 0o100644, name: k.String(), oid: v})
		}
		return m.tree(entries...)
	}
	dirs := make(map[string][]treeEntry)
	for k, v := range notes {
		hex := k.String()
		dirs[hex[:2]] = append(dirs[hex[:2]], treeEntry{mode: 0o100644, name: hex[2:], oid: v})
	}
	var top []treeEntry
	for name, entries := range dirs {
		top = append(top, treeEntry{mode: modeDir, name: name, oid: m.tree(entries...)})
	}
	return m.tree(top...)
}

const (
	testAuthor    = "Jane Doe <jane@example.com> 1700000000 +0100"
	testCommitter = "Bob <bob@example.com> 1700000100 -0200"
)

// hgRepo builds a bridged repository in memory: translated commits, their
// metadata notes and the metadata commit tying the notes trees together.
type hgRepo struct {
	t         *testing.T
	store     *memStore
	hg2git    map[Hash]Hash
	git2hg    map[Hash]Hash
	filesMeta map[Hash]Hash
	fanout    bool
}

func newHgRepo(t *testing.T) *hgRepo {
	return &hgRepo{
		t:         t,
		store:     newMemStore(),
		hg2git:    make(map[Hash]Hash),
		git2hg:    make(map[Hash]Hash),
		filesMeta: make(map[Hash]Hash),
	}
}

// addChangeset records commit as the translation of node with the given
// metadata note lines (the changeset line is added).
func (r *hgRepo) addChangeset(node HgHash, commit Hash, lines ...string) {
	note := "changeset " + node.String() + "\n" + strings.Join(lines, "\n")
	r.git2hg[commit] = r.store.blob(note)
	r.hg2git[Hash(node)] = commit
}

// rawMetadata attaches a metadata note verbatim, without touching hg2git.
func (r *hgRepo) rawMetadata(commit Hash, note string) {
	r.git2hg[commit] = r.store.blob(note)
}

func (r *hgRepo) mapHg(node HgHash, oid Hash) { r.hg2git[Hash(node)] = oid }

func (r *hgRepo) addFileMeta(node HgHash, meta string) {
	r.filesMeta[Hash(node)] = r.store.blob(meta)
}

// finish seals the repository and opens a Bridge over the memory store.
func (r *hgRepo) finish(opts ...Option) *Bridge {
	r.t.Helper()
	r.seal()
	b, err := New(r.store, DefaultMetadataRef, opts...)
	require.NoError(r.t, err)
	return b
}

// seal writes the notes trees and the metadata commit.
func (r *hgRepo) seal() {
	s := r.store
	empty := s.tree()
	notesCommit := func(tree Hash, body string) Hash {
		return s.commit(tree, nil, testAuthor, testAuthor, body)
	}
	parents := []Hash{
		notesCommit(empty, "changesets\n"),
		notesCommit(empty, "manifests\n"),
		notesCommit(s.notesTree(r.hg2git, r.fanout), "hg2git\n"),
		notesCommit(s.notesTree(r.git2hg, r.fanout), "git2hg\n"),
		notesCommit(s.notesTree(r.filesMeta, r.fanout), "files-meta\n"),
	}
	s.refs[DefaultMetadataRef] = s.commit(empty, parents, testAuthor, testAuthor, "files-meta unified-manifests-v2\n")
}

// writeTo stores every object loose under gitDir and writes the refs.
func (m *memStore) writeTo(t testing.TB, gitDir string) {
	t.Helper()
	objects := filepath.Join(gitDir, "objects")
	for _, obj := range m.objects {
		writeLoose(t, objects, obj.Type, obj.Data)
	}
	for name, oid := range m.refs {
		writeRef(t, gitDir, name, oid)
	}
}

// writeLoose stores data as a loose object under objects.
func writeLoose(t testing.TB, objects string, typ ObjectType, data []byte) Hash {
	t.Helper()
	oid := calculateHash(typ, data)
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	fmt.Fprintf(zw, "%s %d\x00", typ, len(data))
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	hex := oid.String()
	dir := filepath.Join(objects, hex[:2])
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, hex[2:]), buf.Bytes(), 0o644))
	return oid
}

// packEntry describes one object of a test pack. A delta entry names its
// base either by id (refBase) or by position in the pack (ofsBase >= 0).
type packEntry struct {
	typ     ObjectType
	data    []byte // full content; deltas are computed from the base
	refBase *Hash
	ofsBase int
}

func fullEntry(typ ObjectType, data []byte) packEntry {
	return packEntry{typ: typ, data: data, ofsBase: -1}
}

// encodeEntryHeader returns the variable-length header used by packfiles.
func encodeEntryHeader(typ ObjectType, size uint64) []byte {
	b := byte(typ&7)<<4 | byte(size&0x0f)
	size >>= 4
	var out []byte
	for size != 0 {
		out = append(out, b|0x80)
		b = byte(size & 0x7f)
		size >>= 7
	}
	return append(out, b)
}

func encodeOfsOffset(back uint64) []byte {
	out := []byte{byte(back & 0x7f)}
	back >>= 7
	for back != 0 {
		back--
		out = append([]byte{byte(0x80 | back&0x7f)}, out...)
		back >>= 7
	}
	return out
}

func writeVarInt(buf *bytes.Buffer, v uint64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		buf.WriteByte(b)
		if v == 0 {
			return
		}
	}
}

// createDelta copies the longest common prefix from base and inserts the
// rest of target.
func createDelta(base, target []byte) []byte {
	var d bytes.Buffer
	writeVarInt(&d, uint64(len(base)))
	writeVarInt(&d, uint64(len(target)))

	n := 0
	for n < len(base) && n < len(target) && n < 0xffff && base[n] == target[n] {
		n++
	}
	if n > 0 {
		d.WriteByte(0x80 | 0x10 | 0x20) // offset 0, two size bytes
		d.WriteByte(byte(n))
		d.WriteByte(byte(n >> 8))
	}
	rest := target[n:]
	for len(rest) > 0 {
		chunk := min(len(rest), 0x7f)
		d.WriteByte(byte(chunk))
		d.Write(rest[:chunk])
		rest = rest[chunk:]
	}
	return d.Bytes()
}

func deflate(t testing.TB, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// writePack writes pack-<name>.pack and its v2 idx with real CRCs and
// checksums into dir. It returns the ids of the entries in order.
func writePack(t testing.TB, dir, name string, entries []packEntry) []Hash {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))

	var pack bytes.Buffer
	pack.WriteString("PACK")
	binary.Write(&pack, binary.BigEndian, uint32(2))
	binary.Write(&pack, binary.BigEndian, uint32(len(entries)))

	ids := make([]Hash, len(entries))
	offsets := make([]uint64, len(entries))
	for i, e := range entries {
		ids[i] = calculateHash(e.typ, e.data)
		offsets[i] = uint64(pack.Len())

		switch {
		case e.refBase != nil:
			base := findEntry(t, entries, *e.refBase)
			delta := createDelta(base.data, e.data)
			pack.Write(encodeEntryHeader(ObjRefDelta, uint64(len(delta))))
			pack.Write(e.refBase[:])
			pack.Write(deflate(t, delta))
		case e.ofsBase >= 0:
			delta := createDelta(entries[e.ofsBase].data, e.data)
			pack.Write(encodeEntryHeader(ObjOfsDelta, uint64(len(delta))))
			pack.Write(encodeOfsOffset(offsets[i] - offsets[e.ofsBase]))
			pack.Write(deflate(t, delta))
		default:
			pack.Write(encodeEntryHeader(e.typ, uint64(len(e.data))))
			pack.Write(deflate(t, e.data))
		}
	}
	packSum := sha1.Sum(pack.Bytes())
	pack.Write(packSum[:])

	raw := pack.Bytes()
	crcs := make([]uint32, len(entries))
	for i := range entries {
		end := uint64(len(raw) - hashSize)
		for _, o := range offsets {
			if o > offsets[i] && o < end {
				end = o
			}
		}
		crcs[i] = crc32.ChecksumIEEE(raw[offsets[i]:end])
	}

	order := make([]int, len(entries))
	for i := range order {
		order[i] = i
	}
	slices.SortFunc(order, func(a, b int) int { return ids[a].Compare(ids[b]) })

	var idx bytes.Buffer
	idx.Write(idxMagic)
	binary.Write(&idx, binary.BigEndian, uint32(2))
	var fanout [fanoutEntries]uint32
	for _, i := range order {
		for b := int(ids[i][0]); b < fanoutEntries; b++ {
			fanout[b]++
		}
	}
	binary.Write(&idx, binary.BigEndian, fanout)
	for _, i := range order {
		idx.Write(ids[i][:])
	}
	for _, i := range order {
		binary.Write(&idx, binary.BigEndian, crcs[i])
	}
	for _, i := range order {
		binary.Write(&idx, binary.BigEndian, uint32(offsets[i]))
	}
	idx.Write(packSum[:])
	idxSum := sha1.Sum(idx.Bytes())
	idx.Write(idxSum[:])

	base := filepath.Join(dir, "pack-"+name)
	require.NoError(t, os.WriteFile(base+".pack", raw, 0o644))
	require.NoError(t, os.WriteFile(base+".idx", idx.Bytes(), 0o644))
	return ids
}

func findEntry(t testing.TB, entries []packEntry, oid Hash) packEntry {
	t.Helper()
	for _, e := range entries {
		if calculateHash(e.typ, e.data) == oid {
			return e
		}
	}
	t.Fatalf("ref-delta base %s is not in the pack", oid)
	return packEntry{}
}

// gitDirFixture creates an empty git directory layout.
func gitDirFixture(t testing.TB) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), ".git")
	for _, sub := range []string{"objects/pack", "refs/heads", "refs/tags"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, sub), 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "HEAD"), []byte("ref: refs/heads/main\n"), 0o644))
	return dir
}

func writeRef(t testing.TB, gitDir, name string, oid Hash) {
	t.Helper()
	path := filepath.Join(gitDir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(oid.String()+"\n"), 0o644))
}
