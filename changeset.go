package hgbridge

import (
	"bytes"
	"crypto/sha1"
	"errors"
	"fmt"
	"log/slog"
	"slices"
)

var committerPrefix = []byte("committer:")

// ChangesetReconstructor regenerates the exact bytes of a Mercurial
// changeset from the Git commit it was translated to and the commit's
// git2hg MetadataRecord.
//
// The Mercurial changeset text is
//
//	<manifest hex>\n
//	<author>\n
//	<timestamp> <utcoffset>[ <extra>]\n      (extra is NUL-joined key:value)
//	<file>\n ... (sorted)
//	\n
//	<description>
//
// optionally edited by the record's patch. Some historical changesets were
// made unique by appending NUL bytes before hashing; those are trimmed back
// until the text hashes to the recorded node.
type ChangesetReconstructor struct {
	store   ObjectReader
	index   *ObjectIndex
	log     *slog.Logger
	metrics *Metrics
	verify  bool
}

// NewChangesetReconstructor builds a reconstructor over store and index.
func NewChangesetReconstructor(store ObjectReader, index *ObjectIndex, opts ...Option) *ChangesetReconstructor {
	o := applyOptions(opts)
	return &ChangesetReconstructor{
		store:   store,
		index:   index,
		log:     o.logger,
		metrics: o.metrics,
		verify:  o.verifyChangesets,
	}
}

// Reconstruct returns the Mercurial changeset bytes for a Git commit.
func (r *ChangesetReconstructor) Reconstruct(commit Hash) ([]byte, error) {
	obj, err := r.store.ReadObject(commit)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRevision, commit)
		}
		return nil, err
	}
	if obj.Type != ObjCommit {
		return nil, fmt.Errorf("%w: %s is a %s, not a commit", ErrUnknownRevision, commit, obj.Type)
	}

	meta, ok, err := r.index.Metadata(commit)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: commit %s has no changeset metadata", ErrCorruptIndex, commit)
	}

	hdr, err := ParseCommitHeader(obj.Data)
	if err != nil {
		return nil, fmt.Errorf("commit %s: %w", commit, err)
	}

	cs, err := buildChangeset(hdr, meta)
	if err != nil {
		return nil, fmt.Errorf("commit %s: %w", commit, err)
	}
	if meta.Patch != nil {
		if cs, err = ApplyPatch(cs, meta.Patch); err != nil {
			return nil, fmt.Errorf("commit %s: %w", commit, err)
		}
	}

	cs, err = r.trimPadding(commit, hdr, meta.Changeset, cs)
	if err != nil {
		return nil, err
	}
	r.metrics.observeChangeset(len(cs))
	return cs, nil
}

// buildChangeset assembles the unpatched changeset text.
func buildChangeset(hdr *CommitHeader, meta *MetadataRecord) ([]byte, error) {
	author, err := ParseGitAuthorship(hdr.Author)
	if err != nil {
		return nil, fmt.Errorf("%w: author: %v", ErrCorruptIndex, err)
	}
	hgAuthor, timestamp, utcoffset := author.HgParts()
	if meta.Author != nil {
		hgAuthor = meta.Author
	}

	var committer []byte
	if !bytes.Equal(hdr.Author, hdr.Committer) {
		c, err := ParseGitAuthorship(hdr.Committer)
		if err != nil {
			return nil, fmt.Errorf("%w: committer: %v", ErrCorruptIndex, err)
		}
		committer = append(append([]byte(nil), committerPrefix...), c.HgBytes()...)
	}

	var buf bytes.Buffer
	buf.WriteString(meta.Manifest.String())
	buf.WriteByte('\n')
	buf.Write(hgAuthor)
	buf.WriteByte('\n')
	buf.Write(timestamp)
	buf.WriteByte(' ')
	buf.Write(utcoffset)
	if meta.Extra != nil || committer != nil {
		buf.WriteByte(' ')
		buf.Write(mergeExtra(meta.Extra, committer))
	}
	if meta.Files != nil {
		files := slices.Clone(meta.Files)
		slices.SortFunc(files, bytes.Compare)
		for _, f := range files {
			buf.WriteByte('\n')
			buf.Write(f)
		}
	}
	buf.WriteString("\n\n")
	buf.Write(hdr.Body)
	return buf.Bytes(), nil
}

// mergeExtra folds a synthesized committer entry into the stored extra
// payload. Stored entries are sorted by key; the committer entry goes after
// every entry that sorts before "committer:" and before all the others.
func mergeExtra(extra, committer []byte) []byte {
	switch {
	case committer == nil:
		return extra
	case extra == nil:
		return committer
	}

	entries := bytes.Split(extra, []byte{0})
	at := len(entries)
	for i, e := range entries {
		if bytes.Compare(e, committerPrefix) >= 0 {
			at = i
			break
		}
	}
	merged := make([][]byte, 0, len(entries)+1)
	merged = append(merged, entries[:at]...)
	merged = append(merged, committer)
	merged = append(merged, entries[at:]...)
	return bytes.Join(merged, []byte{0})
}

// trimPadding strips trailing NULs one at a time until the text hashes to
// node. A text that runs out of trailing NULs is accepted as is.
func (r *ChangesetReconstructor) trimPadding(commit Hash, hdr *CommitHeader, node HgHash, cs []byte) ([]byte, error) {
	var (
		parents   [2]HgHash
		resolved  bool
		confirmed bool
		stripped  int
	)
	resolve := func() error {
		if resolved {
			return nil
		}
		p, err := r.hgParents(hdr.Parents)
		if err != nil {
			return fmt.Errorf("commit %s: %w", commit, err)
		}
		parents, resolved = p, true
		return nil
	}

	for len(cs) > 0 && cs[len(cs)-1] == 0 {
		if err := resolve(); err != nil {
			return nil, err
		}
		if HgChangesetHash(parents[0], parents[1], cs) == node {
			confirmed = true
			break
		}
		cs = cs[:len(cs)-1]
		stripped++
	}
	if stripped > 0 {
		r.log.Debug("stripped changeset padding", "commit", commit, "node", node, "bytes", stripped)
		r.metrics.addPaddingStripped(stripped)
	}

	if !confirmed && r.verify {
		if err := resolve(); err != nil {
			return nil, err
		}
		if got := HgChangesetHash(parents[0], parents[1], cs); got != node {
			r.log.Warn("reconstructed changeset does not hash to its node",
				"commit", commit, "node", node, "got", got)
			r.metrics.incUnverified()
		}
	}
	return cs, nil
}

// ComputeNode hashes data as a changeset whose parents are those of commit.
func (r *ChangesetReconstructor) ComputeNode(commit Hash, data []byte) (HgHash, error) {
	obj, err := r.store.ReadObject(commit)
	if err != nil {
		return HgHash{}, err
	}
	hdr, err := ParseCommitHeader(obj.Data)
	if err != nil {
		return HgHash{}, fmt.Errorf("commit %s: %w", commit, err)
	}
	parents, err := r.hgParents(hdr.Parents)
	if err != nil {
		return HgHash{}, fmt.Errorf("commit %s: %w", commit, err)
	}
	return HgChangesetHash(parents[0], parents[1], data), nil
}

// hgParents maps Git parents to Mercurial nodes and lays them out in the
// two sorted parent slots Mercurial hashes. Missing slots stay null.
func (r *ChangesetReconstructor) hgParents(parents []Hash) ([2]HgHash, error) {
	nodes := make([]HgHash, 0, len(parents))
	for _, p := range parents {
		node, err := r.index.ToHg(p)
		if err != nil {
			return [2]HgHash{}, err
		}
		if node.IsNull() {
			return [2]HgHash{}, fmt.Errorf("%w: parent %s has no changeset metadata", ErrCorruptIndex, p)
		}
		nodes = append(nodes, node)
	}
	slices.SortFunc(nodes, HgHash.Compare)

	var slots [2]HgHash
	copy(slots[:], nodes)
	return slots, nil
}

// HgChangesetHash computes a Mercurial node: SHA-1 over the two parent nodes
// in ascending order followed by the revision text.
func HgChangesetHash(p1, p2 HgHash, data []byte) HgHash {
	if p2.Compare(p1) < 0 {
		p1, p2 = p2, p1
	}
	h := sha1.New()
	h.Write(p1[:])
	h.Write(p2[:])
	h.Write(data)
	var out HgHash
	h.Sum(out[:0])
	return out
}
