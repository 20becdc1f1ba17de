package hgbridge

import (
	"bytes"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateHgToGit(t *testing.T) {
	f := newBridgedFixture(t)
	metrics, err := NewMetrics()
	require.NoError(t, err)
	b := f.repo.finish(WithMetrics(metrics))

	var out bytes.Buffer
	revs := []string{f.changeset.String(), "abcdef", f.manifest.Abbrev(5)}
	require.NoError(t, b.TranslateHgToGit(&out, revs, 40))

	manifestCommit := f.repo.hg2git[Hash(f.manifest)]
	assert.Equal(t, f.commit.String()+"\n"+nullHexStr+"\n"+manifestCommit.String()+"\n", out.String())
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.translations.WithLabelValues("hg2git", "found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.translations.WithLabelValues("hg2git", "null")))
}

func TestTranslateHgToGitAbbrev(t *testing.T) {
	f := newBridgedFixture(t)
	b := f.repo.finish()

	var out bytes.Buffer
	require.NoError(t, b.TranslateHgToGit(&out, []string{f.changeset.String(), "0123"}, 7))
	assert.Equal(t, f.commit.Abbrev(7)+"\n0000000\n", out.String())
}

func TestTranslateHgToGitMalformedInputPrintsNull(t *testing.T) {
	f := newBridgedFixture(t)
	metrics, err := NewMetrics()
	require.NoError(t, err)
	b := f.repo.finish(WithMetrics(metrics))

	var out bytes.Buffer
	revs := []string{"not-hex", f.changeset.String(), "zz", strings.Repeat("a", 41)}
	require.NoError(t, b.TranslateHgToGit(&out, revs, 12))
	assert.Equal(t, "000000000000
"+f.commit.Abbrev(12)+"
000000000000
000000000000
", out.String())
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.translations.WithLabelValues("hg2git", "null")))
}

func TestTranslateGitToHg(t *testing.T) {
	f := newBridgedFixture(t)
	untranslated := f.repo.store.commit(f.repo.store.tree(), nil, testAuthor, testAuthor, "plain git")
	b := f.repo.finish()

	var out bytes.Buffer
	exprs := []string{"refs/heads/main", f.commit.String(), untranslated.String(), "does-not-exist"}
	require.NoError(t, b.TranslateGitToHg(&out, exprs, 12))

	want := strings.Repeat(f.changeset.Abbrev(12)+"\n", 2) + strings.Repeat("000000000000\n", 2)
	assert.Equal(t, want, out.String())
}

func TestDump(t *testing.T) {
	f := newBridgedFixture(t)
	metrics, err := NewMetrics()
	require.NoError(t, err)
	b := f.repo.finish(WithMetrics(metrics))

	var out bytes.Buffer
	require.NoError(t, b.Dump(&out, KindChangeset, f.changeset.Abbrev(12)))
	assert.Equal(t, f.csText, out.String())

	out.Reset()
	require.NoError(t, b.Dump(&out, KindFile, f.plain.String()))
	assert.Equal(t, "hello\n", out.String())

	out.Reset()
	err = b.Dump(&out, KindFile, "x")
	assert.EqualError(t, err, "Unknown revision: x")
	assert.ErrorIs(t, err, ErrUnknownRevision)
	assert.Empty(t, out.String())

	err = b.Dump(&out, KindManifest, "fedcba")
	assert.EqualError(t, err, "Unknown revision: fedcba")

	err = b.Dump(&out, KindManifest, "FEDCBA")
	assert.EqualError(t, err, "Unknown revision: FEDCBA")

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.dumps.WithLabelValues("changeset", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.dumps.WithLabelValues("file", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.dumps.WithLabelValues("file", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.dumps.WithLabelValues("manifest", "error")))
}

func TestVerify(t *testing.T) {
	f := newBridgedFixture(t)
	b := f.repo.finish()

	res, err := b.Verify(KindChangeset, f.changeset.Abbrev(8), []byte(f.csText))
	require.NoError(t, err)
	assert.True(t, res.Match)
	assert.True(t, res.NodeMatch)
	assert.Equal(t, f.changeset, res.Node)
	assert.Empty(t, res.Diff)

	res, err = b.Verify(KindManifest, f.manifest.String(), []byte("a\x00"+f.plain.String()+"\n"))
	require.NoError(t, err)
	assert.False(t, res.Match)
	assert.False(t, res.NodeMatch)
	assert.Contains(t, res.Diff, "+b\x00"+f.copied.String())

	_, err = b.Verify(KindFile, "0123", nil)
	assert.EqualError(t, err, "Unknown revision: 0123")
}

func TestVerifyChangesetNodeMismatch(t *testing.T) {
	r := newHgRepo(t)
	commit := r.store.commit(r.store.tree(), nil, testAuthor, testAuthor, "msg")
	node := hgNode("bad0")
	r.addChangeset(node, commit)
	b := r.finish()

	text := nullHexStr + "\n" + testHgAuthor + "\n\nmsg"
	res, err := b.Verify(KindChangeset, node.String(), []byte(text))
	require.NoError(t, err)
	assert.True(t, res.Match)
	assert.False(t, res.NodeMatch)
}

func TestNewWithBrokenMetadataRef(t *testing.T) {
	s := newMemStore()
	s.refs[DefaultMetadataRef] = s.blob("not a commit")
	b, err := New(s, DefaultMetadataRef)
	require.NoError(t, err)

	assert.ErrorIs(t, b.Index().Ensure(), ErrCorruptIndex)
	var out bytes.Buffer
	assert.ErrorIs(t, b.TranslateGitToHg(&out, []string{"HEAD"}, 12), ErrCorruptIndex)
}

func TestOpenOnDisk(t *testing.T) {
	f := newBridgedFixture(t)
	f.repo.seal()
	gitDir := gitDirFixture(t)
	f.repo.store.writeTo(t, gitDir)

	cfg := DefaultConfig()
	cfg.GitDir = gitDir
	cfg.VerifyChangesets = true
	cfg.VerifyCRC = true
	b, err := Open(cfg)
	require.NoError(t, err)
	defer func() { require.NoError(t, b.Close()) }()

	var out bytes.Buffer
	require.NoError(t, b.Dump(&out, KindChangeset, f.changeset.String()))
	assert.Equal(t, f.csText, out.String())

	out.Reset()
	require.NoError(t, b.Dump(&out, KindManifest, f.manifest.Abbrev(12)))
	assert.Equal(t, f.mfText, out.String())

	out.Reset()
	require.NoError(t, b.TranslateGitToHg(&out, []string{"HEAD", "main", f.commit.String()[:8]}, 40))
	assert.Equal(t, strings.Repeat(f.changeset.String()+"\n", 3), out.String())
}

func TestOpenValidatesConfig(t *testing.T) {
	_, err := Open(Config{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg := DefaultConfig()
	cfg.GitDir = t.TempDir()
	_, err = Open(cfg)
	assert.Error(t, err)
}
