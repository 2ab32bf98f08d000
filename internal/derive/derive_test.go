package derive

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/weftgraph/weft/internal/blobstore"
	"github.com/weftgraph/weft/internal/graph"
	"github.com/weftgraph/weft/internal/node"
)

func TestDefaultRulesDispatch(t *testing.T) {
	rs, err := DefaultRules()
	if err != nil {
		t.Fatalf("DefaultRules failed: %v", err)
	}
	cases := []struct {
		mimetype string
		want     []string
	}{
		{"video/mp4", []string{"subs", "webm_transcode"}},
		{"video/webm", []string{"subs"}},
		{"audio/flac", []string{"aac_transcode"}},
		{"audio/aac", nil},
		{"audio/mp3", nil},
		{"application/epub+zip", []string{"epub_html"}},
		{"application/x-cbz", []string{"comic_extract"}},
		{"application/x-cbr", []string{"comic_extract"}},
		{"application/x-cb7", []string{"comic_extract"}},
		{"text/plain", nil},
	}
	for _, c := range cases {
		got := rs.Match(c.mimetype)
		if !stringsEqual(got, c.want) {
			t.Errorf("Match(%q) = %v, want %v", c.mimetype, got, c.want)
		}
	}
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestExtractSortKeyOrdersNumerically(t *testing.T) {
	keys := [][]int{
		extractSortKey("page2.jpg"),
		extractSortKey("page10.jpg"),
		extractSortKey("page1.jpg"),
	}
	if compareSortKeys(keys[2], keys[0]) >= 0 {
		t.Errorf("expected page1 < page2")
	}
	if compareSortKeys(keys[0], keys[1]) >= 0 {
		t.Errorf("expected page2 < page10 (numeric, not lexical)")
	}
}

func TestSlowDerivationsGateVideoFamilyOnly(t *testing.T) {
	if !slowDerivations[DerivationWebmTranscode] || !slowDerivations[DerivationSubs] {
		t.Fatal("expected webm_transcode and subs to be slow derivations")
	}
	if slowDerivations[DerivationAACTranscode] || slowDerivations[DerivationEpubHTML] || slowDerivations[DerivationComicExtract] {
		t.Fatal("expected only the video family to be gated on include_slow")
	}
}

func newTestWorker(t *testing.T) (*Worker, *graph.Store, *blobstore.Store) {
	t.Helper()
	g, err := graph.Open(context.Background(), "file::memory:?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("graph.Open failed: %v", err)
	}
	t.Cleanup(func() { g.Close() })
	blobs, err := blobstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("blobstore.Open failed: %v", err)
	}
	rules, err := DefaultRules()
	if err != nil {
		t.Fatalf("DefaultRules failed: %v", err)
	}
	return NewWorker(g, blobs, rules, nil), g, blobs
}

func TestGenerateOneSkipsFileWithoutMeta(t *testing.T) {
	w, _, _ := newTestWorker(t)
	hash, _ := node.ParseFileHash("sha256:" + strRepeat("a", 64))
	if err := w.GenerateOne(context.Background(), node.NewFile(hash), true); err != nil {
		t.Fatalf("expected no error for a file with no metadata, got %v", err)
	}
}

func TestGenerateOneSkipsUnrecognisedMimetype(t *testing.T) {
	w, g, _ := newTestWorker(t)
	hash, _ := node.ParseFileHash("sha256:" + strRepeat("b", 64))
	fileNode := node.NewFile(hash)
	if err := g.SetFileMeta(context.Background(), fileNode, "text/plain", 10, ""); err != nil {
		t.Fatalf("SetFileMeta failed: %v", err)
	}
	if err := w.GenerateOne(context.Background(), fileNode, true); err != nil {
		t.Fatalf("expected no error for an unmatched mimetype, got %v", err)
	}
	art, err := g.GetGeneratedArtifact(context.Background(), fileNode, GentypeTranscodeAAC)
	if err != nil {
		t.Fatalf("GetGeneratedArtifact failed: %v", err)
	}
	if art != nil {
		t.Fatal("expected no generated artifact for an unmatched mimetype")
	}
}

func TestCommitGeneratedRecordsArtifactAfterMove(t *testing.T) {
	w, g, blobs := newTestWorker(t)
	hash, _ := node.ParseFileHash("sha256:" + strRepeat("c", 64))
	fileNode := node.NewFile(hash)

	tmpDir, cleanup, err := blobs.NewTempDir("test")
	if err != nil {
		t.Fatalf("NewTempDir failed: %v", err)
	}
	defer cleanup()
	srcFile := filepath.Join(tmpDir, "out")
	if err := os.WriteFile(srcFile, []byte("payload"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if err := w.commitGenerated(context.Background(), fileNode, hash, GentypeTranscodeAAC, "", "audio/aac", srcFile); err != nil {
		t.Fatalf("commitGenerated failed: %v", err)
	}

	art, err := g.GetGeneratedArtifact(context.Background(), fileNode, GentypeTranscodeAAC)
	if err != nil {
		t.Fatalf("GetGeneratedArtifact failed: %v", err)
	}
	if art == nil || art.Mimetype != "audio/aac" {
		t.Fatalf("expected a recorded audio/aac artifact, got %+v", art)
	}

	dest, err := blobs.GeneratedDestPath(hash, GentypeTranscodeAAC, "")
	if err != nil {
		t.Fatalf("GeneratedDestPath failed: %v", err)
	}
	if !pathExists(dest) {
		t.Fatal("expected the generated artifact to exist on disk at its destination")
	}
}

func strRepeat(s string, n int) string {
	out := make([]byte, 0, n*len(s))
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}
