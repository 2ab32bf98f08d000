package gc

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/weftgraph/weft/internal/blobstore"
	"github.com/weftgraph/weft/internal/graph"
	"github.com/weftgraph/weft/internal/node"
)

func newTestRunner(t *testing.T) (*Runner, *graph.Store, *blobstore.Store) {
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
	return NewRunner(g, blobs, nil, t.TempDir()), g, blobs
}

func insertCommit(t *testing.T, g *graph.Store, commitID int64, createdAt time.Time) {
	t.Helper()
	if _, err := g.DB().Exec(`INSERT INTO commits (commit_id, comment, created_at) VALUES (?, '', ?)`, commitID, createdAt); err != nil {
		t.Fatalf("inserting commit: %v", err)
	}
}

func insertEdge(t *testing.T, g *graph.Store, subj, obj node.Node, pred string, commitID int64, exists bool) {
	t.Helper()
	existInt := 0
	if exists {
		existInt = 1
	}
	if _, err := g.DB().Exec(`
		INSERT INTO edges (subject, predicate, object, commit_id, edge_exist) VALUES (?, ?, ?, ?, ?)
	`, subj.Fingerprint(), pred, obj.Fingerprint(), commitID, existInt); err != nil {
		t.Fatalf("inserting edge: %v", err)
	}
}

func TestPruneTripleHistoryKeepsNewestRevision(t *testing.T) {
	_, g, _ := newTestRunner(t)
	ctx := context.Background()
	subj := node.NewString("doc-1")
	obj1, _ := node.NewNumber("1")

	twoYearsAgo := time.Now().AddDate(-2, 0, 0)
	recently := time.Now().AddDate(0, 0, -1)
	insertCommit(t, g, 1, twoYearsAgo)
	insertCommit(t, g, 2, recently)
	insertEdge(t, g, subj, obj1, "rating", 1, true)
	insertEdge(t, g, subj, obj1, "rating", 2, true)

	deleted, err := g.PruneTripleHistory(ctx, 365*24*time.Hour)
	if err != nil {
		t.Fatalf("PruneTripleHistory failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected to prune exactly 1 superseded revision, deleted %d", deleted)
	}

	var remaining int
	if err := g.DB().QueryRow(`SELECT COUNT(*) FROM edges`).Scan(&remaining); err != nil {
		t.Fatalf("counting edges: %v", err)
	}
	if remaining != 1 {
		t.Fatalf("expected 1 surviving edge row, got %d", remaining)
	}
}

func TestPruneTripleHistoryKeepsSoleOldRevision(t *testing.T) {
	_, g, _ := newTestRunner(t)
	ctx := context.Background()
	subj := node.NewString("doc-2")
	obj := node.NewString("value")

	twoYearsAgo := time.Now().AddDate(-2, 0, 0)
	insertCommit(t, g, 1, twoYearsAgo)
	insertEdge(t, g, subj, obj, "label", 1, true)

	deleted, err := g.PruneTripleHistory(ctx, 365*24*time.Hour)
	if err != nil {
		t.Fatalf("PruneTripleHistory failed: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("expected an old revision with no successor to survive, deleted %d", deleted)
	}
}

func TestReclaimMetadataDeletesUnreferencedNode(t *testing.T) {
	_, g, _ := newTestRunner(t)
	ctx := context.Background()

	referenced := node.NewString("referenced")
	orphan := node.NewString("orphan")

	insertCommit(t, g, 1, time.Now())
	insertEdge(t, g, referenced, node.NewString("x"), "rel", 1, true)

	if err := g.SetFileMeta(ctx, referenced, "", 0, ""); err != nil {
		t.Fatalf("SetFileMeta failed: %v", err)
	}
	if err := g.SetFileMeta(ctx, orphan, "", 0, ""); err != nil {
		t.Fatalf("SetFileMeta failed: %v", err)
	}

	deleted, err := g.ReclaimMetadata(ctx)
	if err != nil {
		t.Fatalf("ReclaimMetadata failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 unreferenced metadata row deleted, got %d", deleted)
	}

	meta, err := g.GetNodeMeta(ctx, referenced)
	if err != nil || meta == nil {
		t.Fatalf("expected referenced node's metadata to survive, got %+v, %v", meta, err)
	}
	meta, err = g.GetNodeMeta(ctx, orphan)
	if err != nil {
		t.Fatalf("GetNodeMeta failed: %v", err)
	}
	if meta != nil {
		t.Fatal("expected orphaned node's metadata to be gone")
	}
}

func TestReclaimCommitsDeletesOrphanedCommit(t *testing.T) {
	_, g, _ := newTestRunner(t)
	ctx := context.Background()

	insertCommit(t, g, 1, time.Now())
	insertCommit(t, g, 2, time.Now())
	insertEdge(t, g, node.NewString("s"), node.NewString("o"), "rel", 2, true)
	// commit 1 has no surviving edge referencing it.

	deleted, err := g.ReclaimCommits(ctx)
	if err != nil {
		t.Fatalf("ReclaimCommits failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 orphaned commit deleted, got %d", deleted)
	}
}

func TestReclaimGeneratedArtifactsDeletesForUnreferencedSource(t *testing.T) {
	_, g, _ := newTestRunner(t)
	ctx := context.Background()

	referenced := node.NewString("referenced-file")
	orphan := node.NewString("orphan-file")

	insertCommit(t, g, 1, time.Now())
	insertEdge(t, g, referenced, node.NewString("x"), "rel", 1, true)

	if err := g.UpsertGeneratedArtifact(ctx, referenced, "subtitle_vtt", "text/vtt"); err != nil {
		t.Fatalf("UpsertGeneratedArtifact failed: %v", err)
	}
	if err := g.UpsertGeneratedArtifact(ctx, orphan, "subtitle_vtt", "text/vtt"); err != nil {
		t.Fatalf("UpsertGeneratedArtifact failed: %v", err)
	}

	deleted, err := g.ReclaimGeneratedArtifacts(ctx)
	if err != nil {
		t.Fatalf("ReclaimGeneratedArtifacts failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 unreferenced artifact row deleted, got %d", deleted)
	}

	art, err := g.GetGeneratedArtifact(ctx, referenced, "subtitle_vtt")
	if err != nil || art == nil {
		t.Fatalf("expected referenced source's artifact row to survive, got %+v, %v", art, err)
	}
	art, err = g.GetGeneratedArtifact(ctx, orphan, "subtitle_vtt")
	if err != nil {
		t.Fatalf("GetGeneratedArtifact failed: %v", err)
	}
	if art != nil {
		t.Fatal("expected orphaned source's artifact row to be gone")
	}
}

func TestReclaimBlobsDeletesUnreferencedBlob(t *testing.T) {
	r, g, blobs := newTestRunner(t)
	ctx := context.Background()

	id, err := blobs.BeginUpload(ctx)
	if err != nil {
		t.Fatalf("BeginUpload failed: %v", err)
	}
	if _, err := blobs.StageChunk(ctx, id, []byte("orphaned content")); err != nil {
		t.Fatalf("StageChunk failed: %v", err)
	}
	hash, _, err := blobs.Finalize(ctx, id)
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	referencedID, err := blobs.BeginUpload(ctx)
	if err != nil {
		t.Fatalf("BeginUpload failed: %v", err)
	}
	if _, err := blobs.StageChunk(ctx, referencedID, []byte("referenced content")); err != nil {
		t.Fatalf("StageChunk failed: %v", err)
	}
	referencedHash, _, err := blobs.Finalize(ctx, referencedID)
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if err := g.SetFileMeta(ctx, node.NewFile(referencedHash), "text/plain", 10, ""); err != nil {
		t.Fatalf("SetFileMeta failed: %v", err)
	}

	deleted, err := r.reclaimBlobs(ctx)
	if err != nil {
		t.Fatalf("reclaimBlobs failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 blob reclaimed, got %d", deleted)
	}
	if _, err := blobs.Read(hash); err == nil {
		t.Fatal("expected the unreferenced blob to be gone")
	}
	if _, err := blobs.Read(referencedHash); err != nil {
		t.Fatalf("expected the referenced blob to survive, got %v", err)
	}
}

func TestReclaimGeneratedFilesDeletesOrphanedHashDir(t *testing.T) {
	r, _, blobs := newTestRunner(t)

	ctx := context.Background()
	id, err := blobs.BeginUpload(ctx)
	if err != nil {
		t.Fatalf("BeginUpload failed: %v", err)
	}
	if _, err := blobs.StageChunk(ctx, id, []byte("source bytes")); err != nil {
		t.Fatalf("StageChunk failed: %v", err)
	}
	hash, _, err := blobs.Finalize(ctx, id)
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	tmpDir, cleanup, err := blobs.NewTempDir("test")
	if err != nil {
		t.Fatalf("NewTempDir failed: %v", err)
	}
	defer cleanup()
	tempOut := tmpDir + "/out.vtt"
	if err := os.WriteFile(tempOut, []byte("WEBVTT"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := blobs.CommitGenerated(hash, "subtitle_vtt", "en.vtt", tempOut); err != nil {
		t.Fatalf("CommitGenerated failed: %v", err)
	}
	// No generated_artifacts row is inserted: simulates a hash whose row
	// was already reclaimed by ReclaimGeneratedArtifacts.

	deleted, err := r.reclaimGeneratedFiles(ctx)
	if err != nil {
		t.Fatalf("reclaimGeneratedFiles failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 orphaned generated-file hash dir deleted, got %d", deleted)
	}
	if _, err := blobs.ReadGenerated(hash, "subtitle_vtt", "en.vtt"); err == nil {
		t.Fatal("expected the orphaned generated artifact to be gone")
	}
}

func TestReclaimStaleUploadsAbortsOldUploads(t *testing.T) {
	r, _, blobs := newTestRunner(t)
	ctx := context.Background()

	id, err := blobs.BeginUpload(ctx)
	if err != nil {
		t.Fatalf("BeginUpload failed: %v", err)
	}
	if _, err := blobs.StageChunk(ctx, id, []byte("leftover")); err != nil {
		t.Fatalf("StageChunk failed: %v", err)
	}

	deleted, err := r.reclaimStaleUploads(-time.Hour)
	if err != nil {
		t.Fatalf("reclaimStaleUploads failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 stale upload aborted, got %d", deleted)
	}
	if _, _, err := blobs.Finalize(ctx, id); err == nil {
		t.Fatal("expected the aborted upload to fail finalisation")
	}
}

func TestSingleInstanceLockExcludesConcurrentHolder(t *testing.T) {
	path := t.TempDir() + "/.gc.lock"
	first := newSingleInstanceLock(path)
	second := newSingleInstanceLock(path)

	locked, err := first.TryLock()
	if err != nil || !locked {
		t.Fatalf("expected first lock to succeed, got locked=%v err=%v", locked, err)
	}
	locked, err = second.TryLock()
	if err != nil {
		t.Fatalf("TryLock failed: %v", err)
	}
	if locked {
		t.Fatal("expected second concurrent lock attempt to fail")
	}

	if err := first.Unlock(); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	locked, err = second.TryLock()
	if err != nil || !locked {
		t.Fatalf("expected second lock to succeed after release, got locked=%v err=%v", locked, err)
	}
	second.Unlock()
}

func TestParseRetentionAcceptsAgoPhrase(t *testing.T) {
	d, err := parseRetention("3 days ago")
	if err != nil {
		t.Fatalf("parseRetention failed: %v", err)
	}
	if d <= 71*time.Hour || d >= 73*time.Hour {
		t.Fatalf("expected roughly 72h, got %v", d)
	}
}

func TestParseRetentionRejectsUnrecognisedPhrase(t *testing.T) {
	if _, err := parseRetention("not a date at all"); err == nil {
		t.Fatal("expected an error for an unparseable retention phrase")
	}
}
