package blobstore

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/weftgraph/weft/internal/node"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return s
}

func stageAndFinalize(t *testing.T, s *Store, content string) node.FileHash {
	t.Helper()
	ctx := context.Background()
	id, err := s.BeginUpload(ctx)
	if err != nil {
		t.Fatalf("BeginUpload failed: %v", err)
	}
	for _, chunk := range strings.SplitAfter(content, " ") {
		if chunk == "" {
			continue
		}
		if _, err := s.StageChunk(ctx, id, []byte(chunk)); err != nil {
			t.Fatalf("StageChunk failed: %v", err)
		}
	}
	hash, size, err := s.Finalize(ctx, id)
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if size != int64(len(content)) {
		t.Errorf("expected size %d, got %d", len(content), size)
	}
	return hash
}

func TestStageAndFinalizeThenRead(t *testing.T) {
	s := newTestStore(t)
	hash := stageAndFinalize(t, s, "hello world ")

	rc, err := s.Read(hash)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(got) != "hello world " {
		t.Errorf("expected %q, got %q", "hello world ", got)
	}
}

func TestFinalizeIsContentAddressed(t *testing.T) {
	s := newTestStore(t)
	h1 := stageAndFinalize(t, s, "same content ")
	h2 := stageAndFinalize(t, s, "same content ")
	if h1 != h2 {
		t.Errorf("expected identical content to hash identically, got %q and %q", h1, h2)
	}
}

func TestFinalizeUnknownUploadFails(t *testing.T) {
	s := newTestStore(t)
	if _, _, err := s.Finalize(context.Background(), "nonexistent"); err == nil {
		t.Fatal("expected an error finalising an unknown upload id")
	}
}

func TestReadMissingBlobFails(t *testing.T) {
	s := newTestStore(t)
	hash, err := node.ParseFileHash("sha256:9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08")
	if err != nil {
		t.Fatalf("ParseFileHash failed: %v", err)
	}
	if _, err := s.Read(hash); err == nil {
		t.Fatal("expected an error reading a blob that was never staged")
	}
}

func TestWriteGeneratedThenReadGenerated(t *testing.T) {
	s := newTestStore(t)
	hash := stageAndFinalize(t, s, "source bytes ")

	if err := s.WriteGenerated(hash, "transcode_video_webm", "", bytes.NewReader([]byte("webm bytes"))); err != nil {
		t.Fatalf("WriteGenerated failed: %v", err)
	}
	rc, err := s.ReadGenerated(hash, "transcode_video_webm", "")
	if err != nil {
		t.Fatalf("ReadGenerated failed: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(got) != "webm bytes" {
		t.Errorf("expected %q, got %q", "webm bytes", got)
	}
}

func TestWriteGeneratedWithSubpath(t *testing.T) {
	s := newTestStore(t)
	hash := stageAndFinalize(t, s, "source bytes ")

	if err := s.WriteGenerated(hash, "subtitles", "en.vtt", bytes.NewReader([]byte("WEBVTT"))); err != nil {
		t.Fatalf("WriteGenerated failed: %v", err)
	}
	rc, err := s.ReadGenerated(hash, "subtitles", "en.vtt")
	if err != nil {
		t.Fatalf("ReadGenerated failed: %v", err)
	}
	rc.Close()
}

func TestDeleteGeneratedRemovesWholeGentype(t *testing.T) {
	s := newTestStore(t)
	hash := stageAndFinalize(t, s, "source bytes ")

	if err := s.WriteGenerated(hash, "subtitles", "en.vtt", bytes.NewReader([]byte("WEBVTT"))); err != nil {
		t.Fatalf("WriteGenerated failed: %v", err)
	}
	if err := s.WriteGenerated(hash, "subtitles", "fr.vtt", bytes.NewReader([]byte("WEBVTT"))); err != nil {
		t.Fatalf("WriteGenerated failed: %v", err)
	}
	if err := s.DeleteGenerated(hash, "subtitles"); err != nil {
		t.Fatalf("DeleteGenerated failed: %v", err)
	}
	if _, err := s.ReadGenerated(hash, "subtitles", "en.vtt"); err == nil {
		t.Fatal("expected generated artifact to be gone after DeleteGenerated")
	}
}

func TestDeleteMissingBlobIsNotAnError(t *testing.T) {
	s := newTestStore(t)
	hash, _ := node.ParseFileHash("sha256:9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08")
	if err := s.Delete(hash); err != nil {
		t.Errorf("expected deleting a missing blob to be a no-op, got %v", err)
	}
}

func TestAbortUploadDiscardsStagingFile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, err := s.BeginUpload(ctx)
	if err != nil {
		t.Fatalf("BeginUpload failed: %v", err)
	}
	if _, err := s.StageChunk(ctx, id, []byte("partial")); err != nil {
		t.Fatalf("StageChunk failed: %v", err)
	}
	if err := s.AbortUpload(id); err != nil {
		t.Fatalf("AbortUpload failed: %v", err)
	}
	if _, _, err := s.Finalize(ctx, id); err == nil {
		t.Fatal("expected finalising an aborted upload to fail")
	}
}

func TestStaleUploadsRespectsAge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, err := s.BeginUpload(ctx)
	if err != nil {
		t.Fatalf("BeginUpload failed: %v", err)
	}
	if _, err := s.StageChunk(ctx, id, []byte("leftover")); err != nil {
		t.Fatalf("StageChunk failed: %v", err)
	}

	stale, err := s.StaleUploads(time.Hour)
	if err != nil {
		t.Fatalf("StaleUploads failed: %v", err)
	}
	if len(stale) != 0 {
		t.Errorf("expected no stale uploads under a 1h cutoff for a fresh upload, got %v", stale)
	}

	stale, err = s.StaleUploads(-time.Hour)
	if err != nil {
		t.Fatalf("StaleUploads failed: %v", err)
	}
	found := false
	for _, s := range stale {
		if s == id {
			found = true
		}
	}
	if !found {
		t.Errorf("expected upload %q to be reported stale under a negative cutoff", id)
	}
}

func TestStageAtThenFinalizeRehashesFromDisk(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	content := "resumable upload body"
	uploadID := "sha256:deadbeef"
	if _, err := s.StageAt(uploadID, 0, strings.NewReader(content[:10])); err != nil {
		t.Fatalf("StageAt first chunk failed: %v", err)
	}
	if _, err := s.StageAt(uploadID, 10, strings.NewReader(content[10:])); err != nil {
		t.Fatalf("StageAt second chunk failed: %v", err)
	}

	size, ok := s.StagedSize(uploadID)
	if !ok {
		t.Fatal("expected StagedSize to report a staged upload")
	}
	if size != int64(len(content)) {
		t.Errorf("StagedSize = %d, want %d", size, len(content))
	}

	hash, finalSize, err := s.Finalize(ctx, uploadID)
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if finalSize != int64(len(content)) {
		t.Errorf("Finalize size = %d, want %d", finalSize, len(content))
	}
	if !s.HasSource(hash) {
		t.Errorf("expected HasSource(%q) after finalising a StageAt upload", hash)
	}
}

func TestHasSourceFalseForUnknownHash(t *testing.T) {
	s := newTestStore(t)
	if s.HasSource(node.FileHash("sha256:0000000000000000")) {
		t.Error("expected HasSource to report false for a hash with no blob")
	}
}

func TestListGeneratedDirListsNestedFiles(t *testing.T) {
	s := newTestStore(t)
	hash := stageAndFinalize(t, s, "epub source bytes")

	if err := s.WriteGenerated(hash, "epub_html", "index.html", strings.NewReader("<html></html>")); err != nil {
		t.Fatalf("WriteGenerated index failed: %v", err)
	}
	if err := s.WriteGenerated(hash, "epub_html", "chapter1.html", strings.NewReader("<p>one</p>")); err != nil {
		t.Fatalf("WriteGenerated chapter failed: %v", err)
	}

	paths, err := s.ListGeneratedDir(hash, "epub_html")
	if err != nil {
		t.Fatalf("ListGeneratedDir failed: %v", err)
	}
	want := map[string]bool{"index.html": true, "chapter1.html": true}
	if len(paths) != len(want) {
		t.Fatalf("ListGeneratedDir = %v, want entries for %v", paths, want)
	}
	for _, p := range paths {
		if !want[p] {
			t.Errorf("unexpected path %q in listing", p)
		}
	}
}

func TestListGeneratedDirEmptyForMissingGentype(t *testing.T) {
	s := newTestStore(t)
	hash := stageAndFinalize(t, s, "plain source")

	paths, err := s.ListGeneratedDir(hash, "never_generated")
	if err != nil {
		t.Fatalf("ListGeneratedDir on missing gentype should not error, got: %v", err)
	}
	if len(paths) != 0 {
		t.Errorf("expected no paths for a ungenerated gentype, got %v", paths)
	}
}
