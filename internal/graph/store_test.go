package graph

import (
	"context"
	"testing"

	"github.com/weftgraph/weft/internal/node"
)

type noFilesFinalizer struct{}

func (noFilesFinalizer) Finalize(ctx context.Context, uploadID string) (node.FileHash, int64, error) {
	return "", 0, ErrStagedBlobMissing
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), "file::memory:?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCommitAddThenQueryCurrentEdges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := node.NewString("a")
	b := node.NewString("b")

	_, err := s.Commit(ctx, noFilesFinalizer{}, node.CommitRequest{
		Comment: "first",
		Add:     []node.Triple{{Subject: a, Predicate: "knows", Object: b}},
	})
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	triples, err := s.GetTriplesAround(ctx, []node.Node{a})
	if err != nil {
		t.Fatalf("GetTriplesAround failed: %v", err)
	}
	if len(triples.Outgoing) != 1 {
		t.Fatalf("expected 1 outgoing triple, got %d", len(triples.Outgoing))
	}
	if !triples.Outgoing[0].Object.Equal(b) {
		t.Errorf("expected object %s, got %s", b, triples.Outgoing[0].Object)
	}
}

func TestCommitRemoveThenReadd(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := node.NewString("a")
	b := node.NewString("b")
	triple := node.Triple{Subject: a, Predicate: "knows", Object: b}

	if _, err := s.Commit(ctx, noFilesFinalizer{}, node.CommitRequest{Add: []node.Triple{triple}}); err != nil {
		t.Fatalf("first commit failed: %v", err)
	}
	if _, err := s.Commit(ctx, noFilesFinalizer{}, node.CommitRequest{Remove: []node.Triple{triple}}); err != nil {
		t.Fatalf("remove commit failed: %v", err)
	}

	triples, err := s.GetTriplesAround(ctx, []node.Node{a})
	if err != nil {
		t.Fatalf("GetTriplesAround failed: %v", err)
	}
	if len(triples.Outgoing) != 0 {
		t.Fatalf("expected 0 outgoing triples after remove, got %d", len(triples.Outgoing))
	}

	if _, err := s.Commit(ctx, noFilesFinalizer{}, node.CommitRequest{Add: []node.Triple{triple}}); err != nil {
		t.Fatalf("re-add commit failed: %v", err)
	}
	triples, err = s.GetTriplesAround(ctx, []node.Node{a})
	if err != nil {
		t.Fatalf("GetTriplesAround failed: %v", err)
	}
	if len(triples.Outgoing) != 1 {
		t.Fatalf("expected 1 outgoing triple after re-add, got %d", len(triples.Outgoing))
	}
}

func TestCommitNoOpDoesNotChangeQueryResults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := node.NewString("a")
	b := node.NewString("b")
	triple := node.Triple{Subject: a, Predicate: "knows", Object: b}
	if _, err := s.Commit(ctx, noFilesFinalizer{}, node.CommitRequest{Add: []node.Triple{triple}}); err != nil {
		t.Fatalf("setup commit failed: %v", err)
	}

	before, err := s.GetTriplesAround(ctx, []node.Node{a})
	if err != nil {
		t.Fatalf("GetTriplesAround failed: %v", err)
	}

	id, err := s.Commit(ctx, noFilesFinalizer{}, node.CommitRequest{Comment: "no-op"})
	if err != nil {
		t.Fatalf("no-op commit failed: %v", err)
	}
	if id == 0 {
		t.Errorf("expected a non-zero commit id even for a no-op commit")
	}

	after, err := s.GetTriplesAround(ctx, []node.Node{a})
	if err != nil {
		t.Fatalf("GetTriplesAround failed: %v", err)
	}
	if len(before.Outgoing) != len(after.Outgoing) {
		t.Errorf("no-op commit changed query results: before=%d after=%d", len(before.Outgoing), len(after.Outgoing))
	}
}

func TestGeneratedArtifactRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	hash, err := node.ParseFileHash("sha256:9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08")
	if err != nil {
		t.Fatalf("ParseFileHash failed: %v", err)
	}
	fileNode := node.NewFile(hash)

	if got, err := s.GetGeneratedArtifact(ctx, fileNode, "transcode_video_webm"); err != nil || got != nil {
		t.Fatalf("expected no artifact yet, got %v, %v", got, err)
	}

	if err := s.UpsertGeneratedArtifact(ctx, fileNode, "transcode_video_webm", "video/webm"); err != nil {
		t.Fatalf("UpsertGeneratedArtifact failed: %v", err)
	}
	got, err := s.GetGeneratedArtifact(ctx, fileNode, "transcode_video_webm")
	if err != nil {
		t.Fatalf("GetGeneratedArtifact failed: %v", err)
	}
	if got == nil || got.Mimetype != "video/webm" {
		t.Fatalf("expected recorded artifact, got %v", got)
	}

	if err := s.DeleteGeneratedArtifact(ctx, fileNode, "transcode_video_webm"); err != nil {
		t.Fatalf("DeleteGeneratedArtifact failed: %v", err)
	}
	if got, err := s.GetGeneratedArtifact(ctx, fileNode, "transcode_video_webm"); err != nil || got != nil {
		t.Fatalf("expected artifact deleted, got %v, %v", got, err)
	}
}
