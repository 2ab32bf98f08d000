package wire

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/weftgraph/weft/internal/blobstore"
	"github.com/weftgraph/weft/internal/graph"
	"github.com/weftgraph/weft/internal/node"
)

// contentHash returns the FileHash the blob store will compute for b, so
// tests can claim a hash that actually matches the uploaded bytes (Commit
// rejects a mismatch between the claimed and the finalised hash).
func contentHash(b []byte) node.FileHash {
	sum := sha256.Sum256(b)
	return node.FileHash("sha256:" + hex.EncodeToString(sum[:]))
}

func newTestServer(t *testing.T) *Server {
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
	return NewServer(g, blobs, nil, nil)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestUploadCommitAndFileRoundTrip(t *testing.T) {
	s := newTestServer(t)
	mux := s.Routes()

	content := []byte("hello file contents")
	claimedHash := contentHash(content)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/upload/"+string(claimedHash)+"?offset=0", bytes.NewReader(content))
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, mux, http.MethodPost, "/commit", commitRequest{
		Comment: "add a file",
		Files:   []wireCommitFile{{Hash: claimedHash, Mimetype: "text/plain"}},
		Add: []wireTriple{{
			Subject:   node.NewString("doc1"),
			Predicate: "attachment",
			Object:    node.NewFile(claimedHash),
		}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("commit status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var cresp commitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &cresp); err != nil {
		t.Fatalf("decoding commit response: %v", err)
	}
	if len(cresp.Incomplete) != 0 {
		t.Fatalf("expected no incomplete hashes, got %v", cresp.Incomplete)
	}
	if cresp.CommitID == nil {
		t.Fatal("expected a commit id")
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/file/"+string(claimedHash), nil)
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("file fetch status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "text/plain" {
		t.Errorf("Content-Type = %q, want %q", got, "text/plain")
	}
	if rec.Body.String() != string(content) {
		t.Errorf("file body = %q, want %q", rec.Body.String(), content)
	}
}

func TestCommitReportsIncompleteForUnstagedFile(t *testing.T) {
	s := newTestServer(t)
	mux := s.Routes()

	rec := doJSON(t, mux, http.MethodPost, "/commit", commitRequest{
		Files: []wireCommitFile{{Hash: "sha256:notuploaded00000000000000000000", Mimetype: "text/plain"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("commit status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var cresp commitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &cresp); err != nil {
		t.Fatalf("decoding commit response: %v", err)
	}
	if len(cresp.Incomplete) != 1 {
		t.Fatalf("expected 1 incomplete hash, got %v", cresp.Incomplete)
	}
	if cresp.CommitID != nil {
		t.Fatal("expected no commit to proceed while files are incomplete")
	}
}

func TestQueryRoundTripsMoveStep(t *testing.T) {
	s := newTestServer(t)
	mux := s.Routes()

	a := node.NewString("alice")
	b := node.NewString("bob")
	if _, err := s.Graph.Commit(context.Background(), s.Blobs, node.CommitRequest{
		Add: []node.Triple{{Subject: a, Predicate: "knows", Object: b}},
	}); err != nil {
		t.Fatalf("seeding commit failed: %v", err)
	}

	chainJSON := []byte(`{
		"body": {
			"root": {"kind": "value", "value": {"kind": "literal", "node": {"t": "string", "v": "alice"}}},
			"steps": [
				{"kind": "move", "dir": "forward", "predicate": {"kind": "literal", "str": "knows"}}
			]
		},
		"bind": "x"
	}`)

	rec := doJSON(t, mux, http.MethodPost, "/query", queryRequest{
		Query:      chainJSON,
		Pagination: wirePagination{Count: 100},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("query status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var qresp queryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &qresp); err != nil {
		t.Fatalf("decoding query response: %v", err)
	}
	if len(qresp.Rows.Record) != 1 {
		t.Fatalf("expected 1 record row, got %+v", qresp.Rows)
	}
	field, ok := qresp.Rows.Record[0].Fields["x"]
	if !ok || field.Scalar == nil {
		t.Fatalf("expected scalar projection for bind %q, got %+v", "x", qresp.Rows.Record[0])
	}
	if got, _ := field.Scalar.Scalar().(string); got != "bob" {
		t.Errorf("projected value = %q, want %q", got, "bob")
	}
}

func TestGenfileFallsBackToSourceWhenUngenerated(t *testing.T) {
	s := newTestServer(t)
	mux := s.Routes()

	content := []byte("source bytes")
	claimedHash := contentHash(content)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/upload/"+string(claimedHash)+"?offset=0", bytes.NewReader(content))
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload status = %d", rec.Code)
	}
	rec = doJSON(t, mux, http.MethodPost, "/commit", commitRequest{
		Files: []wireCommitFile{{Hash: claimedHash, Mimetype: "application/octet-stream"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("commit status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/genfile/"+string(claimedHash)+"/thumbnail", nil)
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("genfile fallback status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != string(content) {
		t.Errorf("genfile fallback body = %q, want %q", rec.Body.String(), content)
	}
}
