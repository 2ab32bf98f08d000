// Package wire implements the JSON-over-HTTP API of spec section 6: the
// seven endpoints a client (the offline sync worker, a thin UI, or any
// other collaborator) uses to commit triples, stage and finalise file
// uploads, run queries, and fetch source or generated blobs.
//
// The transport itself — TLS, auth, websockets — is treated as an
// external collaborator's concern; this package only wires the documented
// request/response bodies onto the graph store (component B), the blob
// store (component C), and the query compiler/executor (components D/E).
// No third-party router is used: nothing in the example pack actually
// calls a router library's routing API (go-chi and gorilla/mux appear
// only in other repos' go.mod transitive dependency graphs, never
// imported), and the documented surface is seven fixed routes, well
// within what the standard library's Go 1.22+ ServeMux pattern matching
// handles directly.
package wire

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/weftgraph/weft/internal/blobstore"
	"github.com/weftgraph/weft/internal/graph"
	"github.com/weftgraph/weft/internal/node"
	"github.com/weftgraph/weft/internal/query"
	"github.com/weftgraph/weft/internal/werr"
)

// View is a server-side view definition for POST /view_query: the
// parameter keys each named query accepts, and the compiled chain behind
// each name. Distinct from internal/offline's ClientView, which describes
// a view's widget tree for the offline client's traversal rather than
// what the server is willing to execute on its behalf.
type View struct {
	ID                 string
	QueryParameterKeys map[string][]string
	Queries            map[string]query.Chain
}

// ViewLookup resolves a view id to its definition.
type ViewLookup func(id string) (*View, bool)

// Server holds everything the HTTP handlers need: the triple store, the
// blob store, and a logger for the errors that never reach the wire
// (spec section 7's internal-only error class).
type Server struct {
	Graph *graph.Store
	Blobs *blobstore.Store
	Views ViewLookup
	Log   *slog.Logger
}

// NewServer builds a Server. views may be nil if /view_query is unused.
func NewServer(g *graph.Store, blobs *blobstore.Store, views ViewLookup, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{Graph: g, Blobs: blobs, Views: views, Log: log}
}

// Routes builds the documented route table.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /commit", s.handleCommit)
	mux.HandleFunc("POST /upload/{hash}", s.handleUpload)
	mux.HandleFunc("POST /upload_finish", s.handleUploadFinish)
	mux.HandleFunc("POST /query", s.handleQuery)
	mux.HandleFunc("POST /view_query", s.handleViewQuery)
	mux.HandleFunc("GET /file/{hash}", s.handleFile)
	mux.HandleFunc("GET /genfile/{hash}/{gentype}", s.handleGenfile)
	mux.HandleFunc("GET /genfile/{hash}/{gentype}/{subpath...}", s.handleGenfile)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError translates an internal error into the wire error envelope of
// spec section 7, choosing the HTTP status from the werr.Kind. Only the
// message and offending field are ever exposed; integrity errors are also
// logged with full context, since those indicate a bug rather than bad
// input and must never be silently swallowed.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch werr.Of(err) {
	case werr.KindInput:
		status = http.StatusBadRequest
	case werr.KindTransient:
		status = http.StatusServiceUnavailable
	case werr.KindExternal:
		status = http.StatusBadGateway
	case werr.KindIntegrity:
		status = http.StatusInternalServerError
		s.Log.Error("integrity error handling request", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, toErrorEnvelope(err))
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, werr.Input("body", err))
		return
	}

	add := make([]node.Triple, len(req.Add))
	for i, t := range req.Add {
		add[i] = node.Triple{Subject: t.Subject, Predicate: t.Predicate, Object: t.Object}
	}
	remove := make([]node.Triple, len(req.Remove))
	for i, t := range req.Remove {
		remove[i] = node.Triple{Subject: t.Subject, Predicate: t.Predicate, Object: t.Object}
	}

	// Pre-filter claimed files: already-committed blobs are dropped
	// silently (nothing to finalise), fully staged ones are passed through
	// to Commit keyed by their claimed hash as the upload id (StageAt
	// addresses staged uploads by hash, not a server-issued id), and
	// anything with no staged bytes yet is reported back as incomplete
	// rather than failing the whole commit.
	var files []node.StagedFile
	var incomplete []node.FileHash
	for _, f := range req.Files {
		if s.Blobs.HasSource(f.Hash) {
			continue
		}
		if _, staged := s.Blobs.StagedSize(string(f.Hash)); !staged {
			incomplete = append(incomplete, f.Hash)
			continue
		}
		files = append(files, node.StagedFile{Hash: f.Hash, Mimetype: f.Mimetype, UploadID: string(f.Hash)})
	}
	if len(incomplete) > 0 {
		writeJSON(w, http.StatusOK, commitResponse{Incomplete: incomplete})
		return
	}

	commitID, err := s.Graph.Commit(r.Context(), s.Blobs, node.CommitRequest{
		Comment: req.Comment,
		Add:     add,
		Remove:  remove,
		Files:   files,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, commitResponse{CommitID: &commitID})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")
	if hash == "" {
		s.writeError(w, r, werr.Inputf("hash", "missing upload hash"))
		return
	}
	offset, err := strconv.ParseInt(r.URL.Query().Get("offset"), 10, 64)
	if err != nil {
		s.writeError(w, r, werr.Inputf("offset", "invalid or missing offset: %v", err))
		return
	}
	if _, err := s.Blobs.StageAt(hash, offset, r.Body); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{Done: false})
}

func (s *Server) handleUploadFinish(w http.ResponseWriter, r *http.Request) {
	var req uploadFinishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, werr.Input("body", err))
		return
	}
	if s.Blobs.HasSource(req.Hash) {
		writeJSON(w, http.StatusOK, uploadResponse{Done: true})
		return
	}
	if _, staged := s.Blobs.StagedSize(string(req.Hash)); !staged {
		s.writeError(w, r, werr.Inputf("hash", "no staged or finished upload for %q", req.Hash))
		return
	}
	// Finalisation (hash verification, move into the content-addressed
	// tree) happens as part of /commit; /upload_finish only reports
	// whether the client has staged every byte it intends to.
	writeJSON(w, http.StatusOK, uploadResponse{Done: false})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, werr.Input("body", err))
		return
	}
	chain, err := decodeChain(req.Query)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.runQuery(w, r, chain, req.Parameters, req.Sort.toSort(), req.Pagination.toPagination())
}

func (s *Server) handleViewQuery(w http.ResponseWriter, r *http.Request) {
	var req viewQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, werr.Input("body", err))
		return
	}
	if s.Views == nil {
		s.writeError(w, r, werr.Inputf("view_id", "no views configured"))
		return
	}
	view, ok := s.Views(req.ViewID)
	if !ok {
		s.writeError(w, r, werr.Inputf("view_id", "unknown view %q", req.ViewID))
		return
	}
	allowed, ok := view.QueryParameterKeys[req.Query]
	if !ok {
		s.writeError(w, r, werr.Inputf("query", "view %q has no query %q", req.ViewID, req.Query))
		return
	}
	for name := range req.Parameters {
		if !containsStr(allowed, name) {
			s.writeError(w, r, werr.Inputf("parameters", "parameter %q not declared by view %q query %q", name, req.ViewID, req.Query))
			return
		}
	}
	chain, ok := view.Queries[req.Query]
	if !ok {
		s.writeError(w, r, werr.Inputf("query", "view %q query %q has no compiled chain", req.ViewID, req.Query))
		return
	}
	s.runQuery(w, r, chain, req.Parameters, nil, query.Pagination{})
}

func containsStr(xs []string, x string) bool {
	for _, s := range xs {
		if s == x {
			return true
		}
	}
	return false
}

func (s *Server) runQuery(w http.ResponseWriter, r *http.Request, chain query.Chain, params map[string]node.Node, srt *query.Sort, page query.Pagination) {
	result, err := query.Execute(r.Context(), s.Graph.DB(), chain, params, srt, page)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := buildQueryResponse(r.Context(), s.Graph, result)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	hashStr := r.PathValue("hash")
	n, err := node.ParseFileHash(hashStr)
	if err != nil {
		s.writeError(w, r, werr.Inputf("hash", "invalid file hash %q: %v", hashStr, err))
		return
	}
	meta, err := s.Graph.GetNodeMeta(r.Context(), node.NewFile(n))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body, err := s.Blobs.Read(n)
	if err != nil {
		s.writeBlobError(w, r, err)
		return
	}
	defer body.Close()
	if meta != nil && meta.Mimetype != "" {
		w.Header().Set("Content-Type", meta.Mimetype)
	}
	if _, err := io.Copy(w, body); err != nil {
		s.Log.Error("streaming file body", "hash", hashStr, "error", err)
	}
}

// handleGenfile serves a generated artifact, falling back to the source
// blob when the gentype denotes a whole-file replacement (empty subpath)
// that has not (yet) been generated, and supports the ?list=1 directory
// listing extension the offline sync client needs for multi-file
// bundles (epub HTML, comic page sets).
func (s *Server) handleGenfile(w http.ResponseWriter, r *http.Request) {
	hashStr := r.PathValue("hash")
	gentype := r.PathValue("gentype")
	subpath := r.PathValue("subpath")

	n, err := node.ParseFileHash(hashStr)
	if err != nil {
		s.writeError(w, r, werr.Inputf("hash", "invalid file hash %q: %v", hashStr, err))
		return
	}

	if r.URL.Query().Get("list") == "1" {
		paths, err := s.Blobs.ListGeneratedDir(n, gentype)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, paths)
		return
	}

	body, err := s.Blobs.ReadGenerated(n, gentype, subpath)
	if err != nil {
		if subpath == "" {
			if fallback, ferr := s.Blobs.Read(n); ferr == nil {
				defer fallback.Close()
				if _, err := io.Copy(w, fallback); err != nil {
					s.Log.Error("streaming fallback file body", "hash", hashStr, "error", err)
				}
				return
			}
		}
		s.writeBlobError(w, r, err)
		return
	}
	defer body.Close()
	if _, err := io.Copy(w, body); err != nil {
		s.Log.Error("streaming generated file body", "hash", hashStr, "gentype", gentype, "error", err)
	}
}

// writeBlobError maps a missing-blob Input error to 404 rather than the
// generic 400, since a stale or racing client hitting GC is expected
// traffic, not a malformed request.
func (s *Server) writeBlobError(w http.ResponseWriter, r *http.Request, err error) {
	if werr.Of(err) == werr.KindInput && errors.Is(err, os.ErrNotExist) {
		writeJSON(w, http.StatusNotFound, toErrorEnvelope(err))
		return
	}
	s.writeError(w, r, err)
}

// viewQueryRequest is the wire body of POST /view_query: like queryRequest
// but scoped to a view id and naming the query by its declared key rather
// than carrying the chain inline.
type viewQueryRequest struct {
	ViewID     string               `json:"view_id"`
	Query      string               `json:"query"`
	Parameters map[string]node.Node `json:"parameters"`
}
