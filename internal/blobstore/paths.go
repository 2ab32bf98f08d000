// Package blobstore implements the content-addressed file blob store
// (component C): source blobs, per-gentype derived artifacts, and staged
// in-progress uploads, laid out on disk per spec section 4.C / section 6.
package blobstore

import (
	"path/filepath"
	"strings"

	"github.com/weftgraph/weft/internal/node"
	"github.com/weftgraph/weft/internal/werr"
)

// splitHash separates a FileHash "<kind>:<hex>" into its algorithm and
// hex digest.
func splitHash(hash node.FileHash) (kind, hex string, err error) {
	parts := strings.SplitN(string(hash), ":", 2)
	if len(parts) != 2 || parts[0] == "" || len(parts[1]) < 4 {
		return "", "", werr.Inputf("hash", "malformed file hash %q", hash)
	}
	return parts[0], parts[1], nil
}

// fanOut returns the two-byte-prefix directory components used by both
// the source and generated trees: <h[0..2]>/<h[2..4]>.
func fanOut(hex string) (string, string) {
	if len(hex) < 4 {
		return hex, hex
	}
	return hex[0:2], hex[2:4]
}

// sourcePath returns files/<kind>/<h[0..2]>/<h[2..4]>/<h>.
func (s *Store) sourcePath(hash node.FileHash) (string, error) {
	kind, hex, err := splitHash(hash)
	if err != nil {
		return "", err
	}
	p1, p2 := fanOut(hex)
	return filepath.Join(s.root, "files", kind, p1, p2, hex), nil
}

// generatedPath returns genfiles/<kind>/<h[0..2]>/<h[2..4]>/<h>/<gentype>[/<subpath>].
// An empty subpath denotes a "replacement" artifact (the caller may fall
// back to the source blob if absent); a non-empty subpath denotes an
// auxiliary artifact (absence is a 404, per spec section 4.C).
func (s *Store) generatedPath(hash node.FileHash, gentype, subpath string) (string, error) {
	kind, hex, err := splitHash(hash)
	if err != nil {
		return "", err
	}
	p1, p2 := fanOut(hex)
	base := filepath.Join(s.root, "genfiles", kind, p1, p2, hex, gentype)
	if subpath == "" {
		return base, nil
	}
	return filepath.Join(base, subpath), nil
}

// generatedDir returns the directory holding all artifacts for
// (hash, gentype), i.e. generatedPath(hash, gentype, "") — used by GC and
// by derivations that write a directory tree (book HTML, comic pages).
func (s *Store) generatedDir(hash node.FileHash, gentype string) (string, error) {
	return s.generatedPath(hash, gentype, "")
}

// generatedHashDir returns genfiles/<kind>/<h[0..2]>/<h[2..4]>/<h>, the
// directory holding every gentype's artifacts for hash. Used by the GC
// worker's generated-file reclamation phase, which reclaims at hash
// granularity rather than per gentype.
func (s *Store) generatedHashDir(hash node.FileHash) (string, error) {
	kind, hex, err := splitHash(hash)
	if err != nil {
		return "", err
	}
	p1, p2 := fanOut(hex)
	return filepath.Join(s.root, "genfiles", kind, p1, p2, hex), nil
}

// stagePath returns stage/<upload-id>.
func (s *Store) stagePath(uploadID string) string {
	return filepath.Join(s.root, "stage", uploadID)
}
