package offline

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/weftgraph/weft/internal/werr"
)

// dir is a thin wrapper around a directory on the local filesystem,
// giving the offline tree the same ensure/get/list/delete vocabulary the
// original's OpfsDir exposes over the browser's Origin Private File
// System — the offline worker's traversal code is otherwise unchanged
// between the two.
type dir struct {
	path string
}

// rootDir opens the top-level directory holding both offline_views and
// offline_files, creating it if absent.
func rootDir(path string) (dir, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return dir{}, werr.Transient(err)
	}
	return dir{path: path}, nil
}

// ensureDir returns the named subdirectory, creating it (and any missing
// parents) if absent.
func (d dir) ensureDir(segs ...string) (dir, error) {
	p := filepath.Join(append([]string{d.path}, segs...)...)
	if err := os.MkdirAll(p, 0o755); err != nil {
		return dir{}, werr.Transient(err)
	}
	return dir{path: p}, nil
}

// getDir returns the named subdirectory without creating it.
func (d dir) getDir(segs ...string) dir {
	return dir{path: filepath.Join(append([]string{d.path}, segs...)...)}
}

// join joins segs onto d, without creating anything.
func (d dir) join(segs ...string) string {
	return filepath.Join(append([]string{d.path}, segs...)...)
}

// exists reports whether name exists directly under d.
func (d dir) exists(name string) bool {
	_, err := os.Stat(d.join(name))
	return err == nil
}

// list returns the base names of d's immediate children, or nil if d
// does not exist yet (an empty offline tree is not an error).
func (d dir) list() ([]string, error) {
	entries, err := os.ReadDir(d.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, werr.Transient(err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// delete removes name (file or directory) under d. Absence is not an
// error.
func (d dir) delete(name string) error {
	if err := os.RemoveAll(d.join(name)); err != nil {
		return werr.Transient(err)
	}
	return nil
}

// writeJSON canonically encodes v and writes it to name under d,
// creating or truncating the file.
func (d dir) writeJSON(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return werr.Integrityf("encoding %s: %v", name, err)
	}
	return d.writeBinary(name, data)
}

// readJSON decodes name under d into v.
func (d dir) readJSON(name string, v any) error {
	f, err := os.Open(d.join(name))
	if err != nil {
		return werr.Transient(err)
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(v); err != nil {
		return werr.Integrityf("decoding %s: %v", name, err)
	}
	return nil
}

// writeBinary writes data to name under d atomically: written to a
// sibling temp file then renamed into place, so a crash mid-download
// never leaves a half-written file masquerading as complete.
func (d dir) writeBinary(name string, data []byte) error {
	if err := os.MkdirAll(d.path, 0o755); err != nil {
		return werr.Transient(err)
	}
	tmp, err := os.CreateTemp(d.path, ".tmp-*")
	if err != nil {
		return werr.Transient(err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return werr.Transient(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return werr.Transient(err)
	}
	if err := os.Rename(tmpPath, d.join(name)); err != nil {
		os.Remove(tmpPath)
		return werr.Transient(err)
	}
	return nil
}

// writeStreamMime copies r to name under d and writes a colocated
// "<name>.mime" sidecar carrying contentType — the Go counterpart of
// offline.rs's download_colocate_mime, split into a stream-based write
// since server responses arrive as io.ReadCloser, not a buffered []byte.
func (d dir) writeStreamMime(name string, r io.Reader, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := d.writeJSON(mimeFilename(name), contentType); err != nil {
		return err
	}
	return d.writeStream(name, r)
}

// writeStream copies r to name under d, using the same write-temp-then-
// rename discipline as writeBinary.
func (d dir) writeStream(name string, r io.Reader) error {
	if err := os.MkdirAll(d.path, 0o755); err != nil {
		return werr.Transient(err)
	}
	tmp, err := os.CreateTemp(d.path, ".tmp-*")
	if err != nil {
		return werr.Transient(err)
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return werr.Transient(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return werr.Transient(err)
	}
	if err := os.Rename(tmpPath, d.join(name)); err != nil {
		os.Remove(tmpPath)
		return werr.Transient(err)
	}
	return nil
}
