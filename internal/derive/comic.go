package derive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/weftgraph/weft/internal/node"
	"github.com/weftgraph/weft/internal/werr"
)

var (
	comicIndexPattern = regexp.MustCompile(`\d+`)
	comicMangaPattern = regexp.MustCompile(`(?i)<\s*Manga\s*>\s*Yes`)
	comicImageExt     = map[string]bool{
		".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".bmp": true,
	}
)

type comicPageEntry struct {
	sortKey []int
	page    ComicManifestPage
}

// generateComicDir extracts a comic archive (cbr/cbz/cb7) into a page
// directory and writes a canonical manifest: page dimensions in natural
// archive order (numeric runs in each path sorted as integers, not
// lexically, so "page2" sorts before "page10"), plus an rtl flag read
// from an embedded ComicInfo-style metadata file if present. Grounded on
// original_source/.../background.rs's generate_comic_dir. Image
// dimensions are read with the standard library's image package rather
// than a third-party decoder — no example repo in the corpus imports one,
// and the stdlib registry (image/jpeg, image/png, image/gif blank
// imports) already covers every format comic archives use in practice.
func (w *Worker) generateComicDir(ctx context.Context, file node.Node, hash node.FileHash, sourcePath string) error {
	exists, err := w.generatedExists(ctx, file, hash, GentypeComicPages)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	tmpDir, cleanup, err := w.blobs.NewTempDir("comic")
	if err != nil {
		return err
	}
	defer cleanup()

	cmd := exec.CommandContext(ctx, "7zz", "x", sourcePath)
	cmd.Dir = tmpDir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return werr.External("7zz", stderr.String(), fmt.Errorf("extracting comic archive: %w", err))
	}

	var entries []comicPageEntry
	rtl := false
	walkErr := filepath.WalkDir(tmpDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		relPath, err := filepath.Rel(tmpDir, path)
		if err != nil {
			return err
		}
		lower := strings.ToLower(relPath)
		if strings.HasSuffix(lower, "comicinfo.xml") {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading comic info: %w", err)
			}
			rtl = comicMangaPattern.Match(data)
			return nil
		}
		if !comicImageExt[filepath.Ext(lower)] {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("opening comic page %q: %w", relPath, err)
		}
		cfg, _, err := image.DecodeConfig(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("reading dimensions of comic page %q: %w", relPath, err)
		}
		entries = append(entries, comicPageEntry{
			sortKey: extractSortKey(relPath),
			page:    ComicManifestPage{Width: cfg.Width, Height: cfg.Height, Path: filepath.ToSlash(relPath)},
		})
		return nil
	})
	if walkErr != nil {
		return werr.Transient(fmt.Errorf("error processing extracted comic files: %w", walkErr))
	}

	sort.Slice(entries, func(i, j int) bool { return compareSortKeys(entries[i].sortKey, entries[j].sortKey) < 0 })
	pages := make([]ComicManifestPage, len(entries))
	for i, e := range entries {
		pages[i] = e.page
	}

	manifest := ComicManifest{RTL: rtl, Pages: pages}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return werr.Integrityf("failed to encode comic manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, ComicManifestFilename), manifestJSON, 0o644); err != nil {
		return werr.Transient(fmt.Errorf("failed to write comic manifest: %w", err))
	}

	return w.commitGenerated(ctx, file, hash, GentypeComicPages, "", "", tmpDir)
}

// extractSortKey pulls every digit run out of path, in order, as a slice
// of integers: "chapter1/page10.jpg" -> [1, 10].
func extractSortKey(path string) []int {
	matches := comicIndexPattern.FindAllString(path, -1)
	key := make([]int, len(matches))
	for i, m := range matches {
		n, err := strconv.Atoi(m)
		if err != nil {
			n = int(^uint(0) >> 1) // unparseable run sorts last, mirroring usize::MAX fallback
		}
		key[i] = n
	}
	return key
}

// compareSortKeys orders two digit-run keys lexicographically by
// element, matching the original's BTreeMap<Vec<usize>, _> ordering.
func compareSortKeys(a, b []int) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}
