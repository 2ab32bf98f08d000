package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/weftgraph/weft/internal/derive"
	"github.com/weftgraph/weft/internal/node"
)

// fileFanOut bounds concurrent per-file downloads within one bundle
// (comic pages, epub HTML assets), grounded on derive.Worker's errgroup
// fan-out for its All sweep.
const fileFanOut = 4

// vttSubpath names a subtitle track's file within the subtitle_vtt
// gentype directory, matching derive's per-language naming (unexported
// there; duplicated here since the two packages mirror, not share, the
// server/client halves of the same convention).
func vttSubpath(lang string) string {
	return lang + ".vtt"
}

// fetchMediaFile resolves cfgAt against stack and mirrors whatever media
// it names into the offline tree, per spec section 4.H's mime-family
// table. A file whose field does not resolve (absent optional media) is
// silently skipped, matching the original's early-return on a missing
// field or meta.
func (w *Worker) fetchMediaFile(ctx context.Context, root dir, cfgAt FieldOrLiteral, stack dataStack) error {
	resolved, ok := maybeGetFieldOrLiteral(cfgAt, stack)
	if !ok || resolved.Scalar == nil {
		return nil
	}
	meta, ok := maybeGetMeta(stack, *resolved.Scalar)
	if !ok {
		return nil
	}
	hash, err := unwrapValueMediaHash(resolved)
	if err != nil {
		return err
	}

	fileDir, err := root.ensureDir(offlineFilesRoot, string(hash))
	if err != nil {
		return err
	}
	if err := fileDir.writeJSON(metaFilename, meta); err != nil {
		return err
	}

	family, subtype, _ := strings.Cut(meta.Mimetype, "/")
	switch {
	case family == "image":
		return w.fetchSourceInto(ctx, fileDir, hash)

	case family == "video":
		genDir, err := fileDir.ensureDir(genDirName)
		if err != nil {
			return err
		}
		if subtype == "webm" {
			if err := w.fetchSourceInto(ctx, fileDir, hash); err != nil {
				return err
			}
		} else {
			if err := w.fetchGeneratedInto(ctx, genDir, hash, derive.GentypeTranscodeWebm, derive.GentypeTranscodeWebm); err != nil {
				return err
			}
		}
		vttDir, err := genDir.ensureDir(derive.GentypeVTT)
		if err != nil {
			return err
		}
		for _, lang := range w.config.Languages {
			subpath := vttSubpath(lang)
			if err := w.fetchGeneratedInto(ctx, vttDir, hash, derive.GentypeVTT, subpath); err != nil {
				w.log.Warn("failed to offline subtitle track", "file", hash, "lang", lang, "error", err)
			}
		}
		return nil

	case family == "audio":
		if err := w.fetchSourceInto(ctx, fileDir, hash); err != nil {
			return err
		}
		genDir, err := fileDir.ensureDir(genDirName)
		if err != nil {
			return err
		}
		if err := w.fetchGeneratedInto(ctx, genDir, hash, derive.GentypeTranscodeAAC, derive.GentypeTranscodeAAC); err != nil {
			w.log.Warn("failed to offline aac transcode", "file", hash, "error", err)
		}
		return nil

	case meta.Mimetype == "application/epub+zip":
		genDir, err := fileDir.ensureDir(genDirName)
		if err != nil {
			return err
		}
		return w.mirrorGeneratedDir(ctx, genDir, hash, derive.GentypeEpubHTML)

	case meta.Mimetype == "application/x-cbr", meta.Mimetype == "application/x-cbz", meta.Mimetype == "application/x-cb7":
		return w.fetchComic(ctx, fileDir, hash)

	default:
		return nil
	}
}

// fetchSourceInto downloads a file's source blob to parent/file.
func (w *Worker) fetchSourceInto(ctx context.Context, parent dir, hash node.FileHash) error {
	body, contentType, err := w.client.FetchFile(ctx, hash)
	if err != nil {
		return err
	}
	defer body.Close()
	return parent.writeStreamMime(fileFilename, body, contentType)
}

// fetchGeneratedInto downloads a single-file (non-directory) gentype
// artifact to parent/name.
func (w *Worker) fetchGeneratedInto(ctx context.Context, parent dir, hash node.FileHash, gentype, name string) error {
	body, contentType, err := w.client.FetchGenerated(ctx, hash, gentype, "")
	if err != nil {
		return err
	}
	defer body.Close()
	return parent.writeStreamMime(name, body, contentType)
}

// mirrorGeneratedDir lists a directory-shaped gentype (an epub HTML
// bundle) and fetches every file in it into genDir/<gentype>/....
func (w *Worker) mirrorGeneratedDir(ctx context.Context, genDir dir, hash node.FileHash, gentype string) error {
	bundleDir, err := genDir.ensureDir(gentype)
	if err != nil {
		return err
	}
	paths, err := w.client.ListGenerated(ctx, hash, gentype)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fileFanOut)
	for _, p := range paths {
		p := p
		g.Go(func() error {
			body, contentType, err := w.client.FetchGenerated(gctx, hash, gentype, p)
			if err != nil {
				return err
			}
			defer body.Close()
			return bundleDir.writeStreamMime(p, body, contentType)
		})
	}
	return g.Wait()
}

// fetchComic fetches a comic archive's canonical manifest, writes it
// under gen/<GentypeComicPages>/, then fans out over every listed page.
func (w *Worker) fetchComic(ctx context.Context, fileDir dir, hash node.FileHash) error {
	manifestBody, _, err := w.client.FetchGenerated(ctx, hash, derive.GentypeComicPages, derive.ComicManifestFilename)
	if err != nil {
		return err
	}
	defer manifestBody.Close()
	var manifest derive.ComicManifest
	if err := json.NewDecoder(manifestBody).Decode(&manifest); err != nil {
		return fmt.Errorf("parsing comic manifest for %s: %w", hash, err)
	}

	genDir, err := fileDir.ensureDir(genDirName, derive.GentypeComicPages)
	if err != nil {
		return err
	}
	if err := genDir.writeJSON(derive.ComicManifestFilename, manifest); err != nil {
		return err
	}
	pagesDir, err := genDir.ensureDir(comicPagesDirName)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fileFanOut)
	for _, page := range manifest.Pages {
		page := page
		g.Go(func() error {
			body, contentType, err := w.client.FetchGenerated(gctx, hash, derive.GentypeComicPages, page.Path)
			if err != nil {
				return err
			}
			defer body.Close()
			return pagesDir.writeStreamMime(page.Path, body, contentType)
		})
	}
	return g.Wait()
}
