package derive

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"

	"github.com/weftgraph/weft/internal/node"
	"github.com/weftgraph/weft/internal/werr"
)

// generateSubs extracts every text-based subtitle stream as a WebVTT
// track, one per source language. Existence is checked per language
// subpath directly on disk rather than via the generated_artifacts row —
// that row is keyed by (file, gentype) alone, so relying on it here would
// mean the first committed language short-circuits every later one on a
// rerun. Grounded on original_source/.../background.rs's generate_subs,
// with this one departure recorded in DESIGN.md.
func (w *Worker) generateSubs(ctx context.Context, file node.Node, hash node.FileHash, sourcePath string) error {
	probe, err := runFfprobe(ctx, sourcePath)
	if err != nil {
		return err
	}
	for _, stream := range probe.Streams {
		if stream.CodecType != "subtitle" || !isTextSub(stream.CodecName) {
			continue
		}
		rawLang, ok := stream.Tags["language"]
		if !ok {
			continue
		}
		lang := canonicalLanguageTag(rawLang)
		subpath := vttSubpath(lang)

		dest, err := w.blobs.GeneratedDestPath(hash, GentypeVTT, subpath)
		if err != nil {
			return err
		}
		if pathExists(dest) {
			continue
		}

		tmpDir, cleanup, err := w.blobs.NewTempDir("subs")
		if err != nil {
			return err
		}
		defer cleanup()
		tempOut := filepath.Join(tmpDir, "out.vtt")

		cmd := exec.CommandContext(ctx, "ffmpeg",
			"-i", sourcePath,
			"-map", fmt.Sprintf("0:%d", stream.Index),
			"-codec:s", "webvtt",
			"-f", "webvtt",
			tempOut,
		)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return werr.External("ffmpeg", stderr.String(), fmt.Errorf("extracting subtitle track %d: %w", stream.Index, err))
		}

		if err := w.commitGenerated(ctx, file, hash, GentypeVTT, subpath, "text/vtt", tempOut); err != nil {
			return err
		}
	}
	return nil
}
