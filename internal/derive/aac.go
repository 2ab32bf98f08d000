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

const transcodeMimeAAC = "audio/aac"

// generateAAC transcodes source audio to AAC (ADTS), for source formats
// the client's audio element can't play directly. Grounded on
// original_source/.../background.rs's generate_aac.
func (w *Worker) generateAAC(ctx context.Context, file node.Node, hash node.FileHash, sourcePath string) error {
	exists, err := w.generatedExists(ctx, file, hash, GentypeTranscodeAAC)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	tmpDir, cleanup, err := w.blobs.NewTempDir("aac")
	if err != nil {
		return err
	}
	defer cleanup()
	tempOut := filepath.Join(tmpDir, "out.aac")

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", sourcePath,
		"-codec:a", "aac",
		"-f", "adts",
		tempOut,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return werr.External("ffmpeg", stderr.String(), fmt.Errorf("converting audio to aac: %w", err))
	}

	return w.commitGenerated(ctx, file, hash, GentypeTranscodeAAC, "", transcodeMimeAAC, tempOut)
}
