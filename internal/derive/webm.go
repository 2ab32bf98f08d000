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

const transcodeMimeWebm = "video/webm"

// generateWebm two-pass transcodes source to webm, carrying along the
// first video stream, every audio stream, and every text-subtitle
// stream. Grounded on original_source/.../background.rs's generate_webm,
// including its two-pass ffmpeg invocation and the "ffmpeg bug 5718"
// audio channel-layout workaround.
func (w *Worker) generateWebm(ctx context.Context, file node.Node, hash node.FileHash, sourcePath string) error {
	exists, err := w.generatedExists(ctx, file, hash, GentypeTranscodeWebm)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	probe, err := runFfprobe(ctx, sourcePath)
	if err != nil {
		return err
	}
	var includeStreams []int
	firstVideoStream := -1
	for _, stream := range probe.Streams {
		switch stream.CodecType {
		case "subtitle":
			if isTextSub(stream.CodecName) {
				includeStreams = append(includeStreams, stream.Index)
			}
		case "video":
			if firstVideoStream == -1 {
				firstVideoStream = stream.Index
			}
		case "audio":
			includeStreams = append(includeStreams, stream.Index)
		}
	}
	if firstVideoStream == -1 {
		return werr.Inputf("source", "video file %q has no video stream", sourcePath)
	}
	// Ffmpeg's pass abstraction is leaky: the video stream index must match
	// between both passes, so it always leads the map list.
	includeStreams = append([]int{firstVideoStream}, includeStreams...)

	tmpDir, cleanup, err := w.blobs.NewTempDir("webm")
	if err != nil {
		return err
	}
	defer cleanup()
	passlogPath := filepath.Join(tmpDir, "passlog")
	tempOut := filepath.Join(tmpDir, "out.webm")

	pass1 := exec.CommandContext(ctx, "ffmpeg",
		"-i", sourcePath,
		"-map", fmt.Sprintf("0:%d", firstVideoStream),
		"-b:v", "0",
		"-crf", "30",
		"-pass", "1",
		"-passlogfile", passlogPath,
		"-f", "webm",
		"-y", "/dev/null",
	)
	var pass1Stderr bytes.Buffer
	pass1.Stderr = &pass1Stderr
	if err := pass1.Run(); err != nil {
		return werr.External("ffmpeg", pass1Stderr.String(), fmt.Errorf("webm transcode pass 1: %w", err))
	}

	pass2Args := []string{"-i", sourcePath}
	for _, streamIndex := range includeStreams {
		pass2Args = append(pass2Args, "-map", fmt.Sprintf("0:%d", streamIndex))
	}
	pass2Args = append(pass2Args,
		"-b:v", "0",
		"-crf", "30",
		"-pass", "2",
		"-passlogfile", passlogPath,
		// ffmpeg bug 5718: opus doesn't support 5.1(side), so constrain the
		// audio filter's accepted channel layouts.
		"-af", "aformat=channel_layouts=7.1|5.1|stereo|mono",
		"-f", "webm",
		tempOut,
	)
	pass2 := exec.CommandContext(ctx, "ffmpeg", pass2Args...)
	var pass2Stderr bytes.Buffer
	pass2.Stderr = &pass2Stderr
	if err := pass2.Run(); err != nil {
		return werr.External("ffmpeg", pass2Stderr.String(), fmt.Errorf("webm transcode pass 2: %w", err))
	}

	return w.commitGenerated(ctx, file, hash, GentypeTranscodeWebm, "", transcodeMimeWebm, tempOut)
}
