package derive

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"

	"github.com/weftgraph/weft/internal/werr"
)

// ffprobeStream is the subset of `ffprobe -show_streams` JSON output the
// derivation worker inspects: stream index, type/codec, and tags (for
// the "language" tag on subtitle and audio streams).
type ffprobeStream struct {
	Index     int               `json:"index"`
	CodecType string            `json:"codec_type"`
	CodecName string            `json:"codec_name"`
	Tags      map[string]string `json:"tags"`
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
}

// runFfprobe shells out to ffprobe and parses its stream list, grounded
// on original_source/.../background.rs's ffprobe() helper.
func runFfprobe(ctx context.Context, path string) (*ffprobeOutput, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, werr.External("ffprobe", stderr.String(), err)
	}
	var out ffprobeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, werr.External("ffprobe", stdout.String(), err)
	}
	return &out, nil
}

// textSubtitleCodecs are subtitle codecs ffmpeg can re-encode as WebVTT
// text (as opposed to image-based subtitle formats like PGS/VobSub).
var textSubtitleCodecs = map[string]bool{
	"ass":    true,
	"srt":    true,
	"ssa":    true,
	"webvtt": true,
	"subrip": true,
	"stl":    true,
}

func isTextSub(codecName string) bool {
	return textSubtitleCodecs[codecName]
}
