// Package transcode wraps the ffmpeg and ffprobe binaries used to turn
// uploaded sources into streamable H.264/AAC MP4 files.
package transcode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Tools holds the binary paths. Empty fields fall back to the names on PATH.
type Tools struct {
	FFmpeg  string
	FFprobe string
}

func New(ffmpeg, ffprobe string) *Tools {
	return &Tools{FFmpeg: ffmpeg, FFprobe: ffprobe}
}

func (t *Tools) ffmpeg() string {
	if b := strings.TrimSpace(t.FFmpeg); b != "" {
		return b
	}
	return "ffmpeg"
}

func (t *Tools) ffprobe() string {
	if b := strings.TrimSpace(t.FFprobe); b != "" {
		return b
	}
	return "ffprobe"
}

// Info is the subset of ffprobe output the pipeline cares about.
type Info struct {
	Duration   time.Duration
	Width      int
	Height     int
	VideoCodec string
	AudioCodec string
	FormatName string
}

// Seconds rounds the duration down to whole seconds.
func (i Info) Seconds() int {
	return int(i.Duration / time.Second)
}

type probeOutput struct {
	Streams []struct {
		CodecName string `json:"codec_name"`
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		Duration  string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration   string `json:"duration"`
		FormatName string `json:"format_name"`
	} `json:"format"`
}

func parseSeconds(s string) (time.Duration, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return time.Duration(v * float64(time.Second)), true
}

func parseProbe(data []byte) (Info, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return Info{}, fmt.Errorf("ffprobe parse: %w", err)
	}

	info := Info{FormatName: out.Format.FormatName}
	info.Duration, _ = parseSeconds(out.Format.Duration)
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if info.VideoCodec == "" {
				info.VideoCodec = s.CodecName
				info.Width = s.Width
				info.Height = s.Height
			}
			if info.Duration == 0 {
				info.Duration, _ = parseSeconds(s.Duration)
			}
		case "audio":
			if info.AudioCodec == "" {
				info.AudioCodec = s.CodecName
			}
		}
	}
	if info.VideoCodec == "" {
		return info, errors.New("ffprobe: no video stream")
	}
	if info.Duration <= 0 {
		return info, errors.New("ffprobe: unknown duration")
	}
	return info, nil
}

// Probe inspects path and returns its duration and primary streams.
func (t *Tools) Probe(ctx context.Context, path string) (Info, error) {
	if strings.TrimSpace(path) == "" {
		return Info{}, errors.New("ffprobe: empty path")
	}
	cmd := exec.CommandContext(ctx, t.ffprobe(),
		"-v", "error",
		"-hide_banner",
		"-show_format",
		"-show_streams",
		"-of", "json",
		"--", path,
	)
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Info{}, fmt.Errorf("ffprobe: %w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return Info{}, fmt.Errorf("ffprobe: %w", err)
	}
	return parseProbe(output)
}

func transcodeArgs(inputPath, outputPath string) []string {
	return []string{
		"-hide_banner",
		"-i", inputPath,
		"-map", "0:v:0",
		"-map", "0:a:0?",
		"-c:v", "libx264",
		"-profile:v", "high",
		"-preset", "fast",
		"-crf", "23",
		"-pix_fmt", "yuv420p",
		"-vf", "scale='min(1920,iw)':'min(1080,ih)':force_original_aspect_ratio=decrease:force_divisible_by=2",
		"-c:a", "aac",
		"-b:a", "160k",
		"-ac", "2",
		"-movflags", "+faststart",
		"-y", outputPath,
	}
}

// Transcode writes an H.264/AAC MP4 with the moov atom up front.
func (t *Tools) Transcode(ctx context.Context, inputPath, outputPath string) error {
	output, err := exec.CommandContext(ctx, t.ffmpeg(), transcodeArgs(inputPath, outputPath)...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg transcode: %w: %s", err, tail(output))
	}
	return nil
}

func thumbnailArgs(inputPath, outputPath string, at time.Duration) []string {
	return []string{
		"-hide_banner",
		"-ss", strconv.FormatFloat(at.Seconds(), 'f', 3, 64),
		"-i", inputPath,
		"-frames:v", "1",
		"-vf", "scale=1280:720:force_original_aspect_ratio=decrease,pad=1280:720:(ow-iw)/2:(oh-ih)/2",
		"-q:v", "4",
		"-y", outputPath,
	}
}

// Thumbnail grabs one JPEG frame at offset at.
func (t *Tools) Thumbnail(ctx context.Context, inputPath, outputPath string, at time.Duration) error {
	output, err := exec.CommandContext(ctx, t.ffmpeg(), thumbnailArgs(inputPath, outputPath, at)...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg thumbnail: %w: %s", err, tail(output))
	}
	return nil
}

// ThumbnailOffset picks a frame a tenth of the way in, capped at 10s.
func ThumbnailOffset(d time.Duration) time.Duration {
	at := d / 10
	if at > 10*time.Second {
		at = 10 * time.Second
	}
	return at
}

const maxErrorOutput = 2048

// tail keeps the end of ffmpeg's output, where the failure reason is.
func tail(output []byte) string {
	s := strings.TrimSpace(string(output))
	if len(s) > maxErrorOutput {
		s = "..." + s[len(s)-maxErrorOutput:]
	}
	return s
}
