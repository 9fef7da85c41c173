package render

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"video-compiler-service/internal/ffmpeg"
)

// EncodeRequest describes one local encode. Every frame is shown for
// 1/FPS seconds.
type EncodeRequest struct {
	RuntimePath string
	Frames      []string
	FPS         int
	Duration    float64
	OutputPath  string
}

// Encoder turns a frame sequence into a video file. progress receives the
// encoded fraction in [0,1].
type Encoder interface {
	Encode(ctx context.Context, req EncodeRequest, progress func(float64), logf func(string)) error
}

// FFmpegEncoder drives an ffmpeg binary through the concat demuxer.
type FFmpegEncoder struct{}

func (FFmpegEncoder) Encode(ctx context.Context, req EncodeRequest, progress func(float64), logf func(string)) error {
	if len(req.Frames) == 0 {
		return fmt.Errorf("no frames to encode")
	}
	listPath := filepath.Join(filepath.Dir(req.OutputPath), "frames.ffconcat")
	if err := os.WriteFile(listPath, concatList(req.Frames, req.FPS), 0o644); err != nil {
		return fmt.Errorf("write frame list: %w", err)
	}

	cmd := exec.CommandContext(ctx, req.RuntimePath, EncodeArgs(listPath, req)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start encoder: %w", err)
	}
	readProgress(stdout, req.Duration, progress)

	if err := cmd.Wait(); err != nil {
		tail := lastLines(stderr.String(), 5)
		for _, line := range tail {
			logf("ffmpeg: " + line)
		}
		return fmt.Errorf("encoder exited: %w", err)
	}
	progress(1)
	return nil
}

// EncodeArgs is the ffmpeg argument list for a concat list of frames.
func EncodeArgs(listPath string, req EncodeRequest) []string {
	args := []string{
		"-hide_banner", "-y",
		"-f", "concat", "-safe", "0",
		"-i", listPath,
		"-vf", ffmpeg.FrameFilter(req.FPS),
	}
	args = append(args, ffmpeg.OutputArgs(req.FPS)...)
	args = append(args,
		"-t", ffmpeg.Seconds(req.Duration),
		"-progress", "pipe:1", "-nostats",
		req.OutputPath,
	)
	return args
}

// concatList lists every frame with a uniform duration. The demuxer ignores
// the duration of the final entry, so the last frame is repeated.
func concatList(frames []string, fps int) []byte {
	var b bytes.Buffer
	b.WriteString("ffconcat version 1.0\n")
	dur := ffmpeg.Seconds(1 / float64(fps))
	for _, f := range frames {
		fmt.Fprintf(&b, "file '%s'\nduration %s\n", escapeQuote(f), dur)
	}
	fmt.Fprintf(&b, "file '%s'\n", escapeQuote(frames[len(frames)-1]))
	return b.Bytes()
}

func escapeQuote(path string) string {
	return strings.ReplaceAll(path, "'", `'\''`)
}

// readProgress parses ffmpeg's -progress key=value stream.
func readProgress(r io.Reader, total float64, progress func(float64)) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "out_time_us", "out_time_ms":
			// both keys carry microseconds
			us, err := strconv.ParseFloat(value, 64)
			if err != nil || total <= 0 {
				continue
			}
			frac := us / 1e6 / total
			if frac > 1 {
				frac = 1
			}
			if frac >= 0 {
				progress(frac)
			}
		case "progress":
			if value == "end" {
				progress(1)
			}
		}
	}
}

func lastLines(s string, n int) []string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	if len(lines) == 1 && lines[0] == "" {
		return nil
	}
	return lines
}
