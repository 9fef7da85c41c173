package backend

import (
	"errors"
	"fmt"
	"strings"

	"video-compiler-service/internal/entity"
	"video-compiler-service/internal/ffmpeg"
)

// Command is the declarative encode request accepted by the rendering backend.
type Command struct {
	InputFiles           map[string]string `json:"input_files"`
	OutputFiles          map[string]string `json:"output_files"`
	FFmpegCommand        string            `json:"ffmpeg_command"`
	MaxCommandRunSeconds int               `json:"max_command_run_seconds,omitempty"`
	VCPUCount            int               `json:"vcpu_count,omitempty"`

	FrameCount    int     `json:"-"`
	FrameDuration float64 `json:"-"`
	TotalDuration float64 `json:"-"`
}

type CommandOptions struct {
	FPS           int
	OutputName    string
	MaxRunSeconds int
	VCPUCount     int
}

const outputKey = "out_1"

// BuildCommand turns image URLs into one command that shows every frame for
// 1/fps seconds on the shared canvas and concatenates them.
func BuildCommand(imageURLs []string, opts CommandOptions) (Command, error) {
	if len(imageURLs) == 0 {
		return Command{}, errors.New("build command: no frames")
	}
	fps := opts.FPS
	if fps <= 0 {
		fps = entity.DefaultFPS
	}
	outName := opts.OutputName
	if outName == "" {
		outName = "compilation.mp4"
	}

	frameDur := entity.FrameDuration(fps)
	dur := ffmpeg.Seconds(frameDur)

	inputs := make(map[string]string, len(imageURLs))
	var (
		args    []string
		filters []string
		labels  strings.Builder
	)
	filter := ffmpeg.FrameFilter(fps)
	for i, u := range imageURLs {
		key := fmt.Sprintf("in_%d", i+1)
		inputs[key] = u
		args = append(args, "-loop", "1", "-t", dur, "-i", "{{"+key+"}}")
		filters = append(filters, fmt.Sprintf("[%d:v]%s[v%d]", i, filter, i))
		fmt.Fprintf(&labels, "[v%d]", i)
	}
	graph := strings.Join(filters, ";") + fmt.Sprintf(";%sconcat=n=%d:v=1:a=0[out]", labels.String(), len(imageURLs))

	args = append(args, "-filter_complex", quote(graph), "-map", quote("[out]"))
	args = append(args, ffmpeg.OutputArgs(fps)...)
	args = append(args, "-t", ffmpeg.Seconds(entity.TotalDuration(len(imageURLs), fps)), "{{"+outputKey+"}}")

	return Command{
		InputFiles:           inputs,
		OutputFiles:          map[string]string{outputKey: outName},
		FFmpegCommand:        strings.Join(args, " "),
		MaxCommandRunSeconds: opts.MaxRunSeconds,
		VCPUCount:            opts.VCPUCount,
		FrameCount:           len(imageURLs),
		FrameDuration:        frameDur,
		TotalDuration:        entity.TotalDuration(len(imageURLs), fps),
	}, nil
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}
