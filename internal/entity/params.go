package entity

import (
	"fmt"
	"strings"

	"video-compiler-service/internal/apperror"
)

const (
	DailyFrameCeiling   = 50
	ArchiveFrameCeiling = 300

	DefaultFPS = 10
	MinFPS     = 1
	MaxFPS     = 60

	// CanvasSize is the side of the square output canvas in pixels.
	CanvasSize = 1080
	// PixelFormat is the output pixel format for every render path.
	PixelFormat = "yuv420p"
)

// ParseJobType accepts the job type case-insensitively.
func ParseJobType(s string) (JobType, error) {
	switch JobType(strings.ToLower(strings.TrimSpace(s))) {
	case JobTypeDaily:
		return JobTypeDaily, nil
	case JobTypeArchive:
		return JobTypeArchive, nil
	default:
		return "", apperror.New(apperror.CodeInvalidParameters, fmt.Sprintf("unknown job_type %q", s))
	}
}

// FrameCeiling returns the maximum number of frames for t.
func FrameCeiling(t JobType) int {
	if t == JobTypeArchive {
		return ArchiveFrameCeiling
	}
	return DailyFrameCeiling
}

// NormalizeParams validates the request and clamps it to the limits of jobType.
// Zero values select defaults; negative values are rejected.
func NormalizeParams(jobType JobType, maxFrames, fps int) (int, int, error) {
	if jobType != JobTypeDaily && jobType != JobTypeArchive {
		return 0, 0, apperror.New(apperror.CodeInvalidParameters, fmt.Sprintf("unknown job_type %q", jobType))
	}
	if maxFrames < 0 {
		return 0, 0, apperror.New(apperror.CodeInvalidParameters, "max_frames must not be negative")
	}
	if fps < 0 {
		return 0, 0, apperror.New(apperror.CodeInvalidParameters, "fps must not be negative")
	}

	ceiling := FrameCeiling(jobType)
	if maxFrames == 0 || maxFrames > ceiling {
		maxFrames = ceiling
	}

	switch {
	case fps == 0:
		fps = DefaultFPS
	case fps < MinFPS:
		fps = MinFPS
	case fps > MaxFPS:
		fps = MaxFPS
	}
	return maxFrames, fps, nil
}

// FrameDuration is the per-frame display time in seconds.
func FrameDuration(fps int) float64 {
	if fps <= 0 {
		fps = DefaultFPS
	}
	return 1 / float64(fps)
}

// TotalDuration is the output length in seconds for frames at fps.
func TotalDuration(frames, fps int) float64 {
	return float64(frames) * FrameDuration(fps)
}

// ArtifactPath is the store path of the rendered video. The path only depends
// on the job type, format and fps, so each render overwrites the previous one.
func ArtifactPath(t JobType, format string, fps int) string {
	if format == "" {
		format = "mp4"
	}
	switch t {
	case JobTypeArchive:
		return fmt.Sprintf("archive/archive_%dfps.%s", fps, format)
	default:
		return fmt.Sprintf("daily/latest_%dfps.%s", fps, format)
	}
}

// ContentTypeFor maps a container format to its MIME type.
func ContentTypeFor(format string) string {
	switch strings.ToLower(format) {
	case "mp4":
		return "video/mp4"
	case "mov":
		return "video/quicktime"
	case "webm":
		return "video/webm"
	case "mkv":
		return "video/x-matroska"
	default:
		return "application/octet-stream"
	}
}
