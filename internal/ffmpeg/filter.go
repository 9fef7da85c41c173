// Package ffmpeg holds the encode contract shared by the remote command
// builder and the local encoder.
package ffmpeg

import (
	"fmt"
	"strconv"

	"video-compiler-service/internal/entity"
)

// FrameFilter scales a frame to fit the square canvas, letterboxes it in white
// and fixes the pixel format and frame rate.
func FrameFilter(fps int) string {
	size := entity.CanvasSize
	return fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:color=white,setsar=1,fps=%d,format=%s",
		size, size, size, size, fps, entity.PixelFormat,
	)
}

// Seconds formats a duration in seconds for ffmpeg arguments.
func Seconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// OutputArgs are the trailing codec arguments for every render path.
func OutputArgs(fps int) []string {
	return []string{
		"-r", strconv.Itoa(fps),
		"-pix_fmt", entity.PixelFormat,
		"-c:v", "libx264",
		"-movflags", "+faststart",
	}
}
