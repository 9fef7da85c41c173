package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"

	"video-compiler-service/internal/render"
)

const barWidth = 30

// progressLine redraws one status line on a terminal and prints one line per
// stage otherwise.
type progressLine struct {
	mu        sync.Mutex
	w         io.Writer
	tty       bool
	lastStage render.Stage
	drawn     bool
}

func newProgressLine(w io.Writer) *progressLine {
	return &progressLine{w: w, tty: isTerminal(w)}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func (l *progressLine) update(p render.Progress) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tty {
		fmt.Fprintf(l.w, "\r\033[K%s", formatProgress(p))
		l.drawn = true
		return
	}
	if p.Stage != l.lastStage {
		l.lastStage = p.Stage
		fmt.Fprintln(l.w, formatProgress(p))
	}
}

func (l *progressLine) finish() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.drawn {
		fmt.Fprintln(l.w)
		l.drawn = false
	}
}

func formatProgress(p render.Progress) string {
	pct := min(max(p.Percent, 0), 100)
	filled := pct * barWidth / 100
	bar := strings.Repeat("#", filled) + strings.Repeat(".", barWidth-filled)
	return fmt.Sprintf("[%s] %3d%% %-8s %s", bar, pct, p.Stage, p.Message)
}
