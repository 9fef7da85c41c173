package backend

import (
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// Outcome is the closed set of states a backend status string maps to.
type Outcome int

const (
	OutcomeInProgress Outcome = iota
	OutcomeSucceeded
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	default:
		return "in_progress"
	}
}

var (
	succeededStatuses = map[string]struct{}{
		"completed": {}, "complete": {}, "success": {}, "succeeded": {}, "successful": {}, "done": {}, "finished": {},
	}
	failedStatuses = map[string]struct{}{
		"failed": {}, "failure": {}, "error": {}, "errored": {}, "cancelled": {}, "canceled": {}, "aborted": {},
	}
)

// NormalizeStatus maps a free-form backend status to an Outcome. Anything not
// recognised as terminal (including "queued", "running" and unknown words)
// is in progress.
func NormalizeStatus(raw string) Outcome {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	if _, ok := succeededStatuses[s]; ok {
		return OutcomeSucceeded
	}
	if _, ok := failedStatuses[s]; ok {
		return OutcomeFailed
	}
	return OutcomeInProgress
}

// StatusReport is one normalised status response.
type StatusReport struct {
	RawStatus string
	Outcome   Outcome
	// Progress is 0-100 when the backend reported a figure.
	Progress    *float64
	OutputURL   string
	Error       string
	Endpoint    string
	BackendBody string
}

var (
	statusPaths   = []string{"status", "state", "command_status", "data.status", "job.status"}
	progressPaths = []string{"progress", "percent", "progress_percent", "data.progress", "job.progress"}
	outputPaths   = []string{"output_url", "output", "result.url", "result.output_url", "data.output_url", "url"}
	errorPaths    = []string{"error", "error_message", "error.message", "failure_reason", "message"}
)

// ParseStatus extracts a StatusReport from the JSON body of any known response shape.
func ParseStatus(body []byte) StatusReport {
	rep := StatusReport{BackendBody: truncate(string(body), 512)}
	rep.RawStatus = firstString(body, statusPaths)
	rep.Outcome = NormalizeStatus(rep.RawStatus)

	for _, p := range progressPaths {
		v := gjson.GetBytes(body, p)
		if v.Type == gjson.Number {
			f := clamp(v.Float(), 0, 100)
			rep.Progress = &f
			break
		}
	}

	rep.OutputURL = firstString(body, outputPaths)
	if rep.OutputURL == "" {
		gjson.GetBytes(body, "output_files").ForEach(func(_, v gjson.Result) bool {
			for _, p := range []string{"storage_url", "url", "output_url"} {
				if s := strings.TrimSpace(v.Get(p).String()); s != "" {
					rep.OutputURL = s
					return false
				}
			}
			if v.Type == gjson.String && strings.HasPrefix(v.Str, "http") {
				rep.OutputURL = v.Str
				return false
			}
			return true
		})
	}

	if rep.Outcome == OutcomeFailed {
		rep.Error = firstString(body, errorPaths)
		if rep.Error == "" {
			rep.Error = "rendering backend reported status " + rep.RawStatus
		}
	}
	return rep
}

func firstString(body []byte, paths []string) string {
	for _, p := range paths {
		v := gjson.GetBytes(body, p)
		if v.Type == gjson.String {
			if s := strings.TrimSpace(v.Str); s != "" {
				return s
			}
		}
	}
	return ""
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
