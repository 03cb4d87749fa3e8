package collab

import (
	"regexp"
	"strconv"
	"strings"
)

// Output containing any of these is treated as a failed run and is not
// remembered as recent code.
var fatalMarkers = []string{
	"fatal error",
	"parse error",
	"compilation failed",
	"syntaxerror",
	"uncaught error",
	"traceback",
	"build failed",
	"error:",
}

var exitCodePattern = regexp.MustCompile(`Exit code: (-?\d+)`)

// exitCode extracts the backend's exit code marker, or -1.
func exitCode(summary string) int {
	m := exitCodePattern.FindStringSubmatch(summary)
	if m == nil {
		return -1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return -1
	}
	return n
}

func hasFatalMarker(output string) bool {
	lower := strings.ToLower(output)
	for _, marker := range fatalMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// shouldRemember decides whether a completed run is saved as the
// participant's recent code.
func shouldRemember(id Identity, ran CodeState, output string) bool {
	if id.Anonymous || strings.TrimSpace(ran.Code) == "" {
		return false
	}
	return !hasFatalMarker(output)
}
