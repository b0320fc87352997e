package orchestrator

import "strings"

// Progress reported for a build stays below this while non-terminal.
const progressCap = 95

// Log markers the build tool emits at known points of a build, with the
// rough completion each represents. Matching is a heuristic over log text;
// the estimate is monotonic but never exact.
var milestones = []struct {
	marker  string
	percent int
}{
	{"Sending build context", 10},
	{"Step ", 20},
	{"Successfully built", 90},
}

// Derives a progress estimate from the status and the log so far.
//
// Pending builds report 0. Building reports the highest milestone found
// in the log, capped below 100. Terminal snaps to 100 on success and 0
// on failure.
func progressFor(status Status, log []string) int {
	switch status {
	case StatusSuccess:
		return 100
	case StatusFailed, StatusPending:
		return 0
	}

	text := strings.Join(log, "")

	progress := 0
	for _, m := range milestones {
		if m.percent > progress && strings.Contains(text, m.marker) {
			progress = m.percent
		}
	}

	if progress > progressCap {
		return progressCap
	}
	return progress
}
