package chunker

import "strings"

// DefaultDetectWindow is how many leading characters PrefixHeuristic compares.
const DefaultDetectWindow = 50

// OverlapDetector decides whether a chunk already begins with the text that
// would be prepended to it, so the overlap is not doubled.
type OverlapDetector interface {
	AlreadyOverlaps(prevTail, next string) bool
}

// PrefixHeuristic compares only the first Window characters of the tail.
// It is an approximation: two chunks can share that window by coincidence.
type PrefixHeuristic struct {
	Window int
}

func (h PrefixHeuristic) AlreadyOverlaps(prevTail, next string) bool {
	if prevTail == "" {
		return true
	}
	probe := prevTail
	if runes := []rune(prevTail); len(runes) > h.Window && h.Window > 0 {
		probe = string(runes[:h.Window])
	}
	return strings.HasPrefix(next, probe)
}
