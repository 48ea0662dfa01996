package chunker

import "strings"

// separator splits text into parts that concatenate back to the input.
// Each separator stays attached to the part before it.
type separator struct {
	name  string
	split func(string) []string
}

// separators are tried from the most to the least structural boundary.
var separators = []separator{
	{name: "paragraph", split: splitAfter("\n\n")},
	{name: "line", split: splitAfter("\n")},
	{name: "sentence", split: splitSentences},
	{name: "word", split: splitAfter(" ")},
}

func splitAfter(sep string) func(string) []string {
	return func(s string) []string {
		parts := strings.SplitAfter(s, sep)
		if n := len(parts); n > 1 && parts[n-1] == "" {
			parts = parts[:n-1]
		}
		return parts
	}
}

// splitSentences cuts after '.', '!' or '?' followed by a space.
func splitSentences(s string) []string {
	var parts []string
	start := 0
	for i := 0; i+1 < len(s); i++ {
		switch s[i] {
		case '.', '!', '?':
			if s[i+1] == ' ' {
				parts = append(parts, s[start:i+2])
				start = i + 2
			}
		}
	}
	if start < len(s) {
		parts = append(parts, s[start:])
	}
	return parts
}
