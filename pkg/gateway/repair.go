package gateway

import (
	"encoding/json"
	"regexp"
	"strings"
)

var trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)

// repairJSON applies the single permitted repair pass to a malformed model
// payload: strip markdown fences and trailing commas, then truncate at the
// last closed object and re-close the envelope. Callers re-parse the result
// and give up if it is still invalid.
func repairJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Models sometimes wrap JSON in a markdown fence despite the MIME type.
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}

	s = trailingCommaRe.ReplaceAllString(s, "$1")
	if json.Valid([]byte(s)) {
		return s
	}

	// Output cut off mid-stream: keep everything up to the last array of
	// objects that closed cleanly, then re-close the outer object.
	if i := strings.LastIndex(s, "}]"); i >= 0 {
		candidate := s[:i+2]
		for closers := 0; closers < 4; closers++ {
			if json.Valid([]byte(candidate)) {
				return candidate
			}
			candidate += "}"
		}
	}
	return s
}
