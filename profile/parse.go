package profile

import (
	"bufio"
	"regexp"
	"strings"
)

const suggestedMarker = "Suggested Profile(s)"

var (
	profileName   = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
	instantiation = regexp.MustCompile(`\s*\([^)]*\)`)
)

// Candidates returns the profiles listed on the detection module's
// "Suggested Profile(s)" line, in the engine's own ranking order.
func Candidates(output string) []string {
	s := bufio.NewScanner(strings.NewReader(output))
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for s.Scan() {
		_, rest, found := strings.Cut(s.Text(), suggestedMarker)
		if !found {
			continue
		}
		_, list, ok := strings.Cut(rest, ":")
		if !ok {
			return nil
		}
		list = instantiation.ReplaceAllString(list, "")

		var out []string
		for _, c := range strings.Split(list, ",") {
			c = strings.TrimSpace(c)
			if profileName.MatchString(c) {
				out = append(out, c)
			}
		}
		return out
	}
	return nil
}

// ParseSuggested returns the first ranked candidate, or false when the
// output names none.
func ParseSuggested(output string) (string, bool) {
	c := Candidates(output)
	if len(c) == 0 {
		return "", false
	}
	return c[0], true
}
