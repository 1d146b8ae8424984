// Package filescan derives keyword views from the output of the engine's
// file object scan, so interesting paths can be reviewed without rerunning
// the scan once per keyword.
package filescan

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"mem-sentinel/evidence"
)

type Keyword struct {
	Term string
	Help string
}

func DefaultKeywords() []Keyword {
	return []Keyword{
		{Term: "Desktop", Help: "Files on user desktops"},
		{Term: "Downloads", Help: "Files in download folders"},
		{Term: ".zip", Help: "Zip archives"},
		{Term: "flag", Help: "Paths containing flag"},
		{Term: "evtx", Help: "Windows event logs"},
	}
}

// Filter returns the lines containing term. Matching is case-sensitive.
func Filter(output, term string) []string {
	var out []string
	for _, l := range strings.Split(output, "\n") {
		l = strings.TrimRight(l, "\r")
		if strings.Contains(l, term) {
			out = append(out, l)
		}
	}
	return out
}

// ViewName is the module label a keyword view is recorded under.
func ViewName(term string) string {
	return fmt.Sprintf("filescan(%s)", term)
}

// WriteViews records one artifact per keyword under dir (relative to
// outputDir). Keywords without hits still get an empty view.
func WriteViews(fs afero.Fs, outputDir, dir, output string, keywords []Keyword) ([]evidence.Artifact, error) {
	var arts []evidence.Artifact
	for _, k := range keywords {
		lines := Filter(output, k.Term)
		body := strings.Join(lines, "\n")
		if body != "" {
			body += "\n"
		}
		rel := filepath.ToSlash(filepath.Join(dir, ViewName(k.Term)+".txt"))
		a, err := evidence.Record(fs, outputDir, rel, ViewName(k.Term), []byte(body), map[string]string{
			"keyword": k.Term,
			"help":    k.Help,
			"hits":    fmt.Sprintf("%d", len(lines)),
		})
		if err != nil {
			return nil, err
		}
		arts = append(arts, a)
	}
	return arts, nil
}
