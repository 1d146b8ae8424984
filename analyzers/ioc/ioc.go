package ioc

import (
	"bufio"
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"mem-sentinel/evidence"
)

// maxLinesPerMatch bounds how many matching lines are kept per pattern and
// artifact.
const maxLinesPerMatch = 20

type Options struct {
	IOCFile    string
	IgnoreCase bool
}

type Match struct {
	Pattern  string   `json:"pattern"`
	Artifact string   `json:"artifact"`
	Module   string   `json:"module"`
	Lines    []string `json:"lines"`
	Count    int      `json:"count"`
}

type Result struct {
	IOCFile  string  `json:"ioc_file"`
	Matches  []Match `json:"matches"`
	Scanned  int     `json:"scanned"`
	Finished string  `json:"finished"`
}

func LoadPatterns(fs afero.Fs, path string) ([]string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var patterns []string
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	if len(patterns) == 0 {
		return nil, errors.New("IOC file contained no patterns")
	}
	return patterns, nil
}

// ScanArtifacts searches the module outputs recorded under outDir for every
// pattern in the IOC file.
func ScanArtifacts(fs afero.Fs, outDir string, artifacts []evidence.Artifact, opts Options) (Result, error) {
	patterns, err := LoadPatterns(fs, opts.IOCFile)
	if err != nil {
		return Result{}, err
	}

	var matches []Match
	scanned := 0
	for _, a := range artifacts {
		b, err := afero.ReadFile(fs, filepath.Join(outDir, filepath.FromSlash(a.RelativePath)))
		if err != nil {
			continue
		}
		scanned++
		lines := strings.Split(string(bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n"))), "\n")
		for _, p := range patterns {
			m := Match{Pattern: p, Artifact: a.RelativePath, Module: a.Module}
			for _, l := range lines {
				if !contains(l, p, opts.IgnoreCase) {
					continue
				}
				m.Count++
				if len(m.Lines) < maxLinesPerMatch {
					m.Lines = append(m.Lines, strings.TrimSpace(l))
				}
			}
			if m.Count > 0 {
				matches = append(matches, m)
			}
		}
	}

	return Result{
		IOCFile:  opts.IOCFile,
		Matches:  matches,
		Scanned:  scanned,
		Finished: time.Now().UTC().Format(time.RFC3339Nano),
	}, nil
}

func contains(line, pattern string, ignoreCase bool) bool {
	if ignoreCase {
		return strings.Contains(strings.ToLower(line), strings.ToLower(pattern))
	}
	return strings.Contains(line, pattern)
}
