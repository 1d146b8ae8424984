package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mem-sentinel/engine"
	"mem-sentinel/evidence"
	"mem-sentinel/profile"
	"mem-sentinel/tasks"
)

type stubEngine struct {
	mu       sync.Mutex
	outputs  map[string]string
	statuses map[string]tasks.Status
	requests []engine.Request
}

func (s *stubEngine) Run(_ context.Context, req engine.Request) (tasks.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)

	st, ok := s.statuses[req.Task.Name]
	if !ok {
		st = tasks.StatusSucceeded
	}
	res := tasks.Result{Task: req.Task, Status: st, Stdout: s.outputs[req.Task.Name], Duration: time.Millisecond}
	if st != tasks.StatusSucceeded {
		res.ExitCode = 1
		res.Stderr = "ERROR: " + req.Task.Name
	}
	return res, nil
}

func (s *stubEngine) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, r := range s.requests {
		out = append(out, r.Task.Label())
	}
	return out
}

func testCatalog() tasks.Catalog {
	return tasks.Catalog{Modules: []tasks.CatalogEntry{
		{Name: "pslist", Help: "Running processes"},
		{Name: "malfind", Help: "Injected code"},
		{Name: "netscan", Help: "Network connections"},
	}}
}

func testImage(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "mem.raw")
	require.NoError(t, os.WriteFile(p, []byte("MEMORY"), 0o600))
	return p
}

func testOptions(t *testing.T, fs afero.Fs, eng engine.Runner) Options {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return Options{
		CaseID:     "case-1",
		Image:      testImage(t),
		Profile:    "Win7SP1x64",
		Output:     "/evidence",
		Executable: "vol.exe",
		Timeout:    time.Minute,
		Workers:    1,
		Catalog:    testCatalog(),
		Fs:         fs,
		Engine:     eng,
		Log:        logrus.NewEntry(logger),
	}
}

func readManifest(t *testing.T, fs afero.Fs, dir string) evidence.Manifest {
	t.Helper()
	b, err := afero.ReadFile(fs, filepath.Join(dir, "manifest.json"))
	require.NoError(t, err)
	var m evidence.Manifest
	require.NoError(t, json.Unmarshal(b, &m))
	return m
}

func TestRunRecordsEveryModule(t *testing.T) {
	fs := afero.NewMemMapFs()
	eng := &stubEngine{
		outputs:  map[string]string{"pslist": "0x1 System\n", "malfind": "partial\n"},
		statuses: map[string]tasks.Status{"malfind": tasks.StatusTimedOut, "netscan": tasks.StatusFailed},
	}

	res, err := Run(context.Background(), testOptions(t, fs, eng))
	require.NoError(t, err)

	require.Len(t, res.Session.Results, 3)
	assert.Equal(t, []string{"pslist", "malfind", "netscan"}, eng.names())
	assert.Equal(t, 1, res.Summary.Succeeded)
	assert.Equal(t, 1, res.Summary.TimedOut)
	assert.Equal(t, 1, res.Summary.Failed)
	assert.False(t, res.Summary.Clean)

	dir := filepath.Join("/evidence", "case-1")
	for _, rel := range []string{
		"modules/pslist.txt",
		"errors/malfind.txt",
		"errors/netscan.txt",
		"analysis/timeline.jsonl",
		"summary.md",
		"report.json",
		"manifest.json",
	} {
		ok, err := afero.Exists(fs, filepath.Join(dir, filepath.FromSlash(rel)))
		require.NoError(t, err)
		assert.True(t, ok, rel)
	}

	b, err := afero.ReadFile(fs, filepath.Join(dir, "modules", "pslist.txt"))
	require.NoError(t, err)
	assert.Equal(t, "0x1 System\n", string(b))

	m := readManifest(t, fs, dir)
	assert.Equal(t, "Win7SP1x64", m.Profile)
	assert.Equal(t, "false", m.Metadata["clean"])
	assert.Equal(t, "3", m.Metadata["tasks"])
}

func TestRunDetectsProfile(t *testing.T) {
	fs := afero.NewMemMapFs()
	eng := &stubEngine{outputs: map[string]string{
		profile.DetectionModule: "INFO : Determining profile\n          Suggested Profile(s) : Win7SP1x64, Win7SP0x64\n",
		"pslist":                "0x1 System\n",
	}}
	opts := testOptions(t, fs, eng)
	opts.Profile = ""

	res, err := Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, "Win7SP1x64", res.Session.Profile)

	require.Len(t, eng.requests, 4)
	assert.Equal(t, profile.DetectionModule, eng.requests[0].Task.Name)
	for _, r := range eng.requests[1:] {
		assert.Equal(t, "Win7SP1x64", r.Profile)
	}
}

func TestRunAbortsWhenDetectionFails(t *testing.T) {
	fs := afero.NewMemMapFs()
	eng := &stubEngine{statuses: map[string]tasks.Status{profile.DetectionModule: tasks.StatusFailed}}
	opts := testOptions(t, fs, eng)
	opts.Profile = ""

	_, err := Run(context.Background(), opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, profile.ErrDetectionFailed)
	assert.True(t, IsFatal(err))
	assert.Len(t, eng.requests, 1)
}

func TestRunExtraction(t *testing.T) {
	fs := afero.NewMemMapFs()
	eng := &stubEngine{outputs: map[string]string{
		"pslist":   "0x1 System\n",
		"filescan": "0x1000 \\Users\\bob\\Desktop\\flag.txt\r\n0x2000 \\Windows\\System32\\config\\SAM\r\n",
	}}
	opts := testOptions(t, fs, eng)
	opts.Modules = []string{"pslist"}
	opts.DumpTargets = []uint64{0x1000, 0x2000}

	res, err := Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, []string{"pslist", "filescan", "dumpfiles(0x1000)", "dumpfiles(0x2000)"}, eng.names())
	assert.Equal(t, []uint64{0x1000, 0x2000}, res.Session.DumpTargets)

	dump := eng.requests[2].Task
	assert.Equal(t, filepath.Join("/evidence", "case-1", "dumpfiles"), dump.OutputDir)
	ok, err := afero.DirExists(fs, dump.OutputDir)
	require.NoError(t, err)
	assert.True(t, ok)

	b, err := afero.ReadFile(fs, filepath.Join("/evidence", "case-1", "modules", "filescan(Desktop).txt"))
	require.NoError(t, err)
	assert.Contains(t, string(b), "flag.txt")
}

func TestRunResume(t *testing.T) {
	fs := afero.NewMemMapFs()
	dir := filepath.Join("/evidence", "case-1")
	require.NoError(t, fs.MkdirAll(filepath.Join(dir, "modules"), 0o755))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, "modules", "pslist.txt"), []byte("0x1 System\n"), 0o600))

	eng := &stubEngine{}
	opts := testOptions(t, fs, eng)
	opts.Resume = true

	res, err := Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"malfind", "netscan"}, eng.names())
	assert.Len(t, res.Session.Results, 2)

	m := readManifest(t, fs, dir)
	var resumed bool
	for _, a := range m.Artifacts {
		if a.RelativePath == "modules/pslist.txt" {
			resumed = a.Metadata["resumed"] == "true"
		}
	}
	assert.True(t, resumed)
}

func TestRunIOCScanAndArchive(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/iocs.txt", []byte("# bad\nevil.exe\n"), 0o600))
	eng := &stubEngine{outputs: map[string]string{
		"pslist":  "0x1 System\n0x2 evil.exe\n",
		"netscan": "TCP 10.0.0.1:4444 evil.exe\n",
	}}
	opts := testOptions(t, fs, eng)
	opts.IOCFile = "/iocs.txt"
	opts.Archive = true

	_, err := Run(context.Background(), opts)
	require.NoError(t, err)

	dir := filepath.Join("/evidence", "case-1")
	m := readManifest(t, fs, dir)
	assert.Equal(t, "2", m.Metadata["ioc_matches"])

	ok, err := afero.Exists(fs, filepath.Join("/evidence", "case-1.tar.gz"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunRejectsUnknownModule(t *testing.T) {
	opts := testOptions(t, afero.NewMemMapFs(), &stubEngine{})
	opts.Modules = []string{"nosuchmodule"}

	_, err := Run(context.Background(), opts)
	require.Error(t, err)
	assert.True(t, IsFatal(err))
}

func TestRunCancelledStillReports(t *testing.T) {
	fs := afero.NewMemMapFs()
	ctx, cancel := context.WithCancel(context.Background())
	eng := &cancellingEngine{stubEngine: &stubEngine{}, cancel: cancel, after: "pslist"}

	res, err := Run(ctx, testOptions(t, fs, eng))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, IsFatal(err))
	assert.Len(t, res.Session.Results, 1)

	ok, err := afero.Exists(fs, filepath.Join("/evidence", "case-1", "summary.md"))
	require.NoError(t, err)
	assert.True(t, ok)
}

type cancellingEngine struct {
	*stubEngine
	cancel context.CancelFunc
	after  string
}

func (c *cancellingEngine) Run(ctx context.Context, req engine.Request) (tasks.Result, error) {
	res, err := c.stubEngine.Run(ctx, req)
	if req.Task.Name == c.after {
		c.cancel()
	}
	return res, err
}

func TestRunWithEngineProcess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts")
	}
	script := filepath.Join(t.TempDir(), "vol.sh")
	body := `#!/bin/sh
for a in "$@"; do last="$a"; done
case "$last" in
  malfind) sleep 30 ;;
  netscan) echo "no such plugin" >&2; exit 1 ;;
  *) echo "output of $last" ;;
esac
`
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755))

	out := t.TempDir()
	opts := testOptions(t, afero.NewOsFs(), nil)
	opts.Executable = script
	opts.Output = out
	opts.Timeout = time.Second

	start := time.Now()
	res, err := Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 20*time.Second)

	require.Len(t, res.Session.Results, 3)
	assert.Equal(t, tasks.StatusSucceeded, res.Session.Results[0].Status)
	assert.Equal(t, tasks.StatusTimedOut, res.Session.Results[1].Status)
	assert.Equal(t, tasks.StatusFailed, res.Session.Results[2].Status)

	b, err := os.ReadFile(filepath.Join(out, "case-1", "modules", "pslist.txt"))
	require.NoError(t, err)
	assert.Equal(t, "output of pslist\n", string(b))
}
