package tasks

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskCommandArgsKeepsOrder(t *testing.T) {
	task := Task{
		Name:      "dumpfiles",
		Arguments: []string{"0x1000", "/out"},
		Flags:     []string{"-Q", "-D"},
	}
	assert.Equal(t, []string{"-Q", "0x1000", "-D", "/out"}, task.CommandArgs())

	bare := Task{Name: "pslist", Arguments: []string{"a", "b"}}
	assert.Equal(t, []string{"a", "b"}, bare.CommandArgs())
}

func TestTaskValidate(t *testing.T) {
	tests := []struct {
		name    string
		task    Task
		wantErr bool
	}{
		{"ok", Task{Name: "pslist"}, false},
		{"empty name", Task{Name: "  "}, true},
		{"negative timeout", Task{Name: "pslist", Timeout: -time.Second}, true},
		{"flags exceed args", Task{Name: "x", Flags: []string{"-Q"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.task.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTaskEffectiveTimeoutAndLabel(t *testing.T) {
	assert.Equal(t, 2*time.Minute, Task{Name: "a"}.EffectiveTimeout(2*time.Minute))
	assert.Equal(t, time.Second, Task{Name: "a", Timeout: time.Second}.EffectiveTimeout(time.Minute))

	assert.Equal(t, "pslist", Task{Name: "pslist"}.Label())
	dump := Task{Name: "dumpfiles", Kind: KindExtraction, Arguments: []string{"0x2000", "/out"}}
	assert.Equal(t, "dumpfiles(0x2000)", dump.Label())
}

func TestResultExcerpt(t *testing.T) {
	r := Result{Stdout: "out", Stderr: "  err text  "}
	assert.Equal(t, "err text", r.Excerpt(100))

	r = Result{Stdout: strings.Repeat("x", 50)}
	assert.Equal(t, strings.Repeat("x", 10)+"...", r.Excerpt(10))

	r = Result{Err: errors.New("boom")}
	assert.Equal(t, "boom", r.Excerpt(0))
}

func TestLoadCatalog(t *testing.T) {
	fs := afero.NewMemMapFs()
	doc := `modules:
  - name: pslist
    help: processes
  - name: filescan
    help: files
    timeout: 10m
`
	require.NoError(t, afero.WriteFile(fs, "/catalog.yml", []byte(doc), 0o644))

	c, err := LoadCatalog(fs, "/catalog.yml")
	require.NoError(t, err)
	require.Len(t, c.Modules, 2)

	ts, err := c.Tasks(nil)
	require.NoError(t, err)
	require.Len(t, ts, 2)
	assert.Equal(t, "pslist", ts[0].Name)
	assert.Equal(t, KindModule, ts[0].Kind)
	assert.Equal(t, 10*time.Minute, ts[1].Timeout)
}

func TestLoadCatalogRejectsBadInput(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/empty.yml", []byte("modules: []\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/dup.yml", []byte("modules:\n  - name: a\n  - name: a\n"), 0o644))

	_, err := LoadCatalog(fs, "/empty.yml")
	assert.Error(t, err)
	_, err = LoadCatalog(fs, "/dup.yml")
	assert.Error(t, err)
	_, err = LoadCatalog(fs, "/missing.yml")
	assert.Error(t, err)
}

func TestCatalogSelection(t *testing.T) {
	c := DefaultCatalog()

	ts, err := c.Tasks([]string{"netscan", "pslist"})
	require.NoError(t, err)
	require.Len(t, ts, 2)
	assert.Equal(t, "netscan", ts[0].Name)
	assert.Equal(t, "pslist", ts[1].Name)
	assert.NotEmpty(t, ts[0].Help)

	_, err = c.Tasks([]string{"nope"})
	assert.Error(t, err)

	bad := Catalog{Modules: []CatalogEntry{{Name: "x", Timeout: "soon"}}}
	_, err = bad.Tasks(nil)
	assert.Error(t, err)
}
