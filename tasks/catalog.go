package tasks

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

type CatalogEntry struct {
	Name    string   `yaml:"name"`
	Help    string   `yaml:"help"`
	Timeout string   `yaml:"timeout,omitempty"`
	Args    []string `yaml:"args,omitempty"`
}

// Catalog is the ordered battery of modules run against every image.
type Catalog struct {
	Modules []CatalogEntry `yaml:"modules"`
}

func DefaultCatalog() Catalog {
	return Catalog{Modules: []CatalogEntry{
		{Name: "pslist", Help: "Running processes from the active process list"},
		{Name: "pstree", Help: "Process tree with parent/child relationships"},
		{Name: "psscan", Help: "Pool scan for process objects, including hidden and exited ones"},
		{Name: "psxview", Help: "Cross-view comparison of process listings"},
		{Name: "cmdline", Help: "Command line of each process"},
		{Name: "consoles", Help: "Console input and output buffers"},
		{Name: "cmdscan", Help: "Command history buffers"},
		{Name: "netscan", Help: "Network connections and listening sockets"},
		{Name: "svcscan", Help: "Installed Windows services"},
		{Name: "dlllist", Help: "Loaded DLLs per process"},
		{Name: "malfind", Help: "Injected code and suspicious memory regions"},
		{Name: "hivelist", Help: "Registry hives present in memory"},
		{Name: "hashdump", Help: "Local account password hashes"},
		{Name: "lsadump", Help: "LSA secrets"},
		{Name: "userassist", Help: "UserAssist program execution keys"},
		{Name: "iehistory", Help: "Internet Explorer browsing history"},
		{Name: "clipboard", Help: "Clipboard contents"},
		{Name: "notepad", Help: "Text held by notepad processes"},
		{Name: "envars", Help: "Process environment variables"},
		{Name: "filescan", Help: "Pool scan for file objects"},
	}}
}

// LoadCatalog reads a YAML catalogue of the form
//
//	modules:
//	  - name: pslist
//	    help: Running processes
//	    timeout: 5m
func LoadCatalog(fs afero.Fs, path string) (Catalog, error) {
	b, err := afero.ReadFile(fs, path)
	if err != nil {
		return Catalog{}, err
	}
	var c Catalog
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	if len(c.Modules) == 0 {
		return Catalog{}, errors.New("catalog contains no modules")
	}
	seen := map[string]struct{}{}
	for _, m := range c.Modules {
		if strings.TrimSpace(m.Name) == "" {
			return Catalog{}, errors.New("catalog entry without name")
		}
		if _, dup := seen[m.Name]; dup {
			return Catalog{}, fmt.Errorf("duplicate catalog entry %q", m.Name)
		}
		seen[m.Name] = struct{}{}
	}
	return c, nil
}

func (c Catalog) Lookup(name string) (CatalogEntry, bool) {
	for _, m := range c.Modules {
		if m.Name == name {
			return m, true
		}
	}
	return CatalogEntry{}, false
}

// Tasks builds module tasks in catalogue order. A non-empty selection
// restricts the result to the named modules, in selection order.
func (c Catalog) Tasks(selected []string) ([]Task, error) {
	entries := c.Modules
	if len(selected) > 0 {
		entries = make([]CatalogEntry, 0, len(selected))
		for _, name := range selected {
			e, ok := c.Lookup(name)
			if !ok {
				return nil, fmt.Errorf("unknown module %q", name)
			}
			entries = append(entries, e)
		}
	}

	out := make([]Task, 0, len(entries))
	for _, e := range entries {
		t := Task{Name: e.Name, Help: e.Help, Kind: KindModule, Arguments: e.Args}
		if e.Timeout != "" {
			d, err := time.ParseDuration(e.Timeout)
			if err != nil {
				return nil, fmt.Errorf("module %s: timeout: %w", e.Name, err)
			}
			t.Timeout = d
		}
		if err := t.Validate(); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
