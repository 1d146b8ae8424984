package evidence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/afero"
)

const HostInfoPath = "system/host_info.json"

// HostInfo describes the examiner machine and the engine that processed the
// image.
type HostInfo struct {
	Hostname   string `json:"hostname"`
	GOOS       string `json:"goos"`
	GOARCH     string `json:"goarch"`
	Engine     string `json:"engine"`
	Image      string `json:"image"`
	ImageBytes int64  `json:"image_bytes"`
	Version    string `json:"tool_version"`
	RecordedAt string `json:"recorded_at"`
}

func NewHostInfo(engine, image, version string) HostInfo {
	h := HostInfo{
		GOOS:       runtime.GOOS,
		GOARCH:     runtime.GOARCH,
		Engine:     engine,
		Image:      image,
		Version:    version,
		RecordedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	h.Hostname, _ = os.Hostname()
	if fi, err := os.Stat(image); err == nil {
		h.ImageBytes = fi.Size()
	}
	return h
}

func RecordHostInfo(fs afero.Fs, outputDir string, h HostInfo) (Artifact, error) {
	b, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return Artifact{}, err
	}
	return Record(fs, outputDir, filepath.ToSlash(HostInfoPath), "host_info", b, nil)
}
