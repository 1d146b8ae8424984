package scheduler

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"mem-sentinel/tasks"
)

var (
	ErrImageNotFound  = errors.New("memory image not readable")
	ErrInvalidSession = errors.New("invalid session")
)

// Config carries the run-wide settings a session is built from.
type Config struct {
	Executable       string
	DefaultTimeout   time.Duration
	DetectionTimeout time.Duration
	// Workers above one runs tasks concurrently against the same image. Only
	// safe when the engine opens the image read-only.
	Workers int
}

type Session struct {
	ID          string
	ImagePath   string
	Profile     string
	Modules     []tasks.Task
	DumpTargets []uint64
	Results     []tasks.Result
	Config      Config
	StartedAt   time.Time
	FinishedAt  time.Time
}

// NewSession validates the image and configuration once; tasks are not
// re-validated when they run.
func NewSession(cfg Config, image, profile string, modules []tasks.Task) (*Session, error) {
	if cfg.Executable == "" {
		return nil, fmt.Errorf("%w: engine executable is required", ErrInvalidSession)
	}
	if cfg.DefaultTimeout <= 0 {
		return nil, fmt.Errorf("%w: timeout must be positive, got %s", ErrInvalidSession, cfg.DefaultTimeout)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	f, err := os.Open(image)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageNotFound, err)
	}
	info, err := f.Stat()
	_ = f.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageNotFound, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrImageNotFound, image)
	}

	s := &Session{
		ID:        uuid.NewString(),
		ImagePath: image,
		Profile:   profile,
		Config:    cfg,
	}
	if err := s.AddTasks(modules...); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) AddTasks(ts ...tasks.Task) error {
	for _, t := range ts {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSession, err)
		}
	}
	s.Modules = append(s.Modules, ts...)
	return nil
}

// Clean reports whether every scheduled task ran and succeeded.
func (s *Session) Clean() bool {
	if len(s.Results) != len(s.Modules) {
		return false
	}
	for _, r := range s.Results {
		if !r.Succeeded() {
			return false
		}
	}
	return true
}
