package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"mem-sentinel/analyzers/filescan"
	"mem-sentinel/analyzers/ioc"
	"mem-sentinel/analyzers/timeline"
	"mem-sentinel/core/internal/version"
	"mem-sentinel/engine"
	"mem-sentinel/evidence"
	"mem-sentinel/extraction"
	"mem-sentinel/profile"
	"mem-sentinel/report"
	"mem-sentinel/scheduler"
	"mem-sentinel/tasks"
)

const modulesDir = "modules"

type Options struct {
	CaseID         string
	Image          string
	Profile        string
	Output         string
	Executable     string
	Timeout        time.Duration
	DetectTimeout  time.Duration
	ExtractTimeout time.Duration
	Workers        int
	Catalog        tasks.Catalog
	Modules        []string
	DumpTargets    []uint64
	// DumpDir defaults to <case dir>/dumpfiles.
	DumpDir  string
	IOCFile  string
	Resume   bool
	Archive  bool
	Fs       afero.Fs
	Engine   engine.Runner
	Progress scheduler.ProgressReporter
	Log      *logrus.Entry
}

type Result struct {
	CaseID    string
	OutputDir string
	Session   *scheduler.Session
	Summary   report.Summary
	Artifacts []evidence.Artifact
}

// Run executes one full session: module battery, optional file extraction,
// then evidence, analyzers and reports under <Output>/<CaseID>.
func Run(ctx context.Context, opts Options) (Result, error) {
	started := time.Now()
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("case", opts.CaseID)

	outDir := filepath.Join(opts.Output, opts.CaseID)
	res := Result{CaseID: opts.CaseID, OutputDir: outDir}

	catalog := opts.Catalog
	if len(catalog.Modules) == 0 {
		catalog = tasks.DefaultCatalog()
	}
	selected, err := catalog.Tasks(opts.Modules)
	if err != nil {
		return res, fmt.Errorf("%w: %v", scheduler.ErrInvalidSession, err)
	}
	mods := selected
	var kept []evidence.Artifact
	if opts.Resume {
		mods, kept = remaining(fs, outDir, selected, log)
	}

	sess, err := scheduler.NewSession(scheduler.Config{
		Executable:       opts.Executable,
		DefaultTimeout:   opts.Timeout,
		DetectionTimeout: opts.DetectTimeout,
		Workers:          opts.Workers,
	}, opts.Image, opts.Profile, mods)
	if err != nil {
		return res, err
	}
	sess.ID = opts.CaseID
	if err := fs.MkdirAll(outDir, 0o755); err != nil {
		return res, err
	}
	sess.DumpTargets = opts.DumpTargets
	res.Session = sess

	dumpDir := opts.DumpDir
	if dumpDir == "" {
		dumpDir = filepath.Join(outDir, "dumpfiles")
	}
	plan := extraction.Pipeline{Timeout: opts.ExtractTimeout}.Plan(opts.DumpTargets, dumpDir, selected)
	if err := sess.AddTasks(plan...); err != nil {
		return res, err
	}
	log.WithFields(logrus.Fields{
		"modules":    len(mods),
		"extraction": len(plan),
	}).Info("task list built")

	eng := opts.Engine
	if eng == nil {
		eng = engine.NewInvoker(log)
	}
	progress := opts.Progress
	if progress == nil {
		progress = scheduler.LogProgress{Log: log}
	}
	rec := &recorder{fs: fs, outDir: outDir, log: log, artifacts: kept}
	sched := &scheduler.Scheduler{
		Engine:   eng,
		Profiles: profile.NewResolver(eng, opts.DetectTimeout, log),
		Progress: progress,
		Fs:       fs,
		OnResult: rec.record,
		Log:      log,
	}

	runErr := sched.Run(ctx, sess)
	if runErr != nil && len(sess.Results) == 0 {
		return res, runErr
	}

	res.Artifacts = rec.artifacts
	if a, err := evidence.RecordHostInfo(fs, outDir, evidence.NewHostInfo(opts.Executable, opts.Image, version.Version)); err != nil {
		log.WithError(err).Warn("host info not recorded")
	} else {
		res.Artifacts = append(res.Artifacts, a)
	}
	manifest := evidence.Manifest{
		CaseID:   opts.CaseID,
		Image:    opts.Image,
		Profile:  sess.Profile,
		Metadata: map[string]string{},
	}

	if opts.IOCFile != "" {
		if a, n, err := scanIOCs(fs, outDir, rec.artifacts, opts.IOCFile); err != nil {
			log.WithError(err).Warn("IOC scan skipped")
		} else {
			res.Artifacts = append(res.Artifacts, a)
			manifest.Metadata["ioc_matches"] = fmt.Sprintf("%d", n)
		}
	}

	if rel, err := timeline.WriteJSONL(fs, outDir, sess.Results, timeline.Options{
		CaseID:     opts.CaseID,
		Image:      opts.Image,
		Profile:    sess.Profile,
		StartedAt:  sess.StartedAt,
		FinishedAt: sess.FinishedAt,
	}); err == nil {
		if a, err := evidence.Describe(fs, outDir, rel, "timeline", nil); err == nil {
			res.Artifacts = append(res.Artifacts, a)
		}
	} else {
		log.WithError(err).Warn("timeline not written")
	}

	rep := report.New(fs)
	res.Summary = rep.Summarize(sess)
	if err := rep.WriteMarkdown(filepath.Join(outDir, "summary.md"), sess); err != nil {
		log.WithError(err).Warn("markdown summary not written")
	} else if a, err := evidence.Describe(fs, outDir, "summary.md", "report", nil); err == nil {
		res.Artifacts = append(res.Artifacts, a)
	}
	if err := rep.WriteJSON(filepath.Join(outDir, "report.json"), res.Summary); err != nil {
		log.WithError(err).Warn("json report not written")
	} else if a, err := evidence.Describe(fs, outDir, "report.json", "report", nil); err == nil {
		res.Artifacts = append(res.Artifacts, a)
	}

	manifest.CreatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	manifest.Artifacts = res.Artifacts
	manifest.Metadata["clean"] = fmt.Sprintf("%t", res.Summary.Clean)
	manifest.Metadata["tasks"] = fmt.Sprintf("%d", res.Summary.Total)
	if err := evidence.WriteManifest(fs, outDir, manifest); err != nil {
		return res, err
	}

	if opts.Archive {
		dst := filepath.Join(opts.Output, opts.CaseID+".tar.gz")
		if err := evidence.ArchiveDir(fs, outDir, dst); err != nil {
			log.WithError(err).Warn("case archive not written")
		} else {
			log.WithField("archive", dst).Info("case archived")
		}
	}

	log.WithFields(logrus.Fields{
		"elapsed":   time.Since(started).Round(time.Millisecond).String(),
		"artifacts": len(res.Artifacts),
		"clean":     res.Summary.Clean,
	}).Info("analysis finished")
	return res, runErr
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._()-]+`)

// OutputPath is where a task's captured output lands, relative to the case
// directory.
func OutputPath(t tasks.Task) string {
	return filepath.ToSlash(filepath.Join(modulesDir, unsafeName.ReplaceAllString(t.Label(), "_")+".txt"))
}

// remaining drops modules whose output is already on disk and describes
// that output again so the manifest still lists it.
func remaining(fs afero.Fs, outDir string, mods []tasks.Task, log *logrus.Entry) ([]tasks.Task, []evidence.Artifact) {
	out := make([]tasks.Task, 0, len(mods))
	var kept []evidence.Artifact
	for _, m := range mods {
		rel := OutputPath(m)
		ok, err := afero.Exists(fs, filepath.Join(outDir, filepath.FromSlash(rel)))
		if err != nil || !ok {
			out = append(out, m)
			continue
		}
		log.WithField("module", m.Name).Info("output present, skipping")
		if a, err := evidence.Describe(fs, outDir, rel, m.Label(), map[string]string{"resumed": "true"}); err == nil {
			kept = append(kept, a)
		}
	}
	return out, kept
}

type recorder struct {
	fs        afero.Fs
	outDir    string
	log       *logrus.Entry
	artifacts []evidence.Artifact
}

// record persists a task's output as evidence; failures to do so are logged
// and never affect scheduling.
func (r *recorder) record(res tasks.Result) {
	log := r.log.WithField("module", res.Task.Label())
	meta := map[string]string{
		"status":      string(res.Status),
		"duration_ms": fmt.Sprintf("%d", res.Duration.Milliseconds()),
	}
	if res.StdoutTruncated {
		meta["truncated"] = "true"
	}

	if !res.Succeeded() {
		body := fmt.Sprintf("status: %s\nexit_code: %d\n", res.Status, res.ExitCode)
		if res.Err != nil {
			body += "error: " + res.Err.Error() + "\n"
		}
		body += "\n" + res.Stderr + "\n" + res.Stdout
		rel := filepath.ToSlash(filepath.Join("errors", filepath.Base(OutputPath(res.Task))))
		if a, err := evidence.Record(r.fs, r.outDir, rel, res.Task.Label(), []byte(body), meta); err != nil {
			log.WithError(err).Warn("failed to record error output")
		} else {
			r.artifacts = append(r.artifacts, a)
		}
		return
	}

	if res.Stdout == "" {
		log.Warn("module produced no output")
		return
	}
	a, err := evidence.Record(r.fs, r.outDir, OutputPath(res.Task), res.Task.Label(), []byte(res.Stdout), meta)
	if err != nil {
		log.WithError(err).Warn("failed to record module output")
		return
	}
	r.artifacts = append(r.artifacts, a)

	if res.Task.Name == extraction.ListingModule {
		views, err := filescan.WriteViews(r.fs, r.outDir, modulesDir, res.Stdout, filescan.DefaultKeywords())
		if err != nil {
			log.WithError(err).Warn("filescan views not written")
			return
		}
		r.artifacts = append(r.artifacts, views...)
	}
}

func scanIOCs(fs afero.Fs, outDir string, arts []evidence.Artifact, iocFile string) (evidence.Artifact, int, error) {
	res, err := ioc.ScanArtifacts(fs, outDir, arts, ioc.Options{IOCFile: iocFile})
	if err != nil {
		return evidence.Artifact{}, 0, err
	}
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return evidence.Artifact{}, 0, err
	}
	rel := filepath.ToSlash(filepath.Join("analysis", "ioc_scan.json"))
	a, err := evidence.Record(fs, outDir, rel, "ioc_scan", b, nil)
	if err != nil {
		return evidence.Artifact{}, 0, err
	}
	return a, len(res.Matches), nil
}

// IsFatal reports whether err aborted the session before any task ran.
func IsFatal(err error) bool {
	return errors.Is(err, profile.ErrDetectionFailed) ||
		errors.Is(err, scheduler.ErrImageNotFound) ||
		errors.Is(err, scheduler.ErrInvalidSession) ||
		errors.Is(err, engine.ErrInvalidTimeout)
}
