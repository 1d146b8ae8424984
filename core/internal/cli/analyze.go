package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"mem-sentinel/core/internal/analysis"
	"mem-sentinel/core/internal/config"
	"mem-sentinel/extraction"
	"mem-sentinel/profile"
	"mem-sentinel/report"
)

func NewAnalyzeCmd(v *viper.Viper) *cobra.Command {
	var profileName string
	var caseID string
	var dumpfiles bool
	var dumpLocations []string
	var dumpDir string

	cmd := &cobra.Command{
		Use:   "analyze <image>",
		Short: "Run the module battery against a memory image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return usageError(err)
			}
			if dumpfiles && len(dumpLocations) == 0 {
				return usageError(errors.New("--dumpfiles requires at least one --dumpfiles-location"))
			}
			if !dumpfiles && len(dumpLocations) > 0 {
				return usageError(errors.New("--dumpfiles-location requires --dumpfiles"))
			}
			targets, err := extraction.ParseOffsets(dumpLocations)
			if err != nil {
				return usageError(err)
			}
			catalog, err := loadCatalog(cfg.Catalog)
			if err != nil {
				return usageError(err)
			}

			logger, closeLog, err := config.NewLogger(cfg.Log)
			if err != nil {
				return usageError(err)
			}
			defer closeLog()

			if caseID == "" {
				caseID = uuid.NewString()
			}
			log := logger.WithFields(logrus.Fields{"image": args[0]})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, err := analysis.Run(ctx, analysis.Options{
				CaseID:         caseID,
				Image:          args[0],
				Profile:        profileName,
				Output:         cfg.Output,
				Executable:     cfg.VolatilityPath,
				Timeout:        cfg.Timeout(),
				DetectTimeout:  cfg.DetectTimeout,
				ExtractTimeout: cfg.ExtractTimeout,
				Workers:        cfg.Workers,
				Catalog:        catalog,
				Modules:        cfg.Modules,
				DumpTargets:    targets,
				DumpDir:        dumpDir,
				IOCFile:        cfg.IOCFile,
				Resume:         cfg.Resume,
				Archive:        cfg.Archive,
				Log:            log,
			})
			if err != nil && (res.Session == nil || analysis.IsFatal(err)) {
				if errors.Is(err, profile.ErrDetectionFailed) {
					return &ExitError{Code: ExitProfile, Err: err}
				}
				return usageError(err)
			}

			out := cmd.OutOrStdout()
			sum := report.New(nil).RenderText(out, res.Session)
			fmt.Fprintf(out, "case=%s output=%s artifacts=%d\n", res.CaseID, res.OutputDir, len(res.Artifacts))
			if err != nil {
				return &ExitError{Code: ExitIncomplete, Err: err}
			}
			if !sum.Clean {
				return &ExitError{
					Code: ExitIncomplete,
					Err:  fmt.Errorf("%d of %d tasks did not succeed", sum.Total-sum.Succeeded, sum.Total),
				}
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&profileName, "profile", "", "Engine profile (default: detect with imageinfo)")
	f.StringVar(&caseID, "case-id", "", "Case ID (default: random UUID)")
	f.BoolVar(&dumpfiles, "dumpfiles", false, "Dump the file objects given by --dumpfiles-location")
	f.StringArrayVar(&dumpLocations, "dumpfiles-location", nil, "Physical offset of a file object to dump (repeatable, hex or decimal)")
	f.StringVar(&dumpDir, "dumpfiles-dir", "", "Directory for dumped files (default: <case>/dumpfiles)")
	f.Int("timeout", 120, "Per-module timeout in seconds")
	f.String("volatility-path", "vol.exe", "Engine executable")
	f.String("output", "./evidence", "Evidence output directory")
	f.StringSlice("modules", nil, "Run only these catalogue modules, in the order given")
	f.String("ioc-file", "", "IOC list file (one pattern per line)")
	f.Bool("resume", false, "Skip modules whose output already exists in the case directory")
	f.Int("workers", 1, "Engine processes run at once")
	f.Bool("archive", false, "Write <output>/<case>.tar.gz after the run")
	f.Duration("detect-timeout", profile.DefaultDetectionTimeout, "Timeout for profile detection")
	f.Duration("extract-timeout", 0, "Timeout for each file dump (default: --timeout)")
	mustBind(v, f, map[string]string{
		"timeout":         "timeout",
		"volatility_path": "volatility-path",
		"output":          "output",
		"modules":         "modules",
		"ioc_file":        "ioc-file",
		"resume":          "resume",
		"workers":         "workers",
		"archive":         "archive",
		"detect_timeout":  "detect-timeout",
		"extract_timeout": "extract-timeout",
	})
	return cmd
}
