package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"mem-sentinel/core/internal/config"
	"mem-sentinel/core/internal/version"
)

func NewRootCmd() *cobra.Command {
	v := config.NewViper()

	cmd := &cobra.Command{
		Use:           "mem-sentinel",
		Short:         "Memory image analysis orchestrator for the Volatility engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.String("config", "", "YAML config file (flags and MEMSENTINEL_* variables override it)")
	pf.String("catalog", "", "YAML module catalogue (default: built-in battery)")
	pf.String("log-level", "info", "Log level (trace|debug|info|warn|error)")
	pf.String("log-format", "text", "Log format (text|json)")
	pf.String("log-file", "", "Also append logs to this file")
	mustBind(v, pf, map[string]string{
		"config":     "config",
		"catalog":    "catalog",
		"log.level":  "log-level",
		"log.format": "log-format",
		"log.file":   "log-file",
	})

	cmd.AddCommand(NewAnalyzeCmd(v))
	cmd.AddCommand(NewModulesCmd(v))
	cmd.AddCommand(NewVersionCmd())

	cmd.SetVersionTemplate(fmt.Sprintf("%s (%s/%s)\n", version.Version, runtime.GOOS, runtime.GOARCH))
	cmd.Version = version.Version

	return cmd
}

// mustBind maps viper keys to flag names. A missing flag is a programming
// error.
func mustBind(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		f := fs.Lookup(name)
		if f == nil {
			panic("unknown flag " + name)
		}
		if err := v.BindPFlag(key, f); err != nil {
			panic(err)
		}
	}
}
