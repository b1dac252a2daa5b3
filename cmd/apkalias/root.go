package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kingrea/apkalias/internal/config"
	"github.com/kingrea/apkalias/internal/finalizers"
	"github.com/kingrea/apkalias/internal/finalizers/copyapk"
	"github.com/kingrea/apkalias/internal/hook"
	"github.com/kingrea/apkalias/internal/logbook"
	"github.com/kingrea/apkalias/internal/logging"
)

// cli holds the global flags and the logger shared by every subcommand.
type cli struct {
	projectDir string
	verbose    bool
	configFile string
	sets       keyValueFlag

	logger *logging.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{sets: keyValueFlag{}}
	root := &cobra.Command{
		Use:   "apkalias",
		Short: "Copy built APKs to a prefixed, human-friendly name",
		Long: `apkalias runs after the Gradle assembleRelease and assembleDebug stages.

Every *.apk found in the Flutter/Android output directories is copied to
<prefix><name> beside the original. Originals are never modified, files that
already carry the prefix are skipped, and a failure on one file never stops
the others.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			dir, err := resolveProject(c.projectDir)
			if err != nil {
				return err
			}
			c.projectDir = dir
			logger, err := logging.New(dir, c.verbose)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "apkalias: logging disabled: %v\n", err)
				logger = logging.Nop()
			}
			c.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Close()
			}
		},
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&c.projectDir, "project", "p", "", "Android project directory (default: current)")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "Enable debug logging")
	flags.StringVar(&c.configFile, "config-file", "", "YAML file with config overrides")
	flags.Var(&c.sets, "set", "config override key=value (repeatable)")

	root.AddCommand(
		c.initCmd(),
		c.runCmd(),
		c.finalizeCmd(),
		c.notifyCmd(),
		c.serveCmd(),
		c.watchCmd(),
		c.historyCmd(),
		c.statusCmd(),
	)
	return root
}

func resolveProject(dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("determine working directory: %w", err)
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve project dir: %w", err)
	}
	return abs, nil
}

// project bundles everything a finalizer run needs.
type project struct {
	cfg      *config.Config
	logbook  *logbook.Logbook
	registry *hook.Registry
	hctx     *hook.Context
}

// load reads the project config, applies --config-file and --set overrides
// and wires the finalizer registry.
func (c *cli) load(opts ...copyapk.Option) (*project, error) {
	cfg, err := config.NewConfig(c.projectDir)
	if err != nil {
		return nil, err
	}
	overrides, err := buildOverrides(c.configFile, c.sets)
	if err != nil {
		return nil, fmt.Errorf("load config overrides: %w", err)
	}
	if err := cfg.ApplyOverrides(overrides); err != nil {
		return nil, err
	}
	lb, err := logbook.New(cfg.HistoryPath())
	if err != nil {
		c.logger.Printf("logbook unavailable: %v", err)
		lb = nil
	}
	reg := hook.NewRegistry()
	if err := finalizers.RegisterBuiltins(reg, cfg, opts...); err != nil {
		return nil, err
	}
	return &project{
		cfg:      cfg,
		logbook:  lb,
		registry: reg,
		hctx:     hook.NewContext(cfg, c.logger, lb),
	}, nil
}
