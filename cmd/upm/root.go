package main

// #region imports
import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/glebbrain/manager-arent-ai-sub004/internal/config"
	"github.com/glebbrain/manager-arent-ai-sub004/internal/logging"
	"github.com/glebbrain/manager-arent-ai-sub004/internal/orchestrator"
)

// #endregion

// #region exit-codes

const (
	exitOK    = 0
	exitTasks = 1 // at least one task failed
	exitUsage = 2 // bad flags, bad manifest, IO problems
)

// errTasksFailed marks a run where tasks failed but upm itself worked.
var errTasksFailed = errors.New("tasks failed")

// #endregion exit-codes

// #region styles

var (
	styleOK     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleFail   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	styleDim    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleHeader = lipgloss.NewStyle().Bold(true)
)

// #endregion styles

// #region globals

var rootFlags struct {
	configPath string
	logLevel   string
	jsonOut    bool
}

// #endregion globals

// #region root

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "upm",
		Short:         "Plan and run a project's task graph",
		Long:          "upm runs the tasks declared in upm.yaml: dependency-aware scheduling, artifact caching, retries, and JSON run reports.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&rootFlags.configPath, "config", "c", "", "path to upm.yaml (default: search upward from cwd)")
	cmd.PersistentFlags().StringVar(&rootFlags.logLevel, "log-level", "", "override manifest log level (debug|info|warn|error)")
	cmd.PersistentFlags().BoolVar(&rootFlags.jsonOut, "json", false, "machine-readable output")

	cmd.AddCommand(
		newRunCmd(),
		newPlanCmd(),
		newValidateCmd(),
		newCacheCmd(),
		newMetricsCmd(),
		newReportsCmd(),
		newWatchCmd(),
		newInitCmd(),
	)
	return cmd
}

func run() int {
	cmd := newRootCmd()
	err := cmd.Execute()
	code := exitCode(err)
	if code == exitUsage {
		fmt.Fprintln(os.Stderr, styleFail.Render("error:"), err)
	} else if err != nil && !errors.Is(err, errTasksFailed) {
		fmt.Fprintln(os.Stderr, styleDim.Render("run stopped: "+err.Error()))
	}
	return code
}

// exitCode sorts an error into the 0/1/2 split: task and run failures
// (including a signal-cancelled run) are 1, everything else upm's own
// fault is 2.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errTasksFailed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return exitTasks
	default:
		return exitUsage
	}
}

// #endregion root

// #region setup

// loadConfig finds and parses the manifest, applying flag overrides.
func loadConfig() (*config.Config, error) {
	path := rootFlags.configPath
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		path, err = config.FindManifest(cwd)
		if err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if rootFlags.logLevel != "" {
		cfg.Logging.Level = rootFlags.logLevel
	}
	return &cfg, nil
}

// setup builds the logger and orchestrator most commands need.
func setup() (*config.Config, *zap.Logger, *orchestrator.Orchestrator, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	log, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, nil, err
	}
	orch, err := orchestrator.New(cfg, log)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, log, orch, nil
}

// #endregion setup
