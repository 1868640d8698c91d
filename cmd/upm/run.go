package main

// #region imports
import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/glebbrain/manager-arent-ai-sub004/internal/orchestrator"
)

// #endregion

// #region command

func newRunCmd() *cobra.Command {
	var (
		tags        []string
		maxParallel int
		keepGoing   bool
		noCache     bool
	)
	cmd := &cobra.Command{
		Use:   "run [task...]",
		Short: "Run tasks and their dependencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, log, orch, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()
			defer orch.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out, err := orch.Run(ctx, orchestrator.RunRequest{
				Targets:     args,
				Tags:        tags,
				MaxParallel: maxParallel,
				KeepGoing:   keepGoing,
				NoCache:     noCache,
			})
			if err != nil {
				return err
			}
			if err := renderRun(cmd, out); err != nil {
				return err
			}
			if out.Failed {
				return errTasksFailed
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&tags, "tags", "t", nil, "run tasks carrying any of these tags")
	cmd.Flags().IntVarP(&maxParallel, "max-parallel", "j", 0, "parallel task limit (0 = manifest value)")
	cmd.Flags().BoolVarP(&keepGoing, "keep-going", "k", false, "continue independent tasks after a failure")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "skip cache lookup and storage")
	return cmd
}

// #endregion command

// #region render

func renderRun(cmd *cobra.Command, out *orchestrator.RunOutcome) error {
	w := cmd.OutOrStdout()
	if rootFlags.jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out.Report)
	}

	for _, t := range out.Report.Tasks {
		fmt.Fprintf(w, "%s %-20s %s\n", statusBadge(t.Status), t.TaskID, styleDim.Render(t.Duration.String()))
		if t.Error != "" {
			fmt.Fprintln(w, styleDim.Render("  "+t.Error))
		}
	}
	fmt.Fprintln(w, styleHeader.Render(out.Report.StatusLine()))
	if out.ReportPath != "" {
		fmt.Fprintln(w, styleDim.Render("report: "+out.ReportPath))
	}
	return nil
}

func statusBadge(status string) string {
	switch status {
	case "ok":
		return styleOK.Render("ok  ")
	case "cache_hit":
		return styleOK.Render("hit ")
	case "failed":
		return styleFail.Render("FAIL")
	default:
		return styleDim.Render("skip")
	}
}

// #endregion render
