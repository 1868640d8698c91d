package main

// #region imports
import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/glebbrain/manager-arent-ai-sub004/internal/orchestrator"
	"github.com/glebbrain/manager-arent-ai-sub004/internal/watch"
)

// #endregion

func newWatchCmd() *cobra.Command {
	var noCache bool
	cmd := &cobra.Command{
		Use:   "watch [task...]",
		Short: "Re-run affected tasks when their inputs change",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, orch, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()
			defer orch.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// With explicit targets, only changes inside their
			// dependency closure trigger a run.
			var scope map[string]bool
			if len(args) > 0 {
				for _, id := range args {
					if !orch.Graph().Has(id) {
						return fmt.Errorf("unknown task %q", id)
					}
				}
				scope = make(map[string]bool)
				for _, id := range orch.Graph().Subgraph(args) {
					scope[id] = true
				}
			}

			trigger := func(ctx context.Context, ids []string) {
				if scope != nil {
					var kept []string
					for _, id := range ids {
						if scope[id] {
							kept = append(kept, id)
						}
					}
					ids = kept
				}
				if len(ids) == 0 {
					return
				}
				out, err := orch.Run(ctx, orchestrator.RunRequest{
					Targets: ids,
					NoCache: noCache,
				})
				switch {
				case err != nil:
					log.Warn("run aborted", zap.Error(err))
				case out.Failed:
					fmt.Fprintln(cmd.OutOrStdout(), styleFail.Render(out.Report.StatusLine()))
				default:
					fmt.Fprintln(cmd.OutOrStdout(), styleOK.Render(out.Report.StatusLine()))
				}
			}

			w := watch.New(cfg, orch.Graph(), log, trigger)
			fmt.Fprintln(cmd.OutOrStdout(), styleDim.Render("watching for changes, ctrl-c to stop"))
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "skip cache lookup and storage")
	return cmd
}
