package main

// #region imports
import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/glebbrain/manager-arent-ai-sub004/internal/orchestrator"
)

// #endregion

// #region plan

func newPlanCmd() *cobra.Command {
	var tags []string
	cmd := &cobra.Command{
		Use:   "plan [task...]",
		Short: "Show the execution schedule without running anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, log, orch, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()
			defer orch.Close()

			plan, err := orch.Plan(orchestrator.RunRequest{Targets: args, Tags: tags})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if rootFlags.jsonOut {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(plan)
			}

			fmt.Fprintln(w, styleHeader.Render(fmt.Sprintf("%d tasks in %d waves", len(plan.Order), len(plan.Waves))))
			for i, wave := range plan.Waves {
				fmt.Fprintf(w, "  wave %d: %s\n", i+1, strings.Join(wave, ", "))
			}
			if len(plan.CriticalPath.IDs) > 0 {
				fmt.Fprintf(w, "critical path: %s (%s)\n",
					strings.Join(plan.CriticalPath.IDs, " -> "),
					styleDim.Render(plan.CriticalPath.Total.String()))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&tags, "tags", "t", nil, "plan tasks carrying any of these tags")
	return cmd
}

// #endregion plan

// #region validate

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the manifest and dependency graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, log, orch, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()
			defer orch.Close()

			if err := orch.Validate(context.Background()); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), styleFail.Render("invalid:"), err)
				return errTasksFailed
			}
			fmt.Fprintln(cmd.OutOrStdout(), styleOK.Render("manifest valid,"), orch.Graph().Len(), "tasks")
			return nil
		},
	}
}

// #endregion validate
