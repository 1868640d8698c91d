package main

// #region imports
import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// #endregion

func newReportsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "Browse past run reports",
	}
	cmd.AddCommand(newReportsListCmd(), newReportsShowCmd())
	return cmd
}

// #region list

func newReportsListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, log, orch, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()
			defer orch.Close()

			entries, err := orch.Reports().List()
			if err != nil {
				return err
			}
			if limit > 0 && len(entries) > limit {
				entries = entries[:limit]
			}

			w := cmd.OutOrStdout()
			if rootFlags.jsonOut {
				return json.NewEncoder(w).Encode(entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(w, styleDim.Render("no reports yet"))
				return nil
			}
			for _, e := range entries {
				badge := styleOK.Render(e.Status)
				if e.Status != "succeeded" {
					badge = styleFail.Render(e.Status)
				}
				fmt.Fprintf(w, "%s  %s  %s  %s\n",
					e.StartedAt.Format(time.RFC3339), shortRunID(e.RunID), badge, e.Project)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to list")
	return cmd
}

// #endregion list

// #region show

func newReportsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print one run's report (full id or 8-char prefix)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, log, orch, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()
			defer orch.Close()

			rep, err := orch.Reports().Load(args[0])
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if rootFlags.jsonOut {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}

			fmt.Fprintln(w, styleHeader.Render(rep.Project+" "+shortRunID(rep.RunID)))
			for _, t := range rep.Tasks {
				fmt.Fprintf(w, "%s %-20s %s\n", statusBadge(t.Status), t.TaskID, styleDim.Render(t.Duration.String()))
			}
			fmt.Fprintln(w, rep.StatusLine())
			for _, m := range rep.Summary {
				mark := styleOK.Render("pass")
				if !m.Pass {
					mark = styleFail.Render("fail")
				}
				fmt.Fprintf(w, "  %s %-22s %.2f\n", mark, m.Name, m.Value)
			}
			return nil
		},
	}
}

// #endregion show

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
