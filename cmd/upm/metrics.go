package main

// #region imports
import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/glebbrain/manager-arent-ai-sub004/internal/metrics"
)

// #endregion

func newMetricsCmd() *cobra.Command {
	var watchSec int
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Take a snapshot of system and process metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := os.Getwd()
			if err != nil {
				return err
			}
			collector := metrics.NewCollector(dir)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			for {
				if err := printSnapshot(cmd, collector.Take()); err != nil {
					return err
				}
				if watchSec <= 0 {
					return nil
				}
				select {
				case <-time.After(time.Duration(watchSec) * time.Second):
				case <-ctx.Done():
					return nil
				}
			}
		},
	}
	cmd.Flags().IntVarP(&watchSec, "watch", "w", 0, "repeat every N seconds until interrupted")
	return cmd
}

func printSnapshot(cmd *cobra.Command, snap metrics.Snapshot) error {
	w := cmd.OutOrStdout()
	if rootFlags.jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}

	fmt.Fprintln(w, styleHeader.Render("system"))
	if snap.Load.Available {
		fmt.Fprintf(w, "  load: %.2f %.2f %.2f\n", snap.Load.Load1, snap.Load.Load5, snap.Load.Load15)
	} else {
		fmt.Fprintln(w, styleDim.Render("  load: unavailable"))
	}
	if snap.Memory.Available {
		fmt.Fprintf(w, "  memory: %s used of %s (%.0f%%)\n",
			humanBytes(int64(snap.Memory.TotalBytes-snap.Memory.AvailableBytes)),
			humanBytes(int64(snap.Memory.TotalBytes)),
			snap.Memory.UsedFraction()*100)
	} else {
		fmt.Fprintln(w, styleDim.Render("  memory: unavailable"))
	}
	if snap.Disk.Available {
		fmt.Fprintf(w, "  disk: %s free of %s\n",
			humanBytes(int64(snap.Disk.FreeBytes)), humanBytes(int64(snap.Disk.TotalBytes)))
	}
	fmt.Fprintln(w, styleHeader.Render("process"))
	if snap.Process.Available {
		fmt.Fprintf(w, "  rss: %s, cpu ticks: %d\n",
			humanBytes(int64(snap.Process.RSSBytes)), snap.Process.CPUTicks)
	} else {
		fmt.Fprintln(w, styleDim.Render("  unavailable"))
	}
	return nil
}
