package main

// #region imports
import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// #endregion

var errCacheDisabled = errors.New("cache is disabled in the manifest")

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the artifact cache",
	}
	cmd.AddCommand(newCacheStatsCmd(), newCacheGCCmd(), newCacheClearCmd())
	return cmd
}

// #region stats

func newCacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache size and hit counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, log, orch, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()
			defer orch.Close()

			c := orch.Cache()
			if c == nil {
				return errCacheDisabled
			}
			stats, err := c.Stats()
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if rootFlags.jsonOut {
				return json.NewEncoder(w).Encode(stats)
			}
			fmt.Fprintf(w, "entries: %d\n", stats.Entries)
			fmt.Fprintf(w, "size:    %s\n", humanBytes(stats.TotalBytes))
			fmt.Fprintf(w, "hits:    %d\n", stats.TotalHits)
			return nil
		},
	}
}

// #endregion stats

// #region gc

func newCacheGCCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Evict entries past the manifest's age and size budgets",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, orch, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()
			defer orch.Close()

			c := orch.Cache()
			if c == nil {
				return errCacheDisabled
			}
			removed, freed, err := c.GC(cfg.Cache.MaxAge.Std(), cfg.Cache.MaxTotalSize)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "evicted %d entries, freed %s\n", removed, humanBytes(freed))
			return nil
		},
	}
}

// #endregion gc

// #region clear

func newCacheClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cache entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, log, orch, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()
			defer orch.Close()

			c := orch.Cache()
			if c == nil {
				return errCacheDisabled
			}
			removed, err := c.Clear()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries\n", removed)
			return nil
		},
	}
}

// #endregion clear

// #region helpers

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGT"[exp])
}

// #endregion helpers
