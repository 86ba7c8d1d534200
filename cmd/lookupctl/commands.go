package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"osint/internal/lookup/cache"
	"osint/internal/lookup/models"
)

var cmdTimeout time.Duration

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print per-tier cache statistics as JSON",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

var invalidateCmd = &cobra.Command{
	Use:     "invalidate <phone|email> <value>",
	Short:   "Remove one cached lookup from both tiers",
	Example: "  lookupctl invalidate phone '+1 412-670-4024'",
	Args:    cobra.ExactArgs(2),
	RunE:    runInvalidate,
}

var (
	clearType    string
	clearPattern string
	clearYes     bool
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove cached lookups matching a pattern",
	Long:  "Removes cached profiles from both tiers. Without --type or --pattern every lookup key is removed, which requires --yes.",
	Args:  cobra.NoArgs,
	RunE:  runClear,
}

var purgeCmd = &cobra.Command{
	Use:   "purge-expired",
	Short: "Delete expired rows from the durable cache tier",
	Args:  cobra.NoArgs,
	RunE:  runPurge,
}

func init() {
	rootCmd.PersistentFlags().DurationVar(&cmdTimeout, "timeout", 30*time.Second, "Timeout for the whole command")

	clearCmd.Flags().StringVarP(&clearType, "type", "t", "", "Clear one query type (phone or email)")
	clearCmd.Flags().StringVarP(&clearPattern, "pattern", "p", "", "Glob over cache keys, e.g. osint:phone:*")
	clearCmd.Flags().BoolVarP(&clearYes, "yes", "y", false, "Confirm clearing every cached lookup")
	clearCmd.MarkFlagsMutuallyExclusive("type", "pattern")

	rootCmd.AddCommand(statsCmd, invalidateCmd, clearCmd, purgeCmd)
}

func withCache(cmd *cobra.Command, fn func(ctx context.Context, h *cacheHandle) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), cmdTimeout)
	defer cancel()
	h, err := openCache(ctx)
	if err != nil {
		return err
	}
	defer h.close()
	return fn(ctx, h)
}

func runStats(cmd *cobra.Command, _ []string) error {
	return withCache(cmd, func(ctx context.Context, h *cacheHandle) error {
		stats, err := h.tiered.Stats(ctx)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), stats)
	})
}

func runInvalidate(cmd *cobra.Command, args []string) error {
	qt, err := models.ParseQueryType(args[0])
	if err != nil {
		return err
	}
	q, err := models.NewQuery(qt, args[1])
	if err != nil {
		return err
	}
	return withCache(cmd, func(ctx context.Context, h *cacheHandle) error {
		if err := h.tiered.Invalidate(ctx, cache.KeyFor(q)); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "invalidated %s %s\n", q.Type, q.NormalizedValue)
		return nil
	})
}

func runClear(cmd *cobra.Command, _ []string) error {
	pattern, err := clearTarget(clearType, clearPattern, clearYes)
	if err != nil {
		return err
	}
	return withCache(cmd, func(ctx context.Context, h *cacheHandle) error {
		res, err := h.tiered.ClearAll(ctx, pattern)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "cleared %s: l1=%d l2=%d\n", pattern, res.L1, res.L2)
		return nil
	})
}

// clearTarget resolves the flags of the clear command into a key pattern.
func clearTarget(queryType, pattern string, confirmed bool) (string, error) {
	switch {
	case queryType != "":
		qt, err := models.ParseQueryType(queryType)
		if err != nil {
			return "", err
		}
		return cache.TypePattern(qt), nil
	case pattern != "":
		if !strings.HasPrefix(pattern, strings.TrimSuffix(cache.AllPattern, "*")) {
			return "", fmt.Errorf("pattern %q does not target lookup keys", pattern)
		}
		return pattern, nil
	case !confirmed:
		return "", errors.New("refusing to clear every cached lookup without --yes")
	default:
		return cache.AllPattern, nil
	}
}

func runPurge(cmd *cobra.Command, _ []string) error {
	return withCache(cmd, func(ctx context.Context, h *cacheHandle) error {
		if h.l2 == nil {
			return errors.New("DATABASE_URL is not set; there is no durable tier to purge")
		}
		n, err := h.l2.PurgeExpired(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "purged %d expired rows\n", n)
		return nil
	})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
