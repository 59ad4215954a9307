package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/seerstack/logseer/internal/config"
	"github.com/seerstack/logseer/internal/database"
	"github.com/seerstack/logseer/internal/embedcache"
	"github.com/seerstack/logseer/internal/repository"
)

func CacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the embedding cache",
		Long:  "Show embedding cache statistics and prune stale entries",
	}

	cmd.AddCommand(CacheStatsCmd())
	cmd.AddCommand(CachePruneCmd())

	return cmd
}

func CacheStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show embedding cache statistics",
		Long:  "Show entry counts for the configured embedding cache backend",
		RunE:  runCacheStats,
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	outputFormat, _ := cmd.Flags().GetString("output")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.HasDatabase() {
		pool, err := getDBPool(ctx, cfg)
		if err != nil {
			return err
		}
		defer pool.Close()

		stats, err := repository.NewCacheStore(pool).Stats(ctx)
		if err != nil {
			return fmt.Errorf("failed to read cache stats: %w", err)
		}

		total := 0
		for _, s := range stats {
			total += s.Entries
		}

		if outputFormat == "json" {
			models := make([]map[string]interface{}, len(stats))
			for i, s := range stats {
				models[i] = map[string]interface{}{
					"model_id":  s.ModelID,
					"entries":   s.Entries,
					"dimension": s.Dimension,
				}
			}
			output := map[string]interface{}{
				"backend": "postgres",
				"entries": total,
				"models":  models,
			}
			jsonBytes, _ := json.MarshalIndent(output, "", "  ")
			fmt.Println(string(jsonBytes))
		} else {
			if len(stats) == 0 {
				fmt.Println("Embedding cache (postgres): empty")
				return nil
			}
			fmt.Println("Embedding cache (postgres):")
			for _, s := range stats {
				fmt.Printf("  %s: %d entries (dimension %d)\n", s.ModelID, s.Entries, s.Dimension)
			}
			fmt.Printf("Total: %d entries\n", total)
		}
		return nil
	}

	path := filepath.Join(cfg.DataDir, "cache", "embeddings.jsonl")
	fileCache, err := embedcache.OpenFileStore(path, cfg.CacheMaxEntries)
	if err != nil {
		return fmt.Errorf("failed to open embedding cache: %w", err)
	}
	defer fileCache.Close()

	n, err := fileCache.Len(ctx)
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		output := map[string]interface{}{
			"backend": "file",
			"path":    path,
			"entries": n,
		}
		jsonBytes, _ := json.MarshalIndent(output, "", "  ")
		fmt.Println(string(jsonBytes))
	} else {
		fmt.Printf("Embedding cache (file, %s): %d entries\n", path, n)
	}

	return nil
}

func CachePruneCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Prune old embedding cache entries",
		Long:  "Delete cache entries older than the given age. Requires the postgres cache backend; the file backend enforces its own entry limit.",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputFormat, _ := cmd.Flags().GetString("output")
			return runCachePrune(outputFormat, olderThan)
		},
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Delete entries older than this age")

	return cmd
}

func runCachePrune(outputFormat string, olderThan time.Duration) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.HasDatabase() {
		return fmt.Errorf("cache prune requires LOGSEER_DATABASE_URL; the file cache enforces its own entry limit")
	}

	pool, err := getDBPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	cutoff := time.Now().Add(-olderThan)
	deleted, err := repository.NewCacheStore(pool).Prune(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune cache: %w", err)
	}

	if outputFormat == "json" {
		output := map[string]interface{}{
			"deleted": deleted,
			"cutoff":  cutoff,
		}
		jsonBytes, _ := json.MarshalIndent(output, "", "  ")
		fmt.Println(string(jsonBytes))
	} else {
		fmt.Printf("Pruned %d cache entries older than %s\n", deleted, olderThan)
	}

	return nil
}

func getDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return database.NewPool(ctx, database.Config{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
}
