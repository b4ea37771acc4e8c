package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fraudguard/fraud-filter/pkg/artifacts"
	"github.com/fraudguard/fraud-filter/pkg/markov"
)

var artifactsCmd = &cobra.Command{
	Use:   "artifacts",
	Short: "Manage the artifact store",
	Long: `Inspect and seed the Redis artifact store the serve command reads
its models, heuristics, whitelist and domain lists from.`,
}

var artifactsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored artifacts with versions and checksums",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}

		entries, err := store.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("no artifacts stored")
			return nil
		}

		fmt.Printf("%-28s %10s  %-12s %-12s %s\n", "KEY", "SIZE", "VERSION", "CHECKSUM", "UPDATED")
		for _, e := range entries {
			version, updated, integrity := "-", "-", e.Checksum[:12]
			if e.Meta != nil {
				if e.Meta.Version != "" {
					version = e.Meta.Version
				}
				updated = e.Meta.UpdatedAt.Format(time.RFC3339)
				if e.Meta.Checksum != "" && e.Meta.Checksum != e.Checksum {
					integrity = "MISMATCH"
				}
			}
			fmt.Printf("%-28s %10d  %-12s %-12s %s\n", e.Key, e.Size, version, integrity, updated)
		}
		return nil
	},
}

var artifactsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show Markov model entropy history for drift monitoring",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}

		keys := []string{
			artifacts.KeyLegit2, artifacts.KeyFraud2,
			artifacts.KeyLegit3, artifacts.KeyFraud3,
		}

		fmt.Printf("%-16s %8s %10s %10s %10s\n", "MODEL", "SAMPLES", "MEAN", "STDDEV", "P95")
		for _, key := range keys {
			payload, err := store.Get(cmd.Context(), key)
			if err != nil {
				fmt.Printf("%-16s (not stored)\n", key)
				continue
			}

			var model markov.Model
			if err := json.Unmarshal(payload, &model); err != nil {
				return fmt.Errorf("decode %s: %w", key, err)
			}

			stats := model.HistoryStats()
			fmt.Printf("%-16s %8d %10.4f %10.4f %10.4f\n",
				key, stats.Samples, stats.Mean, stats.StdDev, stats.P95)
		}
		return nil
	},
}

var putVersion string

var artifactsPutCmd = &cobra.Command{
	Use:   "put [key] [file]",
	Short: "Upload an artifact payload with integrity metadata",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, path := args[0], args[1]

		known := false
		for _, k := range artifacts.AllKeys {
			if k == key {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("unknown artifact key %q", key)
		}

		payload, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read payload: %v", err)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}

		if err := store.Put(cmd.Context(), key, payload, putVersion); err != nil {
			return err
		}
		fmt.Printf("stored %s (%d bytes, sha256 %s)\n", key, len(payload), artifacts.Checksum(payload)[:12])
		return nil
	},
}

var invalidateServer string

var artifactsInvalidateCmd = &cobra.Command{
	Use:   "invalidate [kind]",
	Short: "Drop a cached artifact snapshot on a running server",
	Long: `Tells a running serve instance to drop its in-memory snapshot for
one artifact kind (config, models, forest, heuristics, whitelist,
disposable, tld) or "all". The next evaluation refetches from the store.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := json.Marshal(map[string]string{"kind": args[0]})
		if err != nil {
			return err
		}

		url := invalidateServer + "/admin/cache/invalidate"
		req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("server unreachable: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("invalidate failed: %s", resp.Status)
		}
		fmt.Printf("invalidated %s\n", args[0])
		return nil
	},
}

func init() {
	artifactsPutCmd.Flags().StringVar(&putVersion, "version", "", "version label for the metadata record")
	artifactsInvalidateCmd.Flags().StringVar(&invalidateServer, "server", "http://localhost:8080", "base URL of the running server")

	artifactsCmd.AddCommand(artifactsListCmd)
	artifactsCmd.AddCommand(artifactsStatsCmd)
	artifactsCmd.AddCommand(artifactsPutCmd)
	artifactsCmd.AddCommand(artifactsInvalidateCmd)
}
