package cmd

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/fraudguard/fraud-filter/pkg/artifacts"
	"github.com/fraudguard/fraud-filter/pkg/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "fraudguard",
	Short: "FraudGuard - signup email fraud detection service",
	Long: `FraudGuard scores signup email addresses for fraud risk in real time.
It combines Markov cross-entropy classification, out-of-distribution
abnormality detection, a random forest, config-driven heuristics and
whitelisting into a single allow/warn/block decision.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("FraudGuard - signup fraud detection")
		fmt.Println("Use 'fraudguard --help' for usage information")
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(artifactsCmd)
}

// loadConfig resolves the effective service configuration
func loadConfig() (*config.Config, error) {
	return config.LoadConfig(configPath)
}

// openStore connects to the artifact KV backend
func openStore(cfg *config.Config) (*artifacts.Store, error) {
	opt, err := redis.ParseURL(cfg.Artifacts.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return artifacts.NewStore(redis.NewClient(opt), cfg.Artifacts.KeyPrefix), nil
}

// buildCache wraps the store in the TTL snapshot cache, applying the
// per-group TTL overrides from the service config
func buildCache(cfg *config.Config, store *artifacts.Store) *artifacts.Cache {
	ttls := map[artifacts.Kind]time.Duration{
		artifacts.KindConfig:     cfg.Artifacts.ConfigTTL,
		artifacts.KindHeuristics: cfg.Artifacts.ConfigTTL,
		artifacts.KindWhitelist:  cfg.Artifacts.ConfigTTL,
		artifacts.KindModels:     cfg.Artifacts.ModelTTL,
		artifacts.KindForest:     cfg.Artifacts.ModelTTL,
		artifacts.KindDisposable: cfg.Artifacts.DomainListTTL,
		artifacts.KindTLD:        cfg.Artifacts.DomainListTTL,
	}
	return artifacts.NewCache(store, ttls)
}
