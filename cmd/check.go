package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fraudguard/fraud-filter/pkg/dns"
	"github.com/fraudguard/fraud-filter/pkg/filter"
)

var (
	checkFile    string
	checkVerbose bool
)

var checkCmd = &cobra.Command{
	Use:   "check [email]",
	Short: "Score one or more emails against the current artifacts",
	Long: `Evaluates emails through the full scoring pipeline using the live
artifact store, without starting the HTTP server. Pass a single address
as an argument, or --file with one address per line.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVarP(&checkFile, "file", "f", "", "file with one email per line")
	checkCmd.Flags().BoolVarP(&checkVerbose, "verbose", "v", false, "print full result JSON")
}

func runCheck(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && checkFile == "" {
		return fmt.Errorf("provide an email argument or --file")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	if err := store.Ping(cmd.Context()); err != nil {
		return fmt.Errorf("artifact store unreachable: %w", err)
	}

	resolver := dns.NewResolver(dns.Config{
		Endpoint:  cfg.MX.Endpoint,
		Timeout:   cfg.MX.Timeout,
		CacheSize: cfg.MX.CacheSize,
		CacheTTL:  cfg.MX.CacheTTL,
	})

	f := filter.New(buildCache(cfg, store), filter.WithResolver(resolver))

	emails := args
	if checkFile != "" {
		fromFile, err := readEmailLines(checkFile)
		if err != nil {
			return err
		}
		emails = append(emails, fromFile...)
	}

	for _, addr := range emails {
		res := f.Evaluate(cmd.Context(), filter.Request{Email: addr, Flow: "cli"})

		if checkVerbose {
			out, err := json.MarshalIndent(res, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			continue
		}

		reason := res.BlockReason
		if reason == "" {
			reason = "-"
		}
		fmt.Printf("%-40s %-5s  risk=%.4f  reason=%s\n", addr, res.Decision, res.RiskScore, reason)
	}
	return nil
}

func readEmailLines(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open email list: %v", err)
	}
	defer file.Close()

	var emails []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		emails = append(emails, line)
	}
	return emails, scanner.Err()
}
