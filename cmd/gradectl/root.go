package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hetu-project/subnet-grader/pkg/classifier"
	"github.com/hetu-project/subnet-grader/pkg/retry"
)

// errRejected makes the process exit non-zero after a rejection was printed
var errRejected = errors.New("rejected")

type rootOptions struct {
	analyzerURL string
	analyzerKey string
	model       string
	timeout     time.Duration
	attempts    int
	verbose     bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "gradectl",
		Short:         "Grade miner submissions against a reference analyzer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.analyzerURL, "analyzer-url", os.Getenv("ANALYZER_URL"), "Analyzer base URL (or set ANALYZER_URL)")
	rootCmd.PersistentFlags().StringVar(&opts.analyzerKey, "analyzer-key", os.Getenv("ANALYZER_API_KEY"), "Analyzer API key (or set ANALYZER_API_KEY)")
	rootCmd.PersistentFlags().StringVar(&opts.model, "model", "", "Analyzer model name")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Analyzer request timeout")
	rootCmd.PersistentFlags().IntVar(&opts.attempts, "attempts", retry.DefaultAttempts, "Analyzer attempts per post")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(newGradeCmd(opts))
	rootCmd.AddCommand(newSampleCmd(opts))
	rootCmd.AddCommand(newScoreCmd())
	rootCmd.AddCommand(newCanonicalCmd())

	return rootCmd
}

func (o *rootOptions) logger() *zap.Logger {
	if !o.verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func (o *rootOptions) classifier(logger *zap.Logger) (*classifier.HTTPClient, error) {
	if o.analyzerURL == "" {
		return nil, fmt.Errorf("--analyzer-url or ANALYZER_URL is required")
	}
	if o.attempts < 1 {
		return nil, retry.ErrInvalidAttempts
	}
	return classifier.NewHTTPClient(classifier.Config{
		BaseURL: o.analyzerURL,
		APIKey:  o.analyzerKey,
		Model:   o.model,
		Timeout: o.timeout,
		Retry:   retry.DefaultPolicy(o.attempts),
	}, logger), nil
}

// readInput reads path, or stdin when path is "-"
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
