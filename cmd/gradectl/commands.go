package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hetu-project/subnet-grader/pkg/classification"
	"github.com/hetu-project/subnet-grader/pkg/grader"
	"github.com/hetu-project/subnet-grader/pkg/sampling"
	"github.com/hetu-project/subnet-grader/pkg/scoring"
)

// decodeList accepts either a bare JSON array or an object with a "posts" array
func decodeList[T any](data []byte) ([]T, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []T
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("failed to decode posts: %w", err)
		}
		return list, nil
	}
	var wrapped struct {
		Posts []T `json:"posts"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to decode posts: %w", err)
	}
	return wrapped.Posts, nil
}

func newGradeCmd(root *rootOptions) *cobra.Command {
	var (
		file         string
		tokenTol     float64
		sentimentTol float64
	)

	cmd := &cobra.Command{
		Use:   "grade",
		Short: "Grade a batch of posts with tolerance matching",
		Long:  `Re-classifies every post and stops at the first one outside tolerance. Exits 1 on rejection.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, file)
			if err != nil {
				return err
			}
			posts, err := decodeList[grader.Submission](data)
			if err != nil {
				return err
			}

			logger := root.logger()
			c, err := root.classifier(logger)
			if err != nil {
				return err
			}

			g := grader.New(c,
				grader.WithTolerances(grader.Tolerances{Token: tokenTol, Sentiment: sentimentTol}),
				grader.WithLogger(logger))
			verdict, err := g.GradeBatch(cmd.Context(), posts)
			if err != nil {
				return err
			}

			if err := writeJSON(cmd, verdict); err != nil {
				return err
			}
			if !verdict.IsValid() {
				return errRejected
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "-", "Posts JSON file (- for stdin)")
	cmd.Flags().Float64Var(&tokenTol, "token-tolerance", 0.05, "Allowed absolute difference per token")
	cmd.Flags().Float64Var(&sentimentTol, "sentiment-tolerance", 0.05, "Allowed absolute sentiment difference")
	return cmd
}

func newSampleCmd(root *rootOptions) *cobra.Command {
	var (
		file string
		size int
		seed uint64
	)

	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Validate a batch by exact canonical matching on a random sample",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, file)
			if err != nil {
				return err
			}
			items, err := decodeList[sampling.Item](data)
			if err != nil {
				return err
			}

			logger := root.logger()
			c, err := root.classifier(logger)
			if err != nil {
				return err
			}

			var seedPtr *uint64
			if cmd.Flags().Changed("seed") {
				seedPtr = &seed
			}

			v := sampling.NewValidator(c, sampling.WithSampleSize(size), sampling.WithLogger(logger))
			result, err := v.Validate(cmd.Context(), items, seedPtr)
			if err != nil {
				return err
			}

			if err := writeJSON(cmd, result); err != nil {
				return err
			}
			if !result.IsValid {
				return errRejected
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "-", "Batch JSON file (- for stdin)")
	cmd.Flags().IntVar(&size, "size", sampling.DefaultSampleSize, "Number of posts to sample")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "Sampling seed for a reproducible selection")
	return cmd
}

// scoreInput is a post with its engagement and relevance claims
type scoreInput struct {
	Date            int64              `json:"date"`
	Likes           int                `json:"likes"`
	Retweets        int                `json:"retweets"`
	Quotes          int                `json:"quotes"`
	Replies         int                `json:"replies"`
	Followers       int                `json:"followers"`
	AccountAgeDays  int                `json:"account_age_days"`
	SubnetRelevance map[string]float64 `json:"subnet_relevance"`
	SubnetID        int                `json:"subnet_id"`
}

func newScoreCmd() *cobra.Command {
	var (
		file    string
		grading bool
		at      int64
	)

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Compute the composite score of a post",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, file)
			if err != nil {
				return err
			}
			var in scoreInput
			if err := json.Unmarshal(data, &in); err != nil {
				return fmt.Errorf("failed to decode post: %w", err)
			}

			scorer := scoring.NewScorer()
			if at > 0 {
				now := time.Unix(at, 0)
				scorer.WithClock(func() time.Time { return now })
			}

			engagement := scoring.Engagement{
				Likes:          in.Likes,
				Retweets:       in.Retweets,
				Quotes:         in.Quotes,
				Replies:        in.Replies,
				Followers:      in.Followers,
				AccountAgeDays: in.AccountAgeDays,
			}
			postedAt := time.Unix(in.Date, 0)

			var breakdown scoring.Breakdown
			if grading {
				breakdown = scorer.GradingScore(postedAt, engagement, in.SubnetID)
			} else {
				breakdown = scorer.ScorePost(postedAt, engagement, in.SubnetRelevance)
			}
			return writeJSON(cmd, breakdown)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "-", "Post JSON file (- for stdin)")
	cmd.Flags().BoolVar(&grading, "grading", false, "Use binary relevance of subnet_id instead of top-k relevance")
	cmd.Flags().Int64Var(&at, "at", 0, "Unix time to score at (default now)")
	return cmd
}

func newCanonicalCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "canonical",
		Short: "Validate a classification and print its canonical string",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, file)
			if err != nil {
				return err
			}
			result, err := classification.Parse(data)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), result.CanonicalString())
			return err
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "-", "Classification JSON file (- for stdin)")
	return cmd
}
