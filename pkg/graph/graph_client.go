package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/dgo/v210"
	"github.com/dgraph-io/dgo/v210/protos/api"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/hetu-project/subnet-grader/pkg/grader"
)

// Client represents a Dgraph client used as a write-only verdict audit log
type Client struct {
	conn   *grpc.ClientConn
	dg     *dgo.Dgraph
	logger *zap.Logger
}

// NewClient creates a new Dgraph client
func NewClient(dgraphURL string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	// Connect to Dgraph
	conn, err := grpc.NewClient(dgraphURL, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Dgraph: %w", err)
	}

	// Create Dgraph client
	dg := dgo.NewDgraphClient(api.NewDgraphClient(conn))

	return &Client{
		conn:   conn,
		dg:     dg,
		logger: logger,
	}, nil
}

// VerdictNode is one audited grading decision
type VerdictNode struct {
	UID               string `json:"uid,omitempty"`
	Type              string `json:"dgraph.type"`
	VerdictID         string `json:"verdict_id"`
	Source            string `json:"source"`
	ValidationID      string `json:"validation_id,omitempty"`
	MinerHotkey       string `json:"miner_hotkey,omitempty"`
	ValidatorHotkey   string `json:"validator_hotkey,omitempty"`
	Outcome           string `json:"outcome"`
	Code              string `json:"code,omitempty"`
	Message           string `json:"message,omitempty"`
	PostID            string `json:"post_id,omitempty"`
	PostIndex         *int   `json:"post_index,omitempty"`
	Details           string `json:"details,omitempty"`
	NPosts            int    `json:"n_posts,omitempty"`
	ClassifierVersion string `json:"classifier_version,omitempty"`
	RecordedAt        string `json:"recorded_at"`
}

// Audit identifies who a verdict was produced for
type Audit struct {
	Source          string
	ValidationID    string
	MinerHotkey     string
	ValidatorHotkey string
}

// NodeFromVerdict flattens a verdict into a graph node
func NodeFromVerdict(v grader.Verdict, audit Audit, at time.Time) (*VerdictNode, error) {
	node := &VerdictNode{
		Type:            "GradingVerdict",
		VerdictID:       uuid.NewString(),
		Source:          audit.Source,
		ValidationID:    audit.ValidationID,
		MinerHotkey:     audit.MinerHotkey,
		ValidatorHotkey: audit.ValidatorHotkey,
		Outcome:         v.Outcome.String(),
		RecordedAt:      at.UTC().Format(time.RFC3339),
	}

	if v.Valid != nil {
		node.NPosts = v.Valid.NPosts
		node.ClassifierVersion = v.Valid.ClassifierVersion
	}
	if f := v.Failure; f != nil {
		node.Code = string(f.Code)
		node.Message = f.Message
		node.PostID = f.PostID
		node.PostIndex = f.PostIndex
		if len(f.Details) > 0 {
			details, err := json.Marshal(f.Details)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal details: %w", err)
			}
			node.Details = string(details)
		}
	}
	return node, nil
}

// RecordVerdict stores a verdict in the graph database
func (c *Client) RecordVerdict(ctx context.Context, v grader.Verdict, audit Audit) error {
	node, err := NodeFromVerdict(v, audit, time.Now())
	if err != nil {
		return err
	}
	return c.StoreVerdict(ctx, node)
}

// StoreVerdict stores a verdict node in the graph database
func (c *Client) StoreVerdict(ctx context.Context, node *VerdictNode) error {
	node.Type = "GradingVerdict"

	nodeJSON, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("failed to marshal verdict: %w", err)
	}

	mu := &api.Mutation{
		SetJson:   nodeJSON,
		CommitNow: true,
	}

	txn := c.dg.NewTxn()
	defer txn.Discard(ctx)

	if _, err := txn.Mutate(ctx, mu); err != nil {
		return fmt.Errorf("failed to store verdict: %w", err)
	}

	c.logger.Debug("Verdict stored in graph",
		zap.String("verdict_id", node.VerdictID),
		zap.String("outcome", node.Outcome),
		zap.String("code", node.Code))
	return nil
}

// SetupSchema installs the verdict schema
func (c *Client) SetupSchema(ctx context.Context) error {
	schema := `
		type GradingVerdict {
			verdict_id
			source
			validation_id
			miner_hotkey
			validator_hotkey
			outcome
			code
			message
			post_id
			post_index
			details
			n_posts
			classifier_version
			recorded_at
		}

		verdict_id: string @index(exact) .
		source: string @index(exact) .
		validation_id: string @index(exact) .
		miner_hotkey: string @index(exact) .
		validator_hotkey: string @index(exact) .
		outcome: string @index(exact) .
		code: string @index(exact) .
		message: string .
		post_id: string @index(exact) .
		post_index: int .
		details: string .
		n_posts: int .
		classifier_version: string .
		recorded_at: datetime @index(hour) .
	`

	op := &api.Operation{
		Schema: schema,
	}

	if err := c.dg.Alter(ctx, op); err != nil {
		return fmt.Errorf("failed to alter schema: %w", err)
	}
	return nil
}

// Close closes the gRPC connection
func (c *Client) Close() error {
	return c.conn.Close()
}
