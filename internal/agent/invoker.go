// Package agent invokes one pipeline role against the generative backend and normalizes
// its structured response.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonathan/brigade/internal/llm"
	"github.com/jonathan/brigade/internal/prompts"
	"github.com/jonathan/brigade/internal/schemas"
	"github.com/jonathan/brigade/internal/types"
	"github.com/jonathan/brigade/internal/usage"
)

// Request describes one agent invocation
type Request struct {
	Role        types.Role
	Mission     string
	DisplayType types.DisplayType
	Context     any
	Tier        llm.ModelTier
}

// Result is the normalized output of a successful invocation
type Result struct {
	Content string
	Summary string
	Data    types.StructuredData
	// Tokens is an estimate derived from the response length
	Tokens   int
	Duration time.Duration
}

// Invoker calls the backend for one role at a time. It never retries.
type Invoker struct {
	client    llm.Client
	estimator usage.Estimator
	logger    *slog.Logger
}

// Option configures an Invoker
type Option func(*Invoker)

// WithEstimator overrides the token estimator
func WithEstimator(e usage.Estimator) Option {
	return func(i *Invoker) { i.estimator = e }
}

// WithLogger overrides the logger
func WithLogger(l *slog.Logger) Option {
	return func(i *Invoker) { i.logger = l }
}

// NewInvoker creates an Invoker backed by client
func NewInvoker(client llm.Client, opts ...Option) *Invoker {
	inv := &Invoker{
		client:    client,
		estimator: usage.NewHeuristicEstimator(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Invoke runs one agent call. Backend failures are returned as *InvocationError and
// unreadable responses as *ParseError.
func (i *Invoker) Invoke(ctx context.Context, req Request) (*Result, error) {
	schema, err := schemas.OutputSchema(req.DisplayType)
	if err != nil {
		return nil, &InvocationError{Role: req.Role, Message: "unsupported display type", Cause: err}
	}

	prompt, err := BuildPrompt(req)
	if err != nil {
		return nil, &InvocationError{Role: req.Role, Message: "failed to build instructions", Cause: err}
	}

	tier := req.Tier
	if tier == "" {
		tier = llm.TierStandard
	}

	start := time.Now()
	i.logger.Debug("invoking agent", "role", req.Role, "display_type", req.DisplayType, "model", i.client.GetModel(tier))

	raw, err := i.client.GenerateStructured(ctx, prompt, schema, tier)
	if err != nil {
		return nil, &InvocationError{Role: req.Role, Message: "backend call failed", Cause: err}
	}

	parsed, err := Normalize(raw, req.DisplayType)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.Role = req.Role
		}
		return nil, err
	}
	if parsed.Recovered {
		i.logger.Info("recovered fenced agent output", "role", req.Role)
	}

	duration := time.Since(start)
	tokens := i.estimator.Estimate(raw)
	i.logger.Debug("agent served", "role", req.Role, "tokens", tokens, "estimator", i.estimator.Name(), "duration", duration)

	return &Result{
		Content:  parsed.Content,
		Summary:  parsed.Summary,
		Data:     parsed.Data,
		Tokens:   tokens,
		Duration: duration,
	}, nil
}

// Mission returns the mission text stored under key in the agent prompt file
func Mission(key string) (string, error) {
	return prompts.Get(key)
}

// BuildPrompt renders the deterministic instruction block for a request
func BuildPrompt(req Request) (string, error) {
	template, err := prompts.Get(prompts.KeyInstructions)
	if err != nil {
		return "", err
	}
	contract, err := prompts.Contract(req.DisplayType)
	if err != nil {
		return "", err
	}

	contextJSON, err := json.MarshalIndent(req.Context, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to serialize context: %w", err)
	}

	return prompts.Format(template, map[string]string{
		"Role":           string(req.Role),
		"Mission":        req.Mission,
		"Context":        string(contextJSON),
		"DisplayType":    string(req.DisplayType),
		"OutputContract": contract,
	}), nil
}
