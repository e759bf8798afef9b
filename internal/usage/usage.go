// Package usage estimates token usage and cost for agent outputs.
// Every count produced here is an approximation, not provider metering.
package usage

import (
	"math"
	"sync"
	"unicode/utf8"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// DefaultCostPerMillion is the default price in USD per million estimated tokens
const DefaultCostPerMillion = 0.50

// Estimator approximates the token count of a piece of model output
type Estimator interface {
	Estimate(text string) int
	Name() string
}

// HeuristicEstimator counts one token per CharsPerToken characters, rounded up.
type HeuristicEstimator struct {
	CharsPerToken float64
}

// NewHeuristicEstimator returns the characters/3 placeholder heuristic
func NewHeuristicEstimator() HeuristicEstimator {
	return HeuristicEstimator{CharsPerToken: 3}
}

// Estimate implements Estimator
func (h HeuristicEstimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	per := h.CharsPerToken
	if per <= 0 {
		per = 3
	}
	return int(math.Ceil(float64(utf8.RuneCountInString(text)) / per))
}

// Name implements Estimator
func (h HeuristicEstimator) Name() string {
	return "heuristic"
}

// TiktokenEstimator counts BPE tokens with a tiktoken encoding. The encoding is an
// approximation for non-OpenAI models. When the encoding cannot be loaded (offline,
// no BPE cache) it falls back to the heuristic.
type TiktokenEstimator struct {
	encoder  *tiktoken.Tiktoken
	fallback HeuristicEstimator
	mu       sync.Mutex
}

// NewTiktokenEstimator creates an estimator for the named encoding (e.g. "cl100k_base")
func NewTiktokenEstimator(encodingName string) *TiktokenEstimator {
	t := &TiktokenEstimator{fallback: NewHeuristicEstimator()}
	enc, err := tiktoken.GetEncoding(encodingName)
	if err == nil {
		t.encoder = enc
	}
	return t
}

// Estimate implements Estimator
func (t *TiktokenEstimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	if t.encoder == nil {
		return t.fallback.Estimate(text)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.encoder.Encode(text, nil, nil))
}

// Name implements Estimator
func (t *TiktokenEstimator) Name() string {
	if t.encoder == nil {
		return "tiktoken-fallback"
	}
	return "tiktoken"
}

// Precise reports whether BPE counting is active
func (t *TiktokenEstimator) Precise() bool {
	return t.encoder != nil
}

// ForName returns the estimator configured by name: "tiktoken" or "heuristic" (default)
func ForName(name string) Estimator {
	if name == "tiktoken" {
		return NewTiktokenEstimator("cl100k_base")
	}
	return NewHeuristicEstimator()
}

// Cost converts an estimated token count to USD at perMillion dollars per million tokens
func Cost(tokens int, perMillion float64) float64 {
	return float64(tokens) / 1_000_000 * perMillion
}
