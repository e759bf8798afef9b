// Package prompts holds the embedded instruction templates for pipeline agents.
package prompts

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jonathan/brigade/internal/types"
)

//go:embed agents.json
var agentsJSON []byte

// Template keys in agents.json
const (
	KeyInstructions = "agent-instructions"
	contractPrefix  = "contract-"
)

var load = sync.OnceValues(func() (map[string]string, error) {
	var prompts map[string]string
	if err := json.Unmarshal(agentsJSON, &prompts); err != nil {
		return nil, fmt.Errorf("failed to parse agent prompts: %w", err)
	}
	return prompts, nil
})

// Get returns the template stored under key
func Get(key string) (string, error) {
	prompts, err := load()
	if err != nil {
		return "", err
	}
	prompt, ok := prompts[key]
	if !ok {
		return "", fmt.Errorf("prompt key %q not found", key)
	}
	return prompt, nil
}

// Contract returns the output contract for a display type
func Contract(dt types.DisplayType) (string, error) {
	return Get(contractPrefix + string(dt))
}

// Format replaces template placeholders in the form {{.Key}} with values from data.
// Substitution is a single pass, so placeholder-like text inside values is left alone.
func Format(template string, data map[string]string) string {
	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys)*2)
	for _, key := range keys {
		pairs = append(pairs, "{{."+key+"}}", data[key])
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
