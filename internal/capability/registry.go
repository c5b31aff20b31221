// Package capability exports a signed registry of the engine's tool
// catalog: a /toolcards endpoint that lets an external caller discover
// what tools exist, their schemas, and their side effects, independent of
// the core dispatch path. Nothing in tool dispatch consults this registry
// at runtime — it exists purely for discovery and audit.
package capability

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/deepresearch/engine/internal/provider"
)

// ToolCard represents registry metadata for a tool/agent.
type ToolCard struct {
	Name         string                 `json:"name"`
	Version      string                 `json:"version"`
	Description  string                 `json:"description"`
	AgentType    string                 `json:"agent_type"`
	InputSchema  map[string]interface{} `json:"input_schema"`
	OutputSchema map[string]interface{} `json:"output_schema"`
	CostEstimate float64                `json:"cost_estimate"`
	SideEffects  []string               `json:"side_effects"`
	Checksum     string                 `json:"checksum"`
	Signature    string                 `json:"signature"`
}

// toolSideEffects names the side effects of each tool the engine exposes,
// for ToolCard's side_effects field.
var toolSideEffects = map[string][]string{
	"web_search":        {"network"},
	"code_interpreter":  {"filesystem", "sandbox_execution"},
	"view_image":        {"filesystem"},
	"file":              {"filesystem"},
	"spawn_agent":       {"spawns_agent"},
	"wait_for_agents":   {},
	"get_agent_result":  {"filesystem"},
	"write_report":      {"filesystem", "network"},
	"generate_plan":     {},
	"update_plan":       {},
}

func outputSchema() map[string]interface{} {
	return map[string]interface{}{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type":    "object",
	}
}

// FromToolSpecs converts a provider.ToolSpec catalog (as produced by
// tools.OrchestratorCatalog / tools.SubAgentCatalog) into unsigned
// ToolCards tagged with agentType ("orchestrator" or "sub_agent").
func FromToolSpecs(agentType string, specs []provider.ToolSpec) []ToolCard {
	cards := make([]ToolCard, 0, len(specs))
	for _, spec := range specs {
		cards = append(cards, ToolCard{
			Name:         spec.Name,
			Version:      "v1",
			Description:  spec.Description,
			AgentType:    agentType,
			InputSchema:  spec.InputSchema,
			OutputSchema: outputSchema(),
			SideEffects:  toolSideEffects[spec.Name],
		})
	}
	return cards
}

// SignAll computes checksum and, when secret is non-empty, a signature for
// every card in place.
func SignAll(cards []ToolCard, secret string) ([]ToolCard, error) {
	out := make([]ToolCard, len(cards))
	for i, tc := range cards {
		checksum, err := ComputeChecksum(tc)
		if err != nil {
			return nil, err
		}
		tc.Checksum = checksum
		if secret != "" {
			sig, err := SignToolCard(tc, secret)
			if err != nil {
				return nil, err
			}
			tc.Signature = sig
		}
		out[i] = tc
	}
	return out, nil
}

// Registry holds validated ToolCards keyed by tool name.
type Registry struct {
	tools map[string]ToolCard
}

// ErrToolMissing indicates a required tool is not registered.
var ErrToolMissing = fmt.Errorf("required tool missing")

// NewRegistry validates ToolCards and ensures required tools exist. When
// required is empty, web_search, file, code_interpreter, view_image,
// spawn_agent, wait_for_agents, get_agent_result and write_report must be
// present; generate_plan and update_plan are not required.
func NewRegistry(cards []ToolCard, signingSecret string, required []string) (*Registry, error) {
	reg := &Registry{tools: make(map[string]ToolCard)}
	for _, tc := range cards {
		if err := validateSignature(tc, signingSecret); err != nil {
			return nil, fmt.Errorf("tool %s@%s signature invalid: %w", tc.Name, tc.Version, err)
		}
		existing, ok := reg.tools[tc.Name]
		if !ok || versionGreater(tc.Version, existing.Version) {
			reg.tools[tc.Name] = tc
		}
	}
	if len(required) == 0 {
		required = []string{"web_search", "file", "code_interpreter", "view_image", "spawn_agent", "wait_for_agents", "get_agent_result", "write_report"}
	}
	for _, r := range required {
		if _, ok := reg.tools[r]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrToolMissing, r)
		}
	}
	return reg, nil
}

// Tool returns the ToolCard for a tool name.
func (r *Registry) Tool(name string) (ToolCard, bool) {
	if r == nil {
		return ToolCard{}, false
	}
	tc, ok := r.tools[name]
	return tc, ok
}

// All returns every registered ToolCard, sorted by name, for serving the
// /toolcards discovery endpoint.
func (r *Registry) All() []ToolCard {
	if r == nil {
		return nil
	}
	out := make([]ToolCard, 0, len(r.tools))
	for _, tc := range r.tools {
		out = append(out, tc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ComputeChecksum returns a deterministic hash of the ToolCard payload (excluding signature field).
func ComputeChecksum(tc ToolCard) (string, error) {
	payload := map[string]interface{}{
		"name":          tc.Name,
		"version":       tc.Version,
		"description":   tc.Description,
		"agent_type":    tc.AgentType,
		"input_schema":  tc.InputSchema,
		"output_schema": tc.OutputSchema,
		"cost_estimate": tc.CostEstimate,
		"side_effects":  tc.SideEffects,
	}
	normalized, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:]), nil
}

// SignToolCard computes an HMAC signature using the signing secret.
func SignToolCard(tc ToolCard, secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("signing secret is empty")
	}
	checksum, err := ComputeChecksum(tc)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(checksum))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func validateSignature(tc ToolCard, secret string) error {
	if secret == "" {
		return nil
	}
	expected, err := SignToolCard(tc, secret)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected), []byte(tc.Signature)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

func versionGreater(a, b string) bool {
	if a == b {
		return false
	}
	// naive semver compare
	return stringsCompare(splitVersion(a), splitVersion(b)) > 0
}

func splitVersion(v string) []int {
	parts := strings.Split(strings.TrimPrefix(v, "v"), ".")
	out := make([]int, len(parts))
	for i, p := range parts {
		fmt.Sscanf(p, "%d", &out[i])
	}
	return out
}

func stringsCompare(a, b []int) int {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		ai, bi := 0, 0
		if i < len(a) {
			ai = a[i]
		}
		if i < len(b) {
			bi = b[i]
		}
		if ai > bi {
			return 1
		}
		if ai < bi {
			return -1
		}
	}
	return 0
}
