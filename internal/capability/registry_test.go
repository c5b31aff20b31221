package capability

import (
	"testing"

	"github.com/deepresearch/engine/internal/provider"
)

func minimalSchema() map[string]interface{} {
	return map[string]interface{}{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type":    "object",
	}
}

func mustSign(t *testing.T, tc ToolCard, secret string) ToolCard {
	t.Helper()
	if tc.InputSchema == nil {
		tc.InputSchema = minimalSchema()
	}
	if tc.OutputSchema == nil {
		tc.OutputSchema = minimalSchema()
	}
	checksum, err := ComputeChecksum(tc)
	if err != nil {
		t.Fatalf("ComputeChecksum: %v", err)
	}
	tc.Checksum = checksum
	sig, err := SignToolCard(tc, secret)
	if err != nil {
		t.Fatalf("SignToolCard: %v", err)
	}
	tc.Signature = sig
	return tc
}

func TestNewRegistryRejectsInvalidSignature(t *testing.T) {
	secret := "top-secret"
	tc := ToolCard{
		Name:         "web_search",
		Version:      "v1",
		Description:  "search tool",
		AgentType:    "sub_agent",
		InputSchema:  minimalSchema(),
		OutputSchema: minimalSchema(),
	}
	checksum, err := ComputeChecksum(tc)
	if err != nil {
		t.Fatalf("ComputeChecksum: %v", err)
	}
	tc.Checksum = checksum
	tc.Signature = "deadbeef"

	if _, err := NewRegistry([]ToolCard{tc}, secret, []string{"web_search"}); err == nil {
		t.Fatalf("expected signature validation to fail")
	}
}

func TestNewRegistryEnforcesRequiredTools(t *testing.T) {
	secret := "top-secret"
	webSearch := mustSign(t, ToolCard{
		Name:        "web_search",
		Version:     "v1",
		AgentType:   "sub_agent",
		Description: "search tool",
	}, secret)

	cards := []ToolCard{webSearch}
	if _, err := NewRegistry(cards, secret, []string{"web_search", "file"}); err == nil {
		t.Fatalf("expected missing required tool to error")
	}
}

func TestNewRegistryPrefersLatestVersionPerTool(t *testing.T) {
	secret := "top-secret"
	old := mustSign(t, ToolCard{
		Name:      "web_search",
		Version:   "v1",
		AgentType: "sub_agent",
	}, secret)
	newer := mustSign(t, ToolCard{
		Name:      "web_search",
		Version:   "v1.1",
		AgentType: "sub_agent",
	}, secret)

	reg, err := NewRegistry([]ToolCard{old, newer}, secret, []string{"web_search"})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	tool, ok := reg.Tool("web_search")
	if !ok {
		t.Fatalf("expected web_search tool to exist")
	}
	if tool.Version != "v1.1" {
		t.Fatalf("expected latest version, got %s", tool.Version)
	}
}

func TestFromToolSpecsTagsAgentTypeAndSideEffects(t *testing.T) {
	specs := []provider.ToolSpec{
		{Name: "web_search", Description: "search", InputSchema: minimalSchema()},
		{Name: "wait_for_agents", Description: "wait", InputSchema: minimalSchema()},
	}
	cards := FromToolSpecs("sub_agent", specs)
	if len(cards) != 2 {
		t.Fatalf("expected 2 cards, got %d", len(cards))
	}
	if cards[0].AgentType != "sub_agent" {
		t.Fatalf("expected agent type sub_agent, got %s", cards[0].AgentType)
	}
	if len(cards[0].SideEffects) == 0 || cards[0].SideEffects[0] != "network" {
		t.Fatalf("expected web_search to carry a network side effect, got %v", cards[0].SideEffects)
	}
}

func TestSignAllComputesChecksumAndSignature(t *testing.T) {
	cards := []ToolCard{{Name: "file", Version: "v1", InputSchema: minimalSchema(), OutputSchema: minimalSchema()}}
	signed, err := SignAll(cards, "top-secret")
	if err != nil {
		t.Fatalf("SignAll: %v", err)
	}
	if signed[0].Checksum == "" {
		t.Fatalf("expected a checksum to be computed")
	}
	if signed[0].Signature == "" {
		t.Fatalf("expected a signature to be computed")
	}

	if _, err := NewRegistry(signed, "top-secret", []string{"file"}); err != nil {
		t.Fatalf("signed cards should validate: %v", err)
	}
}
