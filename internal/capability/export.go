package capability

import (
	"github.com/deepresearch/engine/internal/tools"
)

// BuildRegistry assembles and signs the orchestrator and sub-agent tool
// catalogs into a Registry suitable for serving /toolcards. signingSecret
// may be empty, in which case cards are checksummed but not signed.
func BuildRegistry(signingSecret string) (*Registry, error) {
	cards := FromToolSpecs("orchestrator", tools.OrchestratorCatalog())
	cards = append(cards, FromToolSpecs("sub_agent", tools.SubAgentCatalog())...)

	signed, err := SignAll(cards, signingSecret)
	if err != nil {
		return nil, err
	}
	return NewRegistry(signed, signingSecret, nil)
}
