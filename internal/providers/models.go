// Package providers holds the static catalog backing the "/models"
// resource of §4.7: every (provider, model) pair a session can bind to
// via ModelProvider/ModelID. The reference loads this catalog from an
// embedded models.dev snapshot (models-dev-api.json); that snapshot
// was never part of this retrieval, so the catalog here is a small,
// explicit table instead of a parsed third-party document — still
// keyed and shaped exactly the way the reference's ModelInfo is, so a
// real models.dev snapshot could replace this table without touching
// any caller.
package providers

// ModelInfo describes one selectable model.
type ModelInfo struct {
	ID          string `json:"id"` // "<provider>:<model>", matches Session.ModelProvider+":"+Session.ModelID
	Provider    string `json:"provider"`
	Name        string `json:"name"`
	Family      string `json:"family,omitempty"`
	Description string `json:"description,omitempty"`
	Reasoning   bool   `json:"reasoning"`
}

// catalog is the fixed set of models this relay offers. Ordered for
// stable /models output.
var catalog = []ModelInfo{
	{ID: "anthropic:claude-opus-4", Provider: "anthropic", Name: "Claude Opus 4", Family: "claude-4", Reasoning: true},
	{ID: "anthropic:claude-sonnet-4", Provider: "anthropic", Name: "Claude Sonnet 4", Family: "claude-4", Reasoning: true},
	{ID: "anthropic:claude-haiku-4", Provider: "anthropic", Name: "Claude Haiku 4", Family: "claude-4"},
	{ID: "openai:gpt-5", Provider: "openai", Name: "GPT-5", Family: "gpt-5", Reasoning: true},
	{ID: "openai:gpt-5-mini", Provider: "openai", Name: "GPT-5 Mini", Family: "gpt-5"},
	{ID: "mock:echo", Provider: "mock", Name: "Echo (testing)", Family: "mock"},
}

// All returns the full model catalog.
func All() []ModelInfo {
	out := make([]ModelInfo, len(catalog))
	copy(out, catalog)
	return out
}

// ForProviders filters the catalog down to the given provider IDs. A
// nil or empty providerIDs returns the full catalog, matching the
// reference's GetModelsForProviders semantics when called with no
// narrowing filter.
func ForProviders(providerIDs []string) []ModelInfo {
	if len(providerIDs) == 0 {
		return All()
	}
	want := make(map[string]bool, len(providerIDs))
	for _, id := range providerIDs {
		want[id] = true
	}
	var out []ModelInfo
	for _, m := range catalog {
		if want[m.Provider] {
			out = append(out, m)
		}
	}
	return out
}

// Get returns the model with the given fully-qualified ID, or false.
func Get(id string) (ModelInfo, bool) {
	for _, m := range catalog {
		if m.ID == id {
			return m, true
		}
	}
	return ModelInfo{}, false
}
