package core

// DefaultMaxTransfers bounds the number of loop iterations per turn when a
// graph does not configure its own limit.
const DefaultMaxTransfers = 10

// ModelSettings names the models an agent or graph uses. Values are keys
// into a model.Provider.
type ModelSettings struct {
	Base       string `json:"base,omitempty" yaml:"base"`
	Summarizer string `json:"summarizer,omitempty" yaml:"summarizer"`
}

// StatusComponent is one kind of structured status update a graph can emit.
// DetailsSchema is a JSON-schema object describing the details payload.
type StatusComponent struct {
	Type          string         `json:"type" yaml:"type"`
	Description   string         `json:"description,omitempty" yaml:"description"`
	DetailsSchema map[string]any `json:"detailsSchema,omitempty" yaml:"details_schema"`
}

// StatusUpdateConfig is the per-graph status update policy. NumEvents and
// TimeInSeconds are independent triggers; zero disables a trigger.
type StatusUpdateConfig struct {
	Enabled       bool              `json:"enabled" yaml:"enabled"`
	NumEvents     int               `json:"numEvents,omitempty" yaml:"num_events"`
	TimeInSeconds int               `json:"timeInSeconds,omitempty" yaml:"time_in_seconds"`
	Prompt        string            `json:"prompt,omitempty" yaml:"prompt"`
	Components    []StatusComponent `json:"statusComponents,omitempty" yaml:"status_components"`
}

// GraphConfig is the configuration of an agent graph loaded per turn.
type GraphConfig struct {
	ID             string              `json:"id" yaml:"id"`
	DefaultAgentID string              `json:"defaultAgentId,omitempty" yaml:"default_agent_id"`
	MaxTransfers   int                 `json:"maxTransfers,omitempty" yaml:"max_transfers"`
	StatusUpdates  *StatusUpdateConfig `json:"statusUpdates,omitempty" yaml:"status_updates"`
	Models         ModelSettings       `json:"models,omitempty" yaml:"models"`
}

// TransferLimit returns the configured transfer budget or the default.
func (g *GraphConfig) TransferLimit() int {
	if g == nil || g.MaxTransfers <= 0 {
		return DefaultMaxTransfers
	}
	return g.MaxTransfers
}

// AgentConfig is the stored configuration of an agent.
type AgentConfig struct {
	ID          string        `json:"id" yaml:"id"`
	Name        string        `json:"name" yaml:"name"`
	Description string        `json:"description,omitempty" yaml:"description"`
	Models      ModelSettings `json:"models,omitempty" yaml:"models"`
}
