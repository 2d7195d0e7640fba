package registry

import "encoding/json"

// Descriptor is a validated tool definition bound to one upstream index.
type Descriptor struct {
	Name        string
	Description string
	IndexID     string
	// Preset is passed to the upstream verbatim. Nil when the stored
	// value was absent or empty.
	Preset json.RawMessage
}

// Row is a stored tool configuration as read from the database. Config is
// normally an object but legacy rows may hold a JSON string wrapping one.
type Row struct {
	IndexID string
	Config  json.RawMessage
}

// ToolConfig is the sanitized shape written by the settings endpoint.
type ToolConfig struct {
	ToolName                  string          `json:"tool_name,omitempty"`
	ToolDescription           string          `json:"tool_description,omitempty"`
	PresetRetrievalParameters json.RawMessage `json:"preset_retrieval_parameters,omitempty"`
}
