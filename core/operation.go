package core

// OperationDefinition describes one bridge operation for discovery.
// The tools package builds the catalogue; transports serve it.
type OperationDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`

	// Mutating marks operations that change coordination state.
	Mutating bool `json:"mutating"`
}
