package llm

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Backend families. Each family has its own incompatible wire schema and
// its own client implementation.
const (
	FamilyAnthropic = "anthropic"
	FamilyOpenAI    = "openai"
)

// DefaultModelKey is used when the request omits a model key. It maps to
// the lightest backend in the table.
const DefaultModelKey = "nova-lite"

// ModelSpec binds a caller-facing model key to a backend.
type ModelSpec struct {
	// BackendID is the provider-side model identifier sent on the wire.
	BackendID string `yaml:"backend_id"`

	// Family selects the client implementation and wire schema.
	Family string `yaml:"family"`
}

// ErrUnknownModel is returned when a model key is outside the fixed set.
// Callers treat it as a validation failure, before any frame is written.
var ErrUnknownModel = fmt.Errorf("unknown model key")

// defaultModelTable is the built-in model key table. The set is closed:
// a key outside it fails validation rather than passing through to a
// backend.
var defaultModelTable = map[string]ModelSpec{
	"claude-haiku":  {BackendID: "claude-3-5-haiku-20241022", Family: FamilyAnthropic},
	"claude-sonnet": {BackendID: "claude-sonnet-4-20250514", Family: FamilyAnthropic},
	"nova-lite":     {BackendID: "nova-lite-v1", Family: FamilyOpenAI},
	"nova-pro":      {BackendID: "nova-pro-v1", Family: FamilyOpenAI},
}

// ModelTable maps caller-facing model keys to backend specs.
type ModelTable map[string]ModelSpec

// DefaultModelTable returns a copy of the built-in table.
func DefaultModelTable() ModelTable {
	table := make(ModelTable, len(defaultModelTable))
	for k, v := range defaultModelTable {
		table[k] = v
	}
	return table
}

// LoadModelTable reads a YAML model table from path. The file maps model
// keys to {backend_id, family} pairs and replaces the built-in table
// entirely, so deployments can retarget backends without a rebuild.
func LoadModelTable(path string) (ModelTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model table %s: %w", path, err)
	}
	var table ModelTable
	if err := yaml.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("parsing model table %s: %w", path, err)
	}
	if len(table) == 0 {
		return nil, fmt.Errorf("model table %s is empty", path)
	}
	for key, spec := range table {
		if spec.BackendID == "" {
			return nil, fmt.Errorf("model table %s: key %q has no backend_id", path, key)
		}
		if spec.Family != FamilyAnthropic && spec.Family != FamilyOpenAI {
			return nil, fmt.Errorf("model table %s: key %q has unknown family %q", path, key, spec.Family)
		}
	}
	return table, nil
}

// Resolve maps a model key to its backend spec.
func (t ModelTable) Resolve(key string) (ModelSpec, error) {
	spec, ok := t[key]
	if !ok {
		return ModelSpec{}, fmt.Errorf("%w: %q", ErrUnknownModel, key)
	}
	return spec, nil
}
