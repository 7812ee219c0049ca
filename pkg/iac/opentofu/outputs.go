package opentofu

import (
	"encoding/json"
	"fmt"

	"github.com/davidthor/vmprov/pkg/iac"
)

// TFOutputs represents the document printed by `terraform output -json`.
type TFOutputs map[string]TFOutput

// TFOutput represents a single Terraform output.
type TFOutput struct {
	Value     interface{} `json:"value"`
	Type      interface{} `json:"type"`
	Sensitive bool        `json:"sensitive"`
}

// ParseOutputs decodes `output -json` text into output values.
func ParseOutputs(data string) (map[string]iac.OutputValue, error) {
	var tfOutputs TFOutputs
	if err := json.Unmarshal([]byte(data), &tfOutputs); err != nil {
		return nil, fmt.Errorf("failed to parse outputs: %w", err)
	}

	outputs := make(map[string]iac.OutputValue, len(tfOutputs))
	for k, v := range tfOutputs {
		outputs[k] = iac.OutputValue{
			Value:     v.Value,
			Sensitive: v.Sensitive,
		}
	}

	return outputs, nil
}
