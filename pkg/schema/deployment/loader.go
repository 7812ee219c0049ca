package deployment

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/davidthor/vmprov/pkg/errors"
)

// LoadFile reads a deployment config from a YAML or JSON file. The format is
// chosen by extension; anything other than .json is parsed as YAML.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		return DecodeJSON(bytes.NewReader(data))
	}
	return DecodeYAML(data)
}

// DecodeJSON decodes a config in the wire format used by the HTTP API.
// A value of the wrong primitive type is reported as a ConfigurationError
// naming the field.
func DecodeJSON(r io.Reader) (*Config, error) {
	var cfg Config
	if err := json.NewDecoder(r).Decode(&cfg); err != nil {
		var typeErr *json.UnmarshalTypeError
		if stderrors.As(err, &typeErr) {
			return nil, errors.ConfigurationError(typeErr.Field,
				fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value))
		}
		return nil, errors.Wrap(errors.ErrCodeConfiguration, "failed to decode deployment config", err)
	}
	return &cfg, nil
}

// DecodeYAML decodes a config written as YAML.
func DecodeYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfiguration, "failed to decode deployment config", err)
	}
	return &cfg, nil
}
