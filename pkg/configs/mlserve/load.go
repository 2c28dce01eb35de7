package mlserve

import (
	"fmt"
	"os"

	domerr "github.com/opst/mlserve/pkg/domain/errors"
	xe "github.com/opst/mlserve/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Load reads config from a file.
func Load(filepath string) (*Config, error) {
	content, err := os.ReadFile(filepath)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	return Unmarshal(content)
}

// Unmarshal parses and verifies a config.
//
// Misconfiguration is reported as an error wrapping ErrInvalidConfig.
func Unmarshal(conf []byte) (out *Config, err error) {
	var m *ConfigMarshall
	if err := yaml.Unmarshal(conf, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", domerr.ErrInvalidConfig, err)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: empty", domerr.ErrInvalidConfig)
	}

	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("%w: %v", domerr.ErrInvalidConfig, r)
		}
	}()
	return TrySeal(m), nil
}
