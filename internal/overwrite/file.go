package overwrite

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// orderFile is the on-disk form of an Order.
type orderFile struct {
	Targets Order `yaml:"targets"`
}

// Load reads an order file written by Save.
func Load(path string) (Order, error) {
	data, err := os.ReadFile(path) // #nosec G304 - order file path is operator configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read order file %s: %w", path, err)
	}

	var file orderFile

	err = yaml.Unmarshal(data, &file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse order file %s: %w", path, err)
	}

	if file.Targets == nil {
		file.Targets = Order{}
	}

	return file.Targets, nil
}

// Save writes the order as YAML, creating parent directories.
func (o Order) Save(path string) error {
	err := os.MkdirAll(filepath.Dir(path), 0o750)
	if err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	data, err := yaml.Marshal(orderFile{Targets: o})
	if err != nil {
		return fmt.Errorf("failed to encode order file %s: %w", path, err)
	}

	err = os.WriteFile(path, data, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write order file %s: %w", path, err)
	}

	return nil
}
