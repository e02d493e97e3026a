// Package entities registers the CRM entity configs with the core registry.
// Import this package to ensure all entities are registered.
package entities

import (
	_ "embed"
	"fmt"

	"github.com/JonMunkholm/crmport/internal/core"
)

//go:embed entities.yaml
var defaultTable []byte

func init() {
	cfgs, err := core.ParseEntityConfigs(defaultTable)
	if err != nil {
		panic(fmt.Sprintf("embedded entity table: %v", err))
	}
	for _, cfg := range cfgs {
		core.Register(cfg)
	}
}

// DefaultTable returns the embedded entity table as YAML.
func DefaultTable() []byte {
	return append([]byte(nil), defaultTable...)
}

// LoadFile replaces the registered entities with the table at path.
// The registry is left untouched if the file cannot be loaded.
func LoadFile(path string) error {
	cfgs, err := core.LoadEntityConfigFile(path)
	if err != nil {
		return err
	}

	core.Clear()
	for _, cfg := range cfgs {
		core.Register(cfg)
	}
	return nil
}
