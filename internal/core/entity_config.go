package core

// entity_config.go loads entity column configuration from YAML.
//
// The YAML document lists every entity with its ordered fields, synonyms,
// enum values, clamp bounds, natural keys and export order. Keeping this as
// data lets the header mapper and validator stay generic.

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type entityFile struct {
	Entities []entityDoc `yaml:"entities"`
}

type entityDoc struct {
	Name              string `yaml:"name"`
	Table             string `yaml:"table"`
	UpdateOnDuplicate bool   `yaml:"update_on_duplicate"`
	Timestamps        struct {
		Created  string `yaml:"created"`
		Modified string `yaml:"modified"`
	} `yaml:"timestamps"`
	NaturalKeys []struct {
		Fields          []string `yaml:"fields"`
		CaseInsensitive bool     `yaml:"case_insensitive"`
	} `yaml:"natural_keys"`
	ExportFields []string   `yaml:"export_fields"`
	Fields       []fieldDoc `yaml:"fields"`
}

type fieldDoc struct {
	Name     string   `yaml:"name"`
	Type     string   `yaml:"type"`
	Required bool     `yaml:"required"`
	Values   []string `yaml:"values"`
	Min      *float64 `yaml:"min"`
	Max      *float64 `yaml:"max"`
	Synonyms []string `yaml:"synonyms"`
}

var fieldTypes = map[string]FieldType{
	"text":     FieldText,
	"enum":     FieldEnum,
	"date":     FieldDate,
	"datetime": FieldDateTime,
	"number":   FieldNumber,
	"integer":  FieldInteger,
	"bool":     FieldBool,
	"list":     FieldList,
}

// ParseEntityConfigs decodes a YAML entity table and validates every entity.
func ParseEntityConfigs(data []byte) ([]*EntityConfig, error) {
	var doc entityFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse entity config: %w", err)
	}
	if len(doc.Entities) == 0 {
		return nil, errors.New("parse entity config: no entities defined")
	}

	cfgs := make([]*EntityConfig, 0, len(doc.Entities))
	for _, ed := range doc.Entities {
		cfg := &EntityConfig{
			Name:              ed.Name,
			Table:             ed.Table,
			UpdateOnDuplicate: ed.UpdateOnDuplicate,
			ExportFields:      ed.ExportFields,
			Timestamps: TimestampFields{
				Created:  ed.Timestamps.Created,
				Modified: ed.Timestamps.Modified,
			},
		}
		if cfg.Table == "" {
			cfg.Table = cfg.Name
		}

		for _, nk := range ed.NaturalKeys {
			cfg.NaturalKeys = append(cfg.NaturalKeys, NaturalKey{
				Fields:          nk.Fields,
				CaseInsensitive: nk.CaseInsensitive,
			})
		}

		for _, fd := range ed.Fields {
			ft, ok := fieldTypes[strings.ToLower(fd.Type)]
			if !ok && fd.Type != "" {
				return nil, fmt.Errorf("entity %s: field %s: unknown type %q", ed.Name, fd.Name, fd.Type)
			}
			cfg.Fields = append(cfg.Fields, FieldSpec{
				Name:       fd.Name,
				Type:       ft,
				Required:   fd.Required,
				EnumValues: fd.Values,
				Min:        fd.Min,
				Max:        fd.Max,
				Synonyms:   fd.Synonyms,
			})
		}

		if err := cfg.init(); err != nil {
			return nil, fmt.Errorf("entity %s: %w", ed.Name, err)
		}
		cfgs = append(cfgs, cfg)
	}

	return cfgs, nil
}

// LoadEntityConfigFile reads and parses an entity table from disk.
func LoadEntityConfigFile(path string) ([]*EntityConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read entity config: %w", err)
	}
	return ParseEntityConfigs(data)
}

// init builds the field index and checks the config invariants.
func (c *EntityConfig) init() error {
	if c.Name == "" {
		return errors.New("missing entity name")
	}
	if c.Table == "" {
		c.Table = c.Name
	}
	if c.Timestamps.Created == "" {
		c.Timestamps.Created = "created_time"
	}
	if c.Timestamps.Modified == "" {
		c.Timestamps.Modified = "modified_time"
	}

	c.index = make(map[string]int, len(c.Fields))
	for i, f := range c.Fields {
		if f.Name == "" {
			return fmt.Errorf("field %d has no name", i)
		}
		if _, dup := c.index[f.Name]; dup {
			return fmt.Errorf("duplicate field %s", f.Name)
		}
		if f.Type == FieldEnum && len(f.EnumValues) == 0 {
			return fmt.Errorf("enum field %s has no values", f.Name)
		}
		if f.Type != FieldEnum && len(f.EnumValues) > 0 {
			return fmt.Errorf("field %s has enum values but is not an enum", f.Name)
		}
		if (f.Min != nil || f.Max != nil) && !f.Numeric() {
			return fmt.Errorf("field %s has bounds but is not numeric", f.Name)
		}
		if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
			return fmt.Errorf("field %s: min %v > max %v", f.Name, *f.Min, *f.Max)
		}
		c.index[f.Name] = i
	}

	if err := c.checkSynonyms(); err != nil {
		return err
	}

	for _, nk := range c.NaturalKeys {
		if len(nk.Fields) == 0 {
			return errors.New("empty natural key")
		}
		for _, name := range nk.Fields {
			if !c.HasField(name) {
				return fmt.Errorf("natural key field %s is not a column", name)
			}
		}
	}

	if len(c.ExportFields) == 0 {
		c.ExportFields = append([]string{}, c.AllowedColumns()...)
	}
	for _, name := range c.ExportFields {
		if !c.HasField(name) && !IsSystemField(name) {
			return fmt.Errorf("export field %s is neither a column nor a system field", name)
		}
	}

	return nil
}
