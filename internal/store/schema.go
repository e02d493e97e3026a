package store

import (
	"fmt"
	"strings"

	"github.com/JonMunkholm/crmport/internal/core"
)

// dialect describes how a backend spells DDL.
type dialect struct {
	quote     func(string) string
	seq       string // Auto-increment ordering column definition
	id        string // Primary id column type
	timestamp string
	types     map[core.FieldType]string
}

var postgresTypes = dialect{
	quote:     quoteIdentifier,
	seq:       "BIGSERIAL",
	id:        "TEXT PRIMARY KEY",
	timestamp: "TIMESTAMPTZ",
	types: map[core.FieldType]string{
		core.FieldText:     "TEXT",
		core.FieldEnum:     "TEXT",
		core.FieldDate:     "DATE",
		core.FieldDateTime: "TIMESTAMPTZ",
		core.FieldNumber:   "NUMERIC",
		core.FieldInteger:  "BIGINT",
		core.FieldBool:     "BOOLEAN",
		core.FieldList:     "TEXT[]",
	},
}

var sqliteTypes = dialect{
	quote:     quoteBacktick,
	seq:       "INTEGER PRIMARY KEY AUTOINCREMENT",
	id:        "TEXT NOT NULL UNIQUE",
	timestamp: "TEXT",
	types: map[core.FieldType]string{
		core.FieldText:     "TEXT",
		core.FieldEnum:     "TEXT",
		core.FieldDate:     "TEXT",
		core.FieldDateTime: "TEXT",
		core.FieldNumber:   "REAL",
		core.FieldInteger:  "INTEGER",
		core.FieldBool:     "INTEGER",
		core.FieldList:     "TEXT",
	},
}

var mysqlTypes = dialect{
	quote:     quoteBacktick,
	seq:       "BIGINT AUTO_INCREMENT PRIMARY KEY",
	id:        "VARCHAR(64) NOT NULL UNIQUE",
	timestamp: "VARCHAR(40)",
	types: map[core.FieldType]string{
		core.FieldText:     "TEXT",
		core.FieldEnum:     "VARCHAR(64)",
		core.FieldDate:     "VARCHAR(10)",
		core.FieldDateTime: "VARCHAR(40)",
		core.FieldNumber:   "DOUBLE",
		core.FieldInteger:  "BIGINT",
		core.FieldBool:     "BOOLEAN",
		core.FieldList:     "TEXT",
	},
}

// createTableSQL returns the DDL for an entity: an ordering column, the id,
// every declared column, and the actor and timestamp system columns.
func createTableSQL(cfg *core.EntityConfig, d dialect) string {
	cols := []string{
		d.quote(seqColumn) + " " + d.seq,
		d.quote("id") + " " + d.id,
	}
	for _, f := range cfg.Fields {
		if f.Name == "id" {
			continue
		}
		cols = append(cols, d.quote(f.Name)+" "+d.types[f.Type])
	}
	cols = append(cols,
		d.quote("created_by")+" "+d.types[core.FieldText],
		d.quote("modified_by")+" "+d.types[core.FieldText],
		d.quote(cfg.Timestamps.Created)+" "+d.timestamp,
		d.quote(cfg.Timestamps.Modified)+" "+d.timestamp,
	)

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)",
		d.quote(cfg.Table), strings.Join(cols, ",\n\t"))
}

func quoteBacktick(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
