package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
// Returns an error if required values are missing or validation fails.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration and panics on error.
// Use this only in main() where early termination is desired.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Struct fields are bound to the environment with tags:
//
//	env:"NAME"      variable to read
//	envAlt:"NAME"   fallback variable when the first is unset
//	default:"VAL"   value used when neither is set
//
// Supported field types are string, int, int64, bool, time.Duration and
// []string (comma separated).

var (
	durationType    = reflect.TypeOf(time.Duration(0))
	stringSliceType = reflect.TypeOf([]string(nil))
)

// loadStruct fills the tagged fields of v and its nested structs. Every bad
// value is reported, not only the first.
func loadStruct(v reflect.Value) error {
	var errs []error
	walkFields(v, "", func(path string, field reflect.StructField, fv reflect.Value) {
		name, value := lookupEnv(field.Tag)
		if value == "" {
			return
		}
		if err := setField(fv, value); err != nil {
			errs = append(errs, fmt.Errorf("%s (%s=%q): %w", path, name, value, err))
		}
	})
	return errors.Join(errs...)
}

// walkFields calls fn for every settable field that carries an env tag.
func walkFields(v reflect.Value, prefix string, fn func(path string, field reflect.StructField, fv reflect.Value)) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fv := v.Field(i)
		if !fv.CanSet() {
			continue
		}

		path := field.Name
		if prefix != "" {
			path = prefix + "." + field.Name
		}

		if field.Type.Kind() == reflect.Struct {
			walkFields(fv, path, fn)
			continue
		}
		if field.Tag.Get("env") != "" {
			fn(path, field, fv)
		}
	}
}

// lookupEnv resolves a field's value from its env, envAlt and default tags.
// The returned name is the variable the value is attributed to in errors.
func lookupEnv(tag reflect.StructTag) (name, value string) {
	name = tag.Get("env")
	if value = os.Getenv(name); value != "" {
		return name, value
	}
	if alt := tag.Get("envAlt"); alt != "" {
		if value = os.Getenv(alt); value != "" {
			return alt, value
		}
	}
	return name, tag.Get("default")
}

// setField parses value into the field according to its type.
func setField(field reflect.Value, value string) error {
	switch field.Type() {
	case durationType:
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		field.SetInt(int64(d))
		return nil
	case stringSliceType:
		field.Set(reflect.ValueOf(splitList(value)))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int64:
		i, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(i)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}

// splitList splits a comma separated value, dropping blank entries.
func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Database validation
	validDrivers := map[string]bool{"memory": true, "postgres": true, "postgresql": true, "pgx": true, "sqlite": true, "sqlite3": true, "mysql": true}
	driver := strings.ToLower(c.Database.Driver)
	if !validDrivers[driver] {
		errs = append(errs, fmt.Sprintf("DB_DRIVER (%q) must be one of: memory, postgres, sqlite, mysql", c.Database.Driver))
	}
	if driver != "memory" && c.Database.URL == "" {
		errs = append(errs, "DATABASE_URL is required unless DB_DRIVER=memory")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
			c.Database.MaxConns, c.Database.MinConns))
	}
	if c.Database.MaxConns <= 0 {
		errs = append(errs, "DB_MAX_CONNS must be positive")
	}
	if c.Database.MinConns < 0 {
		errs = append(errs, "DB_MIN_CONNS must be non-negative")
	}

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Import validation
	if c.Import.MaxFileSize <= 0 {
		errs = append(errs, "IMPORT_MAX_FILE_SIZE must be positive")
	}
	if c.Import.MaxConcurrent <= 0 {
		errs = append(errs, "IMPORT_MAX_CONCURRENT must be positive")
	}
	if c.Import.MaxWaitTime <= 0 {
		errs = append(errs, "IMPORT_MAX_WAIT_TIME must be positive")
	}
	if c.Import.Timeout <= 0 {
		errs = append(errs, "IMPORT_TIMEOUT must be positive")
	}
	if c.Import.ThrottleEvery < 0 {
		errs = append(errs, "IMPORT_THROTTLE_EVERY must be non-negative")
	}
	if c.Import.ThrottleEvery > 0 && c.Import.ThrottleDelay <= 0 {
		errs = append(errs, "IMPORT_THROTTLE_DELAY must be positive when throttling is enabled")
	}
	if strings.TrimSpace(c.Import.DefaultActor) == "" {
		errs = append(errs, "IMPORT_DEFAULT_ACTOR must not be blank")
	}

	// Export validation
	if c.Export.Endpoint != "" && (c.Export.AccessKey == "" || c.Export.SecretKey == "") {
		errs = append(errs, "EXPORT_S3_ACCESS_KEY and EXPORT_S3_SECRET_KEY are required when EXPORT_S3_ENDPOINT is set")
	}
	if c.Export.LinkExpiry <= 0 || c.Export.LinkExpiry > 7*24*time.Hour {
		errs = append(errs, "EXPORT_LINK_EXPIRY must be between 1s and 168h")
	}

	// Queue validation
	if c.Queue.Enabled() && c.Queue.ImportQueue == "" {
		errs = append(errs, "QUEUE_IMPORT_NAME is required when QUEUE_URL is set")
	}
	if c.Queue.Prefetch < 0 {
		errs = append(errs, "QUEUE_PREFETCH must be non-negative")
	}

	// Rate limit validation
	if c.Rate.Enabled && c.Rate.RequestsPerMinute <= 0 {
		errs = append(errs, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	}
	if c.Rate.Enabled && c.Rate.ImportLimit <= 0 {
		errs = append(errs, "RATE_LIMIT_IMPORT must be positive when rate limiting is enabled")
	}

	// Security validation
	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, "REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
	}
	for _, k := range c.Security.APIKeys {
		if name, key, ok := strings.Cut(k, ":"); !ok || name == "" || key == "" {
			errs = append(errs, "API_KEYS entries must be name:key pairs")
			break
		}
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// APIKeyActors parses API_KEYS into key -> actor name.
func (c *SecurityConfig) APIKeyActors() map[string]string {
	out := make(map[string]string, len(c.APIKeys))
	for _, k := range c.APIKeys {
		if name, key, ok := strings.Cut(k, ":"); ok && name != "" && key != "" {
			out[key] = name
		}
	}
	return out
}

// String returns a safe string representation of the config for logging.
// Sensitive values like database URLs and keys are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port))
	b.WriteString(fmt.Sprintf("Database: {Driver: %q, URL: [MASKED], MaxConns: %d, MinConns: %d}, ",
		c.Database.Driver, c.Database.MaxConns, c.Database.MinConns))
	b.WriteString(fmt.Sprintf("Import: {MaxFileSize: %d, MaxConcurrent: %d, Timeout: %s}, ",
		c.Import.MaxFileSize, c.Import.MaxConcurrent, c.Import.Timeout))
	b.WriteString(fmt.Sprintf("Export: {Archive: %v, Bucket: %q}, ", c.Export.Enabled(), c.Export.Bucket))
	b.WriteString(fmt.Sprintf("Queue: {Enabled: %v, ImportQueue: %q}, ", c.Queue.Enabled(), c.Queue.ImportQueue))
	b.WriteString(fmt.Sprintf("Rate: {Enabled: %v, RequestsPerMinute: %d}, ",
		c.Rate.Enabled, c.Rate.RequestsPerMinute))
	b.WriteString(fmt.Sprintf("Security: {RequireAPIKey: %v, APIKeys: %d}, ",
		c.Security.RequireAPIKey, len(c.Security.APIKeys)))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}
