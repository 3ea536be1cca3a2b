package config

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"
)

// FileName is the base name of the optional config file. Keys in the file
// are the lowercased environment variable names, e.g. "server_port: 9090".
const FileName = "bulkcsv"

// Load reads configuration from environment variables and the optional
// config file in the working directory. It applies defaults for unset
// values and validates the result.
func Load() (*Config, error) {
	return LoadFrom(".")
}

// LoadFrom is Load with the config file searched in the given directories.
// Environment variables take precedence over the file.
func LoadFrom(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(FileName)
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := loadStruct(v, reflect.ValueOf(cfg).Elem()); err != nil {
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

// lookup returns the value of key from the environment or the config file.
func lookup(v *viper.Viper, key string) string {
	_ = v.BindEnv(key)
	return strings.TrimSpace(v.GetString(strings.ToLower(key)))
}

// loadStruct recursively populates struct fields through v.
func loadStruct(v *viper.Viper, val reflect.Value) error {
	t := val.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := val.Field(i)

		if !fieldVal.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(v, fieldVal); err != nil {
				return err
			}
			continue
		}

		envName := field.Tag.Get("env")
		envAlt := field.Tag.Get("envAlt")
		defaultVal := field.Tag.Get("default")
		required := field.Tag.Get("required") == "true"

		if envName == "" {
			continue
		}

		value := lookup(v, envName)
		if value == "" && envAlt != "" {
			value = lookup(v, envAlt)
		}

		if value == "" {
			if required {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = defaultVal
		}

		if value == "" {
			continue
		}

		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				result = append(result, p)
			}
		}
		field.Set(reflect.ValueOf(result))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs *multierror.Error

	// Database
	if c.Database.URL == "" {
		errs = multierror.Append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.Database.MaxConns <= 0 {
		errs = multierror.Append(errs, errors.New("DB_MAX_CONNS must be positive"))
	}
	if c.Database.MinConns < 0 {
		errs = multierror.Append(errs, errors.New("DB_MIN_CONNS must be non-negative"))
	}
	if c.Database.MaxConns < c.Database.MinConns {
		errs = multierror.Append(errs, fmt.Errorf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
			c.Database.MaxConns, c.Database.MinConns))
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = multierror.Append(errs, fmt.Errorf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = multierror.Append(errs, errors.New("SERVER_READ_TIMEOUT must be non-negative"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = multierror.Append(errs, errors.New("SERVER_SHUTDOWN_TIMEOUT must be positive"))
	}

	// Import
	if utf8.RuneCountInString(c.Import.Separator) != 1 {
		errs = multierror.Append(errs, fmt.Errorf("IMPORT_SEPARATOR (%q) must be a single character", c.Import.Separator))
	}
	if utf8.RuneCountInString(c.Import.Quote) != 1 {
		errs = multierror.Append(errs, fmt.Errorf("IMPORT_QUOTE (%q) must be a single character", c.Import.Quote))
	}
	if c.Import.Separator == c.Import.Quote {
		errs = multierror.Append(errs, errors.New("IMPORT_SEPARATOR and IMPORT_QUOTE must differ"))
	}
	if c.Import.CommitInterval <= 0 {
		errs = multierror.Append(errs, errors.New("IMPORT_COMMIT_INTERVAL must be positive"))
	}
	if c.Import.MaxFileSize <= 0 {
		errs = multierror.Append(errs, errors.New("IMPORT_MAX_FILE_SIZE must be positive"))
	}
	if c.Import.MaxConcurrent <= 0 {
		errs = multierror.Append(errs, errors.New("IMPORT_MAX_CONCURRENT must be positive"))
	}
	if c.Import.MaxWaitTime <= 0 {
		errs = multierror.Append(errs, errors.New("IMPORT_MAX_WAIT_TIME must be positive"))
	}
	if c.Import.Timeout <= 0 {
		errs = multierror.Append(errs, errors.New("IMPORT_TIMEOUT must be positive"))
	}
	if c.Import.ResultRetention <= 0 {
		errs = multierror.Append(errs, errors.New("IMPORT_RESULT_RETENTION must be positive"))
	}
	if c.Import.MaxConflictRetries < 0 {
		errs = multierror.Append(errs, errors.New("IMPORT_MAX_CONFLICT_RETRIES must be non-negative"))
	}

	// Export
	if utf8.RuneCountInString(c.Export.Separator) != 1 {
		errs = multierror.Append(errs, fmt.Errorf("EXPORT_SEPARATOR (%q) must be a single character", c.Export.Separator))
	}

	// Rate limit
	if c.Rate.Enabled && c.Rate.RequestsPerMinute <= 0 {
		errs = multierror.Append(errs, errors.New("RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled"))
	}
	if c.Rate.Enabled && c.Rate.ImportLimit <= 0 {
		errs = multierror.Append(errs, errors.New("RATE_LIMIT_IMPORT must be positive when rate limiting is enabled"))
	}

	// Security
	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = multierror.Append(errs, errors.New("REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth"))
	}

	// Logging
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = multierror.Append(errs, fmt.Errorf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = multierror.Append(errs, fmt.Errorf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if errs != nil {
		errs.ErrorFormat = listFormat
	}
	return errs.ErrorOrNil()
}

func listFormat(errs []error) string {
	lines := make([]string, len(errs))
	for i, err := range errs {
		lines[i] = err.Error()
	}
	return "validation failed:\n  - " + strings.Join(lines, "\n  - ")
}

// String returns a safe string representation of the config for logging.
// The database URL and API keys are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port)
	fmt.Fprintf(&b, "Database: {URL: [MASKED], MaxConns: %d, MinConns: %d, AutoMigrate: %v}, ",
		c.Database.MaxConns, c.Database.MinConns, c.Database.AutoMigrate)
	fmt.Fprintf(&b, "Import: {Separator: %q, Quote: %q, CommitInterval: %d, MaxConcurrent: %d}, ",
		c.Import.Separator, c.Import.Quote, c.Import.CommitInterval, c.Import.MaxConcurrent)
	fmt.Fprintf(&b, "Export: {Separator: %q, View: %q}, ", c.Export.Separator, c.Export.View)
	fmt.Fprintf(&b, "Rate: {Enabled: %v, RequestsPerMinute: %d}, ",
		c.Rate.Enabled, c.Rate.RequestsPerMinute)
	fmt.Fprintf(&b, "Security: {RequireAPIKey: %v, APIKeys: %d configured}, ",
		c.Security.RequireAPIKey, len(c.Security.APIKeys))
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}
