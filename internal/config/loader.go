package config

// loader.go fills Config from the environment.
//
// Every leaf field names its variable with struct tags:
//
//	env       primary variable, e.g. EN_PRIVATE_TOKEN
//	envAlt    fallback variable, e.g. DB_URL for DATABASE_URL
//	default   value used when neither is set
//	required  "true" to fail when no value is found
//
// Sections are plain nested structs (ENAPI, Backup, Download, Database,
// Server, Security, Logging) and are walked recursively. An empty variable
// counts as unset. Problems with individual variables are collected and
// reported together, then Validate checks how the values fit together.

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/htmlindex"
)

var durationType = reflect.TypeOf(time.Duration(0))

// Load reads configuration from environment variables, applies defaults
// and validates the result.
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

// loadStruct populates the tagged fields of v and of its nested sections.
func loadStruct(v reflect.Value) error {
	var errs []error

	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)
		if !fieldVal.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct {
			if err := loadStruct(fieldVal); err != nil {
				errs = append(errs, err)
			}
			continue
		}

		name, value, ok := lookupEnv(field.Tag)
		if !ok {
			continue
		}
		if value == "" {
			if field.Tag.Get("required") == "true" {
				errs = append(errs, fmt.Errorf("required environment variable %s is not set", name))
			}
			continue
		}

		if err := setField(fieldVal, value); err != nil {
			errs = append(errs, fmt.Errorf("invalid value for %s=%q: %w", name, value, err))
		}
	}

	return errors.Join(errs...)
}

// lookupEnv resolves a field's value from its tags. name is the variable
// the value came from, or the primary one when the default applied. ok is
// false for fields without an env tag.
func lookupEnv(tag reflect.StructTag) (name, value string, ok bool) {
	name = tag.Get("env")
	if name == "" {
		return "", "", false
	}
	if v := os.Getenv(name); v != "" {
		return name, v, true
	}
	if alt := tag.Get("envAlt"); alt != "" {
		if v := os.Getenv(alt); v != "" {
			return alt, v, true
		}
	}
	return name, tag.Get("default"), true
}

// setField parses value into field according to its type.
func setField(field reflect.Value, value string) error {
	switch {
	case field.Type() == durationType:
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		field.SetInt(int64(d))

	case field.Kind() == reflect.String:
		field.SetString(value)

	case field.Kind() == reflect.Int, field.Kind() == reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(n)

	case field.Kind() == reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.String:
		// Comma-separated, blanks dropped.
		var items []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		field.Set(reflect.ValueOf(items))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Type())
	}

	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// EN validation
	if _, err := c.ENAPI.Delimiter(); err != nil {
		errs = append(errs, fmt.Sprintf("EN_CSV_DELIMITER: %v", err))
	}
	if _, err := time.LoadLocation(c.ENAPI.TimeZone); err != nil {
		errs = append(errs, fmt.Sprintf("EN_TIME_ZONE (%q) is not a known time zone", c.ENAPI.TimeZone))
	}
	if c.ENAPI.Charset != "" {
		if _, err := htmlindex.Get(c.ENAPI.Charset); err != nil {
			errs = append(errs, fmt.Sprintf("EN_CHARSET (%q) is not a supported charset", c.ENAPI.Charset))
		}
	}
	if c.ENAPI.RequestTimeout < 0 {
		errs = append(errs, "EN_REQUEST_TIMEOUT must be non-negative")
	}
	if c.ENAPI.MaxLookbackDays < 0 {
		errs = append(errs, "EN_MAX_LOOKBACK_DAYS must be non-negative")
	}

	// Backup validation
	if c.Backup.Dir != "" && c.Backup.S3Bucket != "" {
		errs = append(errs, "BACKUP_DIR and BACKUP_S3_BUCKET are mutually exclusive")
	}
	if strings.ContainsAny(c.Backup.FileName, `/\`) {
		errs = append(errs, "BACKUP_FILE_NAME must not contain path separators")
	}

	// Download validation
	if c.Download.MaxConcurrent <= 0 {
		errs = append(errs, "DOWNLOAD_MAX_CONCURRENT must be positive")
	}
	if c.Download.MaxWaitTime <= 0 {
		errs = append(errs, "DOWNLOAD_MAX_WAIT_TIME must be positive")
	}
	if c.Download.ChunkSize <= 0 {
		errs = append(errs, "DOWNLOAD_CHUNK_SIZE must be positive")
	}
	if c.Download.RecordQueue < 0 {
		errs = append(errs, "DOWNLOAD_RECORD_QUEUE must be non-negative")
	}
	if c.Download.BackupQueue < 0 {
		errs = append(errs, "DOWNLOAD_BACKUP_QUEUE must be non-negative")
	}

	// Database validation, only when storage is enabled
	if c.Database.Enabled() {
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
		if c.Database.CopyBatchSize <= 0 {
			errs = append(errs, "DB_COPY_BATCH_SIZE must be positive")
		}
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

	// Security validation
	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, "REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
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

// String returns a safe string representation of the config for logging.
// Tokens and database URLs are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("ENAPI: {PrivateToken: %s, PublicToken: %s, BaseURL: %q, TimeZone: %q, Delimiter: %q, Charset: %q}, ",
		mask(c.ENAPI.PrivateToken), mask(c.ENAPI.PublicToken), c.ENAPI.BaseURL, c.ENAPI.TimeZone,
		c.ENAPI.CSVDelimiter, c.ENAPI.Charset))
	b.WriteString(fmt.Sprintf("Backup: {Dir: %q, S3Bucket: %q}, ", c.Backup.Dir, c.Backup.S3Bucket))
	b.WriteString(fmt.Sprintf("Download: {MaxConcurrent: %d, ChunkSize: %d, RecordQueue: %d}, ",
		c.Download.MaxConcurrent, c.Download.ChunkSize, c.Download.RecordQueue))
	b.WriteString(fmt.Sprintf("Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port))
	b.WriteString(fmt.Sprintf("Database: {URL: %s, MaxConns: %d, MinConns: %d}, ",
		mask(c.Database.URL), c.Database.MaxConns, c.Database.MinConns))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}

func mask(s string) string {
	if s == "" {
		return "[UNSET]"
	}
	return "[MASKED]"
}
