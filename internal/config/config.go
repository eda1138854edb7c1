// Package config loads idmerge.yaml.
//
// The YAML document is extracted into CUE, unified with the embedded
// #Config schema (which supplies defaults and constraints) and decoded into
// Config. Unknown fields are rejected.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"

	"github.com/roach88/idmerge/internal/ids"
)

//go:embed config.cue
var schemaSource string

// Environment variables read by Load.
const (
	EnvConfig   = "IDMERGE_CONFIG"
	EnvDatabase = "IDMERGE_DB"
)

// DefaultPath is the config file looked up when none is named.
const DefaultPath = "idmerge.yaml"

// Config is the decoded configuration.
type Config struct {
	Database      string `json:"database"`
	Driver        string `json:"driver"`
	Self          Self   `json:"self"`
	Strict        bool   `json:"strict"`
	LogLevel      string `json:"log_level"`
	BusyTimeoutMS int    `json:"busy_timeout_ms"`
}

// Self identifies the local account.
type Self struct {
	ACI  string `json:"aci,omitempty"`
	E164 string `json:"e164,omitempty"`
}

// SelfACI returns the parsed local ACI, zero if unset.
func (c *Config) SelfACI() ids.ACI {
	if c.Self.ACI == "" {
		return ids.ACI{}
	}
	// The schema already constrained the format.
	aci, err := ids.ParseACI(c.Self.ACI)
	if err != nil {
		return ids.ACI{}
	}
	return aci
}

// SelfE164 returns the parsed local phone number, zero if unset.
func (c *Config) SelfE164() ids.E164 {
	if c.Self.E164 == "" {
		return ""
	}
	e164, err := ids.ParseE164(c.Self.E164)
	if err != nil {
		return ""
	}
	return e164
}

// Level maps LogLevel to a slog level.
func (c *Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ValidationError is one schema violation.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// Error collects every violation found in one file.
type Error struct {
	File   string
	Errors []ValidationError
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, v := range e.Errors {
		switch {
		case v.Field != "" && v.Line > 0:
			parts = append(parts, fmt.Sprintf("%s:%d: %s: %s", e.File, v.Line, v.Field, v.Message))
		case v.Field != "":
			parts = append(parts, fmt.Sprintf("%s: %s: %s", e.File, v.Field, v.Message))
		default:
			parts = append(parts, fmt.Sprintf("%s: %s", e.File, v.Message))
		}
	}
	return "invalid config: " + strings.Join(parts, "; ")
}

// ResolvePath picks the config file: an explicit path, then $IDMERGE_CONFIG,
// then DefaultPath if it exists. An empty result means built-in defaults.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv(EnvConfig); env != "" {
		return env
	}
	if _, err := os.Stat(DefaultPath); err == nil {
		return DefaultPath
	}
	return ""
}

// Load reads and validates the file at path, then applies environment
// overrides. An empty path yields the schema defaults.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg, err := Parse(path, data)
	if err != nil {
		return nil, err
	}
	if db := os.Getenv(EnvDatabase); db != "" {
		cfg.Database = db
	}
	return cfg, nil
}

// Parse validates a YAML document against the schema. filename is used in
// error positions only.
func Parse(filename string, data []byte) (*Config, error) {
	if filename == "" {
		filename = DefaultPath
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("config.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}
	v := schema.LookupPath(cue.ParsePath("#Config"))

	if len(bytes.TrimSpace(data)) > 0 {
		file, err := cueyaml.Extract(filename, data)
		if err != nil {
			return nil, &Error{File: filename, Errors: toValidationErrors(err)}
		}
		doc := ctx.BuildFile(file)
		if err := doc.Err(); err != nil {
			return nil, &Error{File: filename, Errors: toValidationErrors(err)}
		}
		v = v.Unify(doc)
	}

	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, &Error{File: filename, Errors: toValidationErrors(err)}
	}

	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// toValidationErrors flattens a CUE error list.
func toValidationErrors(err error) []ValidationError {
	var out []ValidationError
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		ve := ValidationError{
			Field:   strings.Join(e.Path(), "."),
			Message: fmt.Sprintf(format, args...),
		}
		if pos := e.Position(); pos.IsValid() {
			ve.Line = pos.Line()
		}
		out = append(out, ve)
	}
	if len(out) == 0 {
		out = append(out, ValidationError{Message: err.Error()})
	}
	return out
}

// IsValidationError reports whether err came from schema validation.
func IsValidationError(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}
