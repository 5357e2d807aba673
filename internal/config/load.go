package config

import (
	"errors"
	"fmt"
	"os"
)

// Loaded captures resolved config path, parsed values, and non-fatal warnings.
type Loaded struct {
	Path     string
	Config   Config
	Warnings []Warning
	Exists   bool
}

// Load resolves, reads, parses, applies environment overrides, and validates the runtime configuration.
func Load(explicitPath string) (Loaded, error) {
	return load(explicitPath, nil)
}

func load(explicitPath string, environ map[string]string) (Loaded, error) {
	resolvedPath, err := ResolvePath(explicitPath)
	if err != nil {
		return Loaded{}, err
	}

	base := Default()
	exists := true
	warnings := make([]Warning, 0)

	content, err := os.ReadFile(resolvedPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		exists = false
		content = nil
		warnings = append(warnings, Warning{
			Message: fmt.Sprintf("config file %q not found; using defaults", resolvedPath),
		})
	case err != nil:
		return Loaded{}, fmt.Errorf("read config %q: %w", resolvedPath, err)
	}

	// File values are decoded without validation so env overrides can repair them.
	cfg := base
	if exists {
		cfg, err = decodeJSONC(string(content), base)
		if err != nil {
			return Loaded{}, fmt.Errorf("parse config %q: %w", resolvedPath, err)
		}
	}

	cfg, err = ApplyEnv(cfg, environ)
	if err != nil {
		return Loaded{}, err
	}
	if cfg.Store.Driver == StoreSQLite && cfg.Store.Path == "" {
		cfg.Store.Path, err = DefaultStorePath()
		if err != nil {
			return Loaded{}, err
		}
	}

	validated, err := Validate(cfg)
	if err != nil {
		return Loaded{}, fmt.Errorf("validate config %q: %w", resolvedPath, err)
	}
	warnings = append(warnings, validated...)

	return Loaded{
		Path:     resolvedPath,
		Config:   cfg,
		Warnings: warnings,
		Exists:   exists,
	}, nil
}
