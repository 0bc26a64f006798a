package config

import (
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// StaticUser is one row of the optional static-login-table override file.
type StaticUser struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Role     string `yaml:"role"`
}

// usersFile is the on-disk shape of the override file.
type usersFile struct {
	Users []StaticUser `yaml:"users"`
}

// LoadUsersOverrideFromEnv loads an optional static-user override file named by
// QHSE_USERS_CONFIG_PATH. A missing path (env unset), missing file, or invalid
// YAML all degrade to a nil slice rather than an error - the caller falls back
// to its built-in static table. Only a syntactically valid file actually
// overrides anything.
func LoadUsersOverrideFromEnv(logger *slog.Logger) []StaticUser {
	path := GetEnvStr("QHSE_USERS_CONFIG_PATH", "")
	if path == "" {
		return nil
	}

	return LoadUsersOverride(path, logger)
}

// LoadUsersOverride reads and parses path. Missing file or invalid YAML log
// (at debug/warn respectively, if logger is non-nil) and return nil - never an
// error - so that an operator typo never prevents the service from starting.
func LoadUsersOverride(path string, logger *slog.Logger) []StaticUser {
	data, err := os.ReadFile(path)
	if err != nil {
		if logger != nil {
			logger.Debug("users override file not found, using built-in static table",
				slog.String("path", path), slog.String("error", err.Error()))
		}

		return nil
	}

	var f usersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		if logger != nil {
			logger.Warn("users override file has invalid YAML, ignoring",
				slog.String("path", path), slog.String("error", err.Error()))
		}

		return nil
	}

	return f.Users
}
