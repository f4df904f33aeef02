package types

import "time"

// Config holds arche configuration loaded from config files and the
// environment.
type Config struct {
	Schema string `json:"$schema,omitempty"`

	// Model is the default model id for new sessions.
	Model string `json:"model,omitempty"`

	// PermissionMode is the default permission mode for new sessions.
	PermissionMode PermissionMode `json:"permissionMode,omitempty"`

	// PermissionTimeoutSecs bounds how long a worker waits for a human
	// to resolve a permission request. Zero means the built-in default.
	PermissionTimeoutSecs int `json:"permissionTimeoutSecs,omitempty"`

	// DataDir overrides where session snapshots are persisted.
	DataDir string `json:"dataDir,omitempty"`

	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string `json:"logLevel,omitempty"`

	Server ServerConfig `json:"server,omitempty"`
	Skills SkillsConfig `json:"skills,omitempty"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port       int  `json:"port,omitempty"`
	EnableCORS bool `json:"enableCORS,omitempty"`
}

// SkillsConfig configures skill discovery.
type SkillsConfig struct {
	// Dir overrides the skills directory. Empty means
	// <session cwd>/.arche/skills.
	Dir string `json:"dir,omitempty"`

	// Watch enables re-scanning the skills directory on changes.
	Watch bool `json:"watch,omitempty"`
}

// PermissionTimeout returns the configured permission timeout as a
// duration, falling back to the given default.
func (c *Config) PermissionTimeout(def time.Duration) time.Duration {
	if c == nil || c.PermissionTimeoutSecs <= 0 {
		return def
	}
	return time.Duration(c.PermissionTimeoutSecs) * time.Second
}
