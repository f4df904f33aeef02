package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/arche-ai/arche/pkg/types"
)

// Load loads configuration from multiple sources (priority order):
// 1. Global config (~/.config/arche/)
// 2. Project config (arche.json, .arche/arche.json)
// 3. ARCHE_CONFIG file
// 4. ARCHE_CONFIG_CONTENT inline JSON
// 5. Environment variables
func Load(directory string) (*types.Config, error) {
	config := &types.Config{}

	loaded := make(map[string]bool)
	loadOnce := func(path, baseDir string) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return
		}
		if loaded[absPath] {
			return
		}
		if loadFile(path, config, baseDir) == nil {
			loaded[absPath] = true
		}
	}

	globalDir := GetPaths().Config
	loadOnce(filepath.Join(globalDir, "arche.json"), globalDir)
	loadOnce(filepath.Join(globalDir, "arche.jsonc"), globalDir)

	if directory != "" {
		projectDir := filepath.Join(directory, ".arche")
		loadOnce(filepath.Join(directory, "arche.json"), directory)
		loadOnce(filepath.Join(directory, "arche.jsonc"), directory)
		loadOnce(filepath.Join(projectDir, "arche.json"), projectDir)
		loadOnce(filepath.Join(projectDir, "arche.jsonc"), projectDir)
	}

	if configPath := os.Getenv("ARCHE_CONFIG"); configPath != "" {
		loadOnce(configPath, filepath.Dir(configPath))
	}

	if content := os.Getenv("ARCHE_CONFIG_CONTENT"); content != "" {
		var inline types.Config
		if err := json.Unmarshal([]byte(content), &inline); err == nil {
			merge(config, &inline)
		}
	}

	applyEnvOverrides(config)

	if config.DataDir == "" {
		config.DataDir = GetPaths().Data
	}
	return config, nil
}

// loadFile loads a single config file with interpolation support.
func loadFile(path string, config *types.Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	data = jsonc.ToJSON(data)
	data = interpolate(data, baseDir)

	var fileConfig types.Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return err
	}
	merge(config, &fileConfig)
	return nil
}

var (
	envPattern  = regexp.MustCompile(`\{env:([^}]+)\}`)
	filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := string(data)

	str = envPattern.ReplaceAllStringFunc(str, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})

	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		path := filePattern.FindStringSubmatch(match)[1]
		if strings.HasPrefix(path, "~/") {
			path = filepath.Join(os.Getenv("HOME"), path[2:])
		} else if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return match
		}

		escaped := strings.ReplaceAll(string(content), "\\", "\\\\")
		escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
		escaped = strings.ReplaceAll(escaped, "\n", "\\n")
		escaped = strings.ReplaceAll(escaped, "\r", "\\r")
		escaped = strings.ReplaceAll(escaped, "\t", "\\t")
		return escaped
	})

	return []byte(str)
}

// merge merges source config into target.
func merge(target, source *types.Config) {
	if source.Schema != "" {
		target.Schema = source.Schema
	}
	if source.Model != "" {
		target.Model = source.Model
	}
	if source.PermissionMode != "" {
		target.PermissionMode = source.PermissionMode
	}
	if source.PermissionTimeoutSecs > 0 {
		target.PermissionTimeoutSecs = source.PermissionTimeoutSecs
	}
	if source.DataDir != "" {
		target.DataDir = source.DataDir
	}
	if source.LogLevel != "" {
		target.LogLevel = source.LogLevel
	}
	if source.Server.Port > 0 {
		target.Server.Port = source.Server.Port
	}
	if source.Server.EnableCORS {
		target.Server.EnableCORS = true
	}
	if source.Skills.Dir != "" {
		target.Skills.Dir = source.Skills.Dir
	}
	if source.Skills.Watch {
		target.Skills.Watch = true
	}
}

// applyEnvOverrides applies ARCHE_* environment variable overrides.
func applyEnvOverrides(config *types.Config) {
	if model := os.Getenv("ARCHE_MODEL"); model != "" {
		config.Model = model
	}
	if mode := os.Getenv("ARCHE_PERMISSION_MODE"); mode != "" {
		if m := types.PermissionMode(mode); m.Valid() {
			config.PermissionMode = m
		}
	}
	if timeout := os.Getenv("ARCHE_PERMISSION_TIMEOUT"); timeout != "" {
		if secs, err := strconv.Atoi(timeout); err == nil && secs > 0 {
			config.PermissionTimeoutSecs = secs
		}
	}
	if dir := os.Getenv("ARCHE_DATA_DIR"); dir != "" {
		config.DataDir = dir
	}
	if level := os.Getenv("ARCHE_LOG_LEVEL"); level != "" {
		config.LogLevel = level
	}
	if port := os.Getenv("ARCHE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 {
			config.Server.Port = p
		}
	}
	if dir := os.Getenv("ARCHE_SKILLS_DIR"); dir != "" {
		config.Skills.Dir = dir
	}
}

// Save writes the configuration to a file.
func Save(config *types.Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
