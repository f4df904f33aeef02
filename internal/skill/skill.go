// Package skill loads named prompt extensions from skill.yaml files.
// Skills live under <cwd>/.arche/skills/<name>/skill.yaml, with an
// optional shared directory searched as a fallback.
package skill

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/arche-ai/arche/internal/logging"
	"github.com/arche-ai/arche/pkg/types"
)

// Filename is the skill definition file inside a skill directory.
const Filename = "skill.yaml"

// Loader resolves skills by name.
type Loader struct {
	// shared is an optional directory searched after the project's own
	// skills directory.
	shared string
	log    zerolog.Logger
}

// NewLoader creates a loader. shared may be empty.
func NewLoader(shared string) *Loader {
	return &Loader{shared: shared, log: logging.ForComponent("skill")}
}

// ProjectDir returns the project-local skills directory for cwd.
func ProjectDir(cwd string) string {
	return filepath.Join(cwd, ".arche", "skills")
}

// Load resolves a skill by name for the given working directory. The
// project directory wins over the shared directory.
func (l *Loader) Load(cwd, name string) (types.Skill, error) {
	var dirs []string
	if cwd != "" {
		dirs = append(dirs, ProjectDir(cwd))
	}
	if l.shared != "" {
		dirs = append(dirs, l.shared)
	}

	for _, dir := range dirs {
		path := filepath.Join(dir, name, Filename)
		sk, err := parseFile(path)
		if err == nil {
			if sk.Name == "" {
				sk.Name = name
			}
			return sk, nil
		}
		if !os.IsNotExist(err) {
			return types.Skill{}, fmt.Errorf("load skill %s: %w", name, err)
		}
	}
	return types.Skill{}, fmt.Errorf("skill not found: %s", name)
}

// List returns all skills visible from cwd, sorted by name. Project
// skills shadow shared skills of the same name.
func (l *Loader) List(cwd string) []types.Skill {
	seen := make(map[string]types.Skill)

	var dirs []string
	if l.shared != "" {
		dirs = append(dirs, l.shared)
	}
	if cwd != "" {
		dirs = append(dirs, ProjectDir(cwd))
	}

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			path := filepath.Join(dir, entry.Name(), Filename)
			sk, err := parseFile(path)
			if err != nil {
				if !os.IsNotExist(err) {
					l.log.Warn().Err(err).Str("path", path).Msg("skipping unreadable skill")
				}
				continue
			}
			if sk.Name == "" {
				sk.Name = entry.Name()
			}
			seen[sk.Name] = sk
		}
	}

	skills := make([]types.Skill, 0, len(seen))
	for _, sk := range seen {
		skills = append(skills, sk)
	}
	sort.Slice(skills, func(i, j int) bool { return skills[i].Name < skills[j].Name })
	return skills
}

func parseFile(path string) (types.Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Skill{}, err
	}
	var sk types.Skill
	if err := yaml.Unmarshal(data, &sk); err != nil {
		return types.Skill{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if sk.Prompt == "" {
		return types.Skill{}, fmt.Errorf("skill %s has no prompt", path)
	}
	sk.Path = path
	return sk, nil
}
