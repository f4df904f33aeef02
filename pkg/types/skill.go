package types

// Skill is a named prompt extension loaded into a session. Loaded skill
// prompts are appended to the session's effective system prompt.
type Skill struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Prompt      string `json:"prompt" yaml:"prompt"`

	// Path is where the skill definition was loaded from.
	Path string `json:"path,omitempty" yaml:"-"`
}
