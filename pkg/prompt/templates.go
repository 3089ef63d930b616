package prompt

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/pelletier/go-toml/v2"
)

//go:embed templates/*.toml
var embedded embed.FS

// Template is a prompt template file.
type Template struct {
	Intent      string `toml:"intent"`
	Description string `toml:"description"`
	Prompt      string `toml:"prompt"`
}

// ErrTemplateNotFound is returned when neither an override nor an embedded
// template exists for an intent.
var ErrTemplateNotFound = errors.New("prompt template not found")

// LoadTemplate resolves a template by name:
// 1. override: templatesDir/{name}.toml
// 2. embedded: templates/{name}.toml
func LoadTemplate(name, templatesDir string) (*Template, error) {
	if templatesDir != "" {
		if data, err := os.ReadFile(filepath.Join(templatesDir, name+".toml")); err == nil {
			return parseTemplate(data)
		}
	}

	data, err := embedded.ReadFile("templates/" + name + ".toml")
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	return parseTemplate(data)
}

func parseTemplate(data []byte) (*Template, error) {
	var t Template
	if err := toml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	if t.Prompt == "" {
		return nil, fmt.Errorf("template has an empty prompt")
	}
	return &t, nil
}

// MissingParamError reports a placeholder with no value.
type MissingParamError struct {
	Name string
}

func (e *MissingParamError) Error() string {
	return fmt.Sprintf("no value for placeholder {%s}", e.Name)
}

var placeholderRe = regexp.MustCompile(`\{\{|\}\}|\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Render substitutes {name} placeholders. "{{" and "}}" produce literal braces.
func Render(tmpl string, params Params) (string, error) {
	var missing error
	out := placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		switch m {
		case "{{":
			return "{"
		case "}}":
			return "}"
		}
		name := m[1 : len(m)-1]
		v, ok := params[name]
		if !ok && missing == nil {
			missing = &MissingParamError{Name: name}
		}
		return v
	})
	if missing != nil {
		return "", missing
	}
	return out, nil
}
