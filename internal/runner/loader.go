package runner

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/specflow/specflow/internal/errs"
)

// TemplateLoader resolves a skill name to its prompt text. A missing skill
// is an errs.ErrNotFound error.
type TemplateLoader interface {
	Load(name string) (string, error)
}

// DirLoader looks for <skill>.md in each directory in order.
type DirLoader struct {
	Dirs []string
}

// SkillFileName normalizes "/flow.design" or "flow.design" to "flow.design.md".
func SkillFileName(skill string) string {
	return strings.TrimPrefix(skill, "/") + ".md"
}

// Load implements TemplateLoader.
func (l DirLoader) Load(name string) (string, error) {
	file := SkillFileName(name)
	for _, dir := range l.Dirs {
		data, err := os.ReadFile(filepath.Join(dir, file))
		if err == nil {
			return string(data), nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("reading skill %s: %w", name, err)
		}
	}
	return "", errs.NotFound("skill " + name).
		WithHint(fmt.Sprintf("looked for %s in %s", file, strings.Join(l.Dirs, ", ")))
}

// MapLoader serves skills from memory.
type MapLoader map[string]string

// Load implements TemplateLoader.
func (m MapLoader) Load(name string) (string, error) {
	if s, ok := m[strings.TrimPrefix(name, "/")]; ok {
		return s, nil
	}
	return "", errs.NotFound("skill " + name)
}
