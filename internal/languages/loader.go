package languages

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sudankdk/aoc-runner/internal/model"
)

// Language is one entry of a languages file. Entry is a shell command in
// which {file} stands for the injected source path.
type Language struct {
	Image      string   `yaml:"image" json:"image"`
	Entry      string   `yaml:"entry" json:"entry"`
	Ext        string   `yaml:"extension" json:"extension"`
	Extensions []string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
}

type LanguageMap map[string]Language

// Load reads a YAML or JSON languages file.
func Load(path string) (LanguageMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m LanguageMap
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for id, l := range m {
		if l.Image == "" || l.Entry == "" {
			return nil, fmt.Errorf("language %q: image and entry are required", id)
		}
	}
	return m, nil
}

// Profile turns a file entry into a runnable profile.
func (l Language) Profile(id string) model.LanguageProfile {
	ext := strings.TrimPrefix(l.Ext, ".")
	if ext == "" {
		ext = id
	}
	entry := l.Entry
	return model.LanguageProfile{
		ID:    id,
		Image: l.Image,
		Ext:   ext,
		Cmd: func(filename string) []string {
			return []string{"sh", "-c", strings.ReplaceAll(entry, "{file}", filename)}
		},
	}
}

// Apply registers every entry of m, replacing built-in profiles with the
// same identifier.
func (r *Registry) Apply(m LanguageMap) {
	for id, l := range m {
		p := l.Profile(id)
		r.Register(p, append([]string{p.Ext}, l.Extensions...)...)
	}
}
