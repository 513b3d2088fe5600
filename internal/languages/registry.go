package languages

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/sudankdk/aoc-runner/internal/model"
)

const DefaultFallback = "python"

// Source says which signal picked the language.
type Source string

const (
	SourceExtension  Source = "extension"
	SourceIdentifier Source = "identifier"
	SourceMimeType   Source = "mimetype"
	SourceDefault    Source = "default"
)

type Resolution struct {
	Profile  model.LanguageProfile
	Source   Source
	Fallback bool
}

type Registry struct {
	mu       sync.RWMutex
	profiles map[string]model.LanguageProfile
	exts     map[string]string
	fallback string
}

func NewRegistry() *Registry {
	r := &Registry{
		profiles: make(map[string]model.LanguageProfile),
		exts:     make(map[string]string),
		fallback: DefaultFallback,
	}
	r.registerDefaults()
	return r
}

// Register adds or replaces a profile. Each extension is matched without
// its leading dot and case-insensitively.
func (r *Registry) Register(p model.LanguageProfile, exts ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.ID] = p
	for _, e := range exts {
		r.exts[strings.ToLower(strings.TrimPrefix(e, "."))] = p.ID
	}
}

// SetFallback changes the language used when nothing else matches.
func (r *Registry) SetFallback(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.profiles[id]; !ok {
		return fmt.Errorf("fallback %q: %w", id, model.ErrUnsupportedLanguage)
	}
	r.fallback = id
	return nil
}

func (r *Registry) Lookup(id string) (model.LanguageProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[id]
	if !ok {
		return model.LanguageProfile{}, model.Fail(model.ErrUnsupportedLanguage, fmt.Sprintf("lookup %q", id))
	}
	return p, nil
}

// Resolve picks a language from a filename or identifier, then from the
// mimetype, and finally falls back to the default language. It never fails;
// Fallback reports that neither signal matched.
func (r *Registry) Resolve(name, mime string) Resolution {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name = strings.ToLower(strings.TrimSpace(name))
	ext := name
	if i := strings.LastIndex(name, "."); i >= 0 {
		ext = name[i+1:]
	}
	if id, ok := r.exts[ext]; ok && ext != "" {
		src := SourceExtension
		if ext == name {
			src = SourceIdentifier
		}
		return Resolution{Profile: r.profiles[id], Source: src}
	}
	if p, ok := r.profiles[name]; ok {
		return Resolution{Profile: p, Source: SourceIdentifier}
	}

	if id := fromMime(strings.ToLower(mime)); id != "" {
		if p, ok := r.profiles[id]; ok {
			return Resolution{Profile: p, Source: SourceMimeType}
		}
	}
	return Resolution{Profile: r.profiles[r.fallback], Source: SourceDefault, Fallback: true}
}

// fromMime maps source mimetypes such as text/x-python, text/x-c++src
// and text/x-csrc. Parameters after ';' are ignored.
func fromMime(mime string) string {
	mime, _, _ = strings.Cut(mime, ";")
	typ, sub, ok := strings.Cut(strings.TrimSpace(mime), "/")
	if !ok {
		return ""
	}
	switch {
	case (typ == "text" || typ == "application") &&
		(sub == "python" || sub == "x-python" || sub == "x-python3" || sub == "x-script.python"):
		return "python"
	case typ != "text":
		return ""
	case strings.HasPrefix(sub, "x-c++"), sub == "x-cpp", sub == "x-cppsrc":
		return "cpp"
	case sub == "x-c", sub == "x-csrc", sub == "x-chdr":
		return "c"
	}
	return ""
}

// Images lists the distinct images of every registered profile.
func (r *Registry) Images() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for _, p := range r.profiles {
		if _, ok := seen[p.Image]; ok {
			continue
		}
		seen[p.Image] = struct{}{}
		out = append(out, p.Image)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.profiles))
	for id := range r.profiles {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) registerDefaults() {
	r.profiles["python"] = model.LanguageProfile{
		ID:    "python",
		Image: "python:3.11-slim",
		Ext:   "py",
		Cmd: func(filename string) []string {
			return []string{"python", filename}
		},
	}
	r.profiles["c"] = model.LanguageProfile{
		ID:    "c",
		Image: "gcc:latest",
		Ext:   "c",
		Cmd:   compileAndRun("gcc"),
	}
	r.profiles["cpp"] = model.LanguageProfile{
		ID:    "cpp",
		Image: "gcc:latest",
		Ext:   "cpp",
		Cmd:   compileAndRun("g++"),
	}
	r.exts["py"] = "python"
	r.exts["c"] = "c"
	r.exts["cpp"] = "cpp"
	r.exts["cc"] = "cpp"
	r.exts["cxx"] = "cpp"
}

func compileAndRun(compiler string) func(string) []string {
	return func(filename string) []string {
		bin := path.Join(path.Dir(filename), "solution")
		return []string{"sh", "-c", fmt.Sprintf("%s -o %s %s && %s", compiler, bin, filename, bin)}
	}
}
