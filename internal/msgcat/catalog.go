// Package msgcat holds every user-facing string as a text/template, keyed by dotted path.
// The embedded English file is loaded first; YAML files in an override directory replace
// individual keys.
package msgcat

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"

	yaml "gopkg.in/yaml.v3"
)

//go:embed messages.en.yaml
var defaultFiles embed.FS

const defaultFile = "messages.en.yaml"

// Catalog maps keys to parsed templates. A template that fails to parse is rejected at
// load time, so rendering only fails on missing data.
type Catalog struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
}

// New loads the embedded messages and then every *.yaml / *.yml file in overrideDir.
// A key defined by two override files is an error.
func New(overrideDir string) (*Catalog, error) {
	c := &Catalog{templates: make(map[string]*template.Template)}

	raw, err := defaultFiles.ReadFile(defaultFile)
	if err != nil {
		return nil, fmt.Errorf("read embedded messages: %w", err)
	}
	defaults, err := parseFile(defaultFile, raw)
	if err != nil {
		return nil, err
	}
	c.merge(defaults)

	if dir := strings.TrimSpace(overrideDir); dir != "" {
		overrides, err := loadDir(dir)
		if err != nil {
			return nil, err
		}
		c.merge(overrides)
	}
	return c, nil
}

func (c *Catalog) merge(in map[string]*template.Template) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, t := range in {
		c.templates[k] = t
	}
}

func loadDir(dir string) (map[string]*template.Template, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read message dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make(map[string]*template.Template)
	origin := make(map[string]string)
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		parsed, err := parseFile(name, raw)
		if err != nil {
			return nil, err
		}
		for k, t := range parsed {
			if prev, dup := origin[k]; dup {
				return nil, fmt.Errorf("duplicate override key %q in %s and %s", k, prev, name)
			}
			origin[k] = name
			out[k] = t
		}
	}
	return out, nil
}

// parseFile flattens nested YAML maps into dotted keys and parses each string leaf.
func parseFile(name string, raw []byte) (map[string]*template.Template, error) {
	var root map[string]any
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	out := make(map[string]*template.Template)
	var walk func(prefix string, v any) error
	walk = func(prefix string, v any) error {
		switch node := v.(type) {
		case map[string]any:
			for k, child := range node {
				key := k
				if prefix != "" {
					key = prefix + "." + k
				}
				if err := walk(key, child); err != nil {
					return err
				}
			}
		case string:
			if prefix == "" {
				return fmt.Errorf("%s: string value without a key", name)
			}
			if strings.TrimSpace(node) == "" {
				return nil
			}
			t, err := template.New(prefix).Option("missingkey=error").Parse(node)
			if err != nil {
				return fmt.Errorf("%s: key %s: %w", name, prefix, err)
			}
			out[prefix] = t
		case nil:
		default:
			return fmt.Errorf("%s: key %s: unsupported value %T", name, prefix, v)
		}
		return nil
	}
	if err := walk("", root); err != nil {
		return nil, err
	}
	return out, nil
}

// Render executes the template for key. Unknown keys and missing data are errors.
func (c *Catalog) Render(key string, data any) (string, error) {
	c.mu.RLock()
	t, ok := c.templates[strings.TrimSpace(key)]
	c.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("template not found: %s", key)
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Text renders key and falls back to the given literal when the key is missing or broken.
func (c *Catalog) Text(key string, data any, fallback string) string {
	if c == nil {
		return fallback
	}
	out, err := c.Render(key, data)
	if err != nil || strings.TrimSpace(out) == "" {
		return fallback
	}
	return out
}

// Require reports every key in keys that the catalog cannot render.
func (c *Catalog) Require(keys ...string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var missing []string
	for _, k := range keys {
		if _, ok := c.templates[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("message catalog missing keys: %s", strings.Join(missing, ", "))
	}
	return nil
}
