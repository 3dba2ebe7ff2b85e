// Package msgcat holds the text templates the observer prints snapshots and
// relay frames with. Defaults are embedded; a directory of YAML files may
// override individual keys.
package msgcat

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	yaml "gopkg.in/yaml.v3"

	"github.com/park285/cheese-observer/internal/util"
)

// Template keys the observer renders.
const (
	KeySnapshotLine  = "snapshot.line"
	KeySnapshotDebug = "snapshot.debug"
	KeyMoveUnknown   = "snapshot.move_unknown"
	KeyGameReset     = "game.reset"
	KeyProbeFrame    = "probe.frame"
)

// Keys lists every template a catalog must provide.
var Keys = []string{KeySnapshotLine, KeySnapshotDebug, KeyMoveUnknown, KeyGameReset, KeyProbeFrame}

//go:embed messages.en.yaml
var defaults embed.FS

// Funcs are the helpers every template may call.
func Funcs() template.FuncMap {
	return template.FuncMap{
		"clock":    util.FormatClock,
		"truncate": util.Truncate,
		"blank":    util.Blank,
		"join":     strings.Join,
	}
}

// Catalog is an immutable set of parsed templates. Safe for concurrent use.
type Catalog struct {
	templates map[string]*template.Template
}

// New loads the embedded templates, applies overrides from dir when set and
// parses everything up front, so a broken override fails at startup.
func New(dir string) (*Catalog, error) {
	raw, err := defaults.ReadFile("messages.en.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded messages: %w", err)
	}
	texts, err := flatten(raw)
	if err != nil {
		return nil, fmt.Errorf("parse embedded messages: %w", err)
	}
	if strings.TrimSpace(dir) != "" {
		overrides, err := loadDir(dir)
		if err != nil {
			return nil, err
		}
		for k, v := range overrides {
			texts[k] = v
		}
	}

	c := &Catalog{templates: make(map[string]*template.Template, len(texts))}
	funcs := Funcs()
	for key, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		t, err := template.New(key).Option("missingkey=error").Funcs(funcs).Parse(text)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", key, err)
		}
		c.templates[key] = t
	}
	for _, key := range Keys {
		if !c.Has(key) {
			return nil, fmt.Errorf("template %s is empty", key)
		}
	}
	return c, nil
}

// Has reports whether key has a template.
func (c *Catalog) Has(key string) bool {
	_, ok := c.templates[key]
	return ok
}

// Render executes the template for key. Missing fields in data are errors.
func (c *Catalog) Render(key string, data any) (string, error) {
	t, ok := c.templates[key]
	if !ok {
		return "", fmt.Errorf("template not found: %s", key)
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

// loadDir reads *.yaml / *.yml in name order. A key set by two files is an error.
func loadDir(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read template dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	out := make(map[string]string)
	from := make(map[string]string)
	for _, name := range files {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		flat, err := flatten(b)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		for k, v := range flat {
			if prev, ok := from[k]; ok {
				return nil, fmt.Errorf("duplicate override key %q in %s and %s", k, prev, name)
			}
			from[k] = name
			out[k] = v
		}
	}
	return out, nil
}

func flatten(b []byte) (map[string]string, error) {
	var root map[string]any
	if err := yaml.Unmarshal(b, &root); err != nil {
		return nil, err
	}
	out := make(map[string]string)
	return out, walk(root, "", out)
}

// walk joins nested keys with dots. Only string leaves are allowed.
func walk(node any, prefix string, out map[string]string) error {
	switch v := node.(type) {
	case map[string]any:
		for k, child := range v {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if err := walk(child, key, out); err != nil {
				return err
			}
		}
	case string:
		if prefix == "" {
			return errors.New("string value without key")
		}
		out[prefix] = v
	case nil:
	default:
		return fmt.Errorf("unsupported value at %s: %T", prefix, v)
	}
	return nil
}
