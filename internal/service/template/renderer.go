package template

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ignite/mailflow/internal/domain"
	"github.com/osteele/liquid"
	"gopkg.in/yaml.v3"
)

// Template is the source form of a notification template.
type Template struct {
	Key     string `yaml:"key" json:"key"`
	Subject string `yaml:"subject" json:"subject"`
	HTML    string `yaml:"html" json:"html"`
	Text    string `yaml:"text" json:"text"`
}

// Rendered is the output of Render.
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

type entry struct {
	subject, html, text *compiled
}

// Renderer holds compiled templates. It is safe for concurrent use.
type Renderer struct {
	engine *liquid.Engine

	mu        sync.RWMutex
	templates map[string]*entry
}

// NewRenderer creates a renderer preloaded with the built-in templates.
func NewRenderer() *Renderer {
	r := &Renderer{
		engine:    liquid.NewEngine(),
		templates: make(map[string]*entry),
	}
	for _, t := range builtins {
		if err := r.Register(t); err != nil {
			panic(fmt.Sprintf("built-in template %s: %v", t.Key, err))
		}
	}
	return r
}

// Register compiles t and makes it available under t.Key, replacing any
// previous template with that key.
func (r *Renderer) Register(t Template) error {
	key := strings.TrimSpace(t.Key)
	if key == "" {
		return fmt.Errorf("%w: key is required", ErrInvalidTemplate)
	}
	if t.HTML == "" && t.Text == "" {
		return fmt.Errorf("%w: %s has no body", ErrInvalidTemplate, key)
	}

	var e entry
	var err error
	if e.subject, err = compile(r.engine, t.Subject, false); err != nil {
		return fmt.Errorf("%s subject: %w", key, err)
	}
	if e.html, err = compile(r.engine, t.HTML, true); err != nil {
		return fmt.Errorf("%s html: %w", key, err)
	}
	if e.text, err = compile(r.engine, t.Text, false); err != nil {
		return fmt.Errorf("%s text: %w", key, err)
	}

	r.mu.Lock()
	r.templates[key] = &e
	r.mu.Unlock()
	return nil
}

// Keys returns the registered template keys in sorted order.
func (r *Renderer) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.templates))
	for k := range r.templates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether key is registered.
func (r *Renderer) Has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.templates[key]
	return ok
}

// Render resolves key against vars. It has no side effects and returns the
// same output for the same inputs.
func (r *Renderer) Render(key string, vars domain.Variables) (Rendered, error) {
	r.mu.RLock()
	e, ok := r.templates[key]
	r.mu.RUnlock()
	if !ok {
		return Rendered{}, fmt.Errorf("%w: %q", ErrTemplateNotFound, key)
	}

	var out Rendered
	var err error
	if out.Subject, err = e.subject.render(vars); err != nil {
		return Rendered{}, fmt.Errorf("render %s subject: %w", key, err)
	}
	if out.HTML, err = e.html.render(vars); err != nil {
		return Rendered{}, fmt.Errorf("render %s html: %w", key, err)
	}
	if out.Text, err = e.text.render(vars); err != nil {
		return Rendered{}, fmt.Errorf("render %s text: %w", key, err)
	}
	out.Subject = strings.TrimSpace(out.Subject)
	return out, nil
}

func (c *compiled) render(vars domain.Variables) (string, error) {
	bindings := make(liquid.Bindings, len(c.vars)+len(c.conds))
	for name, id := range c.vars {
		v, _ := vars.Get(name)
		bindings[id] = Stringify(v)
	}
	for name, id := range c.conds {
		v, ok := vars.Get(name)
		bindings[id] = ok && Truthy(Stringify(v))
	}
	s, err := c.tpl.RenderString(bindings)
	if err != nil {
		return "", err
	}
	return s, nil
}

// Stringify converts a variable value to the text substituted into a
// template. nil becomes "", numbers keep their JSON form and composite
// values are encoded as JSON.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", x)
	case fmt.Stringer:
		return x.String()
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprintf("%v", x)
		}
		return string(b)
	}
}

// Truthy reports whether a flag value enables a conditional block.
func Truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "0", "false", "no":
		return false
	}
	return true
}

type catalog struct {
	Templates []Template `yaml:"templates"`
}

// LoadFile registers every template in a YAML catalog. Either all
// templates in the file are registered or none are.
func (r *Renderer) LoadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var c catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return 0, fmt.Errorf("parse template catalog %s: %w", path, err)
	}

	staged := New()
	for _, t := range c.Templates {
		if err := staged.Register(t); err != nil {
			return 0, err
		}
	}

	staged.mu.RLock()
	defer staged.mu.RUnlock()
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, e := range staged.templates {
		r.templates[k] = e
	}
	return len(staged.templates), nil
}

// New creates an empty renderer without the built-in templates.
func New() *Renderer {
	return &Renderer{engine: liquid.NewEngine(), templates: make(map[string]*entry)}
}
