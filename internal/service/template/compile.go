package template

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/osteele/liquid"
)

var (
	tagRe  = regexp.MustCompile(`\{\{\s*(.*?)\s*\}\}`)
	nameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.\-]*$`)
	ifRe   = regexp.MustCompile(`^#if\s+([A-Za-z_][A-Za-z0-9_.\-]*)$`)
)

// compiled is one template field translated to Liquid. Variable names are
// replaced by generated identifiers so any name that is legal in the flat
// syntax is legal in Liquid too.
type compiled struct {
	tpl   *liquid.Template
	vars  map[string]string // flat name -> liquid identifier
	conds map[string]string // flag name -> liquid identifier
}

// compile translates src into Liquid. escape applies the escape filter to
// every substitution.
func compile(engine *liquid.Engine, src string, escape bool) (*compiled, error) {
	c := &compiled{vars: map[string]string{}, conds: map[string]string{}}
	var b strings.Builder
	inIf := false
	last := 0

	for _, loc := range tagRe.FindAllStringSubmatchIndex(src, -1) {
		writeLiteral(&b, src[last:loc[0]])
		last = loc[1]
		body := src[loc[2]:loc[3]]

		switch {
		case body == "/if":
			if !inIf {
				return nil, fmt.Errorf("%w: {{/if}} without {{#if}}", ErrInvalidTemplate)
			}
			inIf = false
			b.WriteString("{% endif %}")
		case strings.HasPrefix(body, "#if"):
			m := ifRe.FindStringSubmatch(body)
			if m == nil {
				return nil, fmt.Errorf("%w: malformed conditional {{%s}}", ErrInvalidTemplate, body)
			}
			if inIf {
				return nil, fmt.Errorf("%w: nested {{#if %s}}", ErrInvalidTemplate, m[1])
			}
			inIf = true
			fmt.Fprintf(&b, "{%% if %s %%}", alias(c.conds, "c", m[1]))
		case nameRe.MatchString(body):
			id := alias(c.vars, "v", body)
			if escape {
				fmt.Fprintf(&b, "{{ %s | escape }}", id)
			} else {
				fmt.Fprintf(&b, "{{ %s }}", id)
			}
		default:
			return nil, fmt.Errorf("%w: unsupported tag {{%s}}", ErrInvalidTemplate, body)
		}
	}
	if inIf {
		return nil, fmt.Errorf("%w: unclosed {{#if}}", ErrInvalidTemplate)
	}
	writeLiteral(&b, src[last:])

	tpl, err := engine.ParseString(b.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	c.tpl = tpl
	return c, nil
}

func alias(m map[string]string, prefix, name string) string {
	if id, ok := m[name]; ok {
		return id
	}
	id := fmt.Sprintf("%s%d", prefix, len(m))
	m[name] = id
	return id
}

// writeLiteral copies text that must reach the output unchanged. Anything
// Liquid would interpret is wrapped in a raw block.
func writeLiteral(b *strings.Builder, s string) {
	if s == "" {
		return
	}
	if strings.Contains(s, "{%") || strings.Contains(s, "{{") {
		b.WriteString("{% raw %}")
		b.WriteString(s)
		b.WriteString("{% endraw %}")
		return
	}
	b.WriteString(s)
}
