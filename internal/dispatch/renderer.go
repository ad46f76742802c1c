package dispatch

import (
	"fmt"
	"sync"

	"github.com/osteele/liquid"
)

// Renderer renders campaign templates with per-recipient bindings using
// the Liquid template language. Parsed templates are cached: one campaign
// body is rendered once per recipient, so the parse cost is paid once.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

// NewRenderer creates a renderer with a default Liquid engine.
func NewRenderer() *Renderer {
	return &Renderer{engine: liquid.NewEngine()}
}

// Render substitutes bindings into the template. Missing variables render
// as empty strings (lax mode, matching production sends).
func (r *Renderer) Render(template string, bindings map[string]any) (string, error) {
	if template == "" {
		return "", nil
	}

	var tpl *liquid.Template
	if cached, ok := r.cache.Load(template); ok {
		tpl = cached.(*liquid.Template)
	} else {
		parsed, err := r.engine.ParseString(template)
		if err != nil {
			return "", fmt.Errorf("parsing template: %w", err)
		}
		r.cache.Store(template, parsed)
		tpl = parsed
	}

	out, err := tpl.RenderString(bindings)
	if err != nil {
		return "", fmt.Errorf("rendering template: %w", err)
	}
	return out, nil
}
