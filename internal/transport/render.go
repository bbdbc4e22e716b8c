package transport

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/osteele/liquid"
)

// maxCachedTemplates bounds the parsed-template cache. One-off mails beyond
// it are parsed on every render.
const maxCachedTemplates = 512

// Renderer fills Liquid templates ({{ name }}, {% if %} ...) from a
// contact's render context. Parsed templates are cached by content hash
// since a campaign renders the same body for every contact.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // [32]byte -> *liquid.Template
	size   atomic.Int64
}

// NewRenderer creates a renderer with the stock Liquid filters.
func NewRenderer() *Renderer {
	return &Renderer{engine: liquid.NewEngine()}
}

// Render executes tpl against vars. Parse and render failures are
// permanent: the same input fails the same way every time.
func (r *Renderer) Render(tpl string, vars map[string]interface{}) (string, error) {
	t, err := r.parse(tpl)
	if err != nil {
		return "", Permanent(fmt.Errorf("parse template: %w", err))
	}
	out, rerr := t.RenderString(vars)
	if rerr != nil {
		return "", Permanent(fmt.Errorf("render template: %w", rerr))
	}
	return out, nil
}

func (r *Renderer) parse(tpl string) (*liquid.Template, error) {
	key := sha256.Sum256([]byte(tpl))
	if cached, ok := r.cache.Load(key); ok {
		return cached.(*liquid.Template), nil
	}
	t, err := r.engine.ParseString(tpl)
	if err != nil {
		return nil, err
	}
	if r.size.Load() < maxCachedTemplates {
		if _, loaded := r.cache.LoadOrStore(key, t); !loaded {
			r.size.Add(1)
		}
	}
	return t, nil
}
