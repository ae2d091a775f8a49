package core

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// placeholderPattern matches {{ variable }} placeholders. Variable names
// are word characters; surrounding whitespace inside the braces is ignored.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// templateSegment is one piece of a compiled template: either a literal
// run of text, or a variable reference with its raw placeholder text kept
// for verbatim fallback.
type templateSegment struct {
	literal  string
	variable string
	raw      string
}

const templateCacheSize = 256

// Renderer substitutes event context into message templates. Rendering
// never fails: unknown placeholders stay verbatim and any internal error
// falls back to the raw template text, so a malformed template cannot
// abort the notification pipeline.
type Renderer struct {
	cache  *lru.Cache[string, []templateSegment]
	logger *zap.SugaredLogger
}

// NewRenderer creates a renderer with a bounded compiled-template cache.
func NewRenderer(logger *zap.SugaredLogger) *Renderer {
	cache, err := lru.New[string, []templateSegment](templateCacheSize)
	if err != nil {
		// lru.New only fails on non-positive size
		panic(err)
	}
	return &Renderer{cache: cache, logger: logger}
}

// compile splits a template into literal and variable segments, caching
// the result keyed by template text.
func (r *Renderer) compile(template string) []templateSegment {
	if segs, ok := r.cache.Get(template); ok {
		return segs
	}

	var segs []templateSegment
	rest := template
	for {
		loc := placeholderPattern.FindStringSubmatchIndex(rest)
		if loc == nil {
			break
		}
		if loc[0] > 0 {
			segs = append(segs, templateSegment{literal: rest[:loc[0]]})
		}
		segs = append(segs, templateSegment{
			variable: rest[loc[2]:loc[3]],
			raw:      rest[loc[0]:loc[1]],
		})
		rest = rest[loc[1]:]
	}
	if rest != "" {
		segs = append(segs, templateSegment{literal: rest})
	}

	r.cache.Add(template, segs)
	return segs
}

// Render substitutes context values into the template. Placeholders with
// no matching context key are left verbatim; a template with no matching
// placeholders is returned unchanged.
func (r *Renderer) Render(template string, context map[string]string) (out string) {
	defer func() {
		if rec := recover(); rec != nil {
			if r.logger != nil {
				r.logger.Warnw("Template rendering failed, falling back to raw text",
					"panic", rec)
			}
			out = template
		}
	}()

	var b strings.Builder
	for _, seg := range r.compile(template) {
		if seg.variable == "" {
			b.WriteString(seg.literal)
			continue
		}
		if v, ok := context[seg.variable]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(seg.raw)
		}
	}
	return b.String()
}

// RenderMessage renders a template and splits the result into a title
// (first line) and the full message body.
func (r *Renderer) RenderMessage(template string, context map[string]string) (title, message string) {
	message = r.Render(template, context)
	title = strings.TrimSpace(strings.SplitN(message, "\n", 2)[0])
	return title, message
}

// safeSubjectFields are the subject attributes exposed to templates.
var safeSubjectFields = []string{
	"id", "title", "description", "severity", "priority", "status", "created_at",
}

// TemplateContext builds the substitution context from a subject's safe
// fields. When the subject nests a parent object (tasks under incidents,
// for example), the parent's safe fields are exposed with a parent_ prefix.
func TemplateContext(subject map[string]interface{}) map[string]string {
	context := make(map[string]string, len(safeSubjectFields)+2)
	addSafeFields(context, subject, "")
	if parent, ok := subject["parent"].(map[string]interface{}); ok {
		addSafeFields(context, parent, "parent_")
	}
	return context
}

func addSafeFields(context map[string]string, subject map[string]interface{}, prefix string) {
	for _, field := range safeSubjectFields {
		v, ok := subject[field]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case time.Time:
			context[prefix+field] = t.Format(time.RFC3339)
		default:
			context[prefix+field] = fmt.Sprint(v)
		}
	}
}
