package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestRender_Substitution(t *testing.T) {
	r := NewRenderer(zap.NewNop().Sugar())

	out := r.Render("Alert {{ title }} is {{severity}}", map[string]string{
		"title":    "Suspicious login",
		"severity": "high",
	})
	assert.Equal(t, "Alert Suspicious login is high", out)
}

func TestRender_UnknownPlaceholderStaysVerbatim(t *testing.T) {
	r := NewRenderer(zap.NewNop().Sugar())

	out := r.Render("Alert {{ title }} from {{ source_ip }}", map[string]string{
		"title": "x",
	})
	assert.Equal(t, "Alert x from {{ source_ip }}", out)
}

func TestRender_NoPlaceholders(t *testing.T) {
	r := NewRenderer(zap.NewNop().Sugar())

	assert.Equal(t, "plain text", r.Render("plain text", nil))
	assert.Equal(t, "", r.Render("", nil))
}

func TestRender_RepeatedAndAdjacentPlaceholders(t *testing.T) {
	r := NewRenderer(zap.NewNop().Sugar())

	out := r.Render("{{a}}{{a}}-{{b}}", map[string]string{"a": "x", "b": "y"})
	assert.Equal(t, "xx-y", out)
}

func TestRender_CachedTemplateRendersWithDifferentContexts(t *testing.T) {
	r := NewRenderer(zap.NewNop().Sugar())

	first := r.Render("Hello {{ name }}", map[string]string{"name": "alice"})
	second := r.Render("Hello {{ name }}", map[string]string{"name": "bob"})
	assert.Equal(t, "Hello alice", first)
	assert.Equal(t, "Hello bob", second)
}

func TestRenderMessage_TitleIsFirstLine(t *testing.T) {
	r := NewRenderer(zap.NewNop().Sugar())

	title, message := r.RenderMessage("{{ title }}\nDetails: {{ severity }}", map[string]string{
		"title":    "Disk full",
		"severity": "high",
	})
	assert.Equal(t, "Disk full", title)
	assert.Equal(t, "Disk full\nDetails: high", message)
}

func TestRenderMessage_SingleLine(t *testing.T) {
	r := NewRenderer(zap.NewNop().Sugar())

	title, message := r.RenderMessage("  just a line  ", nil)
	assert.Equal(t, "just a line", title)
	assert.Equal(t, "  just a line  ", message)
}

func TestTemplateContext_SafeFieldsOnly(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	subject := map[string]interface{}{
		"id":         "alert-1",
		"title":      "Suspicious login",
		"severity":   "high",
		"created_at": created,
		"api_token":  "secret-value",
	}

	context := TemplateContext(subject)
	assert.Equal(t, "alert-1", context["id"])
	assert.Equal(t, "Suspicious login", context["title"])
	assert.Equal(t, "high", context["severity"])
	assert.Equal(t, "2026-03-01T10:30:00Z", context["created_at"])
	assert.NotContains(t, context, "api_token")
}

func TestTemplateContext_ParentFieldsPrefixed(t *testing.T) {
	subject := map[string]interface{}{
		"id":    "task-9",
		"title": "Collect logs",
		"parent": map[string]interface{}{
			"id":    "incident-4",
			"title": "Ransomware outbreak",
		},
	}

	context := TemplateContext(subject)
	assert.Equal(t, "task-9", context["id"])
	assert.Equal(t, "incident-4", context["parent_id"])
	assert.Equal(t, "Ransomware outbreak", context["parent_title"])
}

func TestTemplateContext_NonStringValues(t *testing.T) {
	subject := map[string]interface{}{
		"id":       42,
		"priority": 3.0,
	}
	context := TemplateContext(subject)
	assert.Equal(t, "42", context["id"])
	assert.Equal(t, "3", context["priority"])
}
