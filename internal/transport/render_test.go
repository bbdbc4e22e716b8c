package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderFillsVariables(t *testing.T) {
	r := NewRenderer()
	out, err := r.Render("Hello {{ name }}, {% if vip %}welcome back{% else %}welcome{% endif %}!",
		map[string]interface{}{"name": "Ada", "vip": true})
	require.NoError(t, err)
	assert.Equal(t, "Hello Ada, welcome back!", out)
}

func TestRenderMissingVariableIsEmpty(t *testing.T) {
	out, err := NewRenderer().Render("Hi {{ first_name }}.", nil)
	require.NoError(t, err)
	assert.Equal(t, "Hi .", out)
}

func TestRenderReusesParsedTemplate(t *testing.T) {
	r := NewRenderer()
	for _, name := range []string{"Ada", "Grace"} {
		out, err := r.Render("<p>{{ name }}</p>", map[string]interface{}{"name": name})
		require.NoError(t, err)
		assert.Equal(t, "<p>"+name+"</p>", out)
	}
	assert.EqualValues(t, 1, r.size.Load())
}

func TestRenderSyntaxErrorIsPermanent(t *testing.T) {
	_, err := NewRenderer().Render("{% if vip %}never closed", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPermanent)
	assert.False(t, IsTransient(err))
}
