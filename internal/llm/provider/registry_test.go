package provider

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_FactoryCreate(t *testing.T) {
	r := NewRegistry()
	r.RegisterFactory("mock", func(config map[string]any) (Provider, error) {
		name, _ := config["name"].(string)
		if name == "" {
			return nil, fmt.Errorf("name required")
		}
		return NewMockProvider(name), nil
	})

	p, err := r.Create("mock", map[string]any{"name": "tutor-mock"})
	require.NoError(t, err)
	assert.Equal(t, "tutor-mock", p.Name())

	_, err = r.Create("mock", map[string]any{})
	assert.Error(t, err)

	_, err = r.Create("nonexistent", nil)
	assert.Error(t, err)
}

func TestRegistry_Instances(t *testing.T) {
	r := NewRegistry()
	mock := NewMockProvider("mock")

	assert.False(t, r.Has("mock"))
	r.Register("mock", mock)
	assert.True(t, r.Has("mock"))

	got, err := r.Get("mock")
	require.NoError(t, err)
	assert.Same(t, mock, got)

	_, err = r.Get("missing")
	assert.Error(t, err)

	assert.Equal(t, []string{"mock"}, r.List())
}

func TestGlobalRegistry_BuiltinFactories(t *testing.T) {
	// gemini and openai register themselves via init
	_, err := Create("gemini", map[string]any{})
	if err != nil {
		assert.Contains(t, err.Error(), "GOOGLE_API_KEY")
	}
	_, err = Create("openai", map[string]any{})
	if err != nil {
		assert.Contains(t, err.Error(), "OPENAI_API_KEY")
	}
}
