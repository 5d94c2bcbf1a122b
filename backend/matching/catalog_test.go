package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog(t *testing.T) {
	t.Run("Default catalog has the seven scored categories", func(t *testing.T) {
		assert.Equal(t, []Category{Cleanliness, Smoking, Pets, WorkSchedule, SocialLevel, GuestPreference, Music},
			DefaultCatalog.Categories())
		for _, c := range DefaultCatalog.Categories() {
			assert.Greater(t, DefaultCatalog.Span(c), 0, "span of %s", c)
		}
	})

	t.Run("Cleanliness ordinals", func(t *testing.T) {
		ord, ok := DefaultCatalog.OrdinalOf(Cleanliness, "Messy")
		require.True(t, ok)
		assert.Equal(t, 1, ord)
		ord, ok = DefaultCatalog.OrdinalOf(Cleanliness, "Very Clean")
		require.True(t, ok)
		assert.Equal(t, 4, ord)
		assert.Equal(t, 3, DefaultCatalog.Span(Cleanliness))
	})

	t.Run("Unknown values and categories", func(t *testing.T) {
		_, ok := DefaultCatalog.OrdinalOf(Cleanliness, "very clean")
		assert.False(t, ok, "lookups are exact")
		_, ok = DefaultCatalog.OrdinalOf("budget", "High")
		assert.False(t, ok)
		assert.Equal(t, 0, DefaultCatalog.Span("budget"))
		assert.False(t, DefaultCatalog.Allows(Pets, "Dragons"))
		assert.True(t, DefaultCatalog.Allows(Pets, "No Pets"))
	})

	t.Run("Definitions are copies", func(t *testing.T) {
		defs := DefaultCatalog.Definitions()
		require.Len(t, defs, 7)
		defs[0].Values[0].Value = "changed"
		assert.True(t, DefaultCatalog.Allows(Cleanliness, "Messy"))
		assert.Equal(t, "Messy", DefaultCatalog.Definitions()[0].Values[0].Value)
	})
}

func TestNewCatalogValidation(t *testing.T) {
	tests := []struct {
		name string
		defs []CategoryDef
		want error
	}{
		{"single value has zero span", []CategoryDef{{Name: "x", Values: []CategoryValue{{"a", 1}}}}, ErrEmptySpan},
		{"no values", []CategoryDef{{Name: "x"}}, ErrNoValues},
		{"duplicate ordinal", []CategoryDef{{Name: "x", Values: []CategoryValue{{"a", 1}, {"b", 1}}}}, ErrDuplicateOrdinal},
		{"duplicate value", []CategoryDef{{Name: "x", Values: []CategoryValue{{"a", 1}, {"a", 2}}}}, ErrDuplicateValue},
		{"duplicate category", []CategoryDef{
			{Name: "x", Values: []CategoryValue{{"a", 1}, {"b", 2}}},
			{Name: "x", Values: []CategoryValue{{"a", 1}, {"b", 2}}},
		}, ErrDuplicateKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCatalog(tt.defs)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("Non-contiguous ordinals", func(t *testing.T) {
		c, err := NewCatalog([]CategoryDef{{Name: "x", Values: []CategoryValue{{"low", 2}, {"high", 7}}}})
		require.NoError(t, err)
		assert.Equal(t, 5, c.Span("x"))
	})

	t.Run("MustNewCatalog panics on bad input", func(t *testing.T) {
		assert.Panics(t, func() { MustNewCatalog([]CategoryDef{{Name: "x"}}) })
	})
}

func TestPreferencesAccessors(t *testing.T) {
	var p Preferences
	_, ok := p.Get(Cleanliness)
	assert.False(t, ok)

	require.True(t, p.Set(Cleanliness, "Messy"))
	v, ok := p.Get(Cleanliness)
	assert.True(t, ok)
	assert.Equal(t, "Messy", v)

	assert.False(t, p.Set("budget", "High"))
	assert.True(t, p.HasAny(DefaultCatalog))

	require.True(t, p.Set(Cleanliness, ""))
	assert.Nil(t, p.Cleanliness)
	assert.False(t, p.HasAny(DefaultCatalog))

	empty := ""
	p.Smoking = &empty
	_, ok = p.Get(Smoking)
	assert.False(t, ok, "empty string counts as unset")
}
