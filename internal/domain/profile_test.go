package domain

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultProfile(t *testing.T) {
	p := DefaultProfile()

	rule, ok := p.Lookup("tmp", "2 M ABOVE GROUND")
	require.True(t, ok, "lookup ignores case")
	assert.Equal(t, "t2m", rule.Field)
	assert.InDelta(t, 15.0, rule.Apply(288.15), 1e-9)

	rule, ok = p.Lookup("PRMSL", "mean sea level")
	require.True(t, ok)
	assert.Equal(t, "mslp", rule.Field)
	assert.InDelta(t, 1013.25, rule.Apply(101325), 1e-9)

	_, ok = p.Lookup("TMP", "925 mb")
	assert.False(t, ok)
	assert.True(t, p.DeriveWind)
}

func TestParseProfile(t *testing.T) {
	data := []byte(`
name: minimal
derive_wind: false
fields:
  - variable: TMP
    level: 2 m above ground
    field: temp_c
    offset: -273.15
  - variable: PRES
    level: surface
    field: sp_hpa
    scale: 0.01
`)
	p, err := ParseProfile(data)
	require.NoError(t, err)

	assert.Equal(t, "minimal", p.Name)
	assert.False(t, p.DeriveWind)

	rule, ok := p.Lookup("TMP", "2 m above ground")
	require.True(t, ok)
	assert.Equal(t, 1.0, rule.Scale, "missing scale defaults to 1")
	assert.InDelta(t, 0.0, rule.Apply(273.15), 1e-9)

	rule, ok = p.Lookup("PRES", "surface")
	require.True(t, ok)
	assert.InDelta(t, 1000.0, rule.Apply(100000), 1e-9)
}

func TestParseProfile_Invalid(t *testing.T) {
	_, err := ParseProfile([]byte("fields: []"))
	require.Error(t, err)

	_, err = ParseProfile([]byte("fields:\n  - variable: TMP\n    field: t\n"))
	require.ErrorContains(t, err, "level")

	_, err = ParseProfile([]byte("fields: [unterminated"))
	require.Error(t, err)
}

func TestLoadProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fields:\n  - {variable: GUST, level: surface, field: gust}\n"), 0o600))

	p, err := LoadProfile(path)
	require.NoError(t, err)
	_, ok := p.Lookup("GUST", "surface")
	assert.True(t, ok)

	_, err = LoadProfile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestWind(t *testing.T) {
	tests := []struct {
		name      string
		u, v      float64
		speed     float64
		direction float64
	}{
		{"westerly", 5, 0, 5, 270},
		{"southerly", 0, 5, 5, 180},
		{"easterly", -5, 0, 5, 90},
		{"northerly", 0, -5, 5, 0},
		{"south-westerly", 3, 4, 5, 216.87},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.speed, WindSpeed(tt.u, tt.v), 1e-9)
			assert.InDelta(t, tt.direction, Round2(WindDirection(tt.u, tt.v)), 1e-9)
		})
	}
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 1.23, Round2(1.234))
	assert.Equal(t, 1.24, Round2(1.235000001))
	assert.Equal(t, -3.14, Round2(-3.14159))
}
