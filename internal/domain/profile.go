package domain

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Output field names the decoder treats specially.
const (
	FieldU10       = "u10"
	FieldV10       = "v10"
	FieldWindSpeed = "wind_speed"
	FieldWindDir   = "wind_dir"
)

// FieldRule maps one GRIB (variable, level) pair to an output field.
// Values are converted as value*Scale + Offset.
type FieldRule struct {
	Variable string  `yaml:"variable"`
	Level    string  `yaml:"level"`
	Field    string  `yaml:"field"`
	Scale    float64 `yaml:"scale"`
	Offset   float64 `yaml:"offset"`
}

// Apply converts a raw GRIB value into the field's output unit.
func (r FieldRule) Apply(v float64) float64 {
	return v*r.Scale + r.Offset
}

// Profile is a field mapping profile: which GRIB messages are kept and how
// they are named and converted.
type Profile struct {
	Name       string      `yaml:"name"`
	DeriveWind bool        `yaml:"derive_wind"`
	Rules      []FieldRule `yaml:"fields"`

	index map[string]FieldRule
}

// DefaultProfile is the built-in mapping used when no profile file is configured.
func DefaultProfile() *Profile {
	const kelvin = -273.15
	p := &Profile{
		Name:       "builtin",
		DeriveWind: true,
		Rules: []FieldRule{
			{Variable: "TMP", Level: "2 m above ground", Field: "t2m", Scale: 1, Offset: kelvin},
			{Variable: "DPT", Level: "2 m above ground", Field: "d2m", Scale: 1, Offset: kelvin},
			{Variable: "RH", Level: "2 m above ground", Field: "rh", Scale: 1},
			{Variable: "UGRD", Level: "10 m above ground", Field: FieldU10, Scale: 1},
			{Variable: "VGRD", Level: "10 m above ground", Field: FieldV10, Scale: 1},
			{Variable: "GUST", Level: "surface", Field: "gust", Scale: 1},
			{Variable: "PRMSL", Level: "mean sea level", Field: "mslp", Scale: 0.01},
			{Variable: "APCP", Level: "surface", Field: "tp", Scale: 1},
			{Variable: "CAPE", Level: "surface", Field: "cape", Scale: 1},
			{Variable: "CIN", Level: "surface", Field: "cin", Scale: 1},
			{Variable: "PWAT", Level: "entire atmosphere (considered as a single layer)", Field: "pwat", Scale: 1},
			{Variable: "TCDC", Level: "entire atmosphere", Field: "tcc", Scale: 1},
			{Variable: "LCDC", Level: "low cloud layer", Field: "lcc", Scale: 1},
			{Variable: "MCDC", Level: "middle cloud layer", Field: "mcc", Scale: 1},
			{Variable: "HCDC", Level: "high cloud layer", Field: "hcc", Scale: 1},
			{Variable: "TMP", Level: "850 mb", Field: "t850", Scale: 1, Offset: kelvin},
			{Variable: "TMP", Level: "500 mb", Field: "t500", Scale: 1, Offset: kelvin},
			{Variable: "HGT", Level: "500 mb", Field: "z500", Scale: 1},
		},
	}
	p.buildIndex()
	return p
}

// LoadProfile reads a YAML profile from path.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	return ParseProfile(data)
}

// ParseProfile decodes and validates a YAML profile. A rule with no scale
// gets a scale of 1.
func ParseProfile(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	if len(p.Rules) == 0 {
		return nil, errors.New("profile defines no fields")
	}
	for i := range p.Rules {
		r := &p.Rules[i]
		if r.Variable == "" || r.Level == "" || r.Field == "" {
			return nil, fmt.Errorf("profile field %d: variable, level and field are required", i)
		}
		if r.Scale == 0 {
			r.Scale = 1
		}
	}
	p.buildIndex()
	return &p, nil
}

func (p *Profile) buildIndex() {
	p.index = make(map[string]FieldRule, len(p.Rules))
	for _, r := range p.Rules {
		p.index[ruleKey(r.Variable, r.Level)] = r
	}
}

// Lookup finds the rule for a GRIB message. Matching ignores case.
func (p *Profile) Lookup(variable, level string) (FieldRule, bool) {
	key := ruleKey(variable, level)
	if p.index == nil {
		for _, r := range p.Rules {
			if ruleKey(r.Variable, r.Level) == key {
				return r, true
			}
		}
		return FieldRule{}, false
	}
	r, ok := p.index[key]
	return r, ok
}

func ruleKey(variable, level string) string {
	return strings.ToUpper(strings.TrimSpace(variable)) + "|" + strings.ToLower(strings.TrimSpace(level))
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// WindSpeed returns the magnitude of the (u, v) wind vector.
func WindSpeed(u, v float64) float64 {
	return math.Hypot(u, v)
}

// WindDirection returns the meteorological direction the wind blows from, in
// degrees within [0, 360).
func WindDirection(u, v float64) float64 {
	d := math.Mod(270-math.Atan2(v, u)*180/math.Pi, 360)
	if d < 0 {
		d += 360
	}
	return d
}
