// Package profile loads the layer-target profile: the YAML file that sets
// target weights, risk cutoffs and the minimum amounts of the rebalancer.
package profile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/aristath/layerwise/internal/domain"
	"github.com/aristath/layerwise/internal/modules/rebalancing"
	"github.com/aristath/layerwise/internal/modules/suggestions"
)

var validate = validator.New()

// Risk holds the score band cutoffs of a layer
type Risk struct {
	LowMax  float64 `yaml:"low_max" default:"30" validate:"gte=0,lte=100"`
	HighMin float64 `yaml:"high_min" default:"51" validate:"gtefield=LowMax,lte=100"`
}

// Layer overrides one layer. Unset fields inherit the profile values.
type Layer struct {
	ID             int     `yaml:"id" validate:"gte=1,lte=5"`
	Name           string  `yaml:"name"`
	TargetWeight   float64 `yaml:"target_weight" validate:"gte=0"`
	Risk           *Risk   `yaml:"risk"`
	MaxInstruments int     `yaml:"max_instruments" validate:"gte=0"`
}

// Minimums are the EUR thresholds of the gates
type Minimums struct {
	SavingPlan  float64 `yaml:"saving_plan" default:"15" validate:"gte=0"`
	Rebalancing float64 `yaml:"rebalancing" default:"10" validate:"gte=0"`
	Instrument  float64 `yaml:"instrument" default:"25" validate:"gt=0"`
}

// Projection configures the gap projection blend
type Projection struct {
	HorizonMonths int     `yaml:"horizon_months" default:"12" validate:"gte=1,lte=600"`
	BlendMin      float64 `yaml:"blend_min" default:"0.15" validate:"gte=0,lte=1"`
	BlendMax      float64 `yaml:"blend_max" default:"0.45" validate:"gtefield=BlendMin,lte=1"`
}

// Profile is the on-disk layer-target profile
type Profile struct {
	Name           string     `yaml:"name" default:"balanced" validate:"required"`
	Layers         []Layer    `yaml:"layers" validate:"omitempty,max=5,dive"`
	VariancePct    float64    `yaml:"variance_pct" default:"3" validate:"gt=0,lte=100"`
	Risk           Risk       `yaml:"risk"`
	MaxInstruments int        `yaml:"max_instruments_per_layer" default:"3" validate:"gte=1"`
	Minimums       Minimums   `yaml:"minimums"`
	Projection     Projection `yaml:"projection"`
	GapPolicy      string     `yaml:"gap_policy" default:"SAVING_PLAN_GAPS"`
}

// Default returns the built-in balanced profile
func Default() *Profile {
	p := &Profile{}
	if err := defaults.Set(p); err != nil {
		panic(fmt.Sprintf("profile defaults: %v", err))
	}
	return p
}

// Load reads a profile from path. An empty path yields the default profile.
func Load(path string) (*Profile, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a YAML profile, fills defaults and validates it.
// Unknown keys are rejected.
func Parse(data []byte) (*Profile, error) {
	var p Profile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse profile: %w", err)
	}

	if err := defaults.Set(&p); err != nil {
		return nil, fmt.Errorf("profile defaults: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks field ranges and the cross-layer rules
func (p *Profile) Validate() error {
	if err := validate.Struct(p); err != nil {
		return formatValidationErrors(err)
	}

	seen := make(map[int]bool, len(p.Layers))
	total := 0.0
	for _, l := range p.Layers {
		if seen[l.ID] {
			return fmt.Errorf("invalid profile: layer %d listed twice", l.ID)
		}
		seen[l.ID] = true
		total += l.TargetWeight
	}
	if len(p.Layers) > 0 && total <= 0 {
		return fmt.Errorf("invalid profile: layer target weights sum to zero")
	}
	return nil
}

// Resolve turns the profile into engine settings. When the profile lists
// layers, unlisted layers get a zero target weight.
func (p *Profile) Resolve() rebalancing.Settings {
	s := rebalancing.DefaultSettings()
	s.VariancePct = p.VariancePct
	s.MinimumSavingPlan = p.Minimums.SavingPlan
	s.MinimumRebalancing = p.Minimums.Rebalancing
	s.MinimumInstrument = p.Minimums.Instrument
	s.HorizonMonths = p.Projection.HorizonMonths
	s.BlendMin = p.Projection.BlendMin
	s.BlendMax = p.Projection.BlendMax
	s.GapPolicy = suggestions.ParseGapPolicy(p.GapPolicy)

	for i := range s.Layers {
		s.Layers[i].Risk = rebalancing.RiskCutoffs{LowMax: p.Risk.LowMax, HighMin: p.Risk.HighMin}
		s.Layers[i].MaxInstruments = p.MaxInstruments
		if len(p.Layers) > 0 {
			s.Layers[i].TargetWeight = 0
		}
	}

	for _, l := range p.Layers {
		ls := &s.Layers[domain.LayerID(l.ID).Index()]
		ls.TargetWeight = l.TargetWeight
		if l.Name != "" {
			ls.Name = l.Name
		}
		if l.Risk != nil {
			ls.Risk = rebalancing.RiskCutoffs{LowMax: l.Risk.LowMax, HighMin: l.Risk.HighMin}
		}
		if l.MaxInstruments > 0 {
			ls.MaxInstruments = l.MaxInstruments
		}
	}
	return s
}

func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("invalid profile: %w", err)
	}

	msgs := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		field := strings.TrimPrefix(fe.Namespace(), "Profile.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return fmt.Errorf("invalid profile: %s", strings.Join(msgs, "; "))
}
