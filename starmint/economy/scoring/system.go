package scoring

import (
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/pelletier/go-toml/v2"
)

const (
	ScaleLinear = "linear"
	ScaleLog10  = "log10"

	MinCategoryMultiplier = 0.98
	MaxCategoryMultiplier = 1.15
	MinComponents         = 5
	MaxComponents         = 10
)

// Breakpoint maps an attribute value to a fraction of the component maximum.
// Values between breakpoints interpolate linearly; values outside the curve
// clamp to the nearest end.
type Breakpoint struct {
	Input    float64 `toml:"input"`
	Fraction float64 `toml:"fraction"`
}

// Component scores one attribute. Exactly one of Curve or Categories is set.
type Component struct {
	Name      string  `toml:"name"`
	Attribute string  `toml:"attribute"`
	Max       float64 `toml:"max"`
	Neutral   float64 `toml:"neutral"`
	Scale     string  `toml:"scale"`

	Curve []Breakpoint `toml:"curve"`

	// Categories maps a lower-cased value to a fraction of Max. With
	// MatchPrefix the longest key that prefixes the value wins.
	Categories  map[string]float64 `toml:"categories"`
	MatchPrefix bool               `toml:"match_prefix"`
}

func (c Component) numeric() bool {
	return len(c.Curve) > 0
}

// System is a versioned scoring configuration.
type System struct {
	Name                string             `toml:"name"`
	Version             int                `toml:"version"`
	MaxTotal            float64            `toml:"max_total"`
	Components          []Component        `toml:"components"`
	CategoryMultipliers map[string]float64 `toml:"category_multipliers"`
}

// ID is the name and version, e.g. "celestial-v2@2".
func (s *System) ID() string {
	return fmt.Sprintf("%s@%d", s.Name, s.Version)
}

// Validate checks the system once at load so scoring never fails at use.
func (s *System) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("scoring system has no name")
	}
	if s.MaxTotal <= 0 {
		return fmt.Errorf("scoring system %s: max_total must be positive", s.Name)
	}
	if n := len(s.Components); n < MinComponents || n > MaxComponents {
		return fmt.Errorf("scoring system %s: %d components, want %d-%d", s.Name, n, MinComponents, MaxComponents)
	}

	var sum float64
	seen := make(map[string]bool, len(s.Components))
	for _, c := range s.Components {
		if err := c.validate(); err != nil {
			return fmt.Errorf("scoring system %s: %w", s.Name, err)
		}
		if seen[c.Name] {
			return fmt.Errorf("scoring system %s: duplicate component %q", s.Name, c.Name)
		}
		seen[c.Name] = true
		sum += c.Max
	}
	if math.Abs(sum-s.MaxTotal) > 1e-9 {
		return fmt.Errorf("scoring system %s: component maxima sum to %.2f, want %.2f", s.Name, sum, s.MaxTotal)
	}

	for category, m := range s.CategoryMultipliers {
		if m < MinCategoryMultiplier || m > MaxCategoryMultiplier {
			return fmt.Errorf("scoring system %s: category %q multiplier %.2f outside [%.2f, %.2f]",
				s.Name, category, m, MinCategoryMultiplier, MaxCategoryMultiplier)
		}
	}
	return nil
}

func (c Component) validate() error {
	if c.Name == "" || c.Attribute == "" {
		return fmt.Errorf("component needs a name and an attribute")
	}
	if c.Max <= 0 {
		return fmt.Errorf("component %s: max must be positive", c.Name)
	}
	if c.Neutral < 0 || c.Neutral > c.Max {
		return fmt.Errorf("component %s: neutral %.2f outside [0, %.2f]", c.Name, c.Neutral, c.Max)
	}
	if c.numeric() == (len(c.Categories) > 0) {
		return fmt.Errorf("component %s: needs exactly one of curve or categories", c.Name)
	}
	switch c.Scale {
	case "", ScaleLinear, ScaleLog10:
	default:
		return fmt.Errorf("component %s: unknown scale %q", c.Name, c.Scale)
	}

	for i, bp := range c.Curve {
		if bp.Fraction < 0 || bp.Fraction > 1 {
			return fmt.Errorf("component %s: breakpoint %d fraction %.2f outside [0, 1]", c.Name, i, bp.Fraction)
		}
		if i > 0 && bp.Input <= c.Curve[i-1].Input {
			return fmt.Errorf("component %s: breakpoint inputs must be strictly increasing", c.Name)
		}
	}
	for key, f := range c.Categories {
		if f < 0 || f > 1 {
			return fmt.Errorf("component %s: category %q fraction %.2f outside [0, 1]", c.Name, key, f)
		}
	}
	return nil
}

// LoadSystem reads a scoring system from a TOML file and validates it.
func LoadSystem(path string) (*System, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scoring system: %w", err)
	}

	var s System
	if err := toml.Unmarshal(file, &s); err != nil {
		return nil, fmt.Errorf("failed to parse scoring system: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

var builtin = map[string]*System{
	"celestial-v1": celestialV1(),
	"celestial-v2": celestialV2(),
}

// DefaultSystemName is used when configuration names no system.
const DefaultSystemName = "celestial-v2"

// Builtin returns a copy of a built-in system.
func Builtin(name string) (*System, error) {
	s, ok := builtin[name]
	if !ok {
		return nil, fmt.Errorf("unknown scoring system %q (have %v)", name, BuiltinNames())
	}
	cp := *s
	cp.Components = append([]Component(nil), s.Components...)
	cp.CategoryMultipliers = make(map[string]float64, len(s.CategoryMultipliers))
	for k, v := range s.CategoryMultipliers {
		cp.CategoryMultipliers[k] = v
	}
	return &cp, nil
}

func BuiltinNames() []string {
	names := make([]string, 0, len(builtin))
	for name := range builtin {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var celestialCategories = map[string]float64{
	"black_hole":   1.15,
	"neutron_star": 1.12,
	"exoplanet":    1.08,
	"nebula":       1.05,
	"galaxy":       1.04,
	"star_cluster": 1.02,
	"star":         1.00,
	"asteroid":     0.98,
}

var spectralClasses = map[string]float64{
	"o": 1.00, "b": 0.85, "a": 0.65, "f": 0.50, "g": 0.45,
	"k": 0.40, "m": 0.35, "l": 0.60, "t": 0.70, "y": 0.80,
	"wd": 0.75,
}

func distanceComponent(max, neutral float64) Component {
	return Component{
		Name: "distance", Attribute: "distance_ly", Max: max, Neutral: neutral, Scale: ScaleLog10,
		Curve: []Breakpoint{{0, 0.2}, {1, 0.4}, {3, 0.7}, {6, 0.9}, {9, 1.0}},
	}
}

func massComponent(max, neutral float64) Component {
	return Component{
		Name: "mass", Attribute: "mass_solar", Max: max, Neutral: neutral, Scale: ScaleLog10,
		Curve: []Breakpoint{{-3, 0.2}, {0, 0.4}, {1, 0.6}, {2, 0.85}, {3, 1.0}},
	}
}

func temperatureComponent(max, neutral float64) Component {
	return Component{
		Name: "temperature", Attribute: "temperature_k", Max: max, Neutral: neutral,
		Curve: []Breakpoint{{0, 0.1}, {3000, 0.3}, {6000, 0.5}, {10000, 0.7}, {30000, 0.9}, {100000, 1.0}},
	}
}

func magnitudeComponent(max, neutral float64) Component {
	return Component{
		Name: "brightness", Attribute: "apparent_magnitude", Max: max, Neutral: neutral,
		Curve: []Breakpoint{{-30, 1.0}, {-1, 0.9}, {2, 0.7}, {6, 0.45}, {15, 0.2}, {30, 0.05}},
	}
}

func spectralComponent(max, neutral float64) Component {
	return Component{
		Name: "spectral_class", Attribute: "spectral_class", Max: max, Neutral: neutral,
		Categories: spectralClasses, MatchPrefix: true,
	}
}

func celestialV1() *System {
	return &System{
		Name:     "celestial-v1",
		Version:  1,
		MaxTotal: 300,
		Components: []Component{
			distanceComponent(70, 25),
			massComponent(60, 20),
			temperatureComponent(60, 20),
			magnitudeComponent(60, 20),
			spectralComponent(50, 15),
		},
		CategoryMultipliers: celestialCategories,
	}
}

func celestialV2() *System {
	return &System{
		Name:     "celestial-v2",
		Version:  2,
		MaxTotal: 500,
		Components: []Component{
			distanceComponent(90, 30),
			massComponent(80, 25),
			temperatureComponent(70, 20),
			{
				Name: "discovery", Attribute: "discovery_year", Max: 60, Neutral: 20,
				Curve: []Breakpoint{{1600, 1.0}, {1800, 0.8}, {1950, 0.5}, {2000, 0.3}, {2025, 0.1}},
			},
			magnitudeComponent(80, 25),
			spectralComponent(70, 20),
			{
				Name: "confirmation", Attribute: "confirmed_by", Max: 50, Neutral: 15,
				Categories: map[string]float64{
					"multiple":           1.00,
					"space_telescope":    0.85,
					"ground_observatory": 0.60,
					"survey":             0.45,
					"candidate":          0.20,
				},
			},
		},
		CategoryMultipliers: celestialCategories,
	}
}
