package scoring

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/starmint/starmint/starmint/economy/utils"
)

// ComponentScore is one component's contribution to a result.
type ComponentScore struct {
	Name    string  `json:"name"`
	Score   float64 `json:"score"`
	Max     float64 `json:"max"`
	Neutral bool    `json:"neutral"`
}

// Result is the full breakdown of a scored collectible.
type Result struct {
	System             string           `json:"system"`
	Components         []ComponentScore `json:"components"`
	RawTotal           float64          `json:"raw_total"`
	CategoryMultiplier float64          `json:"category_multiplier"`
	Total              float64          `json:"total"`
}

// Engine scores attributes against one validated system. It holds no
// mutable state and is safe for concurrent use.
type Engine struct {
	system *System
}

func NewEngine(system *System) (*Engine, error) {
	if err := system.Validate(); err != nil {
		return nil, err
	}
	return &Engine{system: system}, nil
}

func (e *Engine) System() *System {
	return e.system
}

// Score never fails: missing or malformed attributes take the component's
// neutral sub-score.
func (e *Engine) Score(attributes map[string]any, category string) Result {
	res := Result{
		System:     e.system.ID(),
		Components: make([]ComponentScore, 0, len(e.system.Components)),
	}

	for _, c := range e.system.Components {
		cs := ComponentScore{Name: c.Name, Max: c.Max}
		if fraction, ok := c.fraction(attributes[c.Attribute]); ok {
			cs.Score = utils.Round2(fraction * c.Max)
		} else {
			cs.Score = c.Neutral
			cs.Neutral = true
		}
		res.Components = append(res.Components, cs)
		res.RawTotal += cs.Score
	}
	res.RawTotal = utils.Round2(res.RawTotal)

	res.CategoryMultiplier = 1.0
	if m, ok := e.system.CategoryMultipliers[normalize(category)]; ok {
		res.CategoryMultiplier = m
	}

	total := utils.Round2(res.RawTotal * res.CategoryMultiplier)
	res.Total = math.Min(math.Max(total, 0), e.system.MaxTotal)
	return res
}

func (c Component) fraction(raw any) (float64, bool) {
	if raw == nil {
		return 0, false
	}
	if c.numeric() {
		v, ok := toFloat(raw)
		if !ok {
			return 0, false
		}
		if c.Scale == ScaleLog10 {
			if v <= 0 {
				return 0, false
			}
			v = math.Log10(v)
		}
		return interpolate(c.Curve, v), true
	}

	s, ok := raw.(string)
	if !ok {
		return 0, false
	}
	s = normalize(s)
	if s == "" {
		return 0, false
	}
	if f, ok := c.Categories[s]; ok {
		return f, true
	}
	if !c.MatchPrefix {
		return 0, false
	}
	best, found := "", false
	for key := range c.Categories {
		if strings.HasPrefix(s, key) && len(key) > len(best) {
			best, found = key, true
		}
	}
	if !found {
		return 0, false
	}
	return c.Categories[best], true
}

func interpolate(curve []Breakpoint, v float64) float64 {
	if v <= curve[0].Input {
		return curve[0].Fraction
	}
	last := curve[len(curve)-1]
	if v >= last.Input {
		return last.Fraction
	}
	for i := 1; i < len(curve); i++ {
		lo, hi := curve[i-1], curve[i]
		if v <= hi.Input {
			t := (v - lo.Input) / (hi.Input - lo.Input)
			return lo.Fraction + t*(hi.Fraction-lo.Fraction)
		}
	}
	return last.Fraction
}

func toFloat(raw any) (float64, bool) {
	var v float64
	switch n := raw.(type) {
	case float64:
		v = n
	case float32:
		v = float64(n)
	case int:
		v = float64(n)
	case int32:
		v = float64(n)
	case int64:
		v = float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		v = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		v = f
	default:
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
