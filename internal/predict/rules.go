package predict

import (
	"fmt"
	"sort"
)

// Rule assigns Class when every feature in When is strictly above its threshold
type Rule struct {
	Class int                `yaml:"class"`
	When  map[string]float64 `yaml:"when"`
}

type condition struct {
	feature int
	above   float64
}

type compiledRule struct {
	class int
	conds []condition
}

// Rules is a threshold classifier; the highest matching class wins, 0 when nothing matches
type Rules struct {
	rules []compiledRule
}

// NewRules validates and compiles a rule set
func NewRules(rules []Rule) (*Rules, error) {
	out := &Rules{rules: make([]compiledRule, 0, len(rules))}
	for i, r := range rules {
		if r.Class < 0 {
			return nil, fmt.Errorf("%w: rule %d: negative class %d", ErrBadModel, i, r.Class)
		}
		if len(r.When) == 0 {
			return nil, fmt.Errorf("%w: rule %d: no conditions", ErrBadModel, i)
		}
		cr := compiledRule{class: r.Class}
		for name, above := range r.When {
			idx, ok := FeatureIndex(name)
			if !ok {
				return nil, fmt.Errorf("%w: rule %d: unknown feature %q", ErrBadModel, i, name)
			}
			cr.conds = append(cr.conds, condition{feature: idx, above: above})
		}
		// map order is random; keep evaluation order stable
		sort.Slice(cr.conds, func(a, b int) bool { return cr.conds[a].feature < cr.conds[b].feature })
		out.rules = append(out.rules, cr)
	}
	return out, nil
}

// MustRules is NewRules for built-in rule sets
func MustRules(rules []Rule) *Rules {
	r, err := NewRules(rules)
	if err != nil {
		panic(err)
	}
	return r
}

// Classify implements Classifier
func (r *Rules) Classify(v Vector) int {
	class := 0
	for _, rule := range r.rules {
		if rule.class > class && rule.matches(v) {
			class = rule.class
		}
	}
	return class
}

func (r compiledRule) matches(v Vector) bool {
	for _, c := range r.conds {
		if v[c.feature] <= c.above {
			return false
		}
	}
	return true
}

// DefaultFireRules is used when no fire model file is configured
func DefaultFireRules() []Rule {
	return []Rule{
		{Class: 1, When: map[string]float64{"temperature": 45}},
		{Class: 1, When: map[string]float64{"tvoc": 1000}},
		{Class: 1, When: map[string]float64{"pm2_5": 150}},
		{Class: 2, When: map[string]float64{"temperature": 57}},
		{Class: 2, When: map[string]float64{"tvoc": 1500, "pm2_5": 100}},
		{Class: 2, When: map[string]float64{"temperature": 45, "eco2": 2000}},
	}
}

// DefaultZoneRules is used when no zone model file is configured
func DefaultZoneRules() []Rule {
	return []Rule{
		{Class: 1, When: map[string]float64{"eco2": 800}},
		{Class: 1, When: map[string]float64{"pm2_5": 12}},
		{Class: 1, When: map[string]float64{"pm10": 50}},
		{Class: 1, When: map[string]float64{"tvoc": 500}},
		{Class: 2, When: map[string]float64{"eco2": 1500}},
		{Class: 2, When: map[string]float64{"pm2_5": 55}},
		{Class: 2, When: map[string]float64{"pm10": 150}},
		{Class: 2, When: map[string]float64{"tvoc": 2200}},
	}
}

// AirQualityRules is the binary safe/unsafe rule the air-quality endpoint answers with
// pm2_5 above 12 is the first non-zero pm2_5 category
func AirQualityRules() []Rule {
	return []Rule{
		{Class: 1, When: map[string]float64{"eco2": 680}},
		{Class: 1, When: map[string]float64{"pm10": 125}},
		{Class: 1, When: map[string]float64{"pm2_5": 12}},
	}
}
