// Package autoreply turns user messages into canned admin replies.
//
// Rules are a declarative table of (pattern, reply) pairs. Every rule whose
// pattern matches fires, in table order; matching is case-insensitive.
package autoreply

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
)

// ErrInvalidRule is returned when a rule has no pattern or no reply, or when
// the pattern does not compile.
var ErrInvalidRule = errors.New("invalid auto-reply rule")

// Rule pairs a compiled pattern with the reply it produces.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Reply   string
}

// Reply is the outcome of one matching rule.
type Reply struct {
	Rule string
	Text string
}

// RuleSpec is the on-disk form of a rule.
type RuleSpec struct {
	Name    string `json:"name"`
	Pattern string `json:"pattern"`
	Reply   string `json:"reply"`
}

// DefaultRuleSpecs are the rules shipped with the relay.
var DefaultRuleSpecs = []RuleSpec{
	{
		Name:    "payment-method",
		Pattern: `cara bayar`,
		Reply:   "Untuk cara bayar, silakan pilih transfer bank atau pembayaran online.",
	},
	{
		Name:    "business-hours",
		Pattern: `jam operasional`,
		Reply:   "Jam operasional kami adalah Senin-Jumat, 09:00 - 17:00.",
	},
}

// Engine evaluates an immutable rule table.
type Engine struct {
	rules []Rule
}

// New compiles specs into an Engine. Patterns are matched case-insensitively.
func New(specs []RuleSpec) (*Engine, error) {
	rules := make([]Rule, 0, len(specs))
	for i, spec := range specs {
		if spec.Pattern == "" || spec.Reply == "" {
			return nil, fmt.Errorf("rule %d: %w: pattern and reply are required", i, ErrInvalidRule)
		}
		re, err := regexp.Compile("(?i)" + spec.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w: %v", i, ErrInvalidRule, err)
		}
		name := spec.Name
		if name == "" {
			name = fmt.Sprintf("rule-%d", i)
		}
		rules = append(rules, Rule{Name: name, Pattern: re, Reply: spec.Reply})
	}
	return &Engine{rules: rules}, nil
}

// Default returns an Engine with DefaultRuleSpecs.
func Default() *Engine {
	e, err := New(DefaultRuleSpecs)
	if err != nil {
		panic(err)
	}
	return e
}

// ParseRules decodes a JSON array of RuleSpec.
func ParseRules(r io.Reader) ([]RuleSpec, error) {
	var specs []RuleSpec
	if err := json.NewDecoder(r).Decode(&specs); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	return specs, nil
}

// LoadFile builds an Engine from a JSON rule file.
func LoadFile(path string) (*Engine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rules: %w", err)
	}
	defer f.Close()

	specs, err := ParseRules(f)
	if err != nil {
		return nil, err
	}
	return New(specs)
}

// Evaluate returns one reply per matching rule, in table order.
func (e *Engine) Evaluate(body string) []Reply {
	var out []Reply
	for _, rule := range e.rules {
		if rule.Pattern.MatchString(body) {
			out = append(out, Reply{Rule: rule.Name, Text: rule.Reply})
		}
	}
	return out
}

// Rules returns a copy of the rule table.
func (e *Engine) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}
