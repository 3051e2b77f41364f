// Package rules implements the rules engine: a declarative table mapping
// one machine's transition to events delivered to other machines, gated
// by simple predicates over the transition's event payload.
package rules

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/edgesurveillance/eventbus/pkg/log"
	"github.com/edgesurveillance/eventbus/pkg/types"
)

// rulesDocument is the YAML document shape: a list of rules under a
// top-level "rules" key, matching transition-rules.yaml.
type rulesDocument struct {
	Rules []ruleConfig `yaml:"rules"`
}

type ruleConfig struct {
	SourceMachine    string                 `yaml:"source_machine"`
	SourceTransition string                 `yaml:"source_transition"`
	TargetMachine    string                 `yaml:"target_machine"`
	TargetEvent      string                 `yaml:"target_event"`
	Conditions       map[string]interface{} `yaml:"conditions"`
}

// defaultRules is the built-in fan-out the engine falls back to when no
// rules file is configured or it fails to load, matching the original
// implementation's _load_default_rules: person detection always notifies
// surveillance, unconditionally.
var defaultRules = []types.Rule{
	{
		SourceMachine:    "detector",
		SourceTransition: "person_detected",
		TargetMachine:    "surveillance",
		TargetEvent:      "foundPersons",
		Conditions:       map[string]interface{}{},
	},
}

// Engine holds the loaded rule set and evaluates it against transitions.
type Engine struct {
	rules  []types.Rule
	logger zerolog.Logger
}

// New creates an engine with an explicit rule set, bypassing file
// loading. Used by tests and by Load's fallback path.
func New(rules []types.Rule) *Engine {
	return &Engine{rules: rules, logger: log.WithComponent("rules")}
}

// Load reads a rules document from path. If the file is missing or
// malformed, the engine boots with defaultRules instead of failing,
// matching the original's "core must boot with at least one trivial
// rule set" behavior.
func Load(path string) *Engine {
	logger := log.WithComponent("rules")

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("failed to load rules, using defaults")
		return &Engine{rules: defaultRules, logger: logger}
	}

	var doc rulesDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("failed to parse rules, using defaults")
		return &Engine{rules: defaultRules, logger: logger}
	}

	rules := make([]types.Rule, 0, len(doc.Rules))
	for _, rc := range doc.Rules {
		rules = append(rules, types.Rule{
			SourceMachine:    rc.SourceMachine,
			SourceTransition: rc.SourceTransition,
			TargetMachine:    rc.TargetMachine,
			TargetEvent:      rc.TargetEvent,
			Conditions:       rc.Conditions,
		})
	}
	logger.Info().Int("count", len(rules)).Msg("loaded transition rules")
	return &Engine{rules: rules, logger: logger}
}

// TriggeredEvents enumerates every rule whose source_machine and
// source_transition match, evaluates its conditions against eventData,
// and returns one TriggeredEvent per satisfied rule.
func (e *Engine) TriggeredEvents(sourceMachine, sourceTransition string, eventData map[string]interface{}) []types.TriggeredEvent {
	var out []types.TriggeredEvent

	for _, rule := range e.rules {
		if rule.SourceMachine != sourceMachine || rule.SourceTransition != sourceTransition {
			continue
		}
		if !checkConditions(rule.Conditions, eventData) {
			continue
		}

		event := types.Event{
			Name:             rule.TargetEvent,
			Data:             eventData,
			Timestamp:        time.Now(),
			SourceMachine:    sourceMachine,
			SourceTransition: sourceTransition,
		}
		out = append(out, types.TriggeredEvent{TargetMachine: rule.TargetMachine, Event: event})

		e.logger.Info().
			Str("source_machine", sourceMachine).
			Str("source_transition", sourceTransition).
			Str("target_machine", rule.TargetMachine).
			Str("target_event", rule.TargetEvent).
			Msg("rule triggered")
	}

	return out
}

// checkConditions implements the predicate language from spec section
// 4.4: ">N" passes iff the payload value is numeric and strictly greater
// than N, "<N" symmetrically, any other value requires exact equality,
// a missing key fails, and an empty condition map passes vacuously.
func checkConditions(conditions map[string]interface{}, eventData map[string]interface{}) bool {
	if len(conditions) == 0 {
		return true
	}

	for key, expected := range conditions {
		actual, ok := eventData[key]
		if !ok {
			return false
		}

		expectedStr, isStr := expected.(string)
		switch {
		case isStr && strings.HasPrefix(expectedStr, ">"):
			threshold, err := strconv.ParseFloat(strings.TrimPrefix(expectedStr, ">"), 64)
			if err != nil {
				return false
			}
			n, ok := toFloat(actual)
			if !ok || !(n > threshold) {
				return false
			}
		case isStr && strings.HasPrefix(expectedStr, "<"):
			threshold, err := strconv.ParseFloat(strings.TrimPrefix(expectedStr, "<"), 64)
			if err != nil {
				return false
			}
			n, ok := toFloat(actual)
			if !ok || !(n < threshold) {
				return false
			}
		default:
			if fmt.Sprintf("%v", actual) != fmt.Sprintf("%v", expected) {
				return false
			}
		}
	}

	return true
}

// toFloat converts YAML/JSON-decoded numeric values (int, int64, float64)
// to float64 for threshold comparison.
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
