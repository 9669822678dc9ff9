// Package rules implements the pluggable risk-rule contract and a
// compile-time registry of rule constructors, replacing the dynamic
// module-loading the original Python daemon used (spec §9 redesign:
// "tagged interface" over runtime plugin discovery).
package rules

import (
	"context"
	"fmt"

	"github.com/eddiefleurent/riskd/internal/broker"
	"github.com/eddiefleurent/riskd/internal/riskmodel"
)

// Rule evaluates one risk rule against one normalized event. A Rule must
// be pure with respect to daemon state except through brk queries — it
// never mutates the tracker, session, or config.
type Rule interface {
	Check(ctx context.Context, ev riskmodel.Event, cfg riskmodel.RuleDescriptor,
		brk broker.Broker, dryRun bool, currentDailyPnL float64) (riskmodel.BreachResult, error)
}

// Constructor builds a fresh Rule instance. Rules are stateless across
// evaluations, so a single shared instance per registered name would
// also be safe, but a constructor keeps the door open for rules that
// want per-instantiation setup.
type Constructor func() Rule

// Registry maps a rule name (the config.rules key) to its Constructor.
type Registry struct {
	constructors map[string]Constructor
}

// defaultRegistry is populated by this package's init() with the two
// rules spec.md §4.6 specifies. It is not a package-level mutable map
// callers can corrupt — NewRegistry copies it into a fresh instance.
var defaultRegistry = map[string]Constructor{}

// register is called from each rule's own file's init().
func register(name string, ctor Constructor) {
	defaultRegistry[name] = ctor
}

// NewRegistry returns a Registry seeded with every compiled-in rule.
func NewRegistry() *Registry {
	r := &Registry{constructors: make(map[string]Constructor, len(defaultRegistry))}
	for name, ctor := range defaultRegistry {
		r.constructors[name] = ctor
	}
	return r
}

// Build instantiates the rule registered under name. It returns
// ok == false for an unregistered name — callers must treat this as a
// PluginLoadError (ERROR-audit, continue with remaining rules), never a
// fatal error (spec §9).
func (r *Registry) Build(name string) (Rule, bool) {
	ctor, ok := r.constructors[name]
	if !ok {
		return nil, false
	}
	return ctor(), true
}

// EvaluateAll runs descriptors in order against ev, short-circuiting on
// the first breach (spec §4.6: "first breach wins"). descs must already
// be in config-declaration order — Registry does not reorder them.
// Unregistered or disabled rules are skipped; an unregistered name is
// reported via unknownRule rather than aborting evaluation.
func (r *Registry) EvaluateAll(
	ctx context.Context,
	ev riskmodel.Event,
	descs []riskmodel.RuleDescriptor,
	brk broker.Broker,
	dryRun bool,
	currentDailyPnL float64,
	unknownRule func(name string),
) (riskmodel.BreachResult, string, error) {
	for _, desc := range descs {
		if !desc.Enabled {
			continue
		}
		rule, ok := r.Build(desc.Name)
		if !ok {
			if unknownRule != nil {
				unknownRule(desc.Name)
			}
			continue
		}
		result, err := rule.Check(ctx, ev, desc, brk, dryRun, currentDailyPnL)
		if err != nil {
			return riskmodel.BreachResult{}, desc.Name, fmt.Errorf("rule %q: %w", desc.Name, err)
		}
		if result.Status == riskmodel.StatusBreach {
			return result, desc.Name, nil
		}
	}
	return riskmodel.BreachResult{Status: riskmodel.StatusValid}, "", nil
}
