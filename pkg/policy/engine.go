package policy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/fetchez/fetchez/pkg/engine"
)

// Gate evaluates compiled execution plans against Rego policies before the
// engine runs them. It implements engine.PlanGate: error-severity denials
// abort the run, warnings are surfaced and logged.
type Gate struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger

	builtinPolicies []Policy
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	compiled time.Time
}

// NewGate creates a policy gate with the built-in policies loaded.
func NewGate(logger zerolog.Logger) (*Gate, error) {
	g := &Gate{
		policies:        make(map[string]*compiledPolicy),
		logger:          logger.With().Str("component", "policy-gate").Logger(),
		builtinPolicies: GetBuiltinPolicies(),
	}

	for i := range g.builtinPolicies {
		if err := g.compileAndStorePolicy(&g.builtinPolicies[i]); err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", g.builtinPolicies[i].Name, err)
		}
	}
	g.logger.Info().Int("count", len(g.builtinPolicies)).Msg("Built-in policies loaded")
	return g, nil
}

// Evaluate implements engine.PlanGate.
func (g *Gate) Evaluate(ctx context.Context, plan *engine.Plan) (*engine.GateDecision, error) {
	startTime := time.Now()
	g.mu.RLock()
	defer g.mu.RUnlock()

	input := &Input{
		Recipe: plan.Recipe,
		Context: &Context{
			Timestamp: time.Now(),
			Operation: "run",
		},
	}

	decision := &engine.GateDecision{Allowed: true}
	for _, cp := range g.policies {
		if !cp.policy.Enabled {
			continue
		}

		violations, err := g.evaluatePolicy(ctx, cp, input)
		if err != nil {
			g.logger.Error().Err(err).
				Str("policy", cp.policy.Name).
				Msg("Policy evaluation failed")
			decision.Warnings = append(decision.Warnings,
				fmt.Sprintf("policy %s evaluation failed: %v", cp.policy.Name, err))
			continue
		}

		for _, v := range violations {
			msg := fmt.Sprintf("%s: %s", v.Policy, v.Message)
			if v.Severity == SeverityError {
				decision.Allowed = false
				decision.Denials = append(decision.Denials, msg)
			} else {
				decision.Warnings = append(decision.Warnings, msg)
			}
		}
	}

	g.logger.Debug().
		Str("project", plan.Recipe.Project).
		Bool("allowed", decision.Allowed).
		Int("denials", len(decision.Denials)).
		Int("warnings", len(decision.Warnings)).
		Dur("duration", time.Since(startTime)).
		Msg("Plan policy evaluation completed")

	return decision, nil
}

// LoadPolicies loads and compiles policy files from the given paths.
func (g *Gate) LoadPolicies(ctx context.Context, paths []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	loader := NewLoader(g.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	for i := range policies {
		if err := g.compileAndStorePolicy(&policies[i]); err != nil {
			g.logger.Error().Err(err).
				Str("policy", policies[i].Name).
				Msg("Failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	g.logger.Info().Int("count", len(policies)).Msg("Policies loaded successfully")
	return nil
}

// evaluatePolicy evaluates a single compiled policy against the input.
func (g *Gate) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	packageName := extractPackageName(cp.policy.Rego)
	query := fmt.Sprintf("data.%s.deny", packageName)

	r := rego.New(
		rego.Module(cp.policy.Name, cp.policy.Rego),
		rego.Query(query),
		rego.Input(input),
	)

	results, err := r.Eval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, g.createViolation(cp.policy, d))
		}
	}
	return violations, nil
}

// extractPackageName extracts the package name from Rego code.
func extractPackageName(code string) string {
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "fetchez.policies"
}

// createViolation creates a Violation from a policy deny result.
func (g *Gate) createViolation(policy *Policy, result interface{}) Violation {
	violation := Violation{
		Policy:   policy.Name,
		Severity: policy.Severity,
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
		if mod, ok := v["module"].(string); ok {
			violation.Module = mod
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compileAndStorePolicy compiles a policy and stores it.
func (g *Gate) compileAndStorePolicy(policy *Policy) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	g.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		module:   module,
		compiled: time.Now(),
	}

	g.logger.Debug().Str("policy", policy.Name).Msg("Policy compiled successfully")
	return nil
}

// GetPolicy returns a policy by name.
func (g *Gate) GetPolicy(name string) (*Policy, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	cp, exists := g.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	return cp.policy, nil
}

// ListPolicies returns all loaded policies.
func (g *Gate) ListPolicies() []Policy {
	g.mu.RLock()
	defer g.mu.RUnlock()

	policies := make([]Policy, 0, len(g.policies))
	for _, cp := range g.policies {
		policies = append(policies, *cp.policy)
	}
	return policies
}

// ReloadPolicies drops all loaded policies and restores the built-ins.
func (g *Gate) ReloadPolicies() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.policies = make(map[string]*compiledPolicy)
	for i := range g.builtinPolicies {
		if err := g.compileAndStorePolicy(&g.builtinPolicies[i]); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", g.builtinPolicies[i].Name, err)
		}
	}
	return nil
}

// EnablePolicy enables a policy by name.
func (g *Gate) EnablePolicy(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	cp, exists := g.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = true
	g.logger.Info().Str("policy", name).Msg("Policy enabled")
	return nil
}

// DisablePolicy disables a policy by name.
func (g *Gate) DisablePolicy(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	cp, exists := g.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = false
	g.logger.Info().Str("policy", name).Msg("Policy disabled")
	return nil
}
