package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/groundworkhq/groundwork/pkg/engine"
)

// Engine evaluates Rego policies against execution plans. It implements
// engine.PolicyEngine and acts as the gate between plan and apply.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	loader   *Loader
	logger   zerolog.Logger
}

// compiledPolicy pairs a policy with its prepared deny query.
type compiledPolicy struct {
	policy   *Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a policy engine with the builtin policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		loader:   NewLoader(logger),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}

	builtins := BuiltinPolicies()
	for i := range builtins {
		if err := e.compile(context.Background(), &builtins[i]); err != nil {
			return nil, fmt.Errorf("failed to compile builtin policy %s: %w", builtins[i].Name, err)
		}
	}
	e.logger.Debug().Int("count", len(builtins)).Msg("builtin policies loaded")
	return e, nil
}

// LoadPolicies loads and compiles policy files from the given paths.
// Builtin policies stay loaded; a file policy with a builtin's name
// replaces it.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	policies, err := e.loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return engine.NewPermanentError("failed to load policies", err).
			WithCode(engine.ErrCodeValidation)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range policies {
		if err := e.compileLocked(ctx, &policies[i]); err != nil {
			return engine.NewPermanentError(
				fmt.Sprintf("failed to compile policy %s", policies[i].Name), err).
				WithCode(engine.ErrCodeValidation)
		}
	}

	e.logger.Info().
		Int("count", len(policies)).
		Int("sources", len(paths)).
		Msg("policies loaded")
	return nil
}

// Watch reloads file policies whenever one of the paths changes.
func (e *Engine) Watch(ctx context.Context, paths []string) error {
	return e.loader.Watch(ctx, paths, func(policies []Policy) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i := range policies {
			if err := e.compileLocked(ctx, &policies[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// EvaluatePlan evaluates all enabled policies against a plan and the
// desired topology it was computed from.
func (e *Engine) EvaluatePlan(ctx context.Context, plan *engine.Plan, desired []engine.ResourceNode) (*engine.PolicyResult, error) {
	start := time.Now()

	input, err := buildInput(plan, desired)
	if err != nil {
		return nil, engine.NewPermanentError("failed to build policy input", err).
			WithCode(engine.ErrCodeInternal)
	}

	e.mu.RLock()
	compiled := make([]*compiledPolicy, 0, len(e.policies))
	for _, cp := range e.policies {
		if cp.policy.Enabled {
			compiled = append(compiled, cp)
		}
	}
	e.mu.RUnlock()

	// Stable evaluation order keeps violation ordering reproducible.
	sort.Slice(compiled, func(i, j int) bool {
		return compiled[i].policy.Name < compiled[j].policy.Name
	})

	result := &engine.PolicyResult{Allowed: true}
	for _, cp := range compiled {
		findings, err := e.evaluate(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", cp.policy.Name).
				Str("plan_id", plan.ID).
				Msg("policy evaluation failed")
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("policy %s evaluation failed: %v", cp.policy.Name, err))
			continue
		}

		for _, f := range findings {
			if f.Severity.Blocks() {
				result.Allowed = false
				result.Violations = append(result.Violations, engine.PolicyViolation{
					Policy:     f.Policy,
					Message:    f.Message,
					Severity:   string(f.Severity),
					ResourceID: f.ResourceID,
				})
			} else {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("%s: %s", f.Policy, f.Message))
			}
		}
	}
	result.EvaluatedAt = time.Now()

	e.logger.Debug().
		Str("plan_id", plan.ID).
		Int("policies", len(compiled)).
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Dur("duration", time.Since(start)).
		Bool("allowed", result.Allowed).
		Msg("plan policy evaluation completed")

	return result, nil
}

// Policy returns a loaded policy by name.
func (e *Engine) Policy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, ok := e.policies[name]
	if !ok {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	return cp.policy, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, *cp.policy)
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i].Name < policies[j].Name })
	return policies
}

// SetEnabled enables or disables a policy by name.
func (e *Engine) SetEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, ok := e.policies[name]
	if !ok {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("policy toggled")
	return nil
}

// Close stops the loader's file watcher.
func (e *Engine) Close() error {
	return e.loader.StopWatching()
}

// compile compiles a policy and registers it.
func (e *Engine) compile(ctx context.Context, policy *Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.compileLocked(ctx, policy)
}

// compileLocked prepares the policy's deny query. Callers hold e.mu.
func (e *Engine) compileLocked(ctx context.Context, policy *Policy) error {
	pkg := packageName(policy.Rego)
	query, err := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Query(fmt.Sprintf("data.%s.deny", pkg)),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare policy query: %w", err)
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		query:    query,
		compiled: time.Now(),
	}
	return nil
}

// evaluate runs one prepared policy against the input document.
func (e *Engine) evaluate(ctx context.Context, cp *compiledPolicy, input interface{}) ([]Finding, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var findings []Finding
	for _, result := range results {
		for _, expr := range result.Expressions {
			denySet, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, d := range denySet {
				findings = append(findings, toFinding(cp.policy, d))
			}
		}
	}
	return findings, nil
}

// buildInput converts the plan and topology into the generic document
// policies evaluate. The JSON round trip matches what rules see when the
// same documents are exported.
func buildInput(plan *engine.Plan, desired []engine.ResourceNode) (interface{}, error) {
	resources := make(map[string]interface{}, len(desired))
	for i := range desired {
		var generic interface{}
		raw, err := json.Marshal(&desired[i])
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &generic); err != nil {
			return nil, err
		}
		resources[desired[i].ID] = generic
	}

	var genericPlan interface{}
	raw, err := json.Marshal(plan)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &genericPlan); err != nil {
		return nil, err
	}

	input := Input{
		Plan:      genericPlan,
		Resources: resources,
		Context: Context{
			Timestamp: time.Now(),
			Destroy:   planIsDestroy(plan),
		},
	}

	var generic interface{}
	raw, err = json.Marshal(input)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return generic, nil
}

// planIsDestroy reports whether the plan metadata marks a destroy plan.
func planIsDestroy(plan *engine.Plan) bool {
	if plan.Metadata == nil {
		return false
	}
	destroy, _ := plan.Metadata["destroy"].(bool)
	return destroy
}

// toFinding converts one deny result into a Finding, defaulting missing
// fields from the policy.
func toFinding(policy *Policy, result interface{}) Finding {
	finding := Finding{
		Policy:   policy.Name,
		Severity: policy.Severity,
	}

	switch v := result.(type) {
	case string:
		finding.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			finding.Message = msg
		}
		if sev, ok := v["severity"].(string); ok && Severity(sev).Valid() {
			finding.Severity = Severity(sev)
		}
		if res, ok := v["resource"].(string); ok {
			finding.ResourceID = res
		}
	default:
		finding.Message = fmt.Sprintf("%v", result)
	}
	return finding
}

// packageName extracts the package path from Rego source.
func packageName(source string) string {
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			if parts := strings.Fields(trimmed); len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "groundwork.policies"
}
