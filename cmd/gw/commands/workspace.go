package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/groundworkhq/groundwork/pkg/engine"
	"github.com/groundworkhq/groundwork/pkg/policy"
	"github.com/groundworkhq/groundwork/pkg/providers"
	"github.com/groundworkhq/groundwork/pkg/providers/sim"
	"github.com/groundworkhq/groundwork/pkg/providers/wasm"
	"github.com/groundworkhq/groundwork/pkg/stores"
	"github.com/groundworkhq/groundwork/pkg/topology"
	"github.com/groundworkhq/groundwork/pkg/transports/ssh"
)

// loadTopology evaluates and validates the given CUE topology sources.
func loadTopology(ctx context.Context, sources []string) (*engine.Topology, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no topology sources given (use -f)")
	}

	loader := topology.NewLoader()
	topo, err := loader.Evaluate(ctx, sources)
	if err != nil {
		return nil, err
	}
	if err := loader.Validate(ctx, topo); err != nil {
		return nil, err
	}
	return topo, nil
}

// openStore opens the state database, preferring an explicit --state flag
// over the workspace's declared state path.
func openStore(ctx context.Context, cmd *cobra.Command, topo *engine.Topology) (*stores.SQLiteStore, error) {
	path := statePath
	if !cmd.Flags().Changed("state") && topo != nil && topo.Workspace.StatePath != "" {
		path = topo.Workspace.StatePath
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// loadObservedState loads the stored snapshot and refreshes it through
// the providers, so plans diff against live resource state rather than
// against the last apply.
func loadObservedState(ctx context.Context, store *stores.SQLiteStore, registry engine.ProviderRegistry) (*engine.ObservedState, error) {
	observed, err := store.LoadObservedState(ctx)
	if err != nil {
		return nil, err
	}
	if err := engine.NewRefresher(registry, store).Refresh(ctx, observed); err != nil {
		return nil, err
	}
	return observed, nil
}

// buildRegistry registers the built-in sim provider and any WASM plugins
// found under --plugins-dir.
func buildRegistry(ctx context.Context) (*providers.Registry, error) {
	registry := providers.NewRegistry(rootLogger)
	if err := registry.Register(sim.New(rootLogger)); err != nil {
		return nil, err
	}

	if pluginsDir != "" {
		load := func(ctx context.Context, manifestPath string) (engine.Provider, error) {
			return wasm.LoadProvider(ctx, manifestPath, wasm.HostConfig{})
		}
		if err := registry.LoadDirectory(ctx, pluginsDir, load); err != nil {
			registry.Close(ctx)
			return nil, err
		}
	}
	return registry, nil
}

// buildExecutor creates the SSH task executor used by run, facts, and
// the handoff bridge.
func buildExecutor() (*ssh.Executor, error) {
	opts := ssh.DefaultOptions()
	opts.AgentPath = agentPath
	return ssh.NewExecutor(opts, rootLogger)
}

// gatePolicies evaluates policies against the plan when any policy paths
// are configured. A denied plan is a hard error; warnings are logged.
func gatePolicies(ctx context.Context, paths []string, plan *engine.Plan, desired []engine.ResourceNode) error {
	if len(paths) == 0 {
		return nil
	}

	eng, err := policy.NewEngine(rootLogger)
	if err != nil {
		return err
	}
	defer eng.Close()

	if err := eng.LoadPolicies(ctx, paths); err != nil {
		return err
	}
	result, err := eng.EvaluatePlan(ctx, plan, desired)
	if err != nil {
		return err
	}

	for _, warning := range result.Warnings {
		rootLogger.Warn().Str("policy", "plan").Msg(warning)
	}
	if !result.Allowed {
		for _, v := range result.Violations {
			rootLogger.Error().
				Str("policy", v.Policy).
				Str("resource", v.ResourceID).
				Msg(v.Message)
		}
		return fmt.Errorf("plan denied by policy: %d violation(s)", len(result.Violations))
	}
	return nil
}

// parseVars parses repeated key=value flags into a variable map.
func parseVars(pairs []string) (map[string]interface{}, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	vars := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("malformed variable %q (want key=value)", pair)
		}
		vars[key] = value
	}
	return vars, nil
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writePlanFile persists a plan as JSON for later apply.
func writePlanFile(path string, plan *engine.Plan) error {
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write plan file: %w", err)
	}
	return nil
}

// readPlanFile loads a plan previously written by writePlanFile.
func readPlanFile(path string) (*engine.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	var plan engine.Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan file: %w", err)
	}
	return &plan, nil
}

// printPlanSummary writes a human-readable plan summary to stdout.
func printPlanSummary(plan *engine.Plan) {
	s := plan.Summary
	fmt.Printf("Plan: %d to create, %d to update, %d to delete, %d to replace\n",
		s.ToCreate, s.ToUpdate, s.ToDelete, s.ToReplace)
	for _, op := range plan.Operations {
		marker := "~"
		switch op.Type {
		case engine.OperationCreate:
			marker = "+"
		case engine.OperationDelete:
			marker = "-"
		}
		fmt.Printf("  %s %s (%s)\n", marker, op.ResourceID, op.Kind)
	}
}
