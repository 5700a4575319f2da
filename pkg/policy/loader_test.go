package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const testRego = `# description: denies everything
# severity: error
# tags: test, deny-all
package test.policies.all

import rego.v1

deny contains violation if {
	violation := {"message": "denied", "severity": "error"}
}`

func writePolicyFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	return path
}

func TestLoader_LoadFromPaths_RegoFile(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	path := writePolicyFile(t, t.TempDir(), "deny-all.rego", testRego)

	policies, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("Expected 1 policy, got %d", len(policies))
	}

	p := policies[0]
	if p.Name != "deny-all" {
		t.Errorf("Expected name from filename, got %q", p.Name)
	}
	if p.Description != "denies everything" {
		t.Errorf("Expected description annotation, got %q", p.Description)
	}
	if p.Severity != SeverityError {
		t.Errorf("Expected severity annotation, got %q", p.Severity)
	}
	if len(p.Tags) != 2 || p.Tags[0] != "test" || p.Tags[1] != "deny-all" {
		t.Errorf("Expected tags annotation, got %v", p.Tags)
	}
	if !p.Enabled {
		t.Error("Expected loaded policy to be enabled")
	}
	if p.Source != path {
		t.Errorf("Expected source %q, got %q", path, p.Source)
	}
}

func TestLoader_LoadFromPaths_Directory(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()
	writePolicyFile(t, dir, "one.rego", testRego)
	writePolicyFile(t, dir, "two.rego", "package test.two\n")
	writePolicyFile(t, dir, "notes.txt", "not a policy")
	// A broken file is skipped, not fatal, when loading a directory.
	writePolicyFile(t, dir, "broken.json", "{nope")

	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(policies) != 2 {
		t.Errorf("Expected 2 policies, got %d", len(policies))
	}
}

func TestLoader_LoadFromPaths_MissingPath(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	_, err := loader.LoadFromPaths(context.Background(), []string{"/no/such/path"})
	if err == nil {
		t.Error("Expected an error for a missing path")
	}
}

func TestLoader_JSONPolicy(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()

	policy := Policy{
		Name:     "json-policy",
		Rego:     "package test.json\n",
		Severity: SeverityCritical,
		Enabled:  true,
	}
	data, err := json.Marshal(policy)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	path := writePolicyFile(t, dir, "policy.json", string(data))

	policies, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("Expected 1 policy, got %d", len(policies))
	}
	if policies[0].Name != "json-policy" || policies[0].Severity != SeverityCritical {
		t.Errorf("Unexpected policy: %+v", policies[0])
	}
}

func TestLoader_JSONPolicy_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "no name", content: `{"rego": "package x"}`},
		{name: "no rego", content: `{"name": "x"}`},
		{name: "bad severity", content: `{"name": "x", "rego": "package x", "severity": "fatal"}`},
	}

	loader := NewLoader(zerolog.Nop())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writePolicyFile(t, t.TempDir(), "p.json", tt.content)
			if _, err := loader.LoadFromPaths(context.Background(), []string{path}); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func TestLoader_Cache(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	path := writePolicyFile(t, t.TempDir(), "cached.rego", testRego)

	first, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	// A second load without invalidation serves the cached parse even if
	// the file changed underneath.
	if err := os.WriteFile(path, []byte("package test.changed\n"), 0o644); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	second, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if second[0].Rego != first[0].Rego {
		t.Error("Expected cached parse on second load")
	}

	loader.ClearCache()
	third, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if third[0].Rego == first[0].Rego {
		t.Error("Expected fresh parse after cache clear")
	}
}

func TestLoader_Watch_Reload(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()
	writePolicyFile(t, dir, "watched.rego", testRego)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan []Policy, 1)
	err := loader.Watch(ctx, []string{dir}, func(policies []Policy) error {
		select {
		case reloaded <- policies:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	defer func() { _ = loader.StopWatching() }()

	writePolicyFile(t, dir, "watched.rego", "# severity: critical\npackage test.watched\n")

	select {
	case policies := <-reloaded:
		if len(policies) != 1 {
			t.Fatalf("Expected 1 policy after reload, got %d", len(policies))
		}
		if policies[0].Severity != SeverityCritical {
			t.Errorf("Expected reloaded severity critical, got %q", policies[0].Severity)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for policy reload")
	}
}

func TestParseRego_AnnotationsStopAtCode(t *testing.T) {
	source := "package test.x\n# severity: critical\n"
	policy := parseRego("/tmp/x.rego", []byte(source))
	if policy.Severity != SeverityWarning {
		t.Errorf("Expected annotations after code to be ignored, got %q", policy.Severity)
	}
}
