package playbook

import (
	"context"
	"strings"
	"testing"
	"time"
)

func guardEnv() map[string]interface{} {
	return map[string]interface{}{
		"facts": map[string]interface{}{
			"os":     "linux",
			"cpus":   int64(8),
			"virt":   false,
			"distro": map[string]interface{}{"id": "debian", "version": "12"},
		},
		"vars": map[string]interface{}{
			"env":      "prod",
			"replicas": 3,
			"groups":   []interface{}{"web", "db"},
		},
		"host": map[string]interface{}{
			"name":   "web-1",
			"become": true,
			"labels": map[string]interface{}{"tier": "web"},
		},
	}
}

func TestEvaluateGuard(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		want    bool
		wantErr bool
	}{
		{
			name: "fact equality",
			expr: `facts["os"] == "linux"`,
			want: true,
		},
		{
			name: "fact mismatch",
			expr: `facts["os"] == "darwin"`,
			want: false,
		},
		{
			name: "nested fact",
			expr: `facts["distro"]["id"] == "debian"`,
			want: true,
		},
		{
			name: "numeric comparison",
			expr: `vars["replicas"] > 2 and facts["cpus"] >= 8`,
			want: true,
		},
		{
			name: "host labels",
			expr: `host["labels"]["tier"] == "web"`,
			want: true,
		},
		{
			name: "list membership",
			expr: `"db" in vars["groups"]`,
			want: true,
		},
		{
			name: "compound expression",
			expr: `facts["os"] == "linux" and vars["env"] == "prod" and host["become"]`,
			want: true,
		},
		{
			name: "struct builtin",
			expr: `struct(port=22).port == 22`,
			want: true,
		},
		{
			name:    "non-bool result",
			expr:    `1 + 1`,
			wantErr: true,
		},
		{
			name:    "syntax error",
			expr:    `facts[`,
			wantErr: true,
		},
		{
			name:    "unknown identifier",
			expr:    `nonsense == 1`,
			wantErr: true,
		},
		{
			name:    "missing dict key",
			expr:    `facts["kernel"] == "6.1"`,
			wantErr: true,
		},
		{
			name: "get with default for missing key",
			expr: `facts.get("kernel", "") == ""`,
			want: true,
		},
		{
			name: "empty expression is true",
			expr: "   ",
			want: true,
		},
	}

	guard := NewStarlarkGuard()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := guard.EvaluateGuard(context.Background(), tt.expr, guardEnv())
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("EvaluateGuard() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("EvaluateGuard() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluateGuardTimeout(t *testing.T) {
	guard := NewStarlarkGuardWithTimeout(1 * time.Millisecond)
	_, err := guard.EvaluateGuard(context.Background(), `len([i for i in range(1000000)]) > 0`, nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("error = %v, want timeout", err)
	}
}

func TestEvaluateGuardCancelled(t *testing.T) {
	guard := NewStarlarkGuard()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := guard.EvaluateGuard(ctx, `len([i for i in range(1000000)]) > 0`, nil)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if !strings.Contains(err.Error(), "cancelled") {
		t.Errorf("error = %v, want cancellation", err)
	}
}

func TestGuardTimeoutDefaults(t *testing.T) {
	if g := NewStarlarkGuardWithTimeout(0); g.timeout != DefaultGuardTimeout {
		t.Errorf("timeout = %v, want default", g.timeout)
	}
	if g := NewStarlarkGuardWithTimeout(-time.Second); g.timeout != DefaultGuardTimeout {
		t.Errorf("timeout = %v, want default", g.timeout)
	}
}

func TestGuardUnsupportedBinding(t *testing.T) {
	guard := NewStarlarkGuard()
	env := map[string]interface{}{
		"weird": struct{ X int }{X: 1},
	}
	_, err := guard.EvaluateGuard(context.Background(), `weird == 1`, env)
	if err == nil {
		t.Fatal("expected conversion error")
	}
}
