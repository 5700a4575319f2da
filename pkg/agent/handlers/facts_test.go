package handlers

import (
	"context"
	"strings"
	"testing"

	"github.com/groundworkhq/groundwork/pkg/agent/protocol"
)

func TestParseOSRelease(t *testing.T) {
	input := `NAME="Debian GNU/Linux"
ID=debian
# a comment
VERSION_ID="12"
PRETTY_NAME='Debian GNU/Linux 12 (bookworm)'

BROKEN_LINE
`
	got := parseOSRelease(strings.NewReader(input))

	if got["ID"] != "debian" {
		t.Errorf("ID = %q, want debian", got["ID"])
	}
	if got["VERSION_ID"] != "12" {
		t.Errorf("VERSION_ID = %q, want 12", got["VERSION_ID"])
	}
	if got["PRETTY_NAME"] != "Debian GNU/Linux 12 (bookworm)" {
		t.Errorf("PRETTY_NAME = %q", got["PRETTY_NAME"])
	}
	if _, ok := got["BROKEN_LINE"]; ok {
		t.Error("line without = should be skipped")
	}
}

func TestParseMeminfo(t *testing.T) {
	input := `MemTotal:       16284928 kB
MemFree:         1024000 kB
MemAvailable:    8142464 kB
Buffers:          204800 kB
`
	total, available := parseMeminfo(strings.NewReader(input))

	if total != 16284928/1024 {
		t.Errorf("total = %d MB, want %d", total, 16284928/1024)
	}
	if available != 8142464/1024 {
		t.Errorf("available = %d MB, want %d", available, 8142464/1024)
	}
}

func TestFactSubsets(t *testing.T) {
	all := factSubsets(nil)
	for _, subset := range []string{"os", "memory", "cpu", "network"} {
		if !all[subset] {
			t.Errorf("empty filter should select %s", subset)
		}
	}

	only := factSubsets([]string{"os"})
	if !only["os"] || only["memory"] || only["network"] {
		t.Errorf("filter = %v, want os only", only)
	}
}

func TestFactsGatherHandler(t *testing.T) {
	h := &FactsGatherHandler{}
	ctx := context.Background()

	t.Run("gathers all subsets", func(t *testing.T) {
		result, err := h.Handle(ctx, &protocol.FactsGatherParams{}, nil)
		if err != nil {
			t.Fatalf("Handle() error = %v", err)
		}

		osFacts, ok := result.Facts["os"].(map[string]interface{})
		if !ok {
			t.Fatal("os facts missing")
		}
		if osFacts["arch"] == "" {
			t.Error("os.arch is empty")
		}

		cpuFacts, ok := result.Facts["cpu"].(map[string]interface{})
		if !ok {
			t.Fatal("cpu facts missing")
		}
		if count, _ := cpuFacts["count"].(int); count < 1 {
			t.Errorf("cpu.count = %v, want >= 1", cpuFacts["count"])
		}
	})

	t.Run("honors subset filter", func(t *testing.T) {
		result, err := h.Handle(ctx, &protocol.FactsGatherParams{Subsets: []string{"cpu"}}, nil)
		if err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
		if _, ok := result.Facts["cpu"]; !ok {
			t.Error("cpu subset missing")
		}
		if _, ok := result.Facts["os"]; ok {
			t.Error("os subset should be filtered out")
		}
	})
}
