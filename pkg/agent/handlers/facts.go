package handlers

import (
	"bufio"
	"context"
	"io"
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/groundworkhq/groundwork/pkg/agent/protocol"
)

// FactsGatherHandler collects host facts grouped by subset. Collection
// is best effort; a subset that cannot be read is simply absent.
type FactsGatherHandler struct{}

// Handle gathers the requested subsets, or all of them.
func (h *FactsGatherHandler) Handle(ctx context.Context, params *protocol.FactsGatherParams, eventCh chan<- *protocol.EventMessage) (*protocol.FactsGatherResult, error) {
	want := factSubsets(params.Subsets)
	facts := map[string]interface{}{}

	if want["os"] {
		facts["os"] = h.osFacts(ctx)
	}
	if want["memory"] {
		if total, available, ok := readMeminfo(); ok {
			facts["memory"] = map[string]interface{}{
				"total_mb":     total,
				"available_mb": available,
			}
		}
	}
	if want["cpu"] {
		facts["cpu"] = map[string]interface{}{
			"count": runtime.NumCPU(),
		}
	}
	if want["network"] {
		facts["network"] = map[string]interface{}{
			"addresses": interfaceAddresses(),
		}
	}

	return &protocol.FactsGatherResult{Facts: facts}, nil
}

// factSubsets expands the subset filter; empty selects everything.
func factSubsets(subsets []string) map[string]bool {
	if len(subsets) == 0 {
		return map[string]bool{"os": true, "memory": true, "cpu": true, "network": true}
	}
	want := make(map[string]bool, len(subsets))
	for _, s := range subsets {
		want[s] = true
	}
	return want
}

func (h *FactsGatherHandler) osFacts(ctx context.Context) map[string]interface{} {
	facts := map[string]interface{}{
		"arch": runtime.GOARCH,
	}
	if hostname, err := os.Hostname(); err == nil {
		facts["hostname"] = hostname
	}
	if kernel, err := runCmd(ctx, false, "uname", "-r"); err == nil {
		facts["kernel"] = kernel
	}

	if f, err := os.Open("/etc/os-release"); err == nil {
		release := parseOSRelease(f)
		f.Close()
		if name := release["ID"]; name != "" {
			facts["name"] = name
		}
		if version := release["VERSION_ID"]; version != "" {
			facts["version"] = version
		}
	} else {
		facts["name"] = runtime.GOOS
	}
	return facts
}

// parseOSRelease reads the KEY=value pairs of an os-release file,
// stripping surrounding quotes.
func parseOSRelease(r io.Reader) map[string]string {
	out := map[string]string{}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		out[key] = strings.Trim(value, `"'`)
	}
	return out
}

// readMeminfo reports total and available memory in MB.
func readMeminfo() (int64, int64, bool) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, 0, false
	}
	defer f.Close()
	total, available := parseMeminfo(f)
	return total, available, total > 0
}

// parseMeminfo extracts MemTotal and MemAvailable from meminfo content,
// converting from kB to MB.
func parseMeminfo(r io.Reader) (total, available int64) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total = kb / 1024
		case "MemAvailable:":
			available = kb / 1024
		}
	}
	return total, available
}

// interfaceAddresses lists the host's non-loopback IP addresses.
func interfaceAddresses() []string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}
	var out []string
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		out = append(out, ipnet.IP.String())
	}
	return out
}
