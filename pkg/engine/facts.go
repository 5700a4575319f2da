package engine

import (
	"context"
	"time"
)

// DefaultFactsTTL is how long cached facts stay valid.
const DefaultFactsTTL = 1 * time.Hour

// FactsCollector gathers host facts through a task executor and caches
// them in the state store. Guard expressions and the facts command read
// through the cache; a task run with fact gathering enabled always
// collects fresh.
type FactsCollector struct {
	executor TaskExecutor
	store    StateStore
	ttl      time.Duration
}

// NewFactsCollector creates a new facts collector. The store may be nil;
// caching is then disabled.
func NewFactsCollector(executor TaskExecutor, store StateStore) *FactsCollector {
	return &FactsCollector{
		executor: executor,
		store:    store,
		ttl:      DefaultFactsTTL,
	}
}

// SetTTL overrides the cache lifetime for newly collected facts.
func (c *FactsCollector) SetTTL(ttl time.Duration) {
	c.ttl = ttl
}

// Collect returns facts for one host, from the cache when fresh. With
// refresh, the cache is bypassed and the host is queried directly.
func (c *FactsCollector) Collect(ctx context.Context, host *Host, refresh bool) (*Facts, error) {
	if !refresh && c.store != nil {
		cached, err := c.store.GetFacts(ctx, host.Name)
		if err == nil && cached != nil && !cached.Expired(time.Now()) {
			return cached, nil
		}
	}

	if c.executor == nil {
		return nil, NewPermanentError("facts collector has no executor", nil).
			WithCode(ErrCodeInternal).
			WithHost(host.Name)
	}

	res, err := c.executor.Execute(ctx, host, ActionInvocation{
		Task:   "gather facts",
		Action: ActionGatherFacts,
	})
	if err != nil {
		return nil, NewTransientError("fact collection failed", err).
			WithHost(host.Name)
	}

	facts := &Facts{
		Host:        host.Name,
		CollectedAt: time.Now(),
		TTL:         c.ttl,
		Data:        map[string]interface{}{},
	}
	if res != nil && res.Data != nil {
		facts.Data = res.Data
	}

	if c.store != nil {
		_ = c.store.SaveFacts(ctx, facts)
	}
	return facts, nil
}

// CollectAll collects facts for every host in the inventory. Hosts that
// cannot be reached are skipped; their absence shows in the result map.
func (c *FactsCollector) CollectAll(ctx context.Context, inv *Inventory, refresh bool) (map[string]*Facts, error) {
	if inv == nil {
		return nil, NewPermanentError("inventory is nil", nil).
			WithCode(ErrCodeValidation)
	}

	out := make(map[string]*Facts, inv.Len())
	for _, host := range inv.Hosts() {
		if ctx.Err() != nil {
			return out, NewTransientError("fact collection cancelled", ctx.Err()).
				WithCode(ErrCodeCancelled)
		}
		facts, err := c.Collect(ctx, host, refresh)
		if err != nil {
			continue
		}
		out[host.Name] = facts
	}
	return out, nil
}

// OSFacts contains OS information.
type OSFacts struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Kernel   string `json:"kernel"`
	Arch     string `json:"arch"`
	Hostname string `json:"hostname"`
}

// MemoryFacts contains memory information.
type MemoryFacts struct {
	TotalMB     int64 `json:"total_mb"`
	AvailableMB int64 `json:"available_mb"`
}

// OS returns the typed OS facts, zero-valued when absent.
func (f *Facts) OS() OSFacts {
	m := subMap(f.Data, "os")
	return OSFacts{
		Name:     getString(m, "name"),
		Version:  getString(m, "version"),
		Kernel:   getString(m, "kernel"),
		Arch:     getString(m, "arch"),
		Hostname: getString(m, "hostname"),
	}
}

// Memory returns the typed memory facts, zero-valued when absent.
func (f *Facts) Memory() MemoryFacts {
	m := subMap(f.Data, "memory")
	return MemoryFacts{
		TotalMB:     getInt64(m, "total_mb"),
		AvailableMB: getInt64(m, "available_mb"),
	}
}

// Addresses returns the host's IP addresses from the network facts.
func (f *Facts) Addresses() []string {
	m := subMap(f.Data, "network")
	raw, ok := m["addresses"].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// subMap returns a nested fact mapping, or an empty one.
func subMap(data map[string]interface{}, key string) map[string]interface{} {
	if data == nil {
		return map[string]interface{}{}
	}
	if m, ok := data[key].(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{}
}

// getString reads a string fact value.
func getString(m map[string]interface{}, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// getInt64 reads an integer fact value. JSON round-trips land as float64.
func getInt64(m map[string]interface{}, key string) int64 {
	switch v := m[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}
