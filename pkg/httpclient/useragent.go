package httpclient

import (
	"sync/atomic"
)

// DefaultUserAgents is a set of modern desktop browser User-Agents.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:122.0) Gecko/20100101 Firefox/122.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:122.0) Gecko/20100101 Firefox/122.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.3 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36 Edg/121.0.0.0",
}

// AgentPool hands out User-Agents round-robin. It is safe for concurrent use.
type AgentPool struct {
	uas     []string
	counter atomic.Uint64
}

// NewAgentPool copies uas into a pool, falling back to DefaultUserAgents.
func NewAgentPool(uas []string) *AgentPool {
	if len(uas) == 0 {
		uas = DefaultUserAgents
	}
	return &AgentPool{uas: append([]string(nil), uas...)}
}

// Next returns the next User-Agent.
func (p *AgentPool) Next() string {
	idx := p.counter.Add(1) - 1
	return p.uas[idx%uint64(len(p.uas))]
}
