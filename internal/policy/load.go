package policy

import (
	"fmt"
	"os"
	"sync"

	"github.com/modpipe/modpipe/rules"
	"gopkg.in/yaml.v3"
)

const embeddedPolicyFile = "policy.yaml"

// Load reads a policy table from a YAML file. An empty path loads the
// embedded default tables.
func Load(path string) (*Policy, error) {
	var data []byte
	var err error
	if path == "" {
		data, err = rules.FS().ReadFile(embeddedPolicyFile)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading policy: %w", err)
	}

	var pol Policy
	if err := yaml.Unmarshal(data, &pol); err != nil {
		return nil, fmt.Errorf("parsing policy: %w", err)
	}
	if err := pol.Validate(); err != nil {
		return nil, err
	}
	return &pol, nil
}

// Provider hands out the current policy and supports atomic replacement
// on hot reload. Workers call Current per event, so a reload takes effect
// on the next message without a restart.
type Provider struct {
	mu  sync.RWMutex
	pol *Policy
}

func NewProvider(pol *Policy) *Provider {
	return &Provider{pol: pol}
}

func (p *Provider) Current() *Policy {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pol
}

func (p *Provider) Replace(pol *Policy) {
	p.mu.Lock()
	p.pol = pol
	p.mu.Unlock()
}
