// Package sysinfo defines the opaque system-information provider contract
// the task dispatcher's "refresh" command and the controller's startup
// inventory dump rely on (spec.md §1, §4.7). Concrete per-platform
// collection (process lists, users, services, event logs, network
// interfaces) is explicitly out of scope for the monitor core; this
// package only defines the Provider interface and a name-keyed Registry,
// plus two default cross-platform providers built on gopsutil so the
// refresh/startup flows have something real to call.
//
// Grounded on original_source/hiveary/network.py's
// `getattr(sysinfo, 'pull_%s' % item)` dispatch, expressed as explicit
// interface registration instead of Python's attribute-name reflection
// (spec.md §9).
package sysinfo

import (
	"context"
	"fmt"
	"runtime"
	"sync"
)

// Provider produces one named kind of point-in-time system information.
type Provider interface {
	Pull(ctx context.Context) (any, error)
}

// ProviderFunc adapts a plain function to Provider.
type ProviderFunc func(ctx context.Context) (any, error)

func (f ProviderFunc) Pull(ctx context.Context) (any, error) { return f(ctx) }

// Registry is a name-keyed set of providers. "all" is handled specially by
// Pull: it returns every registered provider's result keyed by name,
// mirroring the original's implicit "pull everything" refresh item.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds or replaces the provider for name.
func (r *Registry) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

// Names returns every registered provider name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// Pull resolves item against the registry. "all" (or an empty item, the
// refresh command's default) returns a map of every provider's current
// result; any other name must match a registered provider or Pull returns
// an error, which the dispatcher turns into a FAILURE response.
func (r *Registry) Pull(ctx context.Context, item string) (any, error) {
	if item == "" {
		item = "all"
	}

	if item == "all" {
		r.mu.RLock()
		providers := make(map[string]Provider, len(r.providers))
		for name, p := range r.providers {
			providers[name] = p
		}
		r.mu.RUnlock()

		out := make(map[string]any, len(providers))
		for name, p := range providers {
			v, err := p.Pull(ctx)
			if err != nil {
				return nil, fmt.Errorf("pull %s: %w", name, err)
			}
			out[name] = v
		}
		return out, nil
	}

	r.mu.RLock()
	p, ok := r.providers[item]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown sysinfo provider %q", item)
	}
	return p.Pull(ctx)
}

// CurrentSystem reports the host OS family the way the original agent's
// platform.system() does, used by the "com" task's Windows-only check.
func CurrentSystem() string {
	switch runtime.GOOS {
	case "windows":
		return "Windows"
	case "darwin":
		return "Darwin"
	default:
		return "Linux"
	}
}
