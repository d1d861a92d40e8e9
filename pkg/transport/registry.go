package transport

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// DefaultName is the adapter used when no transport name is configured.
const DefaultName = "nhooyr"

var (
	registryMu sync.RWMutex
	registry   = map[string]Dialer{}
)

func init() {
	Register("nhooyr", DialFunc(DialWebSocket))
	Register("gorilla", DialFunc(DialGorilla))
}

// Register makes a Dialer available under name, replacing any previous
// registration.
func Register(name string, d Dialer) {
	if d == nil {
		panic("transport: Register dialer is nil")
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = d
}

// Lookup returns the Dialer registered under name. An empty name selects
// DefaultName.
func Lookup(name string) (Dialer, error) {
	if name == "" {
		name = DefaultName
	}
	registryMu.RLock()
	defer registryMu.RUnlock()
	d, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("transport: unknown transport %q (available: %v)", name, namesLocked())
	}
	return d, nil
}

// Names returns the registered transport names in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return namesLocked()
}

func namesLocked() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dial connects with the transport registered under name.
func Dial(ctx context.Context, name string, cfg Config) (Conn, error) {
	d, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	return d.Dial(ctx, cfg)
}
