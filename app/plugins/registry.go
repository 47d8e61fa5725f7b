// Package plugins maps configuration names to the pluggable parts of the
// service that are not covered by the core factories.
package plugins

import (
	"fmt"
	"sort"

	dispatchlog "github.com/aeternum-health/dispatch/core/dispatch/logging"
)

// LogStoreFactory builds a dispatch log store from raw config.
type LogStoreFactory func(conf map[string]any) (dispatchlog.LogStore, error)

var LogStores = map[string]LogStoreFactory{}

func RegisterLogStore(name string, f LogStoreFactory) { LogStores[name] = f }

// NewLogStore builds the store registered under name.
func NewLogStore(name string, conf map[string]any) (dispatchlog.LogStore, error) {
	f, ok := LogStores[name]
	if !ok {
		known := make([]string, 0, len(LogStores))
		for k := range LogStores {
			known = append(known, k)
		}
		sort.Strings(known)
		return nil, fmt.Errorf("unknown log store %q (known: %v)", name, known)
	}
	return f(conf)
}
