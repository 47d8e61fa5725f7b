// Package monitoring reports unexpected failures (storage, broker, panics)
// to an external error tracker. Expected outcomes such as validation errors,
// invalid transitions or an empty fleet are never reported.
package monitoring

import (
	"sync"
	"time"
)

// Monitor defines methods used for error reporting.
type Monitor interface {
	CaptureException(err error, tags map[string]string)
	// CapturePanic records a recovered panic value.
	CapturePanic(v any)
	Flush(timeout time.Duration)
}

type NopMonitor struct{}

func (NopMonitor) CaptureException(error, map[string]string) {}
func (NopMonitor) CapturePanic(any)                          {}
func (NopMonitor) Flush(time.Duration)                       {}

var (
	mu      sync.RWMutex
	current Monitor = NopMonitor{}
)

// Init sets the global monitor implementation.
func Init(m Monitor) {
	if m == nil {
		return
	}
	mu.Lock()
	current = m
	mu.Unlock()
}

func get() Monitor {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// CaptureException records the error with optional tags.
func CaptureException(err error, tags map[string]string) {
	if err == nil {
		return
	}
	get().CaptureException(err, tags)
}

// Report captures err tagged with the component and extra key/value pairs.
func Report(component string, err error, kv ...string) {
	if err == nil {
		return
	}
	tags := map[string]string{"component": component}
	for i := 0; i+1 < len(kv); i += 2 {
		tags[kv[i]] = kv[i+1]
	}
	CaptureException(err, tags)
}

// Recover captures a panic in the calling goroutine and re-panics. It must be
// deferred directly: defer monitoring.Recover().
func Recover() {
	if r := recover(); r != nil {
		m := get()
		m.CapturePanic(r)
		m.Flush(2 * time.Second)
		panic(r)
	}
}

// Flush flushes buffered events.
func Flush(d time.Duration) {
	get().Flush(d)
}
