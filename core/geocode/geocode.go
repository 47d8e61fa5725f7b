// Package geocode resolves free-text addresses given at intake to
// coordinates.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aeternum-health/dispatch/core/model"
)

// ErrUnresolved is returned when an address has no known coordinates.
var ErrUnresolved = errors.New("address could not be resolved")

// Geocoder turns an address into coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (model.Coordinates, error)
}

// Static resolves addresses from a fixed gazetteer, matching case and
// whitespace insensitively.
type Static struct {
	mu      sync.RWMutex
	entries map[string]model.Coordinates
}

// NewStatic returns a gazetteer preloaded with entries.
func NewStatic(entries map[string]model.Coordinates) *Static {
	s := &Static{entries: map[string]model.Coordinates{}}
	for k, v := range entries {
		s.Add(k, v)
	}
	return s
}

func key(address string) string {
	return strings.Join(strings.Fields(strings.ToLower(address)), " ")
}

// Add registers or replaces an address.
func (s *Static) Add(address string, c model.Coordinates) {
	s.mu.Lock()
	s.entries[key(address)] = c
	s.mu.Unlock()
}

func (s *Static) Geocode(_ context.Context, address string) (model.Coordinates, error) {
	s.mu.RLock()
	c, ok := s.entries[key(address)]
	s.mu.RUnlock()
	if !ok {
		return model.Coordinates{}, fmt.Errorf("%q: %w", address, ErrUnresolved)
	}
	return c, nil
}

// Resolve fills in loc.Coordinates from the address when they are missing.
// A nil geocoder or an unknown address yields a ValidationError.
func Resolve(ctx context.Context, g Geocoder, loc *model.Location) error {
	if !loc.Coordinates.IsZero() {
		return nil
	}
	if g == nil {
		return &model.ValidationError{Field: "location.coordinates", Reason: "required when no geocoder is configured"}
	}
	c, err := g.Geocode(ctx, loc.Address)
	if err != nil {
		return &model.ValidationError{Field: "location.address", Reason: err.Error()}
	}
	if err := c.Validate(); err != nil {
		return &model.ValidationError{Field: "location.address", Reason: err.Error()}
	}
	loc.Coordinates = c
	return nil
}

// Chain tries each geocoder in turn and returns the first resolution.
type Chain []Geocoder

func (ch Chain) Geocode(ctx context.Context, address string) (model.Coordinates, error) {
	var errs []error
	for _, g := range ch {
		if g == nil {
			continue
		}
		c, err := g.Geocode(ctx, address)
		if err == nil {
			return c, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return model.Coordinates{}, fmt.Errorf("%q: %w", address, ErrUnresolved)
	}
	return model.Coordinates{}, errors.Join(errs...)
}
