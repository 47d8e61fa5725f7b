package config

import (
	"fmt"

	"github.com/aeternum-health/dispatch/infra/postgres"
)

// Storage backends.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// StorageConfig selects where ambulances and calls are kept.
type StorageConfig struct {
	Backend  string          `json:"backend"`
	Postgres postgres.Config `json:"postgres"`
}

func (c *StorageConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = StorageMemory
	}
	if c.Backend == StoragePostgres {
		c.Postgres.SetDefaults()
	}
}

func (c StorageConfig) Validate() error {
	switch c.Backend {
	case StorageMemory:
		return nil
	case StoragePostgres:
		return c.Postgres.Validate()
	}
	return fmt.Errorf("unknown backend %s", c.Backend)
}
