package plugins

import (
	"github.com/mitchellh/mapstructure"

	dispatchlog "github.com/aeternum-health/dispatch/core/dispatch/logging"
)

type fileConf struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

func decode(conf map[string]any) (fileConf, error) {
	var c fileConf
	err := mapstructure.WeakDecode(conf, &c)
	return c, err
}

func init() {
	RegisterLogStore("none", func(map[string]any) (dispatchlog.LogStore, error) {
		return dispatchlog.NopStore{}, nil
	})
	RegisterLogStore("jsonl", func(conf map[string]any) (dispatchlog.LogStore, error) {
		c, err := decode(conf)
		if err != nil {
			return nil, err
		}
		if c.MaxSizeMB > 0 {
			return dispatchlog.NewRotatingJSONLStore(c.Path, c.MaxSizeMB, c.MaxBackups, c.MaxAgeDays)
		}
		return dispatchlog.NewJSONLStore(c.Path)
	})
	RegisterLogStore("sqlite", func(conf map[string]any) (dispatchlog.LogStore, error) {
		c, err := decode(conf)
		if err != nil {
			return nil, err
		}
		return dispatchlog.NewSQLiteStore(c.Path)
	})
}
