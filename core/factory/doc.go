// Package factory provides a small generic registry used to instantiate
// pluggable modules (metrics sinks, notifiers, rankers) from configuration.
// Modules are defined by a type string and a map of raw settings. Factories
// decode the settings into typed structs and return the concrete
// implementation.
//
// Example usage:
//
//	reg := factory.NewRegistry[notify.Notifier]()
//	reg.Register("log", func(conf map[string]any) (notify.Notifier, error) {
//	    var c struct{ Component string `json:"component"` }
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return notify.LogNotifier{Log: logger.New(c.Component)}, nil
//	})
//	n, err := reg.Create(factory.ModuleConfig{Type: "log", Conf: map[string]any{"component": "alerts"}})
package factory
