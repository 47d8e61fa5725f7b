package notify

import (
	"context"

	"github.com/aeternum-health/dispatch/core/logger"
)

// LogNotifier writes notifications to a logger. It is the default sink when
// no broker is configured.
type LogNotifier struct {
	Log logger.Logger
}

func (l LogNotifier) Notify(_ context.Context, n Notification) error {
	fields := map[string]any{
		"kind":         n.Kind,
		"call_id":      n.CallID,
		"ambulance_id": n.AmbulanceID,
		"priority":     n.Priority,
	}
	for k, v := range n.Fields {
		fields[k] = v
	}
	logger.OrNop(l.Log).Debugw(n.Message, fields)
	if n.Kind == KindEscalation || n.Kind == KindRequeue {
		logger.OrNop(l.Log).Warnf("operator alert: %s", n.Message)
	}
	return nil
}
