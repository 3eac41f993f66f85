package sender

import (
	"context"
	"log/slog"
)

// LogTransport is a reference Transport that logs each delivered event
// through slog instead of calling out to the real HTTP/2 event channel,
// which is explicitly out of scope per this module's non-goals. It never
// fails, so it is primarily useful as the fallback at the end of a
// ResilientGuaranteedSender's transport chain or for standalone demo runs.
type LogTransport struct {
	logger *slog.Logger
}

// NewLogTransport returns a LogTransport logging through logger. A nil
// logger uses slog.Default().
func NewLogTransport(logger *slog.Logger) *LogTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogTransport{logger: logger}
}

var _ Transport = (*LogTransport)(nil)

func (t *LogTransport) Deliver(_ context.Context, e Event) error {
	t.logger.Info("event delivered",
		"namespace", e.Namespace, "name", e.Name, "messageId", e.MessageID,
		"dialogRequestId", e.DialogRequestID, "payload", string(e.Payload))
	return nil
}
