package dashboard

import (
	"encoding/json"

	"github.com/taskly-app/taskly/internal/notify"
)

// Notify broadcasts n to every connected client, so a Server can sit in a
// notify.Multi next to the log notifier.
func (s *Server) Notify(n notify.Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		s.logger.WithError(err).Warn("failed to marshal notification")
		return
	}
	s.Broadcast(Message{
		Type:      MessageTypeNotification,
		Timestamp: n.Time,
		Data:      data,
	})
}

var _ notify.Notifier = (*Server)(nil)
