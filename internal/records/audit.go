package records

import (
	"context"
	"log"

	"github.com/pkg/errors"

	"schoolrecords/internal/queue"
)

// ConsumeEvents appends every queued record event to the audit trail until
// msgs closes. Malformed messages are logged and dropped.
func (s *Service) ConsumeEvents(ctx context.Context, msgs <-chan queue.Message) (processed int) {
	for msg := range msgs {
		ev, err := DecodeEvent(msg)
		if err != nil {
			log.Printf("drop %s message: %v", msg.Type, err)
			continue
		}
		if err := s.RecordEvent(ctx, ev); err != nil {
			log.Printf("record event %s (%s %s): %v", ev.ID, ev.Type, ev.RollNo, errors.Cause(err))
			continue
		}
		processed++
	}
	return processed
}
