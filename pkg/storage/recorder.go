package storage

import (
	"context"
	"time"

	"github.com/stacklight/wabridge/pkg/bus"
	"github.com/stacklight/wabridge/pkg/logger"
)

// Recorder subscribes to the event bus and persists message traffic into the
// archive. It is the only writer; read paths go through Archive directly.
type Recorder struct {
	archive Archive
	msgBus  *bus.Bus
}

func NewRecorder(archive Archive, msgBus *bus.Bus) *Recorder {
	return &Recorder{archive: archive, msgBus: msgBus}
}

// Run blocks until ctx is cancelled, saving every message event it observes.
func (r *Recorder) Run(ctx context.Context) {
	events := r.msgBus.Subscribe()
	defer r.msgBus.Unsubscribe(events)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if evt.Kind != bus.KindProviderEvent || evt.Event == nil || evt.Event.Message == nil {
				continue
			}

			saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := r.archive.SaveMessage(saveCtx, evt.Provider, *evt.Event.Message)
			cancel()
			if err != nil {
				logger.WarnCF("archive", "Failed to archive message", map[string]interface{}{
					"provider": evt.Provider,
					"id":       evt.Event.Message.ID,
					"error":    err.Error(),
				})
			}
		}
	}
}
