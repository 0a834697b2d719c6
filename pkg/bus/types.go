package bus

import (
	"time"

	"github.com/stacklight/wabridge/pkg/messaging"
)

// Event kinds fanned out on the bus.
const (
	KindProviderEvent = "provider_event"
	KindPairingQR     = "pairing_qr"
)

// Event is the envelope delivered to bus observers. Provider events carry a
// domain event; pairing events carry one step of the QR flow.
type Event struct {
	Kind     string                  `json:"kind"`
	Provider string                  `json:"provider"`
	Event    *messaging.Event        `json:"event,omitempty"`
	Pairing  *messaging.PairingEvent `json:"pairing,omitempty"`
	Time     time.Time               `json:"time"`
}
