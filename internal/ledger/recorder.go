package ledger

import (
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/fluxd/internal/eventbus"
)

// recorded lists the bus events written to the ledger.
// Target computations happen every step and are left to metrics.
var recorded = []eventbus.EventType{
	eventbus.EventTypeStateChanged,
	eventbus.EventTypeColorApplied,
	eventbus.EventTypeApplyFailed,
	eventbus.EventTypeOverrideDetected,
}

// Recorder writes bus events into a Ledger.
type Recorder struct {
	ledger *Ledger
}

// NewRecorder creates a recorder backed by l.
func NewRecorder(l *Ledger) *Recorder {
	return &Recorder{ledger: l}
}

// Attach subscribes the recorder to every audited event type.
func (r *Recorder) Attach(bus *eventbus.Bus) {
	bus.SubscribeAll(r.Record, recorded...)
}

// Record appends one event. Failures are logged; the ledger is best effort.
func (r *Recorder) Record(e eventbus.Event) {
	source, _ := e.Data["device"].(string)
	if err := r.ledger.Append(e.ID, EventType(e.Type), e.At, source, e.Data); err != nil {
		log.Warn().Err(err).Str("event_type", string(e.Type)).Msg("Failed to record event")
	}
}
