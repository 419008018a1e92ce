package orchestrator

import (
	"context"

	"streamkeeper/internal/journal"
	"streamkeeper/internal/logging"
	"streamkeeper/internal/supervisor"
)

// eventSink routes supervisor events to the journal, metrics and alerts.
// Supervisors only emit from the loop goroutine.
type eventSink struct {
	o *Orchestrator
}

func (e eventSink) Record(ev supervisor.Event) {
	o := e.o
	o.record(journal.Entry{
		At:           ev.At,
		Source:       journal.SourceStream,
		Stream:       ev.Stream,
		DeviceUUID:   ev.DeviceUUID,
		Kind:         string(ev.Kind),
		State:        ev.State.String(),
		PID:          ev.PID,
		RestartCount: ev.RestartCount,
		Detail:       ev.Detail,
	})

	switch ev.Kind {
	case supervisor.EventRestartScheduled:
		o.metrics.IncStreamRestart(ev.Stream)
	case supervisor.EventUnrecoverable:
		if s := o.streamByName(ev.Stream); s != nil {
			s.alerted = true
		}
		o.notifyAsync(func(ctx context.Context) error {
			return o.notifier.NotifyStreamUnrecoverable(ctx, ev.Stream, ev.RestartCount, ev.Detail)
		})
	case supervisor.EventVerified:
		if s := o.streamByName(ev.Stream); s != nil && s.alerted {
			s.alerted = false
			o.notifyAsync(func(ctx context.Context) error {
				return o.notifier.NotifyStreamRecovered(ctx, ev.Stream)
			})
		}
	}
}

func (o *Orchestrator) record(e journal.Entry) {
	if o.recorder == nil {
		return
	}
	if e.At.IsZero() {
		e.At = o.now()
	}
	o.recorder.Record(e)
}

func (o *Orchestrator) notifyAsync(send func(ctx context.Context) error) {
	o.workers.Add(1)
	go func() {
		defer o.workers.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := send(ctx); err != nil {
			o.logger.Warn("notification failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "notification_failed"),
				logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
				logging.String(logging.FieldImpact, "operator was not alerted"),
			)
		}
	}()
}
