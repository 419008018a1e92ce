package orchestrator

import (
	"context"
	"fmt"

	"streamkeeper/internal/journal"
	"streamkeeper/internal/logging"
	"streamkeeper/internal/supervisor"
)

// healthTick runs one pass of the health loop: relay first, then every
// pipeline. A non-nil error is a fatal relay outage.
func (o *Orchestrator) healthTick(ctx context.Context) error {
	if err := o.checkRelay(ctx); err != nil {
		return err
	}
	for _, s := range o.sortedStreams() {
		o.superviseStream(ctx, s)
	}
	o.metrics.SetStreamStates(o.stateCounts())
	return nil
}

// checkRelay restarts a dead relay within its budget. Pipelines are held,
// not torn down, while the relay is down.
func (o *Orchestrator) checkRelay(ctx context.Context) error {
	alive := o.relay.Alive(ctx)
	o.metrics.SetRelayUp(alive)
	if alive {
		if o.relayDown {
			o.markRelayUp()
		}
		if o.relayRestarts > 0 && o.now().Sub(o.relayUpSince) >= o.policy.StabilityWindow {
			o.relayRestarts = 0
		}
		return nil
	}

	if !o.relayDown {
		o.markRelayDown()
	}

	budget := o.cfg.Relay.MaxRestarts
	if o.relayRestarts >= budget {
		err := fmt.Errorf("%w: control endpoint %s still down after %d restarts", ErrRelayUnavailable, o.cfg.Relay.APIAddress, o.relayRestarts)
		logging.ErrorWithContext(o.logger, "relay outage is unrecoverable; shutting down", "relay_unrecoverable",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "inspect the relay log and the port "+o.cfg.Relay.RTSPAddress),
		)
		o.record(journal.Entry{Source: journal.SourceRelay, Kind: "relay_unrecoverable", Detail: err.Error()})
		o.notifyAsync(func(ctx context.Context) error { return o.notifier.NotifyRelayOutage(ctx, err) })
		return err
	}

	o.relayRestarts++
	o.metrics.IncRelayRestart()
	attempt := o.relayRestarts
	if err := o.relay.Restart(ctx); err != nil {
		o.logger.Warn("relay restart failed",
			logging.Error(err),
			logging.Int("attempt", attempt),
			logging.Int("budget", budget),
			logging.String(logging.FieldEventType, "relay_restart_failed"),
			logging.String(logging.FieldErrorHint, "check the relay binary and its log"),
			logging.String(logging.FieldImpact, "pipelines stay held until the relay is back"),
		)
		o.record(journal.Entry{Source: journal.SourceRelay, Kind: "relay_restart_failed", Detail: err.Error()})
		return nil
	}
	o.logger.Info("relay restarted",
		logging.String(logging.FieldEventType, "relay_restarted"),
		logging.Int("attempt", attempt),
		logging.Int("budget", budget),
	)
	o.record(journal.Entry{Source: journal.SourceRelay, Kind: "relay_restarted", Detail: fmt.Sprintf("attempt %d of %d", attempt, budget)})
	o.notifyAsync(func(ctx context.Context) error { return o.notifier.NotifyRelayRestarted(ctx, attempt, budget) })
	o.markRelayUp()
	o.metrics.SetRelayUp(true)
	return nil
}

// markRelayDown holds every pipeline and records pipeline deaths observed
// while held so they do not spend restart budget.
func (o *Orchestrator) markRelayDown() {
	o.relayDown = true
	o.logger.Warn("relay is down; pausing pipeline restarts",
		logging.String(logging.FieldEventType, "relay_down"),
		logging.String("api_address", o.cfg.Relay.APIAddress),
		logging.String(logging.FieldErrorHint, "the relay process exited or stopped answering its control endpoint"),
		logging.String(logging.FieldImpact, "streams are unavailable until the relay is back"),
	)
	o.record(journal.Entry{Source: journal.SourceRelay, Kind: "relay_down"})
	for _, s := range o.sortedStreams() {
		s.sup.Hold(supervisor.HoldRelayDown)
		s.sup.Monitor(context.Background())
	}
}

func (o *Orchestrator) markRelayUp() {
	o.relayDown = false
	o.relayUpSince = o.now()
	for _, s := range o.sortedStreams() {
		s.sup.Release(supervisor.HoldRelayDown)
	}
}

func (o *Orchestrator) superviseStream(ctx context.Context, s *stream) {
	s.sup.Monitor(ctx)
	if s.sup.Recover() == supervisor.ActionRestartDue {
		o.startStream(ctx, s)
	}
}

// startStream resolves the stream's configuration afresh and starts its
// supervisor, launching verification off the loop.
func (o *Orchestrator) startStream(ctx context.Context, s *stream) {
	s.cfg = o.streamConfig(s.sup.Stream())
	// A launch failure leaves the supervisor Failed; the next tick
	// schedules the restart. Held and unrecoverable pipelines stay put.
	if err := s.sup.Start(s.device.ALSARef(), s.cfg); err == nil {
		o.launchVerify(ctx, s.sup)
	}
}

func (o *Orchestrator) launchVerify(ctx context.Context, sup *supervisor.Supervisor) {
	job := sup.VerifyJob()
	if job == nil {
		return
	}
	o.workers.Add(1)
	go func() {
		defer o.workers.Done()
		res := job.Run(ctx)
		select {
		case o.verifyResults <- res:
		case <-o.loopDone:
		}
	}()
}

func (o *Orchestrator) completeVerification(ctx context.Context, res supervisor.VerifyResult) {
	if s := o.streamByName(res.Stream); s != nil {
		s.sup.CompleteVerification(ctx, res)
	}
}

func (o *Orchestrator) stateCounts() map[string]int {
	counts := make(map[string]int)
	for _, s := range o.streams {
		counts[s.sup.State().String()]++
	}
	return counts
}
