package supervisor

import (
	"time"

	"streamkeeper/internal/config"
)

// Policy is the restart policy of a pipeline.
type Policy struct {
	MaxRestarts      int
	StabilityWindow  time.Duration
	MinRuntime       time.Duration
	CooldownBase     time.Duration
	FlapCooldownBase time.Duration
	CooldownMax      time.Duration
	VerifyTimeout    time.Duration
	StopGrace        time.Duration
}

// PolicyFromConfig converts the supervisor configuration.
func PolicyFromConfig(cfg *config.Config) Policy {
	s := cfg.Supervisor
	sec := func(v int) time.Duration { return time.Duration(v) * time.Second }
	return Policy{
		MaxRestarts:      s.MaxRestarts,
		StabilityWindow:  sec(s.StabilityWindow),
		MinRuntime:       sec(s.MinRuntime),
		CooldownBase:     sec(s.CooldownBase),
		FlapCooldownBase: sec(s.FlapCooldownBase),
		CooldownMax:      sec(s.CooldownMax),
		VerifyTimeout:    sec(s.VerifyTimeout),
		StopGrace:        sec(s.StopGrace),
	}
}

// Cooldown returns the delay before the next restart given the number of
// consecutive short-lived runs. A pipeline that ran past MinRuntime gets the
// base delay; each further flap doubles the flap delay up to CooldownMax.
func (p Policy) Cooldown(flaps int) time.Duration {
	if flaps <= 0 {
		return capDuration(p.CooldownBase, p.CooldownMax)
	}
	delay := p.FlapCooldownBase
	for i := 1; i < flaps; i++ {
		delay *= 2
		if p.CooldownMax > 0 && delay >= p.CooldownMax {
			return p.CooldownMax
		}
	}
	return capDuration(delay, p.CooldownMax)
}

func capDuration(d, max time.Duration) time.Duration {
	if max > 0 && d > max {
		return max
	}
	return d
}
