package scheduler

import (
	"errors"
	"time"

	"golang.org/x/time/rate"

	"framesched/internal/task/slot"
	logx "framesched/pkg/logx"
)

const registerErrorInterval = 5 * time.Second

func newErrorLimiter(every time.Duration) *rate.Limiter {
	return rate.NewLimiter(rate.Every(every), 1)
}

// reportRegisterError logs a failed registration. Capacity errors can be
// bursty (a spawner loop hitting the ceiling every frame), so they are throttled.
func (r *Runner) reportRegisterError(phase Phase, err error) {
	if err == nil {
		return
	}
	r.rejected++
	if !errors.Is(err, slot.ErrCapacityExceeded) {
		r.log.Warn("register rejected", logx.String("phase", phase.String()), logx.Err(err))
		return
	}
	if r.errLimiter != nil && !r.errLimiter.Allow() {
		r.suppressed++
		return
	}
	fields := []logx.Field{
		logx.String("phase", phase.String()),
		logx.Int("live", r.items.Count()),
		logx.Int("max", r.items.MaxCapacity()),
		logx.Err(err),
	}
	if r.suppressed > 0 {
		fields = append(fields, logx.Uint64("suppressed", r.suppressed))
		r.suppressed = 0
	}
	r.log.Error("scheduler capacity exceeded", fields...)
}
