package scheduler

import (
	"context"
	"time"

	"secmaster/internal/logger"
)

// AlignedScheduler 在每个 Interval 边界之后 Offset 处执行一次任务（UTC 对齐）。
type AlignedScheduler struct {
	Name           string
	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool

	ctx   context.Context
	nowFn func() time.Time
}

func NewAlignedScheduler(ctx context.Context, interval, offset time.Duration) *AlignedScheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &AlignedScheduler{
		Interval: interval,
		Offset:   offset,
		ctx:      ctx,
		nowFn:    time.Now,
	}
}

// Start blocks until ctx is done. Runs never overlap: the next wake-up is
// computed after task returns, so a slow run skips missed boundaries.
func (s *AlignedScheduler) Start(task func(context.Context)) {
	if s == nil {
		return
	}
	prefix := "AlignedScheduler"
	if s.Name != "" {
		prefix = prefix + "[" + s.Name + "]"
	}
	if task == nil {
		logger.Warnf("%s: task is nil, exit", prefix)
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("%s: invalid interval=%s, exit", prefix, s.Interval)
		return
	}
	if s.Offset < 0 {
		logger.Warnf("%s: negative offset=%s, clamp to 0", prefix, s.Offset)
		s.Offset = 0
	}
	if s.ctx == nil {
		s.ctx = context.Background()
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	startAt := s.nowFn().UTC()
	logger.Infof("%s: started interval=%s offset=%s run_immediately=%v at=%s",
		prefix, s.Interval, s.Offset, s.RunImmediately, startAt.Format(time.RFC3339))

	if s.RunImmediately {
		logger.Infof("%s: RunImmediately=true, execute once before alignment loop", prefix)
		task(s.ctx)
	}

	for {
		if s.ctx.Err() != nil {
			logger.Infof("%s: ctx done, exit", prefix)
			return
		}
		now := s.nowFn().UTC()
		boundary, wakeAt, wait := s.nextTimes(now)
		logger.Infof("%s: 距离周期边界=%s (边界=%s) 将在=%s 执行下一轮 | uptime=%s",
			prefix,
			boundary.Sub(now).Truncate(time.Second),
			boundary.Format(time.RFC3339),
			wakeAt.Format(time.RFC3339),
			now.Sub(startAt).Truncate(time.Second),
		)

		timer := time.NewTimer(wait)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			logger.Infof("%s: ctx done, exit", prefix)
			return
		case <-timer.C:
		}
		task(s.ctx)
	}
}

// nextTimes returns the next boundary strictly after now whose wake-up time
// (boundary+Offset) is still in the future.
func (s *AlignedScheduler) nextTimes(now time.Time) (boundary time.Time, wakeAt time.Time, wait time.Duration) {
	now = now.UTC()
	boundary = now.Truncate(s.Interval)
	wakeAt = boundary.Add(s.Offset)
	for !wakeAt.After(now) {
		boundary = boundary.Add(s.Interval)
		wakeAt = boundary.Add(s.Offset)
	}
	return boundary, wakeAt, wakeAt.Sub(now)
}
