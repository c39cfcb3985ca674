package app

import (
	"context"
	"fmt"
	"time"

	"cronbot/internal/eventbus"
	"cronbot/internal/notify"
	logx "cronbot/pkg/logx"
)

// alertLoop forwards job.failed events to the admin targets until ctx ends.
func alertLoop(ctx context.Context, bus eventbus.Bus, n notify.Notifier, targets []string, log logx.Logger) {
	events, unsub := bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Type != eventbus.JobFailed {
				continue
			}
			ev, ok := e.Data.(eventbus.JobEvent)
			if !ok {
				continue
			}
			sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			if err := notify.Broadcast(sendCtx, n, targets, formatAlert(ev)); err != nil {
				log.Warn("failure alert not delivered", logx.Job(ev.Name), logx.Err(err))
			}
			cancel()
		}
	}
}

func formatAlert(ev eventbus.JobEvent) string {
	return fmt.Sprintf("Job %s failed (%s trigger, %s)\n%s",
		ev.Name, ev.Trigger, ev.Duration.Round(time.Millisecond), ev.Error)
}
