package checks

import (
	"context"
	"fmt"
	"time"

	"github.com/charlesng35/idcore/internal/monitoring"
)

// DepthReporter is satisfied by mailqueue.Queue.
type DepthReporter interface {
	Depth(ctx context.Context) (int64, error)
}

// MailQueue reports degraded once more than backlog messages wait for delivery.
func MailQueue(queue DepthReporter, backlog int64) monitoring.Check {
	return monitoring.NewCheck("mail_queue", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if queue == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "mail queue not configured"}
		}

		depth, err := queue.Depth(ctx)
		if err != nil {
			return monitoring.ResultFromError(err, time.Since(start))
		}
		result := monitoring.ProbeResult{Status: monitoring.StatusUp, Details: fmt.Sprintf("%d pending", depth), Duration: time.Since(start)}
		if backlog > 0 && depth > backlog {
			result.Status = monitoring.StatusDegraded
		}
		return result
	})
}
