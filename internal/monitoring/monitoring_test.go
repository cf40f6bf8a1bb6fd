package monitoring_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/idcore/internal/cache"
	testutil "github.com/charlesng35/idcore/internal/database/testutil"
	"github.com/charlesng35/idcore/internal/monitoring"
	"github.com/charlesng35/idcore/internal/monitoring/checks"
)

type fixedDepth struct {
	depth int64
	err   error
}

func (f fixedDepth) Depth(context.Context) (int64, error) { return f.depth, f.err }

func TestHealthManagerEvaluate(t *testing.T) {
	t.Parallel()

	manager := monitoring.NewHealthManager(time.Second)
	manager.Register(
		monitoring.NewCheck("database", func(context.Context) monitoring.ProbeResult {
			return monitoring.ProbeResult{Status: monitoring.StatusUp}
		}),
		monitoring.NewCheck("redis", func(context.Context) monitoring.ProbeResult {
			return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: "connection refused"}
		}),
	)

	report := manager.Evaluate(context.Background())
	require.True(t, report.Ready)
	require.Equal(t, monitoring.StatusDegraded, report.Status)
	require.Len(t, report.Checks, 2)
	require.Equal(t, "database", report.Checks[0].Component)
	require.Equal(t, "redis", report.Checks[1].Component)

	manager.Register(monitoring.NewCheck("broken", func(context.Context) monitoring.ProbeResult {
		panic("boom")
	}))
	report = manager.Evaluate(context.Background())
	require.False(t, report.Ready)
	require.Equal(t, monitoring.StatusDown, report.Status)
	require.Equal(t, "boom", report.Checks[2].Details)
}

func TestResultFromError(t *testing.T) {
	t.Parallel()

	require.Equal(t, monitoring.StatusUp, monitoring.ResultFromError(nil, time.Millisecond).Status)
	require.Equal(t, monitoring.StatusDown, monitoring.ResultFromError(errors.New("refused"), 0).Status)
	require.Equal(t, monitoring.StatusDegraded, monitoring.ResultFromError(context.DeadlineExceeded, 0).Status)
}

func TestDatabaseCheck(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	result := checks.Database(db).Run(context.Background())
	require.Equal(t, monitoring.StatusUp, result.Status)

	require.Equal(t, monitoring.StatusDown, checks.Database(nil).Run(context.Background()).Status)
}

func TestRedisCheck(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := cache.NewRedisStore(context.Background(), cache.RedisConfig{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.Equal(t, monitoring.StatusUp, checks.Redis(store, true).Run(context.Background()).Status)
	require.Equal(t, monitoring.StatusUp, checks.Redis(nil, false).Run(context.Background()).Status)
	require.Equal(t, monitoring.StatusDegraded, checks.Redis(nil, true).Run(context.Background()).Status)

	mr.Close()
	require.Equal(t, monitoring.StatusDegraded, checks.Redis(store, true).Run(context.Background()).Status)
}

func TestMailQueueCheck(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	require.Equal(t, monitoring.StatusUp, checks.MailQueue(fixedDepth{depth: 3}, 10).Run(ctx).Status)
	require.Equal(t, monitoring.StatusDegraded, checks.MailQueue(fixedDepth{depth: 11}, 10).Run(ctx).Status)
	require.Equal(t, monitoring.StatusDown, checks.MailQueue(fixedDepth{err: errors.New("no table")}, 10).Run(ctx).Status)
}
