package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IgorTelles9/gateway-privacidade/internal/cache"
	"github.com/IgorTelles9/gateway-privacidade/internal/treatment"
)

type schedulerFixture struct {
	sched   *Scheduler
	client  *cache.MemoryClient
	store   *cache.Store
	consent *fakeConsent
	pub     *fakePublisher
	now     time.Time
}

func newSchedulerFixture(t *testing.T) *schedulerFixture {
	t.Helper()
	client := cache.NewMemoryClient()
	store := cache.New(client, 5*time.Minute, "agg_queue")
	consent := newFakeConsent()
	pub := &fakePublisher{}

	f := &schedulerFixture{client: client, store: store, consent: consent, pub: pub, now: testBase}
	f.sched = NewScheduler(SchedulerOptions{
		Store:     store,
		Consent:   consent,
		Registry:  treatment.NewRegistry(store),
		Publisher: pub,
		OutTopic:  "out",
		Metrics:   NewMetrics(prometheus.NewRegistry()),
		Now:       func() time.Time { return f.now },
	})
	return f
}

func (f *schedulerFixture) cachePolicy(t *testing.T, deviceID, subjectID, policyKey string) {
	t.Helper()
	f.consent.set(deviceID, subjectID, policyKey)
	pol, err := f.consent.FetchPolicy(context.Background(), deviceID, subjectID)
	require.NoError(t, err)
	require.NoError(t, f.store.SetPolicy(context.Background(), deviceID, subjectID, pol))
}

func TestSchedulerAggregatesAndReschedules(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	f.cachePolicy(t, "d1", "s1", "AVG::0:10S")
	require.NoError(t, f.store.AppendPoint(ctx, "d1", "s1", 5))
	require.NoError(t, f.store.AppendPoint(ctx, "d1", "s1", 15))
	require.NoError(t, f.store.AppendPoint(ctx, "d1", "s1", 10))
	require.NoError(t, f.store.Schedule(ctx, "d1", "s1", testBase.Add(10*time.Second)))

	// Advance past the deadline and run a tick.
	f.now = testBase.Add(11 * time.Second)
	f.sched.RunOnce(ctx)

	messages := f.pub.all()
	require.Len(t, messages, 1)
	assert.Equal(t, "out/d1", messages[0].Topic)

	var result map[string]any
	require.NoError(t, json.Unmarshal(messages[0].Payload, &result))
	assert.Equal(t, map[string]any{
		"dispositivo_id": "d1",
		"titular_id":     "s1",
		"value":          10.0,
	}, result)

	// Buffer drained, timer re-armed for wake time + interval.
	assert.Equal(t, 0, f.client.ListLen("data:d1:s1"))
	assert.Equal(t, 1, f.client.ZCard("agg_queue"))

	tasks, err := f.store.PopDue(ctx, f.now.Add(9*time.Second))
	require.NoError(t, err)
	assert.Empty(t, tasks)
	tasks, err = f.store.PopDue(ctx, f.now.Add(10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, []cache.Task{{DeviceID: "d1", SubjectID: "s1"}}, tasks)
}

func TestSchedulerNotDueYet(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	f.cachePolicy(t, "d1", "s1", "AVG::0:10S")
	require.NoError(t, f.store.AppendPoint(ctx, "d1", "s1", 5))
	require.NoError(t, f.store.Schedule(ctx, "d1", "s1", testBase.Add(10*time.Second)))

	f.now = testBase.Add(5 * time.Second)
	f.sched.RunOnce(ctx)

	assert.Empty(t, f.pub.all(), "task must not fire before its deadline")
	assert.Equal(t, 1, f.client.ListLen("data:d1:s1"))
}

// When the worker slept past several periods, exactly one aggregation
// runs per due entry and the cadence drifts relative to wake time.
func TestSchedulerMissedPeriodsRunOnce(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	f.cachePolicy(t, "d1", "s1", "AVG::0:10S")
	require.NoError(t, f.store.AppendPoint(ctx, "d1", "s1", 4))
	require.NoError(t, f.store.Schedule(ctx, "d1", "s1", testBase.Add(10*time.Second)))

	// Wake 35s late: three periods elapsed.
	f.now = testBase.Add(45 * time.Second)
	f.sched.RunOnce(ctx)

	require.Len(t, f.pub.all(), 1, "one aggregate per due entry per wake")

	// Next deadline is wake+interval, not the original cadence.
	tasks, err := f.store.PopDue(ctx, f.now.Add(10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, []cache.Task{{DeviceID: "d1", SubjectID: "s1"}}, tasks)
}

func TestSchedulerEmptyBufferStillReschedules(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	f.cachePolicy(t, "d1", "s1", "AVG::0:10S")
	require.NoError(t, f.store.Schedule(ctx, "d1", "s1", testBase.Add(10*time.Second)))

	f.now = testBase.Add(11 * time.Second)
	f.sched.RunOnce(ctx)

	assert.Empty(t, f.pub.all())
	assert.Equal(t, 1, f.client.ZCard("agg_queue"), "armed pair stays armed through an idle period")
}

func TestSchedulerMissingPolicyDropsTimer(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.AppendPoint(ctx, "d1", "s1", 5))
	require.NoError(t, f.store.Schedule(ctx, "d1", "s1", testBase.Add(10*time.Second)))

	f.now = testBase.Add(11 * time.Second)
	f.sched.RunOnce(ctx)

	assert.Empty(t, f.pub.all())
	assert.Equal(t, 0, f.client.ZCard("agg_queue"), "pair without policy is not rescheduled")
	// Points survive; the next data point re-kickstarts the pair.
	assert.Equal(t, 1, f.client.ListLen("data:d1:s1"))
}

func TestSchedulerRefetchesPolicyAfterCacheExpiry(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	// Policy known upstream but no longer cached.
	f.consent.set("d1", "s1", "AVG::0:10S")
	require.NoError(t, f.store.AppendPoint(ctx, "d1", "s1", 8))
	require.NoError(t, f.store.Schedule(ctx, "d1", "s1", testBase.Add(10*time.Second)))

	f.now = testBase.Add(11 * time.Second)
	f.sched.RunOnce(ctx)

	require.Len(t, f.pub.all(), 1)
	assert.Equal(t, 1, f.consent.calls)

	// Refetched policy is cached again.
	cached, err := f.store.GetPolicy(ctx, "d1", "s1")
	require.NoError(t, err)
	assert.NotNil(t, cached)
}

func TestSchedulerNonAccumulatedPolicySkipsWithoutReschedule(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	f.cachePolicy(t, "d1", "s1", "RAW")
	require.NoError(t, f.store.AppendPoint(ctx, "d1", "s1", 5))
	require.NoError(t, f.store.Schedule(ctx, "d1", "s1", testBase.Add(10*time.Second)))

	f.now = testBase.Add(11 * time.Second)
	f.sched.RunOnce(ctx)

	assert.Empty(t, f.pub.all())
	assert.Equal(t, 0, f.client.ZCard("agg_queue"))
}

func TestSchedulerUnknownStrategySkipsWithoutReschedule(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	f.cachePolicy(t, "d1", "s1", "DROP::0:10S")
	require.NoError(t, f.store.AppendPoint(ctx, "d1", "s1", 5))
	require.NoError(t, f.store.Schedule(ctx, "d1", "s1", testBase.Add(10*time.Second)))

	f.now = testBase.Add(11 * time.Second)
	f.sched.RunOnce(ctx)

	assert.Empty(t, f.pub.all())
	assert.Equal(t, 0, f.client.ZCard("agg_queue"))
}

func TestSchedulerStartStop(t *testing.T) {
	f := newSchedulerFixture(t)
	f.sched.tick = 10 * time.Millisecond

	f.sched.Start()
	time.Sleep(30 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		f.sched.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop within a tick")
	}
}
