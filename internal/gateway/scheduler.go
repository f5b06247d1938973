package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/IgorTelles9/gateway-privacidade/internal/cache"
	"github.com/IgorTelles9/gateway-privacidade/internal/policy"
	"github.com/IgorTelles9/gateway-privacidade/internal/treatment"
)

// DefaultTick is the scheduler poll period.
const DefaultTick = 2 * time.Second

// SchedulerOptions wires a Scheduler's collaborators.
type SchedulerOptions struct {
	Store     *cache.Store
	Consent   PolicyFetcher
	Registry  *treatment.Registry
	Publisher Publisher
	OutTopic  string
	Metrics   *Metrics

	// Tick overrides the poll period. Defaults to DefaultTick.
	Tick time.Duration
	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// Scheduler is the single background worker draining the aggregation
// due-queue. Each wake pops every due (device, subject) pair, invokes
// the accumulated strategy's aggregate over the drained buffer,
// publishes the result and re-arms the pair's timer relative to wake
// time. When the worker sleeps past several periods, one aggregation
// runs per pair and the cadence drifts; that behavior is deliberate.
type Scheduler struct {
	store    *cache.Store
	consent  PolicyFetcher
	registry *treatment.Registry
	pub      Publisher
	outTopic string
	metrics  *Metrics
	tick     time.Duration
	now      func() time.Time

	stop chan struct{}
	done chan struct{}
}

// NewScheduler creates a Scheduler.
func NewScheduler(opts SchedulerOptions) *Scheduler {
	tick := opts.Tick
	if tick <= 0 {
		tick = DefaultTick
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		store:    opts.Store,
		consent:  opts.Consent,
		registry: opts.Registry,
		pub:      opts.Publisher,
		outTopic: opts.OutTopic,
		metrics:  opts.Metrics,
		tick:     tick,
		now:      now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (s *Scheduler) Start() {
	slog.Info("[Scheduler] Aggregation scheduler started", "tick", s.tick)
	go s.run()
}

// Stop signals the worker and waits for it to observe the signal at the
// next tick boundary. An in-flight aggregation pass completes first.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
	slog.Info("[Scheduler] Aggregation scheduler stopped")
}

func (s *Scheduler) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.RunOnce(context.Background())
		}
	}
}

// RunOnce drains every due aggregation task. Exported so tests can
// drive the scheduler without the ticker.
func (s *Scheduler) RunOnce(ctx context.Context) {
	tasks, err := s.store.PopDue(ctx, s.now())
	if err != nil {
		slog.Error("[Scheduler] Due-queue poll failed", "error", err)
		return
	}
	if len(tasks) == 0 {
		return
	}

	runID := uuid.NewString()
	slog.Info("[Scheduler] Processing due aggregation tasks", "run_id", runID, "count", len(tasks))
	for _, task := range tasks {
		s.processTask(ctx, runID, task)
	}
}

// processTask runs one (device, subject) aggregation: resolve the
// policy, atomically drain the buffer, aggregate, publish, re-arm. A
// pair whose policy vanished is not rescheduled — the next data point
// re-kickstarts it.
func (s *Scheduler) processTask(ctx context.Context, runID string, task cache.Task) {
	log := slog.With("run_id", runID, "device_id", task.DeviceID, "titular_id", task.SubjectID)

	pol := s.resolvePolicy(ctx, task.DeviceID, task.SubjectID)
	if pol == nil {
		log.Warn("[Scheduler] No privacy policy for due task, dropping timer")
		s.metrics.AggregationRuns.WithLabelValues("skipped").Inc()
		return
	}

	points, err := s.store.DrainPoints(ctx, task.DeviceID, task.SubjectID)
	if err != nil {
		log.Error("[Scheduler] Buffer drain failed", "error", err)
		s.metrics.AggregationRuns.WithLabelValues("error").Inc()
		return
	}

	parsed, err := policy.ParsePolicyKey(pol.Key())
	if err != nil || parsed.Action == "" {
		log.Error("[Scheduler] Unparseable policy key for due task", "policy_key", pol.Key())
		s.metrics.AggregationRuns.WithLabelValues("skipped").Inc()
		return
	}
	strategy, ok := s.registry.Get(parsed.Action)
	if !ok {
		log.Error("[Scheduler] No treatment strategy for due task", "action", parsed.Action)
		s.metrics.AggregationRuns.WithLabelValues("skipped").Inc()
		return
	}
	accumulated, ok := strategy.(treatment.AccumulatedStrategy)
	if !ok {
		log.Warn("[Scheduler] Policy is no longer accumulated, dropping timer", "action", parsed.Action)
		s.metrics.AggregationRuns.WithLabelValues("skipped").Inc()
		return
	}

	if len(points) == 0 {
		// Nothing buffered this period; keep the timer armed.
		log.Info("[Scheduler] No buffered data points this period")
		s.metrics.AggregationRuns.WithLabelValues("empty").Inc()
		s.reschedule(ctx, log, task, parsed.Interval)
		return
	}

	value := accumulated.Aggregate(points)
	result := map[string]any{
		"dispositivo_id": task.DeviceID,
		"titular_id":     task.SubjectID,
		"value":          value,
	}
	out, err := json.Marshal(result)
	if err != nil {
		log.Error("[Scheduler] Aggregate result not serializable", "error", err)
		s.metrics.AggregationRuns.WithLabelValues("error").Inc()
		return
	}

	topic := s.outTopic + "/" + task.DeviceID
	if err := s.pub.Publish(topic, out); err != nil {
		log.Error("[Scheduler] Publish failed", "topic", topic, "error", err)
		s.metrics.PublishErrors.Inc()
		s.metrics.AggregationRuns.WithLabelValues("error").Inc()
		return
	}
	s.metrics.AggregationRuns.WithLabelValues("published").Inc()
	log.Info("[Scheduler] Aggregate forwarded", "topic", topic, "points", len(points), "value", value)

	s.reschedule(ctx, log, task, parsed.Interval)
}

func (s *Scheduler) reschedule(ctx context.Context, log *slog.Logger, task cache.Task, intervalSeconds int) {
	if intervalSeconds <= 0 {
		log.Warn("[Scheduler] Policy has no aggregation interval, not rescheduling")
		return
	}
	due := s.now().Add(time.Duration(intervalSeconds) * time.Second)
	if err := s.store.Schedule(ctx, task.DeviceID, task.SubjectID, due); err != nil {
		log.Error("[Scheduler] Reschedule failed", "error", err)
		return
	}
	log.Info("[Scheduler] Aggregation task rescheduled", "interval_seconds", intervalSeconds)
}

// resolvePolicy is the scheduler's cache-then-fetch. Unlike the ingest
// path it never kickstarts a timer; the pair being processed already
// owns one.
func (s *Scheduler) resolvePolicy(ctx context.Context, deviceID, subjectID string) policy.PrivacyPolicy {
	pol, err := s.store.GetPolicy(ctx, deviceID, subjectID)
	if err != nil {
		slog.Error("[Scheduler] Policy cache read failed",
			"device_id", deviceID, "titular_id", subjectID, "error", err)
		return nil
	}
	if pol != nil {
		return pol
	}

	pol, err = s.consent.FetchPolicy(ctx, deviceID, subjectID)
	if err != nil {
		slog.Error("[Scheduler] Consent service fetch failed",
			"device_id", deviceID, "titular_id", subjectID, "error", err)
		return nil
	}
	if pol == nil {
		return nil
	}
	if err := s.store.SetPolicy(ctx, deviceID, subjectID, pol); err != nil {
		slog.Error("[Scheduler] Policy cache write failed",
			"device_id", deviceID, "titular_id", subjectID, "error", err)
	}
	return pol
}
