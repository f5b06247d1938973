// Package gateway contains the policy-driven data plane: the ingest
// handler applying treatment strategies to inbound device data, the
// notification handler evicting invalidated policies, and the
// aggregation scheduler releasing deferred aggregates.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/IgorTelles9/gateway-privacidade/internal/cache"
	"github.com/IgorTelles9/gateway-privacidade/internal/policy"
	"github.com/IgorTelles9/gateway-privacidade/internal/treatment"
)

// Publisher hands a message off to the broker. Publishes are
// best-effort: implementations must not block the caller on delivery.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// PolicyFetcher is the consent-service seam. It returns (nil, nil) when
// the subject has no consent covering the device.
type PolicyFetcher interface {
	FetchPolicy(ctx context.Context, deviceID, subjectID string) (policy.PrivacyPolicy, error)
}

// Options wires a Gateway's collaborators.
type Options struct {
	Store     *cache.Store
	Consent   PolicyFetcher
	Registry  *treatment.Registry
	Publisher Publisher
	// OutTopic is the processed-data topic prefix; results go to
	// "{OutTopic}/{device_id}".
	OutTopic string
	Metrics  *Metrics

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// Gateway applies per-(device, subject) privacy policies to inbound
// device data.
//
// HandleData and HandleNotification are invoked from the broker
// client's delivery callback, which delivers messages serially, so the
// handlers never race each other. They do run concurrently with the
// scheduler; all shared state lives behind the store's atomic
// operations.
type Gateway struct {
	store    *cache.Store
	consent  PolicyFetcher
	registry *treatment.Registry
	pub      Publisher
	outTopic string
	metrics  *Metrics
	now      func() time.Time
}

// New creates a Gateway.
func New(opts Options) *Gateway {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Gateway{
		store:    opts.Store,
		consent:  opts.Consent,
		registry: opts.Registry,
		pub:      opts.Publisher,
		outTopic: opts.OutTopic,
		metrics:  opts.Metrics,
		now:      now,
	}
}

// HandleData processes one inbound device message. The device id is the
// second segment of the topic; the payload must be a JSON object with a
// titular_id. Failures drop the message with a diagnostic — retry is
// the broker's responsibility.
func (g *Gateway) HandleData(topic string, payload []byte) {
	ctx := context.Background()

	segments := strings.Split(topic, "/")
	if len(segments) < 2 || segments[1] == "" {
		slog.Error("[Gateway] Data topic has no device segment", "topic", topic)
		g.drop("bad_topic")
		return
	}
	deviceID := segments[1]

	var data map[string]any
	if err := json.Unmarshal(payload, &data); err != nil {
		slog.Error("[Gateway] Undecodable device payload", "topic", topic, "error", err)
		g.drop("bad_payload")
		return
	}

	subjectID, _ := data["titular_id"].(string)
	if subjectID == "" {
		slog.Error("[Gateway] Device payload has no titular_id", "device_id", deviceID)
		g.drop("missing_titular")
		return
	}

	slog.Info("[Gateway] Processing device data", "device_id", deviceID, "titular_id", subjectID)

	pol := g.getOrFetchPolicy(ctx, deviceID, subjectID)
	if pol == nil {
		slog.Warn("[Gateway] No privacy policy for device",
			"device_id", deviceID, "titular_id", subjectID)
		g.drop("no_policy")
		return
	}

	g.applyPolicy(ctx, deviceID, data, pol)
}

// HandleNotification processes one MGC invalidation message, a JSON
// object naming the (device, subject) pair whose cached policy must be
// evicted. Malformed payloads are logged and dropped.
func (g *Gateway) HandleNotification(payload []byte) {
	var notification struct {
		DeviceID  string `json:"dispositivo_id"`
		SubjectID string `json:"titular_id"`
	}
	if err := json.Unmarshal(payload, &notification); err != nil {
		slog.Error("[Gateway] Undecodable MGC notification", "error", err)
		return
	}
	if notification.DeviceID == "" || notification.SubjectID == "" {
		slog.Error("[Gateway] MGC notification missing dispositivo_id or titular_id")
		return
	}

	if err := g.store.InvalidatePolicy(context.Background(), notification.DeviceID, notification.SubjectID); err != nil {
		slog.Error("[Gateway] Policy invalidation failed",
			"device_id", notification.DeviceID, "titular_id", notification.SubjectID, "error", err)
		return
	}
	g.metrics.Invalidations.Inc()
	slog.Info("[Gateway] Policy invalidated",
		"device_id", notification.DeviceID, "titular_id", notification.SubjectID)
}

// getOrFetchPolicy resolves the policy for (device, subject),
// cache-first. A consent-service hit is cached with the store TTL and,
// for accumulated policies, kickstarts the aggregation timer. Returns
// nil when no policy could be resolved.
func (g *Gateway) getOrFetchPolicy(ctx context.Context, deviceID, subjectID string) policy.PrivacyPolicy {
	pol, err := g.store.GetPolicy(ctx, deviceID, subjectID)
	if err != nil {
		slog.Error("[Gateway] Policy cache read failed",
			"device_id", deviceID, "titular_id", subjectID, "error", err)
		g.metrics.PolicyLookups.WithLabelValues("error").Inc()
		return nil
	}
	if pol != nil {
		g.metrics.PolicyLookups.WithLabelValues("hit").Inc()
		return pol
	}
	g.metrics.PolicyLookups.WithLabelValues("miss").Inc()

	pol, err = g.consent.FetchPolicy(ctx, deviceID, subjectID)
	if err != nil {
		slog.Error("[Gateway] Consent service fetch failed",
			"device_id", deviceID, "titular_id", subjectID, "error", err)
		return nil
	}
	if pol == nil {
		return nil
	}

	if err := g.store.SetPolicy(ctx, deviceID, subjectID, pol); err != nil {
		slog.Error("[Gateway] Policy cache write failed",
			"device_id", deviceID, "titular_id", subjectID, "error", err)
	}
	g.kickstartAggregation(ctx, deviceID, subjectID, pol)
	return pol
}

// kickstartAggregation arms the aggregation timer for a freshly cached
// accumulated policy with a positive interval. The due-queue upsert is
// idempotent, so re-kickstarting an armed pair only moves its due time.
func (g *Gateway) kickstartAggregation(ctx context.Context, deviceID, subjectID string, pol policy.PrivacyPolicy) {
	parsed, err := policy.ParsePolicyKey(pol.Key())
	if err != nil || parsed.Action == "" {
		return
	}
	if !g.registry.IsAccumulated(parsed.Action) {
		return
	}
	if parsed.Interval <= 0 {
		slog.Warn("[Gateway] Accumulated policy has no aggregation interval, not scheduling",
			"device_id", deviceID, "titular_id", subjectID, "action", parsed.Action)
		return
	}

	due := g.now().Add(time.Duration(parsed.Interval) * time.Second)
	if err := g.store.Schedule(ctx, deviceID, subjectID, due); err != nil {
		slog.Error("[Gateway] Aggregation kickstart failed",
			"device_id", deviceID, "titular_id", subjectID, "error", err)
		return
	}
	slog.Info("[Gateway] Aggregation task scheduled",
		"device_id", deviceID, "titular_id", subjectID, "interval_seconds", parsed.Interval)
}

// applyPolicy dispatches the payload to the strategy named by the
// policy key and publishes the result when the strategy produced one.
func (g *Gateway) applyPolicy(ctx context.Context, deviceID string, data map[string]any, pol policy.PrivacyPolicy) {
	key := pol.Key()
	if key == "" {
		slog.Error("[Gateway] Policy carries no chave_politica", "device_id", deviceID)
		g.drop("bad_policy_key")
		return
	}

	parsed, err := policy.ParsePolicyKey(key)
	if err != nil {
		slog.Error("[Gateway] Unparseable policy key", "policy_key", key, "error", err)
		g.drop("bad_policy_key")
		return
	}
	if parsed.Action == "" {
		slog.Error("[Gateway] Policy key has no action", "policy_key", key)
		g.drop("bad_policy_key")
		return
	}

	strategy, ok := g.registry.Get(parsed.Action)
	if !ok {
		slog.Error("[Gateway] No treatment strategy for policy key",
			"policy_key", key, "action", parsed.Action)
		g.drop("unknown_strategy")
		return
	}

	processed, err := strategy.Execute(ctx, data, parsed.Params)
	if err != nil {
		slog.Error("[Gateway] Treatment strategy failed",
			"device_id", deviceID, "action", parsed.Action, "error", err)
		g.drop("strategy_error")
		return
	}
	if processed == nil {
		// Dropped by the strategy or buffered for aggregation.
		g.metrics.MessagesProcessed.WithLabelValues("accumulated").Inc()
		slog.Info("[Gateway] Data withheld by policy", "device_id", deviceID, "action", parsed.Action)
		return
	}

	out, err := json.Marshal(processed)
	if err != nil {
		slog.Error("[Gateway] Processed payload not serializable",
			"device_id", deviceID, "error", err)
		g.drop("strategy_error")
		return
	}
	topic := g.outTopic + "/" + deviceID
	if err := g.pub.Publish(topic, out); err != nil {
		slog.Error("[Gateway] Publish failed", "topic", topic, "error", err)
		g.metrics.PublishErrors.Inc()
		return
	}
	g.metrics.MessagesProcessed.WithLabelValues("published").Inc()
	slog.Info("[Gateway] Processed data forwarded", "topic", topic, "action", parsed.Action)
}

func (g *Gateway) drop(reason string) {
	g.metrics.MessagesProcessed.WithLabelValues("dropped").Inc()
	g.metrics.MessagesDropped.WithLabelValues(reason).Inc()
}
