package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_deliveries_total",
		Help: "Webhook deliveries by result.",
	}, []string{"result"})
	deliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "webhook_delivery_duration_seconds",
		Help:    "Webhook delivery latency.",
		Buckets: prometheus.DefBuckets,
	})
)

// PingEvent is the event type sent by ValidateWebhook.
const PingEvent = "webhook.ping"

type Options struct {
	Client          *http.Client
	DeliveryTimeout time.Duration // per delivery, default 5s
	ProbeTimeout    time.Duration // per health probe, default 5s
	Workers         int           // max parallel deliveries per event, default 8
	Now             func() time.Time
}

type Service struct {
	store      Store
	client     *http.Client
	deliveryTO time.Duration
	probeTO    time.Duration
	workers    int
	now        func() time.Time
	log        *zap.SugaredLogger
}

func NewService(store Store, log *zap.SugaredLogger, opts Options) *Service {
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = 5 * time.Second
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 5 * time.Second
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store: store, client: opts.Client, deliveryTO: opts.DeliveryTimeout, probeTO: opts.ProbeTimeout,
		workers: opts.Workers, now: opts.Now, log: log,
	}
}

// CreateSubscription is idempotent: an identical registration returns the existing record with created=false.
func (s *Service) CreateSubscription(ctx context.Context, in CreateInput) (Subscription, bool, error) {
	if err := in.validate(); err != nil {
		return Subscription{}, false, err
	}
	sub, created, err := s.store.Create(ctx, in)
	if err != nil {
		return Subscription{}, false, err
	}
	if created {
		s.log.Infow("webhook subscribed", "tenant", sub.TenantID, "org", sub.OrganizationID, "event", sub.Event, "id", sub.ID)
	}
	return sub, created, nil
}

// DeleteSubscription removes a subscription owned by requestingTenantID.
func (s *Service) DeleteSubscription(ctx context.Context, id, requestingTenantID string) error {
	if _, err := s.owned(ctx, id, requestingTenantID); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Infow("webhook unsubscribed", "tenant", requestingTenantID, "id", id)
	return nil
}

func (s *Service) ListSubscriptions(ctx context.Context, tenantID, organizationID string) ([]Subscription, error) {
	return s.store.List(ctx, tenantID, organizationID)
}

func (s *Service) owned(ctx context.Context, id, tenantID string) (Subscription, error) {
	sub, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return Subscription{}, err
	}
	if !ok {
		return Subscription{}, ErrNotFound
	}
	if sub.TenantID != tenantID {
		return Subscription{}, ErrForbidden
	}
	return sub, nil
}

// Delivery is the outcome for one subscriber.
type Delivery struct {
	SubscriptionID string `json:"subscriptionId"`
	Status         int    `json:"status,omitempty"`
	Error          string `json:"error,omitempty"`
	OK             bool   `json:"ok"`
}

// Report summarizes one NotifyEvent batch.
type Report struct {
	EventID    string     `json:"eventId"`
	Event      string     `json:"event"`
	Matched    int        `json:"matched"`
	Delivered  int        `json:"delivered"`
	Failed     int        `json:"failed"`
	Deliveries []Delivery `json:"deliveries"`
}

type envelope struct {
	ID             string         `json:"id"`
	Event          string         `json:"event"`
	TenantID       string         `json:"tenantId"`
	OrganizationID string         `json:"organizationId,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	Data           map[string]any `json:"data"`
}

// NotifyEvent delivers ev to every active matching subscription in parallel.
// Failures are logged and reported, never returned.
func (s *Service) NotifyEvent(ctx context.Context, ev Event) Report {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	rep := Report{EventID: ev.ID, Event: ev.Type, Deliveries: []Delivery{}}
	subs, err := s.store.Active(ctx, ev.TenantID)
	if err != nil {
		s.log.Errorw("load subscriptions", "tenant", ev.TenantID, "event", ev.Type, "err", err)
		return rep
	}
	var targets []Subscription
	for _, sub := range subs {
		if !sub.Matches(ev) {
			continue
		}
		ok, err := passesFilter(sub.Filter, ev.Data)
		if err != nil {
			s.log.Warnw("webhook filter failed", "id", sub.ID, "err", err)
		}
		if ok {
			targets = append(targets, sub)
		}
	}
	rep.Matched = len(targets)
	if len(targets) == 0 {
		return rep
	}

	body, err := json.Marshal(envelope{
		ID: ev.ID, Event: ev.Type, TenantID: ev.TenantID, OrganizationID: ev.OrganizationID,
		Timestamp: s.now().UTC(), Data: ev.Data,
	})
	if err != nil {
		s.log.Errorw("encode event", "event", ev.Type, "err", err)
		return rep
	}

	results := make([]Delivery, len(targets))
	wp := workerpool.New(min(s.workers, len(targets)))
	for i, sub := range targets {
		wp.Submit(func() {
			results[i] = s.deliver(ctx, sub, ev.Type, body, s.deliveryTO)
		})
	}
	wp.StopWait()

	for _, d := range results {
		if d.OK {
			rep.Delivered++
			deliveriesTotal.WithLabelValues("ok").Inc()
		} else {
			rep.Failed++
			deliveriesTotal.WithLabelValues("failed").Inc()
			s.log.Warnw("webhook delivery failed", "tenant", ev.TenantID, "event", ev.Type, "id", d.SubscriptionID, "status", d.Status, "err", d.Error)
		}
	}
	rep.Deliveries = results
	return rep
}

// ValidateWebhook probes the target. A failed probe deactivates the subscription, a passing one reactivates it.
func (s *Service) ValidateWebhook(ctx context.Context, id, tenantID string) (bool, error) {
	sub, err := s.owned(ctx, id, tenantID)
	if err != nil {
		return false, err
	}
	body, err := json.Marshal(envelope{
		ID: uuid.NewString(), Event: PingEvent, TenantID: sub.TenantID, OrganizationID: sub.OrganizationID,
		Timestamp: s.now().UTC(), Data: map[string]any{"subscriptionId": sub.ID},
	})
	if err != nil {
		return false, err
	}
	d := s.deliver(ctx, sub, PingEvent, body, s.probeTO)
	if d.OK != sub.IsActive {
		if err := s.store.SetActive(ctx, sub.ID, d.OK); err != nil {
			return d.OK, fmt.Errorf("update subscription health: %w", err)
		}
		s.log.Infow("webhook health changed", "tenant", sub.TenantID, "id", sub.ID, "active", d.OK, "err", d.Error)
	}
	return d.OK, nil
}

func (s *Service) deliver(ctx context.Context, sub Subscription, event string, body []byte, timeout time.Duration) Delivery {
	d := Delivery{SubscriptionID: sub.ID}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()
	defer func() { deliveryDuration.Observe(time.Since(start).Seconds()) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.TargetURL, bytes.NewReader(body))
	if err != nil {
		d.Error = err.Error()
		return d
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", event)
	req.Header.Set("X-Webhook-Id", sub.ID)
	resp, err := s.client.Do(req)
	if err != nil {
		d.Error = err.Error()
		return d
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	d.Status = resp.StatusCode
	d.OK = resp.StatusCode >= 200 && resp.StatusCode < 300
	if !d.OK {
		d.Error = resp.Status
	}
	return d
}
