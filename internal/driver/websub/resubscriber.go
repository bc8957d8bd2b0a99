// Package websub renews WebSub (PubSubHubbub) feed subscriptions.
package websub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"ex-warden/pkg/warden"

	"golang.org/x/sync/errgroup"
)

const (
	// DriverType is the configured driver type token for WebSub feeds.
	DriverType = "websub"

	defaultLease          = 5 * 24 * time.Hour
	defaultRequestTimeout = 10 * time.Second
	maxConcurrentRequests = 4
)

type resubConfig struct {
	CallbackURL    string                   `json:"callback_url"`
	Lease          string                   `json:"lease"`
	RequestTimeout string                   `json:"request_timeout"`
	Secret         string                   `json:"secret"`
	Services       map[string]serviceConfig `json:"services"`
}

type serviceConfig struct {
	HubURL string   `json:"hub_url"`
	Topics []string `json:"topics"`
}

type feedService struct {
	hubURL string
	topics []string
}

// Option mutates resubscriber construction.
type Option func(*Resubscriber)

// WithLogger configures structured logging.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resubscriber) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithHTTPClient replaces the HTTP client used for hub requests.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Resubscriber) {
		if client != nil {
			r.client = client
		}
	}
}

// Resubscriber posts subscribe requests to WebSub hubs.
type Resubscriber struct {
	logger      *slog.Logger
	client      *http.Client
	callbackURL string
	lease       time.Duration
	secret      string
	services    map[string]feedService
	names       []string
}

var _ warden.FeedResubscriber = (*Resubscriber)(nil)

// BuildFromConfig parses one JSON driver config into a resubscriber.
func BuildFromConfig(rawConfig []byte, options ...Option) (*Resubscriber, error) {
	if len(rawConfig) == 0 {
		return nil, fmt.Errorf("parse websub config: missing config")
	}

	var parsed resubConfig
	if err := json.Unmarshal(rawConfig, &parsed); err != nil {
		return nil, fmt.Errorf("parse websub config: %w", err)
	}

	lease, err := parsePositiveDuration("lease", parsed.Lease, defaultLease)
	if err != nil {
		return nil, fmt.Errorf("parse websub config: %w", err)
	}
	timeout, err := parsePositiveDuration("request_timeout", parsed.RequestTimeout, defaultRequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse websub config: %w", err)
	}

	callback := strings.TrimRight(strings.TrimSpace(parsed.CallbackURL), "/")
	if _, err := url.ParseRequestURI(callback); err != nil {
		return nil, fmt.Errorf("parse websub config: callback_url: %w", err)
	}
	if len(parsed.Services) == 0 {
		return nil, fmt.Errorf("parse websub config: services is required")
	}

	resubscriber := &Resubscriber{
		logger:      slog.Default(),
		client:      &http.Client{Timeout: timeout},
		callbackURL: callback,
		lease:       lease,
		secret:      strings.TrimSpace(parsed.Secret),
		services:    make(map[string]feedService, len(parsed.Services)),
	}
	for name, service := range parsed.Services {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("parse websub config: empty service name")
		}
		hub := strings.TrimSpace(service.HubURL)
		if _, err := url.ParseRequestURI(hub); err != nil {
			return nil, fmt.Errorf("parse websub config: services.%s.hub_url: %w", name, err)
		}
		resubscriber.services[name] = feedService{
			hubURL: hub,
			topics: compactTopics(service.Topics),
		}
		resubscriber.names = append(resubscriber.names, name)
	}
	slices.Sort(resubscriber.names)

	for _, option := range options {
		option(resubscriber)
	}

	return resubscriber, nil
}

// Services returns the configured feed services in sorted order.
func (r *Resubscriber) Services() []string {
	return slices.Clone(r.names)
}

// LeaseHint returns the requested subscription lease.
func (r *Resubscriber) LeaseHint() time.Duration {
	return r.lease
}

// Resubscribe renews every topic configured for service.
//
// Topics are renewed independently. The returned error joins every failure.
func (r *Resubscriber) Resubscribe(ctx context.Context, service string) error {
	feed, ok := r.services[service]
	if !ok {
		return fmt.Errorf("resubscribe %s: unknown service", service)
	}

	errs := make([]error, len(feed.topics))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(maxConcurrentRequests)
	for index, topic := range feed.topics {
		group.Go(func() error {
			errs[index] = r.subscribe(groupCtx, service, feed.hubURL, topic)
			return nil
		})
	}
	_ = group.Wait()

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("resubscribe %s: %w", service, err)
	}
	r.logger.InfoContext(ctx, "websub subscriptions renewed", "service", service, "topics", len(feed.topics))

	return nil
}

func (r *Resubscriber) subscribe(ctx context.Context, service string, hub string, topic string) error {
	form := url.Values{}
	form.Set("hub.mode", "subscribe")
	form.Set("hub.topic", topic)
	form.Set("hub.callback", r.callbackURL+"/"+url.PathEscape(service))
	form.Set("hub.verify", "async")
	form.Set("hub.lease_seconds", strconv.FormatInt(int64(r.lease/time.Second), 10))
	if r.secret != "" {
		form.Set("hub.secret", r.secret)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, hub, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build subscribe request for %s: %w", topic, err)
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	response, err := r.client.Do(request)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusAccepted && response.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 512))
		return fmt.Errorf("subscribe %s: hub status %d: %s", topic, response.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, response.Body)

	return nil
}

func parsePositiveDuration(name string, raw string, fallback time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return fallback, nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("parse %s: must be > 0", name)
	}

	return parsed, nil
}

func compactTopics(topics []string) []string {
	compacted := make([]string, 0, len(topics))
	for _, topic := range topics {
		topic = strings.TrimSpace(topic)
		if topic == "" || slices.Contains(compacted, topic) {
			continue
		}
		compacted = append(compacted, topic)
	}

	return compacted
}
