package overridehook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// DefaultTimeout bounds a single worker round trip
const DefaultTimeout = time.Second

var hookTracer = otel.Tracer("gatekeeper/overridehook")

// response is the worker's reply. Result is set by current workers; Error by
// legacy ones.
type response struct {
	Result string  `json:"result"`
	Reason string  `json:"reason,omitempty"`
	Error  *string `json:"error,omitempty"`
}

// HTTPHook posts events to {base}/guilds/{guild}/authz
type HTTPHook struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// HTTPHookOptions configures an HTTPHook
type HTTPHookOptions struct {
	Timeout   time.Duration
	Transport http.RoundTripper
	Logger    *observability.Logger
	Metrics   *observability.Metrics
}

// NewHTTPHook creates a hook talking to the worker at baseURL
func NewHTTPHook(baseURL string, opts HTTPHookOptions) *HTTPHook {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}

	return &HTTPHook{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: opts.Timeout,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(opts.Transport),
		},
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
}

// Ask implements Hook. It never returns an error: every failure is a Deny.
func (h *HTTPHook) Ask(ctx context.Context, event Event) Outcome {
	ctx, span := hookTracer.Start(ctx, "overridehook.Ask")
	defer span.End()
	span.SetAttributes(
		attribute.String("guild.id", event.GuildID),
		attribute.String("hook.kind", string(event.Kind)),
		attribute.String("hook.event_id", event.ID),
	)

	start := time.Now()
	outcome, err := h.ask(ctx, event)
	elapsed := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.logger.WithError(err).WithFields(map[string]interface{}{
			"guild_id": event.GuildID,
			"event_id": event.ID,
		}).Warn("Override hook failed, denying")
		outcome = Denied(fmt.Sprintf("override worker unavailable: %v", err))
	}

	span.SetAttributes(attribute.String("hook.decision", outcome.Decision.String()))
	h.metrics.ObserveHook(outcome.Decision.String(), elapsed)
	return outcome
}

func (h *HTTPHook) ask(ctx context.Context, event Event) (Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	body, err := json.Marshal(event)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to encode event: %w", err)
	}

	endpoint := fmt.Sprintf("%s/guilds/%s/authz", h.baseURL, url.PathEscape(event.GuildID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Outcome{}, fmt.Errorf("timed out after %s", h.timeout)
		}
		return Outcome{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to read response: %w", err)
	}

	var reply response
	decodeErr := json.Unmarshal(raw, &reply)

	// Legacy workers report raised errors regardless of status code
	if decodeErr == nil && reply.Error != nil {
		return legacyOutcome(event.Kind, *reply.Error), nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Outcome{}, fmt.Errorf("worker returned status %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return Outcome{}, fmt.Errorf("failed to decode response: %w", decodeErr)
	}

	switch reply.Result {
	case "allow":
		return Allowed(), nil
	case "deny":
		reason := reply.Reason
		if reason == "" {
			reason = "denied by guild override script"
		}
		return Denied(reason), nil
	case "no_opinion":
		return Abstain(), nil
	default:
		return Outcome{}, fmt.Errorf("unknown result %q", reply.Result)
	}
}
