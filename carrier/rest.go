package carrier

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/commercekit/conduct"
)

// RESTConfig configures a RESTProvider.
type RESTConfig struct {
	// ProviderName is the registry key (e.g. "shippo", "easypost").
	ProviderName string
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	// RatePerSecond caps outbound calls; 0 disables the limiter.
	RatePerSecond float64
	// RetryCount is how many times a 5xx or transport failure is retried.
	// Retries are safe because every purchase carries an idempotency key.
	RetryCount int
}

// RESTProvider talks to a carrier's HTTP label API. Purchase retries are
// deduplicated carrier-side via the Idempotency-Key header.
type RESTProvider struct {
	name    string
	http    *resty.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ Provider = (*RESTProvider)(nil)

// NewREST creates a REST carrier provider.
func NewREST(cfg RESTConfig, logger *slog.Logger) *RESTProvider {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 3
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetAuthToken(cfg.APIKey).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			// Retry transport failures and server errors; 4xx responses
			// are terminal.
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}

	return &RESTProvider{
		name:    cfg.ProviderName,
		http:    client,
		limiter: limiter,
		logger:  logger,
	}
}

// Name implements Provider.
func (p *RESTProvider) Name() string { return p.name }

type apiError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// CreateLabel purchases a label via POST /labels.
func (p *RESTProvider) CreateLabel(ctx context.Context, idempotencyKey string, req LabelRequest) (*LabelResult, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	var (
		result LabelResult
		apiErr apiError
	)

	resp, err := p.http.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", idempotencyKey).
		SetBody(req).
		SetResult(&result).
		SetError(&apiErr).
		Post("/labels")
	if err != nil {
		return nil, conduct.E(conduct.KindExternalProvider,
			fmt.Sprintf("carrier %s: create label", p.name), err)
	}

	if resp.IsError() {
		return nil, conduct.Errorf(conduct.KindExternalProvider,
			"carrier %s: create label: %d %s", p.name, resp.StatusCode(), apiErr.Message)
	}

	p.logger.Debug("label purchased",
		slog.String("provider", p.name),
		slog.String("label_id", result.LabelID),
		slog.String("tracking_number", result.TrackingNumber),
	)
	return &result, nil
}

// VoidLabel requests a void via POST /labels/{id}/void. A carrier-side
// rejection comes back as VoidResult{Success: false}, not an error.
func (p *RESTProvider) VoidLabel(ctx context.Context, labelID string) (*VoidResult, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	var (
		result VoidResult
		apiErr apiError
	)

	resp, err := p.http.R().
		SetContext(ctx).
		SetPathParam("label_id", labelID).
		SetResult(&result).
		SetError(&apiErr).
		Post("/labels/{label_id}/void")
	if err != nil {
		return nil, conduct.E(conduct.KindExternalProvider,
			fmt.Sprintf("carrier %s: void label %s", p.name, labelID), err)
	}

	if resp.IsError() {
		// A rejected void is an outcome, not a transport failure.
		return &VoidResult{Success: false, Error: apiErr.Message}, nil
	}

	return &result, nil
}

func (p *RESTProvider) wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("carrier %s: rate limit wait: %w", p.name, err)
	}
	return nil
}
