package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Result is the verdict returned by the moderation service.
type Result struct {
	Allowed    bool    `json:"allowed"`
	Reason     string  `json:"reason,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Checker is the moderation capability consumed by the message pipeline.
type Checker interface {
	Check(ctx context.Context, text string) (Result, error)
}

// Config defines configuration for the moderation HTTP client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// Strict turns transport failures into errors. By default the client
	// fails open: an unreachable moderation service allows the content
	// through, matching the upstream fallback behaviour.
	Strict bool
	Logger zerolog.Logger
}

// Client calls the external text-moderation service over HTTP.
type Client struct {
	baseURL string
	strict  bool
	http    *http.Client
	tracer  trace.Tracer
	logger  zerolog.Logger
}

type moderateRequest struct {
	Text string `json:"text"`
}

// New builds a moderation client. An empty base URL is allowed and produces
// a client that approves everything, for deployments without the service.
func New(cfg Config) (*Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		strict:  cfg.Strict,
		http:    &http.Client{Timeout: timeout},
		tracer:  otel.Tracer("github.com/noah-isme/kabar-go-api/pkg/moderation"),
		logger:  logger.With().Str("component", "moderation_client").Logger(),
	}, nil
}

// Check submits the text for moderation and returns the verdict. Transport
// failures fail open unless the client was configured strict.
func (c *Client) Check(parent context.Context, text string) (Result, error) {
	if c.baseURL == "" {
		return Result{Allowed: true}, nil
	}

	ctx, span := c.tracer.Start(parent, "moderation.check", trace.WithAttributes(
		attribute.Int("moderation.text_length", len(text)),
	))
	defer span.End()

	body, err := json.Marshal(moderateRequest{Text: text})
	if err != nil {
		return Result{}, fmt.Errorf("moderation marshal: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/moderate", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("moderation request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.http.Do(request)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if c.strict {
			return Result{}, fmt.Errorf("moderation check: %w", err)
		}
		c.logger.Warn().Err(err).Msg("moderation service unreachable, allowing content")
		return Result{Allowed: true}, nil
	}
	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		err := fmt.Errorf("moderation service returned status %d", response.StatusCode)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if c.strict {
			return Result{}, err
		}
		c.logger.Warn().Int("status", response.StatusCode).Msg("moderation service error, allowing content")
		return Result{Allowed: true}, nil
	}

	var result Result
	if err := json.NewDecoder(response.Body).Decode(&result); err != nil {
		span.RecordError(err)
		if c.strict {
			return Result{}, fmt.Errorf("moderation decode: %w", err)
		}
		c.logger.Warn().Err(err).Msg("invalid moderation response, allowing content")
		return Result{Allowed: true}, nil
	}

	span.SetAttributes(attribute.Bool("moderation.allowed", result.Allowed))
	return result, nil
}
