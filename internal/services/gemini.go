package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/hanna4328/chat-bot/internal/audit"
	"github.com/hanna4328/chat-bot/internal/logging"
	"github.com/hanna4328/chat-bot/internal/models"
)

const (
	// maxUpstreamBody caps how much of an upstream reply is buffered.
	maxUpstreamBody = 4 << 20
	maxPromptBytes  = 1 << 20
)

var modelIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

type GeminiOptions struct {
	APIKey         string
	BaseURL        string
	APIVersion     string
	Model          string
	Timeout        time.Duration
	RequestsPerMin int
	ConcurrentReqs int
	HTTPClient     *http.Client
	Recorder       audit.Recorder
}

type GeminiService struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	apiVersion string
	model      string
	timeout    time.Duration
	limiter    *rate.Limiter // nil when pacing is disabled
	rateChan   chan struct{} // Token bucket
	recorder   audit.Recorder
	maxBody    int64

	tracer   trace.Tracer
	requests metric.Int64Counter
	latency  metric.Float64Histogram
}

// GenerateResult is a normalized upstream answer.
type GenerateResult struct {
	Text     string
	Model    string
	Strategy string
}

func NewGeminiService(opts GeminiOptions) (*GeminiService, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.ConcurrentReqs < 1 {
		opts.ConcurrentReqs = 1
	}
	if opts.APIVersion == "" {
		opts.APIVersion = "v1beta"
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Recorder == nil {
		opts.Recorder = audit.NopStore{}
	}

	var limiter *rate.Limiter
	if opts.RequestsPerMin > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMin)), opts.RequestsPerMin)
	}

	// Token bucket for concurrent upstream calls
	rateChan := make(chan struct{}, opts.ConcurrentReqs)
	for i := 0; i < opts.ConcurrentReqs; i++ {
		rateChan <- struct{}{}
	}

	meter := otel.Meter("github.com/hanna4328/chat-bot/services")
	requests, err := meter.Int64Counter("proxy.generate.requests",
		metric.WithDescription("Generate calls by outcome kind"))
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}
	latency, err := meter.Float64Histogram("proxy.generate.duration",
		metric.WithDescription("Generate call duration in milliseconds"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("failed to create latency histogram: %w", err)
	}

	return &GeminiService{
		httpClient: opts.HTTPClient,
		apiKey:     opts.APIKey,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiVersion: opts.APIVersion,
		model:      normalizeModelID(opts.Model),
		timeout:    opts.Timeout,
		limiter:    limiter,
		rateChan:   rateChan,
		recorder:   opts.Recorder,
		maxBody:    maxUpstreamBody,
		tracer:     otel.Tracer("github.com/hanna4328/chat-bot/services"),
		requests:   requests,
		latency:    latency,
	}, nil
}

// DefaultModel is the model used when a request names none.
func (s *GeminiService) DefaultModel() string {
	return s.model
}

// Generate sends one prompt upstream and returns the normalized answer.
// Every failure is one of the typed errors in errors.go.
func (s *GeminiService) Generate(ctx context.Context, req models.GenerateRequest) (*GenerateResult, error) {
	start := time.Now()
	model := s.model
	if req.ModelID != "" {
		model = normalizeModelID(req.ModelID)
	}

	ctx, span := s.tracer.Start(ctx, "gemini.generateContent",
		trace.WithAttributes(attribute.String("gemini.model", model)))
	defer span.End()

	result, err := s.generate(ctx, model, req)
	s.observe(ctx, span, model, req.Prompt, result, err, time.Since(start))
	return result, err
}

func (s *GeminiService) generate(ctx context.Context, model string, req models.GenerateRequest) (*GenerateResult, error) {
	if err := validateGenerateRequest(model, req); err != nil {
		return nil, err
	}

	if s.apiKey == "" {
		return nil, &MisconfiguredError{Message: "Server missing API key"}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.acquireRate(ctx); err != nil {
		return nil, err
	}
	defer s.releaseRate()

	temperature := models.DefaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := models.DefaultMaxOutputTokens
	if req.MaxOutputTokens != nil {
		maxTokens = *req.MaxOutputTokens
	}

	payload, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: req.Prompt}},
		}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     temperature,
			MaxOutputTokens: maxTokens,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/models/%s:generateContent", s.baseURL, s.apiVersion, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &UpstreamUnreachableError{Err: fmt.Errorf("failed to create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	// Header auth keeps the key out of URLs, and so out of transport errors.
	httpReq.Header.Set("x-goog-api-key", s.apiKey)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, &UpstreamUnreachableError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBody+1))
	if err != nil {
		return nil, &UpstreamUnreachableError{Err: fmt.Errorf("failed to read response: %w", err)}
	}
	// A truncated body can be neither forwarded nor parsed.
	if int64(len(body)) > s.maxBody {
		slog.WarnContext(ctx, "upstream response too large",
			"status", resp.StatusCode, "limit_bytes", s.maxBody)
		return nil, &UpstreamUnreachableError{Err: fmt.Errorf("upstream response exceeds %d bytes", s.maxBody)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamRejectedError{
			Status:      resp.StatusCode,
			Body:        body,
			ContentType: resp.Header.Get("Content-Type"),
			RetryAfter:  resp.Header.Get("Retry-After"),
		}
	}

	text, strategy, err := Normalize(body)
	if err != nil {
		return nil, err
	}

	return &GenerateResult{Text: text, Model: model, Strategy: strategy}, nil
}

// acquireRate applies per-minute pacing, then takes a concurrency slot.
// Waits that cannot finish inside the request timeout fail fast as RateLimitError.
func (s *GeminiService) acquireRate(ctx context.Context) error {
	if s.limiter != nil {
		r := s.limiter.Reserve()
		delay := r.Delay()
		if deadline, ok := ctx.Deadline(); ok && time.Now().Add(delay).After(deadline) {
			r.Cancel()
			return &RateLimitError{Message: "Too many requests. Please try again later.", RetryAfter: delay}
		}
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				r.Cancel()
				return &RateLimitError{Message: "Too many requests. Please try again later.", RetryAfter: delay}
			}
		}
	}

	select {
	case <-s.rateChan:
		return nil
	case <-ctx.Done():
		return &RateLimitError{Message: "Too many requests in flight. Please try again later.", RetryAfter: time.Second}
	}
}

func (s *GeminiService) releaseRate() {
	s.rateChan <- struct{}{}
}

// observe records the outcome on the span, metrics, log and audit trail.
// Only hashes of prompt and answer leave this function.
func (s *GeminiService) observe(ctx context.Context, span trace.Span, model, prompt string, result *GenerateResult, err error, elapsed time.Duration) {
	status := HTTPStatus(err)
	kind := string(KindOf(err))
	if err == nil {
		kind = "OK"
	}

	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Int("status", status),
		attribute.String("model", model),
	)
	s.requests.Add(ctx, 1, attrs)
	s.latency.Record(ctx, float64(elapsed.Milliseconds()), attrs)

	span.SetAttributes(attribute.Int("http.response.status_code", status), attribute.String("proxy.kind", kind))

	entry := audit.Entry{
		RequestID:    logging.RequestIDFromContext(ctx),
		Model:        model,
		Status:       status,
		Kind:         kind,
		DurationMS:   elapsed.Milliseconds(),
		PromptSHA256: hashText(prompt),
	}

	if err != nil {
		span.SetStatus(codes.Error, kind)
		slog.WarnContext(ctx, "gemini generate failed",
			"model", model, "kind", kind, "status", status,
			"duration_ms", elapsed.Milliseconds(), logging.Err(err))
	} else {
		entry.Strategy = result.Strategy
		entry.OutputSHA256 = hashText(result.Text)
		slog.InfoContext(ctx, "gemini generate",
			"model", model, "strategy", result.Strategy,
			"duration_ms", elapsed.Milliseconds())
	}

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.recorder.Record(recordCtx, entry); err != nil {
		slog.ErrorContext(ctx, "failed to record audit entry", logging.Err(err))
	}
}

func validateGenerateRequest(model string, req models.GenerateRequest) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return &ValidationError{Message: "Missing prompt", Status: http.StatusBadRequest}
	}
	if len(req.Prompt) > maxPromptBytes {
		return &ValidationError{Message: "Prompt too large", Status: http.StatusRequestEntityTooLarge}
	}
	if !modelIDPattern.MatchString(model) {
		return &ValidationError{Message: "Invalid modelId", Status: http.StatusBadRequest}
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		return &ValidationError{Message: "temperature must be between 0 and 2", Status: http.StatusBadRequest}
	}
	if req.MaxOutputTokens != nil && *req.MaxOutputTokens < 1 {
		return &ValidationError{Message: "maxOutputTokens must be positive", Status: http.StatusBadRequest}
	}
	return nil
}

// normalizeModelID accepts both "gemini-1.5-flash" and "models/gemini-1.5-flash".
func normalizeModelID(id string) string {
	return strings.TrimPrefix(strings.TrimSpace(id), "models/")
}

func hashText(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}
