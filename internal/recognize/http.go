package recognize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/petems/voicewatch/internal/audio"
)

// HTTPConfig configures an HTTP recognition backend.
type HTTPConfig struct {
	Endpoint      string
	APIKey        string
	Timeout       time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
	MinConfidence float64
	Logger        zerolog.Logger
}

// HTTPRecognizer posts each utterance as a WAV file in a multipart form and
// reads back a JSON transcript.
type HTTPRecognizer struct {
	cfg    HTTPConfig
	client *http.Client
	log    zerolog.Logger
}

type httpResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.code, e.body)
}

// NewHTTPRecognizer validates cfg and builds the client.
func NewHTTPRecognizer(cfg HTTPConfig) (*HTTPRecognizer, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("recognizer endpoint cannot be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}

	return &HTTPRecognizer{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		log: cfg.Logger.With().Str("component", "recognizer").Logger(),
	}, nil
}

// Recognize implements Recognizer.
func (r *HTTPRecognizer) Recognize(ctx context.Context, req Request) (Result, error) {
	wavData, err := audio.EncodeWAV(req.Audio)
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode utterance: %w", err)
	}
	if req.UtteranceID == "" {
		req.UtteranceID = uuid.NewString()
	}

	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.cfg.RetryDelay * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return Result{}, fmt.Errorf("%w: %w", ErrBackendUnavailable, ctx.Err())
			}
			r.log.Debug().Int("attempt", attempt).Str("utterance", req.UtteranceID).Msg("Retrying recognition")
		}

		resp, err := r.doRequest(ctx, req, wavData)
		if err == nil {
			return r.interpret(resp)
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}

	return Result{}, fmt.Errorf("%w: %w", ErrBackendUnavailable, lastErr)
}

func (r *HTTPRecognizer) interpret(resp httpResponse) (Result, error) {
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return Result{}, ErrNoSpeech
	}
	if r.cfg.MinConfidence > 0 && resp.Confidence > 0 && resp.Confidence < r.cfg.MinConfidence {
		return Result{}, fmt.Errorf("%w: confidence %.2f below %.2f", ErrUnrecognized, resp.Confidence, r.cfg.MinConfidence)
	}
	return Result{Text: text, Confidence: resp.Confidence}, nil
}

func (r *HTTPRecognizer) doRequest(ctx context.Context, req Request, wavData []byte) (httpResponse, error) {
	body, contentType, err := multipartBody(req, wavData)
	if err != nil {
		return httpResponse{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.Endpoint, body)
	if err != nil {
		return httpResponse{}, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", req.UtteranceID)
	if r.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return httpResponse{}, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return httpResponse{}, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return httpResponse{}, &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(respBody))}
	}

	var parsed httpResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return httpResponse{}, fmt.Errorf("failed to parse response JSON: %w", err)
	}
	return parsed, nil
}

func multipartBody(req Request, wavData []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", req.UtteranceID+".wav")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(wavData); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := map[string]string{
		"utterance_id": req.UtteranceID,
		"sample_rate":  strconv.Itoa(req.Audio.SampleRate()),
		"duration":     fmt.Sprintf("%.3f", req.Audio.Duration().Seconds()),
	}
	if req.Language != "" {
		fields["language"] = req.Language
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}

// retryable reports whether another attempt could succeed: network errors,
// rate limiting and server errors.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	return !errors.Is(err, context.Canceled)
}
