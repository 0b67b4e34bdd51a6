package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alexlim7/madate-vault-sub000/security"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 256
	userAgent      = "mandate-vault-webhooks/1.0"
)

// StatusError is returned for a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

type Delivery struct {
	URL     string
	Secret  string
	EventID string
	Payload []byte
	Timeout time.Duration
}

type Result struct {
	StatusCode int
	Duration   time.Duration
}

// Sender POSTs signed payloads. It makes exactly one HTTP call per Send;
// retry policy belongs to the caller.
type Sender struct {
	client *http.Client
	now    func() time.Time
}

func CreateSender(client *http.Client) *Sender {
	if client == nil {
		client = &http.Client{}
	}
	return &Sender{client: client, now: time.Now}
}

// Canonicalize re-encodes a JSON document with sorted object keys and no
// insignificant whitespace, so a payload read back from a jsonb column signs
// to the same digest on every attempt.
func Canonicalize(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Send signs d.Payload byte for byte and POSTs it. A transport error or
// timeout returns a zero StatusCode; a non-2xx answer returns *StatusError.
func (s *Sender) Send(ctx context.Context, d Delivery) (Result, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := s.createRequest(ctx, d)
	if err != nil {
		return Result{}, err
	}

	start := s.now()
	resp, err := s.client.Do(req)
	duration := s.now().Sub(start)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{Duration: duration}, fmt.Errorf("timeout after %s", timeout)
		}
		return Result{Duration: duration}, err
	}
	defer resp.Body.Close()

	result := Result{StatusCode: resp.StatusCode, Duration: duration}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return result, nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return result, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
}

func (s *Sender) createRequest(ctx context.Context, d Delivery) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(d.Payload))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(security.HeaderSignature, security.Sign(d.Secret, d.Payload))
	req.Header.Set(security.HeaderWebhookID, d.EventID)
	req.Header.Set(security.HeaderTimestamp, strconv.FormatInt(s.now().Unix(), 10))

	return req, nil
}
