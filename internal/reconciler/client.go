package reconciler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"payvault/internal/config"
	"payvault/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// TokenSource supplies the bearer credential for outgoing calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Outcome carries the server's authoritative view after a successful replay,
// for reconciling the local cache. Only the fields matching the operation
// kind are populated.
type Outcome struct {
	Employee *models.Employee
	Payment  *models.SalaryPayment
	Payments []models.SalaryPayment
	Deleted  bool
}

// envelope is the API's {success, message, data} response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

// Client maps one queued operation to one HTTP call against the payroll API
// and classifies the result.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	limiter *rate.Limiter
	logger  *zerolog.Logger
}

func NewClient(cfg config.APIConfig, tokens TokenSource, logger *zerolog.Logger) *Client {
	burst := cfg.RateLimit.Burst
	if burst <= 0 {
		burst = 5
	}
	rps := cfg.RateLimit.RPS
	if rps <= 0 {
		rps = 10
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.RequestTimeout()},
		tokens:  tokens,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger,
	}
}

// Dispatch replays one operation. The payload's typed variant picks the call;
// an unrecognized entity_type/action pair surfaces models.ErrUnknownOperation
// without touching the network.
func (c *Client) Dispatch(ctx context.Context, op *models.SyncOperation) (*Outcome, error) {
	payload, err := models.DecodePayload(op.EntityType, op.Action, op.Payload)
	if err != nil {
		return nil, err
	}

	switch p := payload.(type) {
	case models.EmployeeCreate:
		// The server assigns the id; never send the local placeholder.
		emp := p.Employee
		emp.ID = 0
		data, err := c.do(ctx, http.MethodPost, "/employees", emp, op.DedupKey)
		if err != nil {
			return nil, err
		}
		return decodeEmployee(data)

	case models.EmployeeUpdate:
		path := fmt.Sprintf("/employees/%d", p.Employee.ID)
		data, err := c.do(ctx, http.MethodPut, path, p.Employee, op.DedupKey)
		if err != nil {
			return nil, err
		}
		return decodeEmployee(data)

	case models.EmployeeDelete:
		path := fmt.Sprintf("/employees/%d", p.EmployeeID)
		if _, err := c.do(ctx, http.MethodDelete, path, nil, op.DedupKey); err != nil {
			return nil, err
		}
		return &Outcome{Deleted: true}, nil

	case models.SalaryGenerate:
		body := map[string]string{"payment_month": p.PaymentMonth}
		data, err := c.do(ctx, http.MethodPost, "/salary/generate", body, op.DedupKey)
		if err != nil {
			return nil, err
		}
		return decodePayments(data)

	case models.SalaryUpdateStatus:
		path := fmt.Sprintf("/salary/payment/%d/status", p.PaymentID)
		body := map[string]string{"status": p.Status}
		data, err := c.do(ctx, http.MethodPut, path, body, op.DedupKey)
		if err != nil {
			return nil, err
		}
		return decodePayment(data)

	case models.SalaryBulkUpdate:
		body := map[string]interface{}{"payment_ids": p.PaymentIDs, "status": p.Status}
		data, err := c.do(ctx, http.MethodPost, "/salary/bulk-update", body, op.DedupKey)
		if err != nil {
			return nil, err
		}
		return decodePayments(data)

	default:
		return nil, fmt.Errorf("%w: %s/%s", models.ErrUnknownOperation, op.EntityType, op.Action)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, dedupKey string) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &TransientError{Err: err}
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Idempotency-Key", dedupKey)

	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("load token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Timeouts and transport failures look the same to the queue.
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &TransientError{Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrAuthRequired
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout:
		return nil, &TransientError{Err: fmt.Errorf("server error %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return nil, &RejectedError{Status: resp.StatusCode, Body: rejectionReason(raw)}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		// Some endpoints answer with a bare document.
		return raw, nil
	}
	if len(env.Data) > 0 {
		return env.Data, nil
	}
	return raw, nil
}

func rejectionReason(raw []byte) string {
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Error != "" {
		return env.Error
	}
	reason := string(raw)
	if len(reason) > 256 {
		reason = reason[:256]
	}
	return reason
}

func decodeEmployee(data json.RawMessage) (*Outcome, error) {
	var emp models.Employee
	if err := json.Unmarshal(data, &emp); err != nil {
		return nil, fmt.Errorf("decode employee response: %w", err)
	}
	return &Outcome{Employee: &emp}, nil
}

func decodePayment(data json.RawMessage) (*Outcome, error) {
	var p models.SalaryPayment
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode payment response: %w", err)
	}
	return &Outcome{Payment: &p}, nil
}

func decodePayments(data json.RawMessage) (*Outcome, error) {
	var payments []models.SalaryPayment
	if err := json.Unmarshal(data, &payments); err != nil {
		return nil, fmt.Errorf("decode payments response: %w", err)
	}
	return &Outcome{Payments: payments}, nil
}
