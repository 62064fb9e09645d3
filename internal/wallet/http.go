package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/wolfman30/consult-escrow/internal/apperr"
	"github.com/wolfman30/consult-escrow/pkg/logging"
)

// HTTPService talks to the wallet ledger's REST API.
type HTTPService struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewHTTPService creates a ledger client. Per-call deadlines come from the
// caller's context; the client timeout is only a backstop.
func NewHTTPService(baseURL, apiKey string, logger *logging.Logger) *HTTPService {
	if logger == nil {
		logger = logging.Default()
	}
	return &HTTPService{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

type mutationBody struct {
	Amount           int64  `json:"amount"`
	Reason           Reason `json:"reason"`
	RelatedBookingID string `json:"related_booking_id,omitempty"`
}

func (s *HTTPService) Balance(ctx context.Context, userID string) (int64, error) {
	const op = "wallet.balance"
	var parsed struct {
		Balance int64 `json:"balance"`
	}
	path := fmt.Sprintf("/v1/accounts/%s/balance", url.PathEscape(userID))
	if _, err := s.do(ctx, op, http.MethodGet, path, "", nil, &parsed); err != nil {
		return 0, err
	}
	return parsed.Balance, nil
}

func (s *HTTPService) Debit(ctx context.Context, m Mutation) error {
	return s.mutate(ctx, "wallet.debit", "debits", m)
}

func (s *HTTPService) Credit(ctx context.Context, m Mutation) error {
	return s.mutate(ctx, "wallet.credit", "credits", m)
}

func (s *HTTPService) mutate(ctx context.Context, op, resource string, m Mutation) error {
	body := mutationBody{Amount: m.Amount, Reason: m.Reason, RelatedBookingID: m.RelatedBookingID}
	path := fmt.Sprintf("/v1/accounts/%s/%s", url.PathEscape(m.UserID), resource)
	status, err := s.do(ctx, op, http.MethodPost, path, m.IdempotencyKey, body, nil)
	if err != nil {
		return err
	}
	if status == http.StatusOK {
		s.logger.Debug("wallet replayed idempotent request", "op", op, "idempotency_key", m.IdempotencyKey)
	}
	return nil
}

func (s *HTTPService) Entry(ctx context.Context, key string) (*Entry, bool, error) {
	const op = "wallet.entry"
	var entry Entry
	path := "/v1/entries/" + url.PathEscape(key)
	if _, err := s.do(ctx, op, http.MethodGet, path, "", nil, &entry); err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &entry, true, nil
}

func (s *HTTPService) do(ctx context.Context, op, method, path, idempotencyKey string, in, out any) (int, error) {
	var reader io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("wallet: marshal: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("wallet: build request: %w", err)
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return 0, apperr.FromCall(op, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= http.StatusMultipleChoices {
		return resp.StatusCode, s.statusError(op, resp.StatusCode, body)
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return resp.StatusCode, fmt.Errorf("wallet: decode %s: %w", op, err)
		}
	}
	return resp.StatusCode, nil
}

func (s *HTTPService) statusError(op string, status int, body []byte) error {
	switch {
	case status == http.StatusPaymentRequired:
		return apperr.New(apperr.KindInsufficientFunds, op, "ledger rejected: %s", string(body))
	case status == http.StatusNotFound:
		return apperr.New(apperr.KindNotFound, op, "ledger status %d", status)
	case status == http.StatusConflict:
		// Same key replayed with a different amount.
		return apperr.New(apperr.KindConflict, op, "idempotency key reused: %s", string(body))
	case status == http.StatusGatewayTimeout:
		return apperr.New(apperr.KindTimeout, op, "ledger status %d", status)
	case status >= http.StatusInternalServerError:
		s.logger.Warn("wallet ledger error", "op", op, "status", status, "body", string(body))
		return apperr.New(apperr.KindUnavailable, op, "ledger status %d", status)
	default:
		return apperr.New(apperr.KindValidation, op, "ledger status %d: %s", status, string(body))
	}
}

var _ Service = (*HTTPService)(nil)
