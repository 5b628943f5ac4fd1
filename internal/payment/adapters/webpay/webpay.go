package webpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	paymentdomain "github.com/cursolabs/cursopay/internal/payment/domain"
)

const (
	defaultBaseURL = "https://webpay3g.transbank.cl"
	apiPrefix      = "/rswebpaytransaction/api/webpay/v1.2"
	defaultTimeout = 30 * time.Second
)

type Config struct {
	// CommerceCode/APIKey form an explicit per-account pair; when absent
	// the adapter falls back to the default pair.
	CommerceCode        string
	APIKey              string
	DefaultCommerceCode string
	DefaultAPIKey       string
	BaseURL             string
	Timeout             time.Duration
}

// Adapter integrates Transbank Webpay Plus. Amounts are whole CLP: the API
// takes and returns integer pesos, which map 1:1 onto our minor units for a
// zero-decimal currency.
type Adapter struct {
	commerceCode string
	apiKey       string
	baseURL      string
	client       *http.Client
}

func New(cfg Config) (*Adapter, error) {
	creds, err := paymentdomain.ResolveCredentials(
		paymentdomain.Credentials{ID: cfg.CommerceCode, Secret: cfg.APIKey},
		paymentdomain.Credentials{ID: cfg.DefaultCommerceCode, Secret: cfg.DefaultAPIKey},
	)
	if err != nil {
		return nil, err
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Adapter{
		commerceCode: creds.ID,
		apiKey:       creds.Secret,
		baseURL:      baseURL,
		client:       &http.Client{Timeout: timeout},
	}, nil
}

func (a *Adapter) Provider() string { return paymentdomain.ProviderWebpay }

type createRequest struct {
	BuyOrder  string `json:"buy_order"`
	SessionID string `json:"session_id"`
	Amount    int64  `json:"amount"`
	ReturnURL string `json:"return_url"`
}

type createResponse struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

func (a *Adapter) CreateIntent(ctx context.Context, input paymentdomain.CreateIntentInput) (*paymentdomain.PaymentIntent, error) {
	var out createResponse
	err := a.do(ctx, http.MethodPost, apiPrefix+"/transactions", createRequest{
		BuyOrder:  input.ExternalReference,
		SessionID: input.ExternalReference,
		Amount:    input.AmountCents,
		ReturnURL: input.ReturnURL,
	}, &out)
	if err != nil {
		return nil, err
	}

	return &paymentdomain.PaymentIntent{
		IntentID:    out.Token,
		RedirectURL: out.URL + "?token_ws=" + out.Token,
	}, nil
}

type transactionResponse struct {
	BuyOrder          string  `json:"buy_order"`
	SessionID         string  `json:"session_id"`
	Amount            float64 `json:"amount"`
	Status            string  `json:"status"`
	ResponseCode      int     `json:"response_code"`
	AuthorizationCode string  `json:"authorization_code"`
	PaymentTypeCode   string  `json:"payment_type_code"`
	TransactionDate   string  `json:"transaction_date"`
	CardDetail        struct {
		CardNumber string `json:"card_number"`
	} `json:"card_detail"`
}

// Confirm commits the transaction, capturing funds. Transbank's commit is
// idempotent per token, so repeating after a lost response is safe. When the
// commit call times out locally the transaction may still have committed
// remotely, so the adapter re-queries status instead of retrying the commit.
func (a *Adapter) Confirm(ctx context.Context, token string) (*paymentdomain.Confirmation, error) {
	var out transactionResponse
	raw, err := a.doRaw(ctx, http.MethodPut, apiPrefix+"/transactions/"+token, nil, &out)
	if err != nil {
		if isTimeout(err) {
			return a.Status(ctx, token)
		}
		return nil, err
	}
	return a.toConfirmation(token, out, raw), nil
}

// Status re-queries the transaction without committing it.
func (a *Adapter) Status(ctx context.Context, token string) (*paymentdomain.Confirmation, error) {
	var out transactionResponse
	raw, err := a.doRaw(ctx, http.MethodGet, apiPrefix+"/transactions/"+token, nil, &out)
	if err != nil {
		return nil, err
	}
	return a.toConfirmation(token, out, raw), nil
}

func (a *Adapter) toConfirmation(token string, tx transactionResponse, raw []byte) *paymentdomain.Confirmation {
	status := paymentdomain.ConfirmationRejected
	switch {
	case tx.Status == "AUTHORIZED" && tx.ResponseCode == 0:
		status = paymentdomain.ConfirmationApproved
	case tx.Status == "INITIALIZED":
		status = paymentdomain.ConfirmationPending
	}

	paidAt, _ := time.Parse(time.RFC3339, tx.TransactionDate)

	return &paymentdomain.Confirmation{
		TransactionID:     token,
		Status:            status,
		AmountCents:       int64(tx.Amount),
		Currency:          "CLP",
		PaymentMethod:     paymentType(tx.PaymentTypeCode),
		ExternalReference: tx.BuyOrder,
		PaidAt:            paidAt,
		RawPayload:        raw,
	}
}

func paymentType(code string) string {
	switch code {
	case "VD":
		return "debit"
	case "VP":
		return "prepaid"
	case "":
		return ""
	default:
		return "credit"
	}
}

func (a *Adapter) do(ctx context.Context, method, path string, body, out any) error {
	_, err := a.doRaw(ctx, method, path, body, out)
	return err
}

func (a *Adapter) doRaw(ctx context.Context, method, path string, body, out any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Tbk-Api-Key-Id", a.commerceCode)
	req.Header.Set("Tbk-Api-Key-Secret", a.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webpay %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &paymentdomain.ProviderRequestError{
			Provider:   paymentdomain.ProviderWebpay,
			StatusCode: resp.StatusCode,
			Body:       string(raw),
		}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

func isTimeout(err error) bool {
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) {
		return timeout.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}
