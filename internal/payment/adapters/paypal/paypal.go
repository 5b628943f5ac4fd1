package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	paymentdomain "github.com/cursolabs/cursopay/internal/payment/domain"
	"github.com/cursolabs/cursopay/internal/payment/oauth"
)

const (
	defaultBaseURL = "https://api-m.paypal.com"
	defaultTimeout = 30 * time.Second
)

type Config struct {
	// Credentials is an explicit per-account pair; when absent the adapter
	// falls back to DefaultCredentials.
	Credentials        paymentdomain.Credentials
	DefaultCredentials paymentdomain.Credentials
	BaseURL            string
	Timeout            time.Duration
}

// Adapter integrates PayPal Orders v2. Create makes an order, the payer
// approves it on PayPal, Confirm captures it.
type Adapter struct {
	creds   paymentdomain.Credentials
	baseURL string
	client  *http.Client
	tokens  *oauth.Cache
}

func New(cfg Config, tokens *oauth.Cache) (*Adapter, error) {
	creds, err := paymentdomain.ResolveCredentials(cfg.Credentials, cfg.DefaultCredentials)
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
		creds:   creds,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		tokens:  tokens,
	}, nil
}

func (a *Adapter) Provider() string { return paymentdomain.ProviderPayPal }

type orderAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type orderRequest struct {
	Intent        string `json:"intent"`
	PurchaseUnits []struct {
		CustomID string      `json:"custom_id"`
		Amount   orderAmount `json:"amount"`
	} `json:"purchase_units"`
	ApplicationContext struct {
		ReturnURL string `json:"return_url"`
		CancelURL string `json:"cancel_url"`
	} `json:"application_context"`
}

type orderResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		CustomID string `json:"custom_id"`
		Payments struct {
			Captures []capture `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
	Links []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
}

type capture struct {
	ID            string      `json:"id"`
	Status        string      `json:"status"`
	StatusDetails struct {
		Reason string `json:"reason"`
	} `json:"status_details"`
	Amount     orderAmount `json:"amount"`
	CreateTime string      `json:"create_time"`
}

func (a *Adapter) CreateIntent(ctx context.Context, input paymentdomain.CreateIntentInput) (*paymentdomain.PaymentIntent, error) {
	var req orderRequest
	req.Intent = "CAPTURE"
	req.PurchaseUnits = make([]struct {
		CustomID string      `json:"custom_id"`
		Amount   orderAmount `json:"amount"`
	}, 1)
	req.PurchaseUnits[0].CustomID = input.ExternalReference
	req.PurchaseUnits[0].Amount = orderAmount{
		CurrencyCode: input.Currency,
		Value:        formatValue(input.AmountCents, input.Currency),
	}
	req.ApplicationContext.ReturnURL = input.ReturnURL
	req.ApplicationContext.CancelURL = input.CancelURL

	var out orderResponse
	if _, err := a.do(ctx, http.MethodPost, "/v2/checkout/orders", req, &out); err != nil {
		return nil, err
	}

	approveURL := ""
	for _, link := range out.Links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			approveURL = link.Href
			break
		}
	}

	return &paymentdomain.PaymentIntent{
		IntentID:    out.ID,
		RedirectURL: approveURL,
	}, nil
}

// Confirm captures the approved order. A repeat call after a lost response
// gets ORDER_ALREADY_CAPTURED from PayPal, which is resolved by reading the
// order instead, so the result always reflects the remote state.
func (a *Adapter) Confirm(ctx context.Context, orderID string) (*paymentdomain.Confirmation, error) {
	var out orderResponse
	raw, err := a.do(ctx, http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(orderID)+"/capture", struct{}{}, &out)
	if err != nil {
		if isAlreadyCaptured(err) {
			return a.GetOrder(ctx, orderID)
		}
		return nil, err
	}
	return a.toConfirmation(orderID, out, raw), nil
}

// GetOrder reads the order without capturing.
func (a *Adapter) GetOrder(ctx context.Context, orderID string) (*paymentdomain.Confirmation, error) {
	var out orderResponse
	raw, err := a.do(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(orderID), nil, &out)
	if err != nil {
		return nil, err
	}
	return a.toConfirmation(orderID, out, raw), nil
}

// VerifyCapture re-reads a capture that was flagged for verification and
// reports whether it has settled.
func (a *Adapter) VerifyCapture(ctx context.Context, captureID string) (bool, error) {
	var out capture
	if _, err := a.do(ctx, http.MethodGet, "/v2/payments/captures/"+url.PathEscape(captureID), nil, &out); err != nil {
		return false, err
	}
	return out.Status == "COMPLETED", nil
}

func (a *Adapter) toConfirmation(orderID string, out orderResponse, raw []byte) *paymentdomain.Confirmation {
	conf := &paymentdomain.Confirmation{
		TransactionID: orderID,
		Status:        paymentdomain.ConfirmationRejected,
		RawPayload:    raw,
	}

	if len(out.PurchaseUnits) > 0 {
		unit := out.PurchaseUnits[0]
		conf.ExternalReference = unit.CustomID
		if len(unit.Payments.Captures) > 0 {
			cpt := unit.Payments.Captures[0]
			conf.TransactionID = cpt.ID
			conf.AmountCents = parseValue(cpt.Amount.Value, cpt.Amount.CurrencyCode)
			conf.Currency = cpt.Amount.CurrencyCode
			conf.PaidAt, _ = time.Parse(time.RFC3339, cpt.CreateTime)

			switch {
			case cpt.Status == "COMPLETED" && out.Status == "COMPLETED":
				conf.Status = paymentdomain.ConfirmationApproved
			case cpt.Status == "PENDING" && out.Status == "COMPLETED":
				// Held for review but the order itself completed: treat the
				// payment as successful and flag it for a later recheck.
				conf.Status = paymentdomain.ConfirmationApproved
				conf.NeedsCaptureVerification = true
			case cpt.Status == "PENDING":
				conf.Status = paymentdomain.ConfirmationPending
			}
			conf.PaymentMethod = "paypal"
			return conf
		}
	}

	switch out.Status {
	case "CREATED", "APPROVED", "PAYER_ACTION_REQUIRED":
		conf.Status = paymentdomain.ConfirmationPending
	}
	return conf
}

func (a *Adapter) accessToken(ctx context.Context) (string, error) {
	return a.tokens.Token(ctx, a.creds.ID, func(ctx context.Context) (oauth.Token, error) {
		form := url.Values{}
		form.Set("grant_type", "client_credentials")

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/oauth2/token",
			strings.NewReader(form.Encode()))
		if err != nil {
			return oauth.Token{}, err
		}
		req.SetBasicAuth(a.creds.ID, a.creds.Secret)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := a.client.Do(req)
		if err != nil {
			return oauth.Token{}, fmt.Errorf("paypal token request: %w", err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return oauth.Token{}, err
		}
		if resp.StatusCode != http.StatusOK {
			return oauth.Token{}, &paymentdomain.ProviderRequestError{
				Provider:   paymentdomain.ProviderPayPal,
				StatusCode: resp.StatusCode,
				Body:       string(raw),
			}
		}

		var body struct {
			AccessToken string `json:"access_token"`
			ExpiresIn   int64  `json:"expires_in"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return oauth.Token{}, err
		}
		return oauth.Token{
			AccessToken: body.AccessToken,
			ExpiresIn:   time.Duration(body.ExpiresIn) * time.Second,
		}, nil
	})
}

func (a *Adapter) do(ctx context.Context, method, path string, body, out any) ([]byte, error) {
	token, err := a.accessToken(ctx)
	if err != nil {
		return nil, err
	}

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
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("paypal %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		a.tokens.Invalidate(a.creds.ID)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &paymentdomain.ProviderRequestError{
			Provider:   paymentdomain.ProviderPayPal,
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

func isAlreadyCaptured(err error) bool {
	var pre *paymentdomain.ProviderRequestError
	if !errors.As(err, &pre) {
		return false
	}
	return pre.StatusCode == http.StatusUnprocessableEntity &&
		strings.Contains(pre.Body, "ORDER_ALREADY_CAPTURED")
}

// formatValue renders minor units the way Orders v2 expects: whole units for
// zero-decimal currencies, two decimals otherwise.
func formatValue(cents int64, currency string) string {
	if zeroDecimal(currency) {
		return strconv.FormatInt(cents, 10)
	}
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

func parseValue(value, currency string) int64 {
	amount, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	if zeroDecimal(currency) {
		return int64(math.Round(amount))
	}
	return int64(math.Round(amount * 100))
}

func zeroDecimal(currency string) bool {
	switch strings.ToUpper(currency) {
	case "CLP", "JPY", "KRW", "TWD", "HUF":
		return true
	default:
		return false
	}
}
