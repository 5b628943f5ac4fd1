package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
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
	defaultBaseURL = "https://api.mercadopago.com"
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

// Adapter integrates Mercado Pago twice over: Checkout Pro preferences for
// one-shot payments and PreApproval for recurring subscriptions. The two
// remote APIs have different lifecycles, so both surfaces are exposed.
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

func (a *Adapter) Provider() string { return paymentdomain.ProviderMercadoPago }

type preferenceItem struct {
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id"`
}

type preferenceRequest struct {
	Items             []preferenceItem `json:"items"`
	ExternalReference string           `json:"external_reference"`
	BackURLs          struct {
		Success string `json:"success"`
		Failure string `json:"failure"`
	} `json:"back_urls"`
	AutoReturn string `json:"auto_return"`
	Payer      struct {
		Email string `json:"email,omitempty"`
	} `json:"payer"`
}

type preferenceResponse struct {
	ID        string `json:"id"`
	InitPoint string `json:"init_point"`
}

func (a *Adapter) CreateIntent(ctx context.Context, input paymentdomain.CreateIntentInput) (*paymentdomain.PaymentIntent, error) {
	req := preferenceRequest{
		Items: []preferenceItem{{
			Title:      input.Description,
			Quantity:   1,
			UnitPrice:  amountUnits(input.AmountCents, input.Currency),
			CurrencyID: input.Currency,
		}},
		ExternalReference: input.ExternalReference,
		AutoReturn:        "approved",
	}
	req.BackURLs.Success = input.ReturnURL
	req.BackURLs.Failure = input.CancelURL
	req.Payer.Email = input.PayerEmail

	var out preferenceResponse
	if _, err := a.do(ctx, http.MethodPost, "/checkout/preferences", req, &out); err != nil {
		return nil, err
	}

	return &paymentdomain.PaymentIntent{
		IntentID:    out.ID,
		RedirectURL: out.InitPoint,
	}, nil
}

type preapprovalRequest struct {
	Reason            string `json:"reason"`
	ExternalReference string `json:"external_reference"`
	PayerEmail        string `json:"payer_email"`
	BackURL           string `json:"back_url"`
	AutoRecurring     struct {
		Frequency         int     `json:"frequency"`
		FrequencyType     string  `json:"frequency_type"`
		TransactionAmount float64 `json:"transaction_amount"`
		CurrencyID        string  `json:"currency_id"`
	} `json:"auto_recurring"`
	Status string `json:"status"`
}

type preapprovalResponse struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	ExternalReference string `json:"external_reference"`
	InitPoint         string `json:"init_point"`
}

func (a *Adapter) CreateSubscriptionIntent(ctx context.Context, input paymentdomain.RecurringIntentInput) (*paymentdomain.PaymentIntent, error) {
	frequency, frequencyType := recurringFrequency(input.IntervalType, input.IntervalCount)

	req := preapprovalRequest{
		Reason:            input.Description,
		ExternalReference: input.ExternalReference,
		PayerEmail:        input.PayerEmail,
		BackURL:           input.ReturnURL,
		Status:            "pending",
	}
	req.AutoRecurring.Frequency = frequency
	req.AutoRecurring.FrequencyType = frequencyType
	req.AutoRecurring.TransactionAmount = amountUnits(input.AmountCents, input.Currency)
	req.AutoRecurring.CurrencyID = input.Currency

	var out preapprovalResponse
	if _, err := a.do(ctx, http.MethodPost, "/preapproval", req, &out); err != nil {
		return nil, err
	}

	return &paymentdomain.PaymentIntent{
		IntentID:    out.ID,
		RedirectURL: out.InitPoint,
	}, nil
}

func (a *Adapter) GetPreapproval(ctx context.Context, preapprovalID string) (*paymentdomain.Preapproval, error) {
	var out preapprovalResponse
	raw, err := a.do(ctx, http.MethodGet, "/preapproval/"+url.PathEscape(preapprovalID), nil, &out)
	if err != nil {
		return nil, err
	}
	return &paymentdomain.Preapproval{
		ID:                out.ID,
		Status:            out.Status,
		ExternalReference: out.ExternalReference,
		RawPayload:        raw,
	}, nil
}

type paymentResponse struct {
	ID                int64   `json:"id"`
	Status            string  `json:"status"`
	TransactionAmount float64 `json:"transaction_amount"`
	CurrencyID        string  `json:"currency_id"`
	ExternalReference string  `json:"external_reference"`
	PaymentMethodID   string  `json:"payment_method_id"`
	DateApproved      string  `json:"date_approved"`
	// Recurring charges carry the preapproval either at the top level or
	// inside metadata, depending on the API that created them.
	PreapprovalID string `json:"preapproval_id"`
	Metadata      struct {
		PreapprovalID string `json:"preapproval_id"`
	} `json:"metadata"`
}

// Confirm fetches the payment by id. Mercado Pago has no commit step; the
// charge is already settled or not by the time the payer returns, so
// confirmation is a plain read and trivially repeatable.
func (a *Adapter) Confirm(ctx context.Context, paymentID string) (*paymentdomain.Confirmation, error) {
	payment, err := a.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return &payment.Confirmation, nil
}

func (a *Adapter) GetPayment(ctx context.Context, paymentID string) (*paymentdomain.RecurringPayment, error) {
	var out paymentResponse
	raw, err := a.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil, &out)
	if err != nil {
		return nil, err
	}

	status := paymentdomain.ConfirmationRejected
	switch out.Status {
	case "approved":
		status = paymentdomain.ConfirmationApproved
	case "pending", "in_process", "authorized":
		status = paymentdomain.ConfirmationPending
	}

	paidAt, _ := time.Parse(time.RFC3339, out.DateApproved)

	preapprovalID := out.PreapprovalID
	if preapprovalID == "" {
		preapprovalID = out.Metadata.PreapprovalID
	}

	return &paymentdomain.RecurringPayment{
		Confirmation: paymentdomain.Confirmation{
			TransactionID:     strconv.FormatInt(out.ID, 10),
			Status:            status,
			AmountCents:       unitsToCents(out.TransactionAmount, out.CurrencyID),
			Currency:          out.CurrencyID,
			PaymentMethod:     out.PaymentMethodID,
			ExternalReference: out.ExternalReference,
			PaidAt:            paidAt,
			RawPayload:        raw,
		},
		PreapprovalID: preapprovalID,
	}, nil
}

// recurringFrequency maps our billing interval onto PreApproval's
// days/months vocabulary. Weeks become days, years become months.
func recurringFrequency(intervalType string, count int) (int, string) {
	if count <= 0 {
		count = 1
	}
	switch intervalType {
	case "day":
		return count, "days"
	case "week":
		return 7 * count, "days"
	case "year":
		return 12 * count, "months"
	default:
		return count, "months"
	}
}

func (a *Adapter) accessToken(ctx context.Context) (string, error) {
	return a.tokens.Token(ctx, a.creds.ID, func(ctx context.Context) (oauth.Token, error) {
		form := url.Values{}
		form.Set("grant_type", "client_credentials")
		form.Set("client_id", a.creds.ID)
		form.Set("client_secret", a.creds.Secret)

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/oauth/token",
			strings.NewReader(form.Encode()))
		if err != nil {
			return oauth.Token{}, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := a.client.Do(req)
		if err != nil {
			return oauth.Token{}, fmt.Errorf("mercadopago token request: %w", err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return oauth.Token{}, err
		}
		if resp.StatusCode != http.StatusOK {
			return oauth.Token{}, &paymentdomain.ProviderRequestError{
				Provider:   paymentdomain.ProviderMercadoPago,
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

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mercadopago %s %s: %w", method, path, err)
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
			Provider:   paymentdomain.ProviderMercadoPago,
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

// amountUnits converts minor units to the provider's decimal amount. CLP is
// zero-decimal: 19990 cents is 19990 pesos.
func amountUnits(cents int64, currency string) float64 {
	if zeroDecimal(currency) {
		return float64(cents)
	}
	return float64(cents) / 100
}

func unitsToCents(units float64, currency string) int64 {
	if zeroDecimal(currency) {
		return int64(math.Round(units))
	}
	return int64(math.Round(units * 100))
}

func zeroDecimal(currency string) bool {
	switch strings.ToUpper(currency) {
	case "CLP", "PYG", "JPY", "KRW", "VND":
		return true
	default:
		return false
	}
}
