package domain

// ProviderLink is the typed correlation between a subscription and its
// provider-side identifiers. Each provider contributes exactly one variant,
// so lookups are exhaustive instead of probing optional metadata keys.
type ProviderLink interface {
	LinkProvider() Provider
}

// WebpayLink correlates via the buy order we generated at intent creation.
type WebpayLink struct {
	BuyOrder string
}

func (WebpayLink) LinkProvider() Provider { return ProviderWebpay }

// PayPalLink correlates via the Orders v2 order id.
type PayPalLink struct {
	OrderID string
}

func (PayPalLink) LinkProvider() Provider { return ProviderPayPal }

// MercadoPagoLink correlates via the Checkout Pro preference id (one-shot)
// or the preapproval id (recurring). At least one is set.
type MercadoPagoLink struct {
	PreferenceID  string
	PreapprovalID string
}

func (MercadoPagoLink) LinkProvider() Provider { return ProviderMercadoPago }

// SetLink stores the link on its dedicated columns.
func (s *Subscription) SetLink(link ProviderLink) {
	s.Provider = link.LinkProvider()
	switch l := link.(type) {
	case WebpayLink:
		if l.BuyOrder != "" {
			s.BuyOrder = &l.BuyOrder
		}
	case PayPalLink:
		if l.OrderID != "" {
			s.OrderID = &l.OrderID
		}
	case MercadoPagoLink:
		if l.PreferenceID != "" {
			s.PreferenceID = &l.PreferenceID
		}
		if l.PreapprovalID != "" {
			s.PreapprovalID = &l.PreapprovalID
		}
	}
}

// Link reconstructs the typed link from the stored columns. Returns nil when
// no provider identifier has been attached yet.
func (s *Subscription) Link() ProviderLink {
	switch s.Provider {
	case ProviderWebpay:
		if s.BuyOrder != nil {
			return WebpayLink{BuyOrder: *s.BuyOrder}
		}
	case ProviderPayPal:
		if s.OrderID != nil {
			return PayPalLink{OrderID: *s.OrderID}
		}
	case ProviderMercadoPago:
		link := MercadoPagoLink{}
		if s.PreferenceID != nil {
			link.PreferenceID = *s.PreferenceID
		}
		if s.PreapprovalID != nil {
			link.PreapprovalID = *s.PreapprovalID
		}
		if link.PreferenceID != "" || link.PreapprovalID != "" {
			return link
		}
	}
	return nil
}
