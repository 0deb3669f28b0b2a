package functions

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"

	"github.com/Ebrudra/desk-access-hub/backend-console/internal/domain"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/repository"
)

// CheckoutRequest describes a hosted checkout for one payment
type CheckoutRequest struct {
	AmountCents   int64
	Currency      string
	Description   string
	CustomerEmail string
	UserID        string
	BookingID     string
	SuccessURL    string
	CancelURL     string
}

// CheckoutSession is what the client needs to redirect to the hosted page
type CheckoutSession struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

// CheckoutGateway creates hosted checkout sessions
type CheckoutGateway interface {
	CreateCheckoutSession(ctx context.Context, req *CheckoutRequest) (*CheckoutSession, error)
}

// StripeCheckoutConfig holds configuration for Stripe checkout
type StripeCheckoutConfig struct {
	SecretKey string
}

// StripeCheckout implements CheckoutGateway using Stripe Checkout
type StripeCheckout struct {
	config *StripeCheckoutConfig
}

// NewStripeCheckout creates a new Stripe checkout gateway
func NewStripeCheckout(config *StripeCheckoutConfig) (*StripeCheckout, error) {
	if config == nil {
		return nil, fmt.Errorf("stripe config is required")
	}
	if config.SecretKey == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}

	// Set Stripe API key globally
	stripe.Key = config.SecretKey

	return &StripeCheckout{config: config}, nil
}

// CreateCheckoutSession creates a one-off payment session
func (g *StripeCheckout) CreateCheckoutSession(ctx context.Context, req *CheckoutRequest) (*CheckoutSession, error) {
	if req == nil {
		return nil, fmt.Errorf("checkout request is required")
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.UserID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(req.Currency),
					UnitAmount: stripe.Int64(req.AmountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Context = ctx
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	params.AddMetadata("user_id", req.UserID)
	if req.BookingID != "" {
		params.AddMetadata("booking_id", req.BookingID)
	}

	s, err := checkoutsession.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	return &CheckoutSession{
		ID:          s.ID,
		URL:         s.URL,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
	}, nil
}

// CheckoutConfig holds defaults for checkout sessions
type CheckoutConfig struct {
	Currency   string
	SuccessURL string
	CancelURL  string
}

type checkoutPayload struct {
	BookingID   string          `json:"booking_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
	SuccessURL  string          `json:"success_url"`
	CancelURL   string          `json:"cancel_url"`
}

// ToCents converts a decimal amount to the smallest currency unit, rounding
// half away from zero
func ToCents(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// NewCreateCheckoutSession starts a hosted checkout, either for one of the
// caller's bookings or for an explicit amount. A nil gateway means checkout
// is not configured.
func NewCreateCheckoutSession(gw CheckoutGateway, bookings repository.BookingRepository, cfg CheckoutConfig) Func {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	return func(ctx context.Context, call *Call) (any, error) {
		if gw == nil {
			return nil, domain.ErrCheckoutDisabled
		}
		var p checkoutPayload
		if err := call.Decode(&p); err != nil {
			return nil, err
		}

		req := &CheckoutRequest{
			Currency:      strings.ToLower(firstNonEmpty(p.Currency, cfg.Currency)),
			Description:   firstNonEmpty(p.Description, "Coworking payment"),
			CustomerEmail: call.Email,
			UserID:        call.UserID,
			SuccessURL:    firstNonEmpty(p.SuccessURL, cfg.SuccessURL),
			CancelURL:     firstNonEmpty(p.CancelURL, cfg.CancelURL),
		}

		amount := p.Amount
		if p.BookingID != "" {
			b, err := bookings.GetByID(ctx, p.BookingID)
			if err != nil {
				return nil, err
			}
			if b == nil || !b.BelongsToUser(call.UserID) {
				return nil, domain.ErrBookingNotFound
			}
			if b.Status == domain.BookingStatusCancelled {
				return nil, fmt.Errorf("%w: booking is cancelled", domain.ErrInvalidPayload)
			}
			amount = decimal.NewFromFloat(b.TotalAmount)
			req.BookingID = b.ID
			if p.Description == "" && b.ResourceName != "" {
				req.Description = "Booking: " + b.ResourceName
			}
		}

		req.AmountCents = ToCents(amount)
		if req.AmountCents <= 0 {
			return nil, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidPayload)
		}
		if req.SuccessURL == "" || req.CancelURL == "" {
			return nil, fmt.Errorf("%w: success_url and cancel_url are required", domain.ErrInvalidPayload)
		}

		return gw.CreateCheckoutSession(ctx, req)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
