// Package paymentsvc implements the payment gateways.
package paymentsvc

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/trezcool/backoffice/core"
	"github.com/trezcool/backoffice/core/payment"
)

const paymentIDKey = "payment_id"

type stripeGateway struct {
	client        *stripe.Client
	webhookSecret string
	successURL    string
	cancelURL     string
}

var _ payment.Gateway = (*stripeGateway)(nil)

func NewStripeGateway(conf *core.Config) *stripeGateway {
	return &stripeGateway{
		client:        stripe.NewClient(conf.Stripe.SecretKey, nil),
		webhookSecret: conf.Stripe.WebhookSecret,
		successURL:    conf.Stripe.SuccessURL,
		cancelURL:     conf.Stripe.CancelURL,
	}
}

func (gw *stripeGateway) Name() string { return "stripe" }

func (gw *stripeGateway) Checkout(ctx context.Context, req payment.CheckoutRequest) (payment.Checkout, error) {
	metadata := map[string]string{paymentIDKey: strconv.Itoa(req.PaymentID)}
	params := &stripe.CheckoutSessionCreateParams{
		Mode: stripe.String("payment"),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{{
			PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
				Currency: stripe.String(req.Currency),
				ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
					Name: stripe.String(req.Description),
				},
				UnitAmount: stripe.Int64(req.Amount.Shift(2).Round(0).IntPart()),
			},
			Quantity: stripe.Int64(1),
		}},
		SuccessURL:        stripe.String(gw.successURL),
		CancelURL:         stripe.String(gw.cancelURL),
		ClientReferenceID: stripe.String(strconv.Itoa(req.PaymentID)),
		Metadata:          metadata,
		PaymentIntentData: &stripe.CheckoutSessionCreatePaymentIntentDataParams{
			Metadata: metadata,
		},
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}

	session, err := gw.client.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return payment.Checkout{}, errors.Wrap(err, "creating stripe checkout session")
	}
	return payment.Checkout{Reference: session.ID, URL: session.URL}, nil
}

func (gw *stripeGateway) ParseEvent(payload []byte, signature string) (payment.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, gw.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return payment.Event{}, errors.Wrap(err, "verifying stripe event")
	}

	var typ int
	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		typ = payment.EventPaid
	case "checkout.session.async_payment_failed", "checkout.session.expired":
		typ = payment.EventFailed
	default:
		return payment.Event{Type: payment.EventIgnored}, nil
	}

	var session stripe.CheckoutSession
	if err = json.Unmarshal(event.Data.Raw, &session); err != nil {
		return payment.Event{}, errors.Wrap(err, "decoding checkout session")
	}
	// completed sessions of delayed payment methods are paid later on
	if event.Type == "checkout.session.completed" && session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return payment.Event{Type: payment.EventIgnored}, nil
	}

	evt := payment.Event{Type: typ, Reference: session.ID}
	if id, err := strconv.Atoi(session.Metadata[paymentIDKey]); err == nil {
		evt.PaymentID = id
	}
	return evt, nil
}
