package paymentsvc

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pkg/errors"

	"github.com/trezcool/backoffice/core"
	"github.com/trezcool/backoffice/core/payment"
)

// FakeEvent is the webhook payload understood by the fake gateway.
type FakeEvent struct {
	Type      string `json:"type"` // paid | failed
	PaymentID int    `json:"payment_id"`
}

// FakeGateway accepts every checkout; its webhooks are signed with the app secret key.
// It is used in development and tests, when no stripe key is configured.
type FakeGateway struct {
	secret     []byte
	successURL string
}

var _ payment.Gateway = (*FakeGateway)(nil)

func NewFakeGateway(conf *core.Config) *FakeGateway {
	return &FakeGateway{secret: []byte(conf.SecretKey), successURL: conf.Stripe.SuccessURL}
}

func (gw *FakeGateway) Name() string { return "fake" }

func (gw *FakeGateway) Checkout(_ context.Context, req payment.CheckoutRequest) (payment.Checkout, error) {
	ref := "fake_" + strconv.Itoa(req.PaymentID)
	return payment.Checkout{Reference: ref, URL: fmt.Sprintf("%s?session_id=%s", gw.successURL, ref)}, nil
}

// Sign returns the signature of a webhook payload.
func (gw *FakeGateway) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, gw.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (gw *FakeGateway) ParseEvent(payload []byte, signature string) (payment.Event, error) {
	if !hmac.Equal([]byte(gw.Sign(payload)), []byte(signature)) {
		return payment.Event{}, errors.New("invalid signature")
	}
	var fe FakeEvent
	if err := json.Unmarshal(payload, &fe); err != nil {
		return payment.Event{}, errors.Wrap(err, "decoding event")
	}
	evt := payment.Event{PaymentID: fe.PaymentID}
	switch fe.Type {
	case "paid":
		evt.Type = payment.EventPaid
	case "failed":
		evt.Type = payment.EventFailed
	}
	return evt, nil
}

// New returns the stripe gateway when it is configured, the fake one otherwise.
func New(conf *core.Config) payment.Gateway {
	if conf.Stripe.SecretKey == "" {
		return NewFakeGateway(conf)
	}
	return NewStripeGateway(conf)
}
