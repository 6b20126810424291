// Package smssvc sends text messages through an HTTP gateway.
package smssvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"

	"github.com/trezcool/backoffice/core"
)

type gatewayService struct {
	client *retryablehttp.Client
	url    string
	apiKey string
	sender string
}

var _ core.SMSSender = (*gatewayService)(nil)

// NewGatewayService posts {"from", "to", "text"} JSON messages to the configured gateway.
// Failed requests (connection errors, 5xx, 429) are retried with exponential backoff.
func NewGatewayService(conf *core.Config) *gatewayService {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.HTTPClient.Timeout = 10 * time.Second
	client.Logger = nil
	return &gatewayService{
		client: client,
		url:    conf.SMS.GatewayURL,
		apiKey: conf.SMS.APIKey,
		sender: conf.SMS.Sender,
	}
}

type gatewayMessage struct {
	From string `json:"from"`
	To   string `json:"to"`
	Text string `json:"text"`
}

func (svc *gatewayService) Send(ctx context.Context, to, text string) error {
	body, err := json.Marshal(gatewayMessage{From: svc.sender, To: to, Text: text})
	if err != nil {
		return errors.Wrap(err, "encoding sms")
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, svc.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "building sms request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+svc.apiKey)

	res, err := svc.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "sending sms")
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return errors.Errorf("sending sms - status: %d - body: %s", res.StatusCode, msg)
	}
	return nil
}

type Message struct {
	To   string
	Text string
}

// ConsoleService logs the text messages instead of sending them.
type ConsoleService struct {
	logger core.Logger

	mu   sync.Mutex
	sent []Message
}

var _ core.SMSSender = (*ConsoleService)(nil)

func NewConsoleService(logger core.Logger) *ConsoleService {
	return &ConsoleService{logger: logger}
}

func (svc *ConsoleService) Send(_ context.Context, to, text string) error {
	svc.mu.Lock()
	svc.sent = append(svc.sent, Message{To: to, Text: text})
	svc.mu.Unlock()
	if svc.logger != nil {
		svc.logger.Info(fmt.Sprintf("SMS to %s: %s", to, text))
	}
	return nil
}

// Sent returns a copy of the messages sent so far.
func (svc *ConsoleService) Sent() []Message {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return append([]Message(nil), svc.sent...)
}

// Last returns the last message sent to the number.
func (svc *ConsoleService) Last(to string) (Message, bool) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	for i := len(svc.sent) - 1; i >= 0; i-- {
		if svc.sent[i].To == to {
			return svc.sent[i], true
		}
	}
	return Message{}, false
}
