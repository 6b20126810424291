package emailsvc

import (
	"fmt"

	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"

	"github.com/trezcool/backoffice/core"
)

const maxSenders = 4

// dispatch sends messages in the background, at most maxSenders at a time.
func dispatch(logger core.Logger, messages []*core.EmailMessage, send func(*core.EmailMessage)) {
	go func() {
		var pc panics.Catcher
		pc.Try(func() { sendAll(messages, send) })
		if r := pc.Recovered(); r != nil {
			logger.Error(fmt.Sprintf("sending emails: %v", r.Value), r.AsError())
		}
	}()
}

// sendAll sends messages concurrently and returns once they are all sent.
func sendAll(messages []*core.EmailMessage, send func(*core.EmailMessage)) {
	p := pool.New().WithMaxGoroutines(maxSenders)
	for _, msg := range messages {
		msg := msg
		p.Go(func() { send(msg) })
	}
	p.Wait()
}

// prepare renders msg; it reports whether there is something to send.
func prepare(logger core.Logger, msg *core.EmailMessage) bool {
	if err := msg.Render(); err != nil {
		logger.Error(fmt.Sprintf("rendering email: %v", err), err)
		return false
	}
	return msg.HasRecipients() && (msg.HasContent() || msg.HasAttachments())
}
