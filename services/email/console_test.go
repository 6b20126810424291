package emailsvc

import (
	"io"
	"net/mail"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/backoffice/core"
	logsvc "github.com/trezcool/backoffice/services/logger"
)

func TestConsoleService(t *testing.T) {
	conf := core.NewTestConfig()
	std := logrus.New()
	std.SetOutput(io.Discard)
	svc := NewConsoleServiceMock(conf, logsvc.NewRollbarLogger(std, conf))

	to := []mail.Address{{Name: "Admin", Address: "admin@test.cd"}}
	svc.SendMessages(
		&core.EmailMessage{To: to, Subject: "Welcome", BodyStr: "Hello!"},
		&core.EmailMessage{Subject: "Nobody", BodyStr: "lost"},
		&core.EmailMessage{To: to, Subject: "Empty"},
	)

	sent := svc.SentMessages()
	require.Len(t, sent, 1, "messages without recipients or content are dropped")
	assert.Equal(t, "Welcome", sent[0].Subject)
	assert.Equal(t, "Hello!", sent[0].TextContent)
}
