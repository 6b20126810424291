package captchasvc

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/backoffice/core"
	"github.com/trezcool/backoffice/services/kvstore"
	"github.com/trezcool/backoffice/services/logger"
)

func TestService(t *testing.T) {
	std := logrus.New()
	std.SetOutput(io.Discard)
	kv := kvstore.NewMemoryStore()
	svc := NewService(kv, logsvc.NewRollbarLogger(std, core.NewTestConfig()))

	newCaptcha := func() (id, solution string) {
		id = svc.New()
		require.NotEmpty(t, id)
		digits, ok, err := kv.Get(context.Background(), key(id))
		require.NoError(t, err)
		require.True(t, ok, "solution stored in the kv store")
		require.Len(t, digits, length)
		sol := make([]byte, len(digits))
		for i, d := range digits {
			sol[i] = '0' + d
		}
		return id, string(sol)
	}

	id, solution := newCaptcha()
	var img bytes.Buffer
	require.NoError(t, svc.WriteImage(&img, id))
	assert.Equal(t, []byte("\x89PNG"), img.Bytes()[:4])
	assert.Error(t, svc.WriteImage(&img, "unknown"))

	assert.True(t, svc.Verify(id, solution))
	assert.False(t, svc.Verify(id, solution), "single use")

	id, solution = newCaptcha()
	wrong := []byte(solution)
	wrong[0] = '0' + (wrong[0]-'0'+1)%10
	assert.False(t, svc.Verify(id, string(wrong)))
	assert.False(t, svc.Verify(id, solution), "a failed attempt burns the captcha")
}
