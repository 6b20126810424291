// Package captchasvc serves image captchas whose solutions live in a core.KVStore.
package captchasvc

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dchest/captcha"

	"github.com/trezcool/backoffice/core"
	"github.com/trezcool/backoffice/core/user"
)

const (
	width      = captcha.StdWidth
	height     = captcha.StdHeight
	length     = 5
	expiration = 10 * time.Minute
	opTimeout  = 2 * time.Second
)

// store adapts a core.KVStore to captcha.Store.
type store struct {
	kv     core.KVStore
	logger core.Logger
}

func (s store) Set(id string, digits []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := s.kv.Set(ctx, key(id), digits, expiration); err != nil {
		s.logger.Error(fmt.Sprintf("storing captcha: %v", err), err)
	}
}

func (s store) Get(id string, clear bool) []byte {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	digits, ok, err := s.kv.Get(ctx, key(id))
	if err != nil {
		s.logger.Error(fmt.Sprintf("loading captcha: %v", err), err)
		return nil
	}
	if !ok {
		return nil
	}
	if clear {
		if err = s.kv.Delete(ctx, key(id)); err != nil {
			s.logger.Error(fmt.Sprintf("deleting captcha: %v", err), err)
		}
	}
	return digits
}

func key(id string) string { return "captcha:" + id }

type Service struct{}

var _ user.Captcha = Service{}

// NewService makes kv the store of every captcha of the process.
func NewService(kv core.KVStore, logger core.Logger) Service {
	captcha.SetCustomStore(store{kv: kv, logger: logger})
	return Service{}
}

func (Service) New() string { return captcha.NewLen(length) }

func (Service) WriteImage(w io.Writer, id string) error {
	return captcha.WriteImage(w, id, width, height)
}

func (Service) Verify(id, solution string) bool {
	return captcha.VerifyString(id, solution)
}
