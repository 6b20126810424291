package user

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/trezcool/backoffice/core"
)

var (
	ErrInvalidCaptcha = errors.New("invalid captcha")
	ErrInvalidOTP     = errors.New("invalid or expired code")

	otpLength      = 6
	otpMaxAttempts = 5
)

// Captcha generates and checks image challenges.
type Captcha interface {
	New() string
	WriteImage(w io.Writer, id string) error
	Verify(id, solution string) bool
}

type otpEntry struct {
	Code     string    `json:"code"`
	Attempts int       `json:"attempts"`
	Expires  time.Time `json:"expires"`
}

// OTPService implements the captcha gated phone login: a one-time code is texted to the phone
// once the captcha is solved, and exchanging the code logs the phone's owner in.
type OTPService struct {
	users     *Service
	store     core.KVStore
	sms       core.SMSSender
	captcha   Captcha
	appName   string
	ttl       time.Duration
	perMinute int

	mu       sync.Mutex
	limiters *cache.Cache // {phone: *rate.Limiter}
}

func NewOTPService(users *Service, store core.KVStore, sms core.SMSSender, captcha Captcha, conf *core.Config) *OTPService {
	perMinute := conf.SMS.OTPPerMinute
	if perMinute < 1 {
		perMinute = 1
	}
	return &OTPService{
		users:     users,
		store:     store,
		sms:       sms,
		captcha:   captcha,
		appName:   conf.AppName,
		ttl:       conf.SMS.OTPTTL,
		perMinute: perMinute,
		limiters:  cache.New(10*time.Minute, 20*time.Minute),
	}
}

func (svc *OTPService) NewCaptcha() string { return svc.captcha.New() }

func (svc *OTPService) WriteCaptcha(w io.Writer, id string) error {
	return svc.captcha.WriteImage(w, id)
}

func (svc *OTPService) limiter(phone string) *rate.Limiter {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if l, found := svc.limiters.Get(phone); found {
		return l.(*rate.Limiter)
	}
	l := rate.NewLimiter(rate.Every(time.Minute/time.Duration(svc.perMinute)), svc.perMinute)
	svc.limiters.SetDefault(phone, l)
	return l
}

// SendCode texts a new one-time code to phone once the captcha is solved.
func (svc *OTPService) SendCode(ctx context.Context, phone, captchaID, solution string) error {
	phone = core.CleanString(phone)
	if !svc.captcha.Verify(captchaID, solution) {
		return core.NewValidationError(nil, core.FieldError{Field: "captcha", Error: ErrInvalidCaptcha.Error()})
	}
	if !svc.limiter(phone).Allow() {
		return core.ErrTooManyRequests
	}

	code, err := randomDigits(otpLength)
	if err != nil {
		return errors.Wrap(err, "generating code")
	}
	data, err := json.Marshal(otpEntry{Code: code, Expires: time.Now().UTC().Add(svc.ttl)})
	if err != nil {
		return errors.Wrap(err, "encoding code")
	}
	if err = svc.store.Set(ctx, otpKey(phone), data, svc.ttl); err != nil {
		return errors.Wrap(err, "storing code")
	}
	text := fmt.Sprintf("%s code: %s", svc.appName, code)
	return errors.Wrap(svc.sms.Send(ctx, phone, text), "sending code")
}

// VerifyCode exchanges a one-time code for the user owning phone; unknown phones are registered.
func (svc *OTPService) VerifyCode(ctx context.Context, phone, code string) (User, error) {
	phone = core.CleanString(phone)
	key := otpKey(phone)
	data, ok, err := svc.store.Get(ctx, key)
	if err != nil {
		return User{}, errors.Wrap(err, "loading code")
	}
	invalid := core.NewValidationError(nil, core.FieldError{Field: "code", Error: ErrInvalidOTP.Error()})
	if !ok {
		return User{}, invalid
	}

	var entry otpEntry
	if err = json.Unmarshal(data, &entry); err != nil {
		return User{}, errors.Wrap(err, "decoding code")
	}
	if subtle.ConstantTimeCompare([]byte(entry.Code), []byte(core.CleanString(code))) == 0 {
		entry.Attempts++
		// failed attempts never extend the life of the code
		left := time.Until(entry.Expires)
		if entry.Attempts >= otpMaxAttempts || left <= 0 {
			err = svc.store.Delete(ctx, key)
		} else if data, err = json.Marshal(entry); err == nil {
			err = svc.store.Set(ctx, key, data, left)
		}
		if err != nil {
			return User{}, errors.Wrap(err, "storing attempts")
		}
		return User{}, invalid
	}
	if err = svc.store.Delete(ctx, key); err != nil {
		return User{}, errors.Wrap(err, "deleting code")
	}

	usr, err := svc.users.GetOrCreateByPhone(ctx, phone)
	if err != nil {
		return User{}, errors.Wrap(err, "getting user by phone")
	}
	if !usr.IsActive {
		return User{}, ErrAccountDeactivated
	}
	return svc.users.SetLastLogin(ctx, usr)
}

func otpKey(phone string) string { return "otp:" + phone }

func randomDigits(n int) (string, error) {
	digits := make([]byte, n)
	for i := range digits {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + d.Int64())
	}
	return string(digits), nil
}
