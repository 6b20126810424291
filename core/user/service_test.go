package user_test

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/backoffice/apps/api/di"
	"github.com/trezcool/backoffice/core"
	"github.com/trezcool/backoffice/core/crud"
	"github.com/trezcool/backoffice/core/user"
	"github.com/trezcool/backoffice/services/sms"
	"github.com/trezcool/backoffice/storage/database/gormrepos"
	"github.com/trezcool/backoffice/tests"
)

const strongPwd = "K7#qmZ!v2Lp9"

type captchaMock struct{}

func (captchaMock) New() string                        { return "id" }
func (captchaMock) WriteImage(io.Writer, string) error { return nil }
func (captchaMock) Verify(id, solution string) bool    { return id == "id" && solution == "ok" }

type fixture struct {
	svc  *user.Service
	otp  *user.OTPService
	repo user.Repository
	sms  *smssvc.ConsoleService
}

func setup(t *testing.T) fixture {
	sms := smssvc.NewConsoleService(nil)
	c := testutil.NewContainer(t, di.Overrides{SMS: sms, Captcha: captchaMock{}})
	return fixture{svc: c.UserSvc, otp: c.OTPSvc, repo: gormrepos.NewUserRepository(c.DB), sms: sms}
}

type kvMock struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls []time.Duration
}

func (kv *kvMock) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.data[key] = value
	kv.ttls = append(kv.ttls, ttl)
	return nil
}

func (kv *kvMock) Get(_ context.Context, key string) ([]byte, bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	v, ok := kv.data[key]
	return v, ok, nil
}

func (kv *kvMock) Delete(_ context.Context, key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	delete(kv.data, key)
	return nil
}

func (f fixture) createUser(t *testing.T, uname string, roles ...string) user.User {
	return testutil.CreateUser(t, f.repo, uname, uname, uname+"@test.cd", "pwd", roles, true)
}

func fieldErrors(t *testing.T, err error) []core.FieldError {
	t.Helper()
	var verr *core.ValidationError
	require.True(t, errors.As(err, &verr), "want a validation error, got %v", err)
	return verr.Fields
}

func TestService_save(t *testing.T) {
	f := setup(t)
	admin := f.createUser(t, "admin", user.RoleAdmin)
	ctx := testutil.ActorContext(admin)
	records := f.svc.Records()

	t.Run("password required", func(t *testing.T) {
		err := records.AddOrUpdate(ctx, &user.User{Name: "New", Username: "newbie", IsActive: true})
		assert.Equal(t, []core.FieldError{{Field: "password", Error: "this field is required"}}, fieldErrors(t, err))
	})

	t.Run("roles above the actor's", func(t *testing.T) {
		err := records.AddOrUpdate(ctx, &user.User{Name: "New", Username: "newbie", Password: strongPwd, Roles: []string{user.RoleAdminOwner}})
		assert.Equal(t, []core.FieldError{{Field: "roles", Error: "not enough rights to set these roles"}}, fieldErrors(t, err))
	})

	t.Run("taken username", func(t *testing.T) {
		err := records.AddOrUpdate(ctx, &user.User{Name: "New", Username: "Admin", Password: strongPwd})
		assert.Equal(t, []core.FieldError{{Field: "username", Error: user.ErrUsernameExists.Error()}}, fieldErrors(t, err))
	})

	usr := &user.User{Name: " New ", Username: "Newbie", Email: "NEW@test.cd", Password: strongPwd, Roles: []string{user.RoleTeacher}, IsActive: true}
	require.NoError(t, records.AddOrUpdate(ctx, usr))
	assert.Equal(t, "newbie", usr.Username)
	assert.Equal(t, "new@test.cd", usr.Email)
	assert.Empty(t, usr.Password, "cleared once hashed")

	logged, err := f.svc.Authenticate(ctx, "new@test.cd", strongPwd)
	require.NoError(t, err)

	// updating without a password keeps the hash and the last login
	upd := &user.User{Name: "Renamed", Username: "newbie", Email: "new@test.cd", Roles: []string{user.RoleTeacher}, IsActive: true}
	upd.ID = usr.ID
	require.NoError(t, records.AddOrUpdate(ctx, upd))
	saved, err := f.svc.GetByID(ctx, usr.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", saved.Name)
	assert.NoError(t, saved.CheckPassword(strongPwd))
	assert.True(t, saved.LastLogin.Valid)
	assert.WithinDuration(t, logged.LastLogin.Time, saved.LastLogin.Time, time.Second)
}

func TestService_delete(t *testing.T) {
	f := setup(t)
	admin := f.createUser(t, "admin", user.RoleAdmin)
	owner := f.createUser(t, "owner", user.RoleAdminOwner)
	teacher := f.createUser(t, "teacher", user.RoleTeacher)
	ctx := testutil.ActorContext(admin)
	records := f.svc.Records()

	assert.Equal(t, core.ErrPermissionDenied, records.Delete(ctx, admin.ID, crud.SoftDelete), "self")
	assert.Equal(t, core.ErrPermissionDenied, records.Delete(ctx, owner.ID, crud.HardDelete), "higher role")
	require.NoError(t, records.Delete(ctx, teacher.ID, crud.SoftDelete))

	_, err := f.svc.GetByID(ctx, teacher.ID)
	assert.True(t, core.IsNotFound(err), "deleted users are not found")
}

func TestService_Authenticate(t *testing.T) {
	f := setup(t)
	usr := f.createUser(t, "user1")
	testutil.CreateUser(t, f.repo, "Inactive", "inactive", "inactive@test.cd", "pwd", nil, false)
	ctx := context.Background()

	tests := []struct {
		name    string
		uname   string
		pwd     string
		wantErr error
	}{
		{name: "unknown user", uname: "ghost", pwd: "pwd", wantErr: user.ErrInvalidCredentials},
		{name: "wrong password", uname: "user1", pwd: "lol", wantErr: user.ErrInvalidCredentials},
		{name: "inactive user", uname: "inactive", pwd: "pwd", wantErr: user.ErrInvalidCredentials},
		{name: "username", uname: " USER1 ", pwd: "pwd"},
		{name: "email", uname: "user1@test.cd", pwd: "pwd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.svc.Authenticate(ctx, tt.uname, tt.pwd)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, usr.ID, got.ID)
			assert.True(t, got.LastLogin.Valid)
		})
	}
}

func TestService_GetOrCreateByPhone(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	usr, err := f.svc.GetOrCreateByPhone(ctx, "+243810000001")
	require.NoError(t, err)
	assert.Equal(t, "+243810000001", usr.Name)
	assert.True(t, usr.IsActive)
	assert.Equal(t, user.StudentRoles, []string(usr.Roles))

	again, err := f.svc.GetOrCreateByPhone(ctx, "+243810000001")
	require.NoError(t, err)
	assert.Equal(t, usr.ID, again.ID)

	usr.IsActive = false
	_, err = f.repo.UpdateOrCreateUser(ctx, usr)
	require.NoError(t, err)
	_, err = f.svc.GetOrCreateByPhone(ctx, "+243810000001")
	assert.Equal(t, user.ErrAccountDeactivated, err)
}

var smsCode = regexp.MustCompile(`code: (\d{6})$`)

func (f fixture) lastCode(t *testing.T, phone string) string {
	t.Helper()
	msg, ok := f.sms.Last(phone)
	require.True(t, ok, "no sms sent to %s", phone)
	m := smsCode.FindStringSubmatch(msg.Text)
	require.Len(t, m, 2, msg.Text)
	return m[1]
}

func TestOTPService(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	const phone = "+243810000002"

	t.Run("invalid captcha", func(t *testing.T) {
		err := f.otp.SendCode(ctx, phone, "id", "ko")
		assert.Equal(t, []core.FieldError{{Field: "captcha", Error: user.ErrInvalidCaptcha.Error()}}, fieldErrors(t, err))
		assert.Empty(t, f.sms.Sent())
	})

	require.NoError(t, f.otp.SendCode(ctx, " "+phone+" ", "id", "ok"))
	code := f.lastCode(t, phone)
	assert.Equal(t, fmt.Sprintf("Backoffice code: %s", code), f.sms.Sent()[0].Text)

	_, err := f.otp.VerifyCode(ctx, phone, "nope")
	assert.Equal(t, []core.FieldError{{Field: "code", Error: user.ErrInvalidOTP.Error()}}, fieldErrors(t, err))

	usr, err := f.otp.VerifyCode(ctx, phone, code)
	require.NoError(t, err, "a wrong attempt does not burn the code")
	assert.Equal(t, phone, usr.Phone)
	assert.True(t, usr.LastLogin.Valid)

	_, err = f.otp.VerifyCode(ctx, phone, code)
	assert.Error(t, err, "codes are single use")

	t.Run("too many attempts", func(t *testing.T) {
		require.NoError(t, f.otp.SendCode(ctx, phone, "id", "ok"))
		code := f.lastCode(t, phone)
		for i := 0; i < 5; i++ {
			_, err := f.otp.VerifyCode(ctx, phone, "000000x")
			require.Error(t, err)
		}
		_, err := f.otp.VerifyCode(ctx, phone, code)
		assert.Error(t, err, "code dropped after 5 failures")
	})

	t.Run("rate limited", func(t *testing.T) {
		const other = "+243810000003"
		for i := 0; i < 3; i++ {
			require.NoError(t, f.otp.SendCode(ctx, other, "id", "ok"))
		}
		assert.Equal(t, core.ErrTooManyRequests, f.otp.SendCode(ctx, other, "id", "ok"))
	})
}

func TestOTPService_attemptsKeepExpiry(t *testing.T) {
	kv := &kvMock{data: map[string][]byte{}}
	c := testutil.NewContainer(t, di.Overrides{SMS: smssvc.NewConsoleService(nil), Captcha: captchaMock{}, KV: kv})
	ctx := context.Background()
	const phone = "+243810000004"

	require.NoError(t, c.OTPSvc.SendCode(ctx, phone, "id", "ok"))
	require.Len(t, kv.ttls, 1)
	ttl := kv.ttls[0]
	require.Positive(t, ttl)

	for i := 0; i < 2; i++ {
		time.Sleep(5 * time.Millisecond)
		_, err := c.OTPSvc.VerifyCode(ctx, phone, "nope")
		require.Error(t, err)
	}
	require.Len(t, kv.ttls, 3)
	assert.Less(t, kv.ttls[1], ttl, "the remaining time only")
	assert.Less(t, kv.ttls[2], kv.ttls[1])
	assert.Positive(t, kv.ttls[2])
}
