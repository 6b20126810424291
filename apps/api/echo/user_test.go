package echoapi_test

import (
	"net/http"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/trezcool/backoffice/apps/api/echo"
	"github.com/trezcool/backoffice/core/user"
)

const securityPath = "/api/v1/security/"

var codeRegex = regexp.MustCompile(`code: (\d{6})$`)

func TestUserAPI_login(t *testing.T) {
	app := setup(t)
	usr := app.createUser(t, "User", "user1", user.RoleStudent)
	inactive := app.createInactiveUser(t)

	runHTTPTests(t, app, []httpTest{
		{
			name:     "missing fields",
			path:     securityPath + "login",
			body:     []byte(`{}`),
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"username": "this field is required", "password": "this field is required"}`),
		},
		{
			name:     "wrong password",
			path:     securityPath + "login",
			body:     marshallObj(t, LoginRequest{Username: usr.Username, Password: "lol"}),
			wantCode: http.StatusBadRequest,
			wantData: marshallObj(t, httpErr{Error: "invalid credentials"}),
		},
		{
			name:     "unknown user",
			path:     securityPath + "login",
			body:     marshallObj(t, LoginRequest{Username: "ghost", Password: "pwd"}),
			wantCode: http.StatusBadRequest,
			wantData: marshallObj(t, httpErr{Error: "invalid credentials"}),
		},
		{
			name:     "inactive user",
			path:     securityPath + "login",
			body:     marshallObj(t, LoginRequest{Username: inactive.Username, Password: "pwd"}),
			wantCode: http.StatusBadRequest,
			wantData: marshallObj(t, httpErr{Error: "invalid credentials"}),
		},
	})

	for _, uname := range []string{usr.Username, " USER1@test.cd "} {
		t.Run("login with "+uname, func(t *testing.T) {
			rec := app.post(t, securityPath+"login", "", LoginRequest{Username: uname, Password: "pwd"})
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			var resp LoginResponse
			unmarshall(t, rec, &resp)
			require.NotEmpty(t, resp.Token)
			require.NotNil(t, resp.User)
			assert.Equal(t, usr.ID, resp.User.ID)
			assert.True(t, resp.User.LastLogin.Valid)

			// the token works
			rec = app.do(http.MethodGet, securityPath+"me", resp.Token)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			var me user.User
			unmarshall(t, rec, &me)
			assert.Equal(t, usr.Username, me.Username)
		})
	}
}

func (app *testApp) createInactiveUser(t *testing.T) user.User {
	usr := app.createUser(t, "Inactive", "inactive")
	usr.IsActive = false
	usr, err := app.usrRepo.UpdateOrCreateUser(testContext(t), usr)
	require.NoError(t, err)
	return usr
}

func TestUserAPI_me(t *testing.T) {
	app := setup(t)
	usr := app.createUser(t, "User", "user1")
	token := app.getToken(t, usr)

	runHTTPTests(t, app, []httpTest{
		{name: "no token", method: http.MethodGet, path: securityPath + "me", wantCode: http.StatusUnauthorized, wantData: marshallObj(t, errMissingToken)},
		{name: "roles: not admin", method: http.MethodGet, path: securityPath + "roles", token: token, wantCode: http.StatusForbidden},
		{
			name:     "roles: admin",
			method:   http.MethodGet,
			path:     securityPath + "roles",
			token:    app.getToken(t, app.createUser(t, "Admin", "admin", user.RoleAdmin)),
			wantCode: http.StatusOK,
			wantData: marshallObj(t, user.Roles),
		},
	})

	t.Run("refresh", func(t *testing.T) {
		rec := app.do(http.MethodPost, securityPath+"token-refresh", token)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp LoginResponse
		unmarshall(t, rec, &resp)
		assert.NotEmpty(t, resp.Token)
		assert.Nil(t, resp.User)
	})
}

func TestUserAPI_passwordReset(t *testing.T) {
	app := setup(t)
	app.createUser(t, "User", "user1")

	// the response never tells whether the email is known
	for _, email := range []string{"user1@test.cd", "ghost@test.cd"} {
		rec := app.post(t, securityPath+"password-reset", "", PasswordResetRequest{Email: email})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp SuccessResponse
		unmarshall(t, rec, &resp)
		assert.Contains(t, resp.Success, "an email will arrive in your inbox")
	}

	runHTTPTests(t, app, []httpTest{
		{
			name:     "invalid email",
			path:     securityPath + "password-reset",
			body:     []byte(`{"email": "lol"}`),
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "confirm: invalid token",
			path:     securityPath + "password-reset-confirm",
			body:     []byte(`{"token": "lol", "uid": "lol", "password": "Pwd_12345!", "password_confirm": "Pwd_12345!"}`),
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "confirm: passwords mismatch",
			path:     securityPath + "password-reset-confirm",
			body:     []byte(`{"token": "lol", "uid": "lol", "password": "Pwd_12345!", "password_confirm": "lol"}`),
			wantCode: http.StatusBadRequest,
		},
	})
}

func TestUserAPI_captcha(t *testing.T) {
	app := setup(t)

	rec := app.do(http.MethodGet, securityPath+"Captcha", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp CaptchaResponse
	unmarshall(t, rec, &resp)
	assert.Equal(t, "captcha-id", resp.CaptchaID)
	assert.Equal(t, securityPath+"Captcha/captcha-id/image", resp.ImageURL)

	rec = app.do(http.MethodGet, resp.ImageURL, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	rec = app.do(http.MethodGet, securityPath+"Captcha/lol/image", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUserAPI_otp(t *testing.T) {
	app := setup(t)
	const phone = "+243810000000"

	sendOTP := func(t *testing.T, phone, solution string) int {
		rec := app.post(t, securityPath+"SendOTP", "", SendOTPRequest{Phone: phone, CaptchaID: "captcha-id", Captcha: solution})
		return rec.Code
	}
	lastCode := func(t *testing.T) string {
		msg, ok := app.sms.Last(phone)
		require.True(t, ok, "no sms sent")
		m := codeRegex.FindStringSubmatch(msg.Text)
		require.Len(t, m, 2, msg.Text)
		assert.Equal(t, "Backoffice code: "+m[1], msg.Text)
		return m[1]
	}

	runHTTPTests(t, app, []httpTest{
		{
			name:     "invalid phone",
			path:     securityPath + "SendOTP",
			body:     marshallObj(t, SendOTPRequest{Phone: "lol", CaptchaID: "captcha-id", Captcha: captchaSolution}),
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"phone": "invalid phone number"}`),
		},
		{
			name:     "wrong captcha",
			path:     securityPath + "SendOTP",
			body:     marshallObj(t, SendOTPRequest{Phone: phone, CaptchaID: "captcha-id", Captcha: "000000"}),
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"captcha": "invalid captcha"}`),
		},
		{
			name:     "verify without code",
			path:     securityPath + "VerifyOTP",
			body:     marshallObj(t, VerifyOTPRequest{Phone: phone, Code: "123456"}),
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"code": "invalid or expired code"}`),
		},
	})
	assert.Empty(t, app.sms.Sent(), "nothing sent without a solved captcha")

	t.Run("register by phone", func(t *testing.T) {
		require.Equal(t, http.StatusOK, sendOTP(t, phone, captchaSolution))
		code := lastCode(t)

		wrong := "000000"
		if code == wrong {
			wrong = "111111"
		}
		rec := app.post(t, securityPath+"VerifyOTP", "", VerifyOTPRequest{Phone: phone, Code: wrong})
		assert.Equal(t, http.StatusBadRequest, rec.Code, "wrong code")

		rec = app.post(t, securityPath+"VerifyOTP", "", VerifyOTPRequest{Phone: phone, Code: code})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp LoginResponse
		unmarshall(t, rec, &resp)
		assert.NotEmpty(t, resp.Token)
		require.NotNil(t, resp.User)
		assert.Equal(t, phone, resp.User.Phone)
		assert.Equal(t, phone, resp.User.Name)
		assert.True(t, resp.User.IsStudent())

		// codes are single use
		rec = app.post(t, securityPath+"VerifyOTP", "", VerifyOTPRequest{Phone: phone, Code: code})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("login by phone", func(t *testing.T) {
		require.Equal(t, http.StatusOK, sendOTP(t, phone, captchaSolution))
		rec := app.post(t, securityPath+"VerifyOTP", "", VerifyOTPRequest{Phone: phone, Code: lastCode(t)})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		usr, err := app.usrRepo.GetUser(testContext(t), user.GetFilter{Phone: phone})
		require.NoError(t, err)
		var resp LoginResponse
		unmarshall(t, rec, &resp)
		assert.Equal(t, usr.ID, resp.User.ID, "no duplicate account")
	})

	t.Run("rate limited", func(t *testing.T) {
		// 2 codes sent already; the burst is 3 per minute
		require.Equal(t, http.StatusOK, sendOTP(t, phone, captchaSolution))
		rec := app.post(t, securityPath+"SendOTP", "", SendOTPRequest{Phone: phone, CaptchaID: "captcha-id", Captcha: captchaSolution})
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusTooManyRequests,
			wantData: marshallObj(t, httpErr{Error: "too many requests"}),
		}, rec)
	})
}

func TestUserAPI_crud(t *testing.T) {
	app := setup(t)
	admin := app.createUser(t, "Admin", "admin", user.RoleAdmin)
	owner := app.createUser(t, "Owner", "owner", user.RoleAdminOwner)
	token := app.getToken(t, admin)

	runHTTPTests(t, app, []httpTest{
		{
			name:     "not admin",
			path:     securityPath + "UserList",
			body:     []byte(`{}`),
			token:    app.getToken(t, app.createUser(t, "Student", "student", user.RoleStudent)),
			wantCode: http.StatusForbidden,
		},
		{
			name:     "no password",
			path:     securityPath + "UserAddOrUpdate",
			body:     []byte(`{"name": "New", "username": "newbie"}`),
			token:    token,
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"password": "this field is required"}`),
		},
		{
			name:     "username taken",
			path:     securityPath + "UserAddOrUpdate",
			body:     []byte(`{"name": "New", "username": "owner", "password": "Pwd_12345!"}`),
			token:    token,
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"username": "a user with this username already exists"}`),
		},
		{
			name:     "role above the actor",
			path:     securityPath + "UserAddOrUpdate",
			body:     marshallObj(t, map[string]interface{}{"name": "New", "username": "newbie", "password": "Pwd_12345!", "roles": []string{user.RoleAdminOwner}}),
			token:    token,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "delete self",
			path:     securityPath + "UserDelete",
			body:     marshallObj(t, map[string]int{"id": admin.ID, "type": 1}),
			token:    token,
			wantCode: http.StatusForbidden,
			wantData: marshallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name:     "delete higher role",
			path:     securityPath + "UserDelete",
			body:     marshallObj(t, map[string]int{"id": owner.ID, "type": 1}),
			token:    token,
			wantCode: http.StatusForbidden,
		},
	})

	t.Run("create", func(t *testing.T) {
		rec := app.post(t, securityPath+"UserAddOrUpdate", token, map[string]interface{}{
			"name":      "New User",
			"username":  "NewBie",
			"email":     "newbie@test.cd",
			"password":  "Pwd_12345!",
			"is_active": true,
			"roles":     []string{user.RoleTeacher},
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var usr user.User
		unmarshall(t, rec, &usr)
		assert.NotZero(t, usr.ID)
		assert.Equal(t, "newbie", usr.Username)
		assert.Empty(t, usr.Password, "password never returned")

		rec = app.post(t, securityPath+"login", "", LoginRequest{Username: "newbie", Password: "Pwd_12345!"})
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	})
}
