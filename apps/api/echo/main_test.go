package echoapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/backoffice/apps/api/di"
	. "github.com/trezcool/backoffice/apps/api/echo"
	"github.com/trezcool/backoffice/core"
	"github.com/trezcool/backoffice/core/user"
	"github.com/trezcool/backoffice/services/email"
	"github.com/trezcool/backoffice/services/payment"
	"github.com/trezcool/backoffice/services/sms"
	"github.com/trezcool/backoffice/storage/database/gormrepos"
	"github.com/trezcool/backoffice/tests"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

// captchaSolution solves every captcha of fakeCaptcha.
const captchaSolution = "424242"

type fakeCaptcha struct{}

func (fakeCaptcha) New() string { return "captcha-id" }

func (fakeCaptcha) WriteImage(w io.Writer, id string) error {
	if id != "captcha-id" {
		return core.ErrNotFound
	}
	_, err := w.Write([]byte("\x89PNG"))
	return err
}

func (fakeCaptcha) Verify(id, solution string) bool {
	return id == "captcha-id" && solution == captchaSolution
}

type testApp struct {
	Server
	conf    *core.Config
	c       *di.Container
	usrRepo user.Repository
	tokens  *TokenIssuer
	sms     *smssvc.ConsoleService
	gateway *paymentsvc.FakeGateway
}

// testContext returns a context canceled when the test finishes
// (stand-in for testing.T.Context on older toolchains).
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

func setup(t *testing.T) *testApp {
	// set up DB & services
	conf := testutil.NewConfig(t)
	logger := testutil.NewLogger(conf)
	db := testutil.PrepareDB(t, conf)

	app := &testApp{
		conf:    conf,
		usrRepo: gormrepos.NewUserRepository(db),
		tokens:  NewTokenIssuer(conf),
		sms:     smssvc.NewConsoleService(nil),
		gateway: paymentsvc.NewFakeGateway(conf),
	}
	c, err := di.New(testContext(t), conf, logger, db, di.Overrides{
		Mail:    emailsvc.NewConsoleServiceMock(conf, logger),
		SMS:     app.sms,
		Captcha: fakeCaptcha{},
		Gateway: app.gateway,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Broker.Close() })
	app.c = c

	// set up server
	app.Server = NewServer(&Options{
		Conf:             conf,
		Logger:           logger,
		Validate:         c.Validate,
		Translator:       c.Translator,
		DisableReqLogs:   true,
		UserSvc:          c.UserSvc,
		OTPSvc:           c.OTPSvc,
		ActivitySvc:      c.ActivitySvc,
		CMSSvc:           c.CMSSvc,
		CommunicatingSvc: c.CommunicatingSvc,
		CourseSvc:        c.CourseSvc,
		TaskSvc:          c.TaskSvc,
		ChatSvc:          c.ChatSvc,
		FileSvc:          c.FileSvc,
		PaymentSvc:       c.PaymentSvc,
		DashboardSvc:     c.DashboardSvc,
	})
	return app
}

func (app *testApp) createUser(t *testing.T, name, uname string, roles ...string) user.User {
	return testutil.CreateUser(t, app.usrRepo, name, uname, uname+"@test.cd", "pwd", roles, true)
}

func (app *testApp) getToken(t *testing.T, usr user.User) string {
	token, err := app.tokens.Issue(usr)
	require.NoError(t, err, "getToken()")
	return token
}

// do serves a request and returns the recorded response.
func (app *testApp) do(method, path, token string, data ...[]byte) *httptest.ResponseRecorder {
	req, rec := newAuthRequest(method, path, token, data...)
	app.ServeHTTP(rec, req)
	return rec
}

// post serves a JSON POST of body and returns the recorded response.
func (app *testApp) post(t *testing.T, path, token string, body interface{}) *httptest.ResponseRecorder {
	return app.do(http.MethodPost, path, token, marshallObj(t, body))
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
	extra    interface{}
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func marshallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	require.NoError(t, err, "marshallObj()")
	return data
}

func unmarshall(t *testing.T, rec *httptest.ResponseRecorder, obj interface{}) {
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), obj), "unmarshall(%s)", rec.Body.String())
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	assert.Equal(t, tt.wantCode, rec.Code, "code; body %s", rec.Body.String())
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if assert.NoError(t, err, "jsonBytesEqual() failed to compare") {
		assert.True(t, ok, "data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func runHTTPTests(t *testing.T, app *testApp, tests []httpTest) {
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodPost
			}
			rec := app.do(method, tt.path, tt.token, tt.body)
			checkCodeAndData(t, tt, rec)
		})
	}
}
