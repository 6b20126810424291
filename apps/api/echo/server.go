package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/rs/cors"

	"github.com/trezcool/backoffice/core"
	"github.com/trezcool/backoffice/core/activity"
	"github.com/trezcool/backoffice/core/chat"
	"github.com/trezcool/backoffice/core/cms"
	"github.com/trezcool/backoffice/core/communicating"
	"github.com/trezcool/backoffice/core/course"
	"github.com/trezcool/backoffice/core/dashboard"
	"github.com/trezcool/backoffice/core/filemanager"
	"github.com/trezcool/backoffice/core/payment"
	"github.com/trezcool/backoffice/core/taskmanager"
	"github.com/trezcool/backoffice/core/user"
)

type (
	Options struct {
		Conf           *core.Config
		Logger         core.Logger
		Validate       *validator.Validate
		Translator     *ut.UniversalTranslator
		DisableReqLogs bool

		UserSvc          *user.Service
		OTPSvc           *user.OTPService
		ActivitySvc      *activity.Service
		CMSSvc           *cms.Contents
		CommunicatingSvc *communicating.Service
		CourseSvc        *course.Service
		TaskSvc          *taskmanager.Service
		ChatSvc          *chat.Service
		FileSvc          *filemanager.Service
		PaymentSvc       *payment.Service
		DashboardSvc     *dashboard.Service
	}

	Server interface {
		http.Handler
		Start()
		Errors() <-chan error
		ShutdownSignal() <-chan os.Signal
		Shutdown(context.Context) error
		Close() error
	}

	server struct {
		opts     *Options
		app      *echo.Echo
		http     *http.Server
		tokens   *TokenIssuer
		schema   *schemaRegistry
		errors   chan error
		shutdown chan os.Signal
	}
)

var _ Server = (*server)(nil)

func NewServer(opts *Options) Server {
	s := &server{
		opts:     opts,
		app:      echo.New(),
		tokens:   NewTokenIssuer(opts.Conf),
		schema:   new(schemaRegistry),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	s.setup()

	conf := opts.Conf.Server
	s.http = &http.Server{
		Addr:         conf.Address,
		Handler:      s.corsHandler(),
		ReadTimeout:  conf.ReadTimeout,
		WriteTimeout: conf.WriteTimeout,
	}
	return s
}

func (s *server) setup() {
	conf := s.opts.Conf

	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.opts.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.opts.Logger, s.opts.Translator, s.signalShutdown)
	if s.opts.Translator != nil {
		core.RegisterMessages(s.opts.Translator, httpMessages)
	}
	s.app.Validator = &appValidator{validate: s.opts.Validate}
	s.app.Debug = conf.Debug

	s.app.GET("/", s.home)

	jwt := s.jwtMiddleware("header:" + echo.HeaderAuthorization)
	authed := []echo.MiddlewareFunc{jwt, actorMiddleware}

	// the browser WebSocket API cannot set headers: the token is passed in the query string
	s.registerChatSocket(s.app.Group("/chat", s.jwtMiddleware("query:token"), actorMiddleware))

	const v1Path = "/api/v1"
	v1 := s.app.Group(v1Path)
	v1.GET("/schema", s.schema.list, authed...)

	s.registerUserAPI(newModule(v1, v1Path, "security"), authed)
	s.registerActivityAPI(newModule(v1, v1Path, "activity", authed...))
	s.registerCMSAPI(newModule(v1, v1Path, "cms", authed...))
	s.registerCommunicatingAPI(newModule(v1, v1Path, "communicating"), authed)
	s.registerCourseAPI(newModule(v1, v1Path, "course", authed...))
	s.registerTaskAPI(newModule(v1, v1Path, "task_manager", authed...))
	s.registerChatAPI(newModule(v1, v1Path, "chat", authed...))
	s.registerFileAPI(newModule(v1, v1Path, "file_manager", authed...))
	s.registerPaymentAPI(newModule(v1, v1Path, "payment"), authed)
	s.registerDashboardAPI(newModule(v1, v1Path, "dashboard", authed...))
}

func (s *server) corsHandler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   s.opts.Conf.Server.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders:   []string{echo.HeaderAuthorization, echo.HeaderContentType, echo.HeaderAcceptEncoding, "Accept-Language"},
		AllowCredentials: true,
	}).Handler(s.app)
}

func (s *server) Start() {
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	s.opts.Logger.Info("API listening on " + s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *server) Errors() <-chan error { return s.errors }

func (s *server) ShutdownSignal() <-chan os.Signal { return s.shutdown }

func (s *server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default: // already shutting down
	}
}

func (s *server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *server) Close() error {
	return s.http.Close()
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.http.Handler.ServeHTTP(w, r)
}

func (s *server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to "+s.opts.Conf.AppName+" API!")
}

type appValidator struct {
	validate *validator.Validate
}

func (v *appValidator) Validate(i interface{}) error {
	if v.validate == nil {
		return nil
	}
	return v.validate.Struct(i)
}
