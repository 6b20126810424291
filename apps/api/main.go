package main

import (
	"context"
	"expvar"
	"fmt"
	"net/http"
	_ "net/http/pprof" // register the /debug/pprof handlers
	"os"

	"github.com/trezcool/backoffice/apps/api/di"
	"github.com/trezcool/backoffice/apps/api/echo"
	"github.com/trezcool/backoffice/core"
	"github.com/trezcool/backoffice/core/user"
	"github.com/trezcool/backoffice/services/jobs"
	"github.com/trezcool/backoffice/services/logger"
	"github.com/trezcool/backoffice/storage/database"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf, err := core.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	logger := logsvc.NewRollbarLogger(logsvc.NewStdLogger(conf), conf)
	defer logger.Close()

	// set up DB
	if err = database.CreateIfNotExist(conf); err != nil {
		logger.Fatal(fmt.Sprintf("creating database: %v", err), err)
	}
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}
	if err = database.Migrate(db); err != nil {
		logger.Fatal(fmt.Sprintf("migrating database: %v", err), err)
	}

	// set up services
	ctx := context.Background()
	app, err := di.New(ctx, conf, logger, db, di.Overrides{})
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up services: %v", err), err)
	}
	defer func() {
		if err = app.Close(); err != nil {
			logger.Error("closing services", err)
		}
	}()

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	core.ParseEmailTemplates(conf, logger)
	user.LoadCommonPasswords(logger)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start Jobs

	if conf.Jobs.Enabled {
		executor := jobs.NewTaskExecutor(logger, app.Jobs()...)
		if err = executor.Start(); err != nil {
			logger.Fatal(fmt.Sprintf("starting jobs: %v", err), err)
		}
		defer executor.Stop()
	}

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(&echoapi.Options{
		Conf:             conf,
		Logger:           logger,
		Validate:         app.Validate,
		Translator:       app.Translator,
		UserSvc:          app.UserSvc,
		OTPSvc:           app.OTPSvc,
		ActivitySvc:      app.ActivitySvc,
		CMSSvc:           app.CMSSvc,
		CommunicatingSvc: app.CommunicatingSvc,
		CourseSvc:        app.CourseSvc,
		TaskSvc:          app.TaskSvc,
		ChatSvc:          app.ChatSvc,
		FileSvc:          app.FileSvc,
		PaymentSvc:       app.PaymentSvc,
		DashboardSvc:     app.DashboardSvc,
	})

	go server.Start()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Error(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(ctx, conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Error(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}
