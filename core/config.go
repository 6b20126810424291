package core

import (
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type (
	serverConfig struct {
		Host                      string
		Address                   string
		DebugHost                 string
		ReadTimeout               time.Duration
		WriteTimeout              time.Duration
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		CORSOrigins               []string
	}

	dbConfig struct {
		Engine        string // postgres | sqlite
		Host          string
		Port          int
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
		Path          string // sqlite only
		MaxOpenConns  int
		LogQueries    bool
	}

	paginationConfig struct {
		DefaultPageSize int
		MaxPageSize     int
	}

	redisConfig struct {
		Address  string
		Password string
		DB       int
	}

	smsConfig struct {
		GatewayURL   string
		APIKey       string
		Sender       string
		OTPTTL       time.Duration
		OTPPerMinute int
	}

	storageConfig struct {
		Driver        string // local | s3
		LocalRoot     string
		S3Bucket      string
		S3Region      string
		S3Prefix      string
		PresignExpiry time.Duration
		MaxUploadSize int64
	}

	stripeConfig struct {
		SecretKey     string
		WebhookSecret string
		Currency      string
		SuccessURL    string
		CancelURL     string
	}

	jobsConfig struct {
		Enabled                 bool
		PendingPaymentTTL       time.Duration
		ActivityRetention       time.Duration
		ExpirePaymentsSchedule  string
		PurgeActivitiesSchedule string
	}

	Config struct {
		WorkDir                   string
		AppName                   string
		Build                     string
		Env                       string
		Debug                     bool
		TestMode                  bool
		SecretKey                 string
		FrontendBaseURL           string
		DefaultFromEmail          mail.Address
		AdminEmails               []string
		PasswordResetTimeoutDelta time.Duration
		RollbarToken              string
		SendgridAPIKey            string

		Server     serverConfig
		Database   dbConfig
		Pagination paginationConfig
		Redis      redisConfig
		SMS        smsConfig
		Storage    storageConfig
		Stripe     stripeConfig
		Jobs       jobsConfig
	}
)

func (c dbConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// NewConfig loads the app configuration from the environment.
// The env prefix is the value of ENV (DEV by default), e.g. DEV_DATABASE_NAME.
// A `config/.env.<env>` file in the working directory is loaded first when it exists.
func NewConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
		v.SetDefault("database_engine", "sqlite")
		v.SetDefault("database_path", "file::memory:?cache=shared")
	}
	v.SetEnvPrefix(env)

	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrap(err, "getting working directory")
	}

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			return nil, errors.Wrapf(err, "loading %s", dotEnvPath)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "stat %s", dotEnvPath)
	}
	v.AutomaticEnv()

	fromEmail, err := mail.ParseAddress(v.GetString("defaultFromEmail"))
	if err != nil {
		return nil, errors.Wrap(err, "parsing defaultFromEmail")
	}

	conf := &Config{
		WorkDir:                   wd,
		AppName:                   v.GetString("appName"),
		Build:                     v.GetString("build"),
		Env:                       env,
		Debug:                     v.GetBool("debug"),
		TestMode:                  v.GetBool("testMode"),
		SecretKey:                 v.GetString("secretKey"),
		FrontendBaseURL:           v.GetString("frontendBaseURL"),
		DefaultFromEmail:          *fromEmail,
		AdminEmails:               splitList(v.GetString("adminEmails")),
		PasswordResetTimeoutDelta: v.GetDuration("passwordResetTimeoutDelta"),
		RollbarToken:              v.GetString("rollbarToken"),
		SendgridAPIKey:            v.GetString("sendgridApiKey"),
		Server: serverConfig{
			Host:                      v.GetString("server_host"),
			Address:                   v.GetString("server_address"),
			DebugHost:                 v.GetString("server_debugHost"),
			ReadTimeout:               v.GetDuration("server_readTimeout"),
			WriteTimeout:              v.GetDuration("server_writeTimeout"),
			ShutdownTimeout:           v.GetDuration("server_shutdownTimeout"),
			JWTExpirationDelta:        v.GetDuration("server_jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("server_jwtRefreshExpirationDelta"),
			CORSOrigins:               splitList(v.GetString("server_corsOrigins")),
		},
		Database: dbConfig{
			Engine:        v.GetString("database_engine"),
			Host:          v.GetString("database_host"),
			Port:          v.GetInt("database_port"),
			Name:          v.GetString("database_name"),
			User:          v.GetString("database_user"),
			Password:      v.GetString("database_password"),
			AdminUser:     v.GetString("database_adminUser"),
			AdminPassword: v.GetString("database_adminPassword"),
			DisableTLS:    v.GetBool("database_disableTLS"),
			Path:          v.GetString("database_path"),
			MaxOpenConns:  v.GetInt("database_maxOpenConns"),
			LogQueries:    v.GetBool("database_logQueries"),
		},
		Pagination: paginationConfig{
			DefaultPageSize: v.GetInt("pagination_defaultPageSize"),
			MaxPageSize:     v.GetInt("pagination_maxPageSize"),
		},
		Redis: redisConfig{
			Address:  v.GetString("redis_address"),
			Password: v.GetString("redis_password"),
			DB:       v.GetInt("redis_db"),
		},
		SMS: smsConfig{
			GatewayURL:   v.GetString("sms_gatewayURL"),
			APIKey:       v.GetString("sms_apiKey"),
			Sender:       v.GetString("sms_sender"),
			OTPTTL:       v.GetDuration("sms_otpTTL"),
			OTPPerMinute: v.GetInt("sms_otpPerMinute"),
		},
		Storage: storageConfig{
			Driver:        v.GetString("storage_driver"),
			LocalRoot:     v.GetString("storage_localRoot"),
			S3Bucket:      v.GetString("storage_s3Bucket"),
			S3Region:      v.GetString("storage_s3Region"),
			S3Prefix:      v.GetString("storage_s3Prefix"),
			PresignExpiry: v.GetDuration("storage_presignExpiry"),
			MaxUploadSize: v.GetInt64("storage_maxUploadSize"),
		},
		Stripe: stripeConfig{
			SecretKey:     v.GetString("stripe_secretKey"),
			WebhookSecret: v.GetString("stripe_webhookSecret"),
			Currency:      v.GetString("stripe_currency"),
			SuccessURL:    v.GetString("stripe_successURL"),
			CancelURL:     v.GetString("stripe_cancelURL"),
		},
		Jobs: jobsConfig{
			Enabled:                 v.GetBool("jobs_enabled"),
			PendingPaymentTTL:       v.GetDuration("jobs_pendingPaymentTTL"),
			ActivityRetention:       v.GetDuration("jobs_activityRetention"),
			ExpirePaymentsSchedule:  v.GetString("jobs_expirePaymentsSchedule"),
			PurgeActivitiesSchedule: v.GetString("jobs_purgeActivitiesSchedule"),
		},
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// Validate checks that the values the app cannot run without are set.
func (c *Config) Validate() error {
	err := vala.BeginValidation().Validate(
		vala.StringNotEmpty(c.SecretKey, "secretKey"),
		vala.StringNotEmpty(c.Database.Engine, "database_engine"),
		vala.StringNotEmpty(c.Storage.Driver, "storage_driver"),
		vala.GreaterThan(c.Pagination.DefaultPageSize, 0, "pagination_defaultPageSize"),
		vala.GreaterThan(c.Pagination.MaxPageSize, 0, "pagination_maxPageSize"),
	).Check()
	if err != nil {
		return errors.Wrap(err, "validating config")
	}

	switch c.Database.Engine {
	case "postgres":
		err = vala.BeginValidation().Validate(
			vala.StringNotEmpty(c.Database.Host, "database_host"),
			vala.StringNotEmpty(c.Database.Name, "database_name"),
		).Check()
	case "sqlite":
		err = vala.BeginValidation().Validate(
			vala.StringNotEmpty(c.Database.Path, "database_path"),
		).Check()
	default:
		err = errors.Errorf("unsupported database engine %q", c.Database.Engine)
	}
	if err != nil {
		return errors.Wrap(err, "validating database config")
	}

	if c.Storage.Driver == "s3" {
		err = vala.BeginValidation().Validate(
			vala.StringNotEmpty(c.Storage.S3Bucket, "storage_s3Bucket"),
			vala.StringNotEmpty(c.Storage.S3Region, "storage_s3Region"),
		).Check()
		if err != nil {
			return errors.Wrap(err, "validating storage config")
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetTypeByDefaultValue(true)

	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("appName", "Backoffice")
	v.SetDefault("build", "develop")
	v.SetDefault("secretKey", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("defaultFromEmail", "Backoffice <noreply@localhost>")
	v.SetDefault("adminEmails", "")
	v.SetDefault("passwordResetTimeoutDelta", 3*24*time.Hour)
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridApiKey", "")

	v.SetDefault("server_host", "localhost")
	v.SetDefault("server_address", ":8000")
	v.SetDefault("server_debugHost", ":4000")
	v.SetDefault("server_readTimeout", 5*time.Second)
	v.SetDefault("server_writeTimeout", 10*time.Second)
	v.SetDefault("server_shutdownTimeout", 5*time.Second)
	v.SetDefault("server_jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("server_jwtRefreshExpirationDelta", 4*time.Hour)
	v.SetDefault("server_corsOrigins", "*")

	v.SetDefault("database_engine", "postgres")
	v.SetDefault("database_host", "localhost")
	v.SetDefault("database_port", 5432)
	v.SetDefault("database_name", "backoffice")
	v.SetDefault("database_user", "backoffice")
	v.SetDefault("database_password", "")
	v.SetDefault("database_adminUser", "postgres")
	v.SetDefault("database_adminPassword", "")
	v.SetDefault("database_disableTLS", true)
	v.SetDefault("database_path", "backoffice.db")
	v.SetDefault("database_maxOpenConns", 25)
	v.SetDefault("database_logQueries", false)

	v.SetDefault("pagination_defaultPageSize", 10)
	v.SetDefault("pagination_maxPageSize", 100)

	v.SetDefault("redis_address", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)

	v.SetDefault("sms_gatewayURL", "")
	v.SetDefault("sms_apiKey", "")
	v.SetDefault("sms_sender", "Backoffice")
	v.SetDefault("sms_otpTTL", 2*time.Minute)
	v.SetDefault("sms_otpPerMinute", 3)

	v.SetDefault("storage_driver", "local")
	v.SetDefault("storage_localRoot", "media")
	v.SetDefault("storage_s3Bucket", "")
	v.SetDefault("storage_s3Region", "")
	v.SetDefault("storage_s3Prefix", "uploads")
	v.SetDefault("storage_presignExpiry", 15*time.Minute)
	v.SetDefault("storage_maxUploadSize", int64(20<<20))

	v.SetDefault("stripe_secretKey", "")
	v.SetDefault("stripe_webhookSecret", "")
	v.SetDefault("stripe_currency", "usd")
	v.SetDefault("stripe_successURL", "http://localhost:3000/payments/success")
	v.SetDefault("stripe_cancelURL", "http://localhost:3000/payments/cancel")

	v.SetDefault("jobs_enabled", true)
	v.SetDefault("jobs_pendingPaymentTTL", 24*time.Hour)
	v.SetDefault("jobs_activityRetention", 180*24*time.Hour)
	v.SetDefault("jobs_expirePaymentsSchedule", "@every 15m")
	v.SetDefault("jobs_purgeActivitiesSchedule", "@daily")
}

func splitList(s string) []string {
	items := make([]string, 0)
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// NewTestConfig returns a Config suitable for tests: in-memory sqlite, console services, no jobs.
func NewTestConfig() *Config {
	return &Config{
		WorkDir:                   ".",
		AppName:                   "Backoffice",
		Build:                     "test",
		Env:                       "TEST",
		TestMode:                  true,
		SecretKey:                 "test-secret",
		FrontendBaseURL:           "http://localhost:3000",
		DefaultFromEmail:          mail.Address{Name: "Backoffice", Address: "noreply@localhost"},
		AdminEmails:               []string{"admin@localhost"},
		PasswordResetTimeoutDelta: 3 * 24 * time.Hour,
		Server: serverConfig{
			JWTExpirationDelta:        time.Hour,
			JWTRefreshExpirationDelta: 4 * time.Hour,
			ShutdownTimeout:           time.Second,
		},
		Database: dbConfig{
			Engine:       "sqlite",
			Path:         "file::memory:",
			MaxOpenConns: 1,
		},
		Pagination: paginationConfig{DefaultPageSize: 10, MaxPageSize: 100},
		SMS:        smsConfig{Sender: "Backoffice", OTPTTL: 2 * time.Minute, OTPPerMinute: 3},
		Storage:    storageConfig{Driver: "local", MaxUploadSize: 1 << 20},
		Stripe:     stripeConfig{Currency: "usd", SuccessURL: "http://localhost/ok", CancelURL: "http://localhost/ko"},
		Jobs:       jobsConfig{PendingPaymentTTL: time.Hour, ActivityRetention: 24 * time.Hour},
	}
}
