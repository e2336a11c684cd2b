// Command API exposes the identity and access HTTP API.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	redislib "github.com/go-redis/redis/v8"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/oklog/run"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	auth "github.com/castellan/castellan"
	"github.com/castellan/castellan/internal/adminapi"
	"github.com/castellan/castellan/internal/codes"
	"github.com/castellan/castellan/internal/eventsink"
	"github.com/castellan/castellan/internal/kafka"
	"github.com/castellan/castellan/internal/loginapi"
	"github.com/castellan/castellan/internal/mfaapi"
	"github.com/castellan/castellan/internal/msgpublisher"
	"github.com/castellan/castellan/internal/msgrepo"
	"github.com/castellan/castellan/internal/otp"
	"github.com/castellan/castellan/internal/password"
	"github.com/castellan/castellan/internal/passwordapi"
	"github.com/castellan/castellan/internal/postgres"
	"github.com/castellan/castellan/internal/ratelimit"
	"github.com/castellan/castellan/internal/securityapi"
	"github.com/castellan/castellan/internal/session"
	"github.com/castellan/castellan/internal/sessionapi"
	"github.com/castellan/castellan/internal/signupapi"
	"github.com/castellan/castellan/internal/token"
	"github.com/castellan/castellan/internal/tokenapi"
)

func main() {
	var err error

	var logger log.Logger
	{
		logger = log.NewJSONLogger(log.NewSyncWriter(os.Stderr))
		logger = log.With(logger, "ts", log.DefaultTimestampUTC)
		logger = log.With(logger, "caller", log.DefaultCaller)
	}

	var configPath string
	fs := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	{
		fs.String("api.environment", "development", "One of development, staging, production")
		fs.String("api.http-addr", ":8080", "Address to listen on")
		fs.String("api.allowed-origins", "*", "Comma separated list of allowed origins")
		fs.String("pg.conn-string", "", "Postgres connection string")
		fs.String("redis.conn-string", "", "Redis connection string for rate limiting and challenge locks")
		fs.Int("password.min-length", 8, "Minimum password length")
		fs.Int("password.max-length", 1000, "Maximum password length")
		fs.Int("password.kdf-cost", 12, "bcrypt cost for password digests")
		fs.String("otp.issuer", "castellan", "TOTP issuer domain")
		fs.String("otp.secret-key", "", "Encryption key for TOTP secrets at rest")
		fs.String("token.issuer", "castellan", "Signed credential issuer")
		fs.String("token.signing-key-current", "", "Current HMAC signing key, formatted id:key")
		fs.String("token.signing-key-previous", "", "Previous HMAC signing key, formatted id:key")
		fs.Duration("token.access-ttl", 15*time.Minute, "Access credential lifetime")
		fs.Duration("token.refresh-ttl", 30*24*time.Hour, "Refresh credential lifetime")
		fs.Duration("token.challenge-ttl", 10*time.Minute, "MFA challenge token lifetime")
		fs.Duration("token.key-grace", 24*time.Hour, "How long the previous signing key keeps verifying")
		fs.Duration("session.expires-in", 30*24*time.Hour, "Absolute session lifetime")
		fs.Duration("session.inactivity-timeout", 14*24*time.Hour, "Inactivity interval before forced re-authentication")
		fs.Int("eventsink.queue-size", 1024, "Buffered trail records before the sink drops")
		fs.StringSlice("kafka.brokers", []string{}, "Kafka broker host:port for outgoing mail inputs")

		fs.StringVar(&configPath, "config", "", "Path to the config file")
		err = fs.Parse(os.Args[1:])
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		if err != nil {
			logger.Log("message", "failed to parse cli flags", "error", err, "source", "cmd/api")
			os.Exit(1)
		}
	}

	if _, err = os.Stat(configPath); !os.IsNotExist(err) {
		viper.SetConfigFile(configPath)
		err = viper.ReadInConfig()
		if err != nil {
			logger.Log("message", "failed to load config file", "error", err, "source", "cmd/api")
			os.Exit(1)
		}
	}
	if err = viper.BindPFlags(fs); err != nil {
		logger.Log("message", "failed to load cli flags", "error", err, "source", "cmd/api")
		os.Exit(1)
	}

	environment := viper.GetString("api.environment")
	if environment == "development" {
		logger = level.NewFilter(logger, level.AllowDebug())
	} else {
		logger = level.NewFilter(logger, level.AllowInfo())
	}

	passwordSvc := password.NewPassword(
		password.WithMinLength(viper.GetInt("password.min-length")),
		password.WithMaxLength(viper.GetInt("password.max-length")),
		password.WithCost(viper.GetInt("password.kdf-cost")),
	)

	var pgDB *sql.DB
	{
		pgDB, err = sql.Open("postgres", viper.GetString("pg.conn-string"))
		if err != nil {
			logger.Log("message", "postgres connection failed", "error", err, "source", "cmd/api")
			os.Exit(1)
		}
		if err = pgDB.Ping(); err != nil {
			logger.Log("message", "postgres did not respond", "error", err, "source", "cmd/api")
			os.Exit(1)
		}
		defer func() {
			if err = pgDB.Close(); err != nil {
				logger.Log(
					"message", "failed to close postgres connection",
					"error", err,
					"source", "cmd/api",
				)
			}
		}()
	}

	var redisDB *redislib.Client
	{
		redisConf, err := redislib.ParseURL(viper.GetString("redis.conn-string"))
		if err != nil {
			logger.Log("message", "invalid redis configuration", "error", err, "source", "cmd/api")
			os.Exit(1)
		}
		redisDB = redislib.NewClient(redisConf)
		closeRedis := func() {
			if err = redisDB.Close(); err != nil {
				logger.Log(
					"message", "failed to close redis connection",
					"error", err,
					"source", "cmd/api",
				)
			}
		}

		if _, err = redisDB.Ping(context.Background()).Result(); err != nil {
			logger.Log("message", "redis connection failed", "error", err, "source", "cmd/api")
			closeRedis()
			os.Exit(1)
		}
		defer closeRedis()
	}

	var messageRepo auth.MessageRepository
	{
		brokers := viper.GetStringSlice("kafka.brokers")
		if len(brokers) == 0 {
			messageRepo = msgrepo.NewService(msgrepo.WithLogger(logger))
		} else {
			messageRepo = kafka.NewMessageRepository(kafka.NewClient(brokers))
		}
	}

	repoMngr := postgres.NewClient(
		postgres.WithLogger(logger),
		postgres.WithDB(pgDB),
	)

	otpSvc := otp.NewOTP(
		otp.WithIssuer(viper.GetString("otp.issuer")),
		otp.WithEncryptionSecret(viper.GetString("otp.secret-key")),
	)

	messagingSvc := msgpublisher.NewService(messageRepo, msgpublisher.WithLogger(logger))

	tokenOpts := []token.ConfigOption{
		token.WithLogger(logger),
		token.WithDB(redisDB),
		token.WithRepoManager(repoMngr),
		token.WithIssuer(viper.GetString("token.issuer")),
		token.WithAccessExpiry(viper.GetDuration("token.access-ttl")),
		token.WithRefreshExpiry(viper.GetDuration("token.refresh-ttl")),
		token.WithChallengeExpiry(viper.GetDuration("token.challenge-ttl")),
		token.WithKeyGrace(viper.GetDuration("token.key-grace")),
	}
	// The previous key must be added before the current one: the last
	// key configured signs, earlier keys only verify.
	if prev := viper.GetString("token.signing-key-previous"); prev != "" {
		secret, err := parseSigningKey(prev)
		if err != nil {
			logger.Log("message", "invalid previous signing key", "error", err, "source", "cmd/api")
			os.Exit(1)
		}
		tokenOpts = append(tokenOpts, token.WithSecret(secret))
	}
	current, err := parseSigningKey(viper.GetString("token.signing-key-current"))
	if err != nil {
		logger.Log("message", "invalid current signing key", "error", err, "source", "cmd/api")
		os.Exit(1)
	}
	tokenSvc := token.NewService(append(tokenOpts, token.WithSecret(current))...)

	limiter := ratelimit.NewLimiter(
		ratelimit.WithLogger(logger),
		ratelimit.WithDB(redisDB),
	)

	sessionSvc := session.NewService(
		session.WithLogger(logger),
		session.WithRepoManager(repoMngr),
		session.WithSessionExpiry(viper.GetDuration("session.expires-in")),
		session.WithInactivityTimeout(viper.GetDuration("session.inactivity-timeout")),
	)

	codeSvc := codes.NewService(
		codes.WithLogger(logger),
		codes.WithRepoManager(repoMngr),
		codes.WithOTP(otpSvc),
	)

	recorder := eventsink.NewService(
		eventsink.WithLogger(logger),
		eventsink.WithRepoManager(repoMngr),
		eventsink.WithQueueSize(viper.GetInt("eventsink.queue-size")),
	)

	signupAPI := signupapi.NewService(
		signupapi.WithLogger(logger),
		signupapi.WithRepoManager(repoMngr),
		signupapi.WithTokenService(tokenSvc),
		signupapi.WithPassword(passwordSvc),
		signupapi.WithCodes(codeSvc),
		signupapi.WithSessions(sessionSvc),
		signupapi.WithMessaging(messagingSvc),
	)

	loginAPI := loginapi.NewService(
		loginapi.WithLogger(logger),
		loginapi.WithRepoManager(repoMngr),
		loginapi.WithTokenService(tokenSvc),
		loginapi.WithPassword(passwordSvc),
		loginapi.WithOTP(otpSvc),
		loginapi.WithCodes(codeSvc),
		loginapi.WithSessions(sessionSvc),
		loginapi.WithLimiter(limiter),
		loginapi.WithEvents(recorder),
		loginapi.WithMessaging(messagingSvc),
	)

	tokenAPI := tokenapi.NewService(
		tokenapi.WithLogger(logger),
		tokenapi.WithRepoManager(repoMngr),
		tokenapi.WithTokenService(tokenSvc),
		tokenapi.WithSessions(sessionSvc),
		tokenapi.WithEvents(recorder),
		tokenapi.WithInactivityTimeout(viper.GetDuration("session.inactivity-timeout")),
	)

	sessionAPI := sessionapi.NewService(
		sessionapi.WithLogger(logger),
		sessionapi.WithSessions(sessionSvc),
	)

	securityAPI := securityapi.NewService(
		securityapi.WithLogger(logger),
		securityapi.WithRepoManager(repoMngr),
	)

	mfaAPI := mfaapi.NewService(
		mfaapi.WithLogger(logger),
		mfaapi.WithRepoManager(repoMngr),
		mfaapi.WithTokenService(tokenSvc),
		mfaapi.WithPassword(passwordSvc),
		mfaapi.WithOTP(otpSvc),
		mfaapi.WithCodes(codeSvc),
		mfaapi.WithEvents(recorder),
		mfaapi.WithMessaging(messagingSvc),
	)

	passwordAPI := passwordapi.NewService(
		passwordapi.WithLogger(logger),
		passwordapi.WithRepoManager(repoMngr),
		passwordapi.WithTokenService(tokenSvc),
		passwordapi.WithPassword(passwordSvc),
		passwordapi.WithCodes(codeSvc),
		passwordapi.WithSessions(sessionSvc),
		passwordapi.WithEvents(recorder),
		passwordapi.WithMessaging(messagingSvc),
	)

	adminAPI := adminapi.NewService(
		adminapi.WithLogger(logger),
		adminapi.WithRepoManager(repoMngr),
		adminapi.WithTokenService(tokenSvc),
		adminapi.WithPassword(passwordSvc),
		adminapi.WithSessions(sessionSvc),
		adminapi.WithEvents(recorder),
	)

	router := mux.NewRouter()
	router.HandleFunc("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	signupapi.SetupHTTPHandler(signupAPI, router, tokenSvc, limiter, logger)
	loginapi.SetupHTTPHandler(loginAPI, router, limiter, logger)
	tokenapi.SetupHTTPHandler(tokenAPI, router, tokenSvc, logger)
	sessionapi.SetupHTTPHandler(sessionAPI, router, tokenSvc, logger)
	securityapi.SetupHTTPHandler(securityAPI, router, tokenSvc, logger)
	mfaapi.SetupHTTPHandler(mfaAPI, router, tokenSvc, logger)
	passwordapi.SetupHTTPHandler(passwordAPI, router, tokenSvc, limiter, logger)
	adminapi.SetupHTTPHandler(adminAPI, router, tokenSvc, logger)

	server := http.Server{
		Addr: viper.GetString("api.http-addr"),
		Handler: handlers.CORS(
			handlers.AllowedOrigins(strings.Split(
				viper.GetString("api.allowed-origins"), ","),
			),
			handlers.AllowedHeaders([]string{
				"X-Requested-With",
				"Content-Type",
				"Authorization",
			}),
			handlers.AllowCredentials(),
			handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "HEAD"}),
		)(router),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())

	var g run.Group
	{
		g.Add(func() error {
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			return fmt.Errorf("signal received: %v", <-sig)
		}, func(err error) {
			logger.Log("message", "program was interrupted", "error", err, "source", "cmd/api")
			cancel()
		})
	}
	{
		g.Add(func() error {
			logger.Log(
				"message", "event sink is starting to persist trail records",
				"source", "cmd/api",
			)
			return recorder.Run(ctx)
		}, func(err error) {
			logger.Log(
				"message", "event sink was shut down",
				"error", err,
				"dropped", recorder.Dropped(),
				"source", "cmd/api",
			)
		})
	}
	{
		g.Add(func() error {
			logger.Log(
				"message", "API server is starting",
				"address", server.Addr,
				"environment", environment,
				"source", "cmd/api",
			)
			return server.ListenAndServe()
		}, func(err error) {
			logger.Log(
				"message", "API server was interrupted",
				"error", err,
				"source", "cmd/api",
			)
			logger.Log(
				"message", "API server shut down",
				"error", server.Shutdown(ctx),
				"source", "cmd/api",
			)
		})
	}

	err = g.Run()
	logger.Log("message", "actors stopped", "error", err, "source", "cmd/api")
}

// parseSigningKey splits an id:key flag value into an identified
// signing secret.
func parseSigningKey(v string) (token.Secret, error) {
	id, key, ok := strings.Cut(v, ":")
	if !ok || id == "" || key == "" {
		return token.Secret{}, fmt.Errorf("signing key must be formatted id:key")
	}
	return token.Secret{ID: id, Key: []byte(key)}, nil
}
