package httpEngine

import (
	"context"
	"crypto/tls"
	"time"

	"gatekeeper-server/configs"
	"gatekeeper-server/internal/middlewares"

	"github.com/boj/redistore"
	"github.com/gomodule/redigo/redis"
	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

type Server struct {
	e *echo.Echo
}

// NewServer instantiates Echo, initializes the session store, and registers
// routes. Note there is no IP extractor configured on purpose: behind an
// onion service every request arrives from localhost, and nothing in this
// service may key on a network address.
func NewServer() *Server {
	e := echo.New()
	e.HideBanner = true

	requestLoggerConfig := initCustomRequestLoggerConfig()
	e.Use(middleware.RequestLoggerWithConfig(*requestLoggerConfig))

	store, err := initSessionStore()
	if err != nil {
		return nil
	}
	e.Use(session.Middleware(store))

	e.Use(middleware.Recover())
	e.Use(middlewares.SessionMiddleware)
	e.Use(middlewares.RateLimitMiddleware)

	RegisterRoutes(e)

	return &Server{e: e}
}

// Start runs the Echo server on the configured HTTP port.
func (s *Server) Start() error {
	port := configs.Configs.Service.HttpPort
	if port == "" {
		port = "8080"
	}
	return s.e.Start(":" + port)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

// initSessionStore initializes the Redis-backed session store.
func initSessionStore() (store *redistore.RediStore, err error) {
	if len(configs.Configs.Redis.Addresses) == 0 {
		configs.Logger.Fatal("No Redis addresses configured for session store")
	}

	redisAddress := configs.Configs.Redis.Addresses[0]
	secretKey := []byte(configs.Configs.Secrets.SessionSecret)

	pool := &redis.Pool{
		MaxIdle:     10,
		MaxActive:   0, // 0 means unlimited
		IdleTimeout: 240 * time.Second,
		Dial: func() (redis.Conn, error) {
			var options []redis.DialOption

			if configs.Configs.Redis.Username != "" {
				options = append(options, redis.DialUsername(configs.Configs.Redis.Username))
			}
			if configs.Configs.Redis.Password != "" {
				options = append(options, redis.DialPassword(configs.Configs.Redis.Password))
			}
			if configs.Configs.Redis.Tls {
				options = append(options,
					redis.DialUseTLS(true),
					redis.DialTLSConfig(&tls.Config{
						InsecureSkipVerify: true,
					}),
				)
			}
			return redis.Dial("tcp", redisAddress, options...)
		},
	}

	store, err = redistore.NewRediStoreWithPool(pool, secretKey)
	if err != nil {
		configs.Logger.Fatal("Failed to create Redis-based session store", zap.Error(err))
		return nil, err
	}

	store.SetKeyPrefix("session:")

	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   configs.Configs.Service.SessionExpireMin * 60,
		HttpOnly: true,
		Secure:   configs.Configs.Service.SecureCookies,
	}

	configs.Logger.Info("Session store initialized",
		zap.String("redisAddress", redisAddress),
		zap.Int("sessionExpireMin", configs.Configs.Service.SessionExpireMin),
		zap.Bool("httpOnly", true),
		zap.Bool("secure", configs.Configs.Service.SecureCookies),
	)

	return store, nil
}

// initCustomRequestLoggerConfig builds the request log. Remote IP, user
// agent, referer, and form values are deliberately absent: clients arrive
// over Tor and request logs must not accumulate anything that could
// deanonymize them.
func initCustomRequestLoggerConfig() *middleware.RequestLoggerConfig {
	return &middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			return c.Request().URL.Path == "/"
		},
		HandleError: true,

		LogLatency:      true,
		LogProtocol:     true,
		LogMethod:       true,
		LogURIPath:      true,
		LogRoutePath:    true,
		LogRequestID:    true,
		LogStatus:       true,
		LogError:        true,
		LogResponseSize: true,

		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("request.protocol", v.Protocol),
				zap.String("request.method", v.Method),
				zap.String("request.path", v.URIPath),
				zap.String("request.route", v.RoutePath),
				zap.String("request.request_id", v.RequestID),
				zap.Int("response.status", v.Status),
				zap.Duration("response.latency", v.Latency),
				zap.Int64("response.response_size", v.ResponseSize),
			}

			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
				configs.Logger.Error("Request log with error", fields...)
				return nil
			}

			configs.Logger.Info("Request log", fields...)
			return nil
		},
	}
}
