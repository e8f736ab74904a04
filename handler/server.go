package handler

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/xerrors"

	"github.com/tronproxy/tronrpc/config"
	"github.com/tronproxy/tronrpc/logging"
)

const (
	bodyLimit       = "10M"
	shutdownTimeout = 10 * time.Second
)

type ServerParams struct {
	fx.In
	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner
	Config     *config.Config
	Logger     *zap.Logger
	Handler    *RPCHandler
}

var Module = fx.Options(
	fx.Provide(NewRPCHandler),
	fx.Provide(NewServer),
	fx.Invoke(func(*echo.Echo) {}),
)

// NewWebserver builds the echo instance with the middleware stack and the
// JSON-RPC routes.
func NewWebserver(logger *zap.Logger, h *RPCHandler) *echo.Echo {
	webserver := echo.New()
	webserver.HideBanner = true
	webserver.HidePort = true

	webserver.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug(
				"request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			)
			return nil
		},
	}))
	webserver.Use(middleware.Recover())
	webserver.Use(middleware.BodyLimit(bodyLimit))
	webserver.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))

	Register(webserver, h)
	return webserver
}

func NewServer(params ServerParams) *echo.Echo {
	logger := logging.WithPackage(params.Logger)
	webserver := NewWebserver(logger, params.Handler)
	address := params.Config.ListenAddress()

	params.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// A port in use fails the start hook.
			listener, err := net.Listen("tcp", address)
			if err != nil {
				return xerrors.Errorf("failed to listen on %s: %w", address, err)
			}
			webserver.Listener = listener

			logger.Info(
				"TRON RPC proxy started",
				zap.Int("port", params.Config.Port),
				zap.String("upstream", params.Config.UpstreamURL),
			)
			go func() {
				if err := webserver.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server stopped", zap.Error(err))
					if err := params.Shutdowner.Shutdown(fx.ExitCode(1)); err != nil {
						logger.Error("failed to request shutdown", zap.Error(err))
					}
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			logger.Info("stopping server")
			return webserver.Shutdown(ctx)
		},
	})

	return webserver
}
