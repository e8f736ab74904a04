package handler

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/tronproxy/tronrpc/logging"
	"github.com/tronproxy/tronrpc/proxy"
)

const banner = "TRON JSON-RPC proxy"

type (
	RPCHandlerParams struct {
		fx.In
		Dispatcher *proxy.Dispatcher
		Logger     *zap.Logger
	}

	RPCHandler struct {
		dispatcher *proxy.Dispatcher
		logger     *zap.Logger
	}
)

func NewRPCHandler(params RPCHandlerParams) *RPCHandler {
	return &RPCHandler{
		dispatcher: params.Dispatcher,
		logger:     logging.WithPackage(params.Logger),
	}
}

// PostHandler answers a JSON-RPC request or batch. JSON-RPC level failures
// are always reported in the body with status 200.
func (h *RPCHandler) PostHandler(echoCtx echo.Context) error {
	body, err := io.ReadAll(echoCtx.Request().Body)
	if err != nil {
		h.logger.Warn("error reading request bytes", zap.Error(err))
		return err
	}

	reply := h.dispatcher.Handle(echoCtx.Request().Context(), body)
	return echoCtx.JSON(http.StatusOK, reply)
}

func IndexHandler(echoCtx echo.Context) error {
	return echoCtx.String(http.StatusOK, banner)
}

func OptionsHandler(echoCtx echo.Context) error {
	return echoCtx.NoContent(http.StatusOK)
}

// Register mounts the JSON-RPC endpoints on the server.
func Register(webserver *echo.Echo, h *RPCHandler) {
	webserver.GET("/", IndexHandler)
	for _, path := range []string{"/", "/jsonrpc"} {
		webserver.OPTIONS(path, OptionsHandler)
		webserver.POST(path, h.PostHandler)
	}
}
