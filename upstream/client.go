package upstream

import (
	"context"
	"net/http"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/uber-go/tally/v4"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/xerrors"

	"github.com/tronproxy/tronrpc/config"
	"github.com/tronproxy/tronrpc/logging"
	"github.com/tronproxy/tronrpc/model"
)

type (
	// Caller sends one JSON-RPC envelope upstream and returns the envelope
	// it answered with. It does not look at the JSON-RPC error field.
	Caller interface {
		Send(ctx context.Context, request *model.RPCRequest) (*model.RPCResponse, error)
	}

	Params struct {
		fx.In
		Config     *config.Config
		Logger     *zap.Logger
		Metrics    tally.Scope
		HTTPClient *http.Client `optional:"true"` // Injected by unit test.
	}

	Client struct {
		url        string
		headers    map[string]string
		httpClient *http.Client
		logger     *zap.Logger
		metrics    tally.Scope
	}

	// TransportError is returned when the upstream could not be reached,
	// timed out, answered with a non-2xx status or with an undecodable body.
	TransportError struct {
		Method string
		Err    error
	}
)

const scopeName = "upstream"

var (
	_ Caller = (*Client)(nil)

	Module = fx.Options(
		fx.Provide(fx.Annotate(New, fx.As(new(Caller)))),
	)
)

func New(params Params) *Client {
	httpClient := params.HTTPClient
	if httpClient == nil {
		// TRON block receipts can be very large.
		httpClient = &http.Client{Timeout: params.Config.UpstreamTimeout}
	}

	return &Client{
		url:        params.Config.UpstreamURL,
		headers:    params.Config.UpstreamHeaders(),
		httpClient: httpClient,
		logger:     logging.WithPackage(params.Logger),
		metrics:    params.Metrics.SubScope(scopeName),
	}
}

func (c *Client) Send(ctx context.Context, request *model.RPCRequest) (*model.RPCResponse, error) {
	scope := c.metrics.Tagged(map[string]string{"method": request.Method})
	scope.Counter("calls").Inc(1)
	defer c.logDuration(request, scope, time.Now())

	builder := requests.
		URL(c.url).
		Client(c.httpClient).
		BodyJSON(request)
	for key, value := range c.headers {
		builder = builder.Header(key, value)
	}

	response := new(model.RPCResponse)
	if err := builder.ToJSON(response).Fetch(ctx); err != nil {
		scope.Counter("errors").Inc(1)
		c.logger.Warn(
			"upstream call failed",
			zap.String("method", request.Method),
			zap.String("id", request.IDString()),
			zap.Error(err),
		)
		return nil, &TransportError{Method: request.Method, Err: err}
	}

	return response, nil
}

func (c *Client) logDuration(request *model.RPCRequest, scope tally.Scope, start time.Time) {
	elapsed := time.Since(start)
	scope.Timer("latency").Record(elapsed)
	c.logger.Debug(
		"upstream call",
		zap.String("method", request.Method),
		zap.String("fingerprint", request.LogFingerprint()),
		zap.Duration("elapsed", elapsed),
	)
}

func (e *TransportError) Error() string {
	return e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err was raised while talking to the upstream.
func IsTransportError(err error) bool {
	var target *TransportError
	return xerrors.As(err, &target)
}
