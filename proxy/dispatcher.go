package proxy

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/uber-go/tally/v4"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/tronproxy/tronrpc/config"
	"github.com/tronproxy/tronrpc/logging"
	"github.com/tronproxy/tronrpc/model"
	"github.com/tronproxy/tronrpc/upstream"
)

type (
	DispatcherParams struct {
		fx.In
		Config   *config.Config
		Caller   upstream.Caller
		Splitter *LogRangeSplitter
		Logger   *zap.Logger
		Metrics  tally.Scope
	}

	// Dispatcher routes single and batch JSON-RPC payloads through the
	// method specific paths and assembles the reply.
	Dispatcher struct {
		caller           upstream.Caller
		splitter         *LogRangeSplitter
		batchConcurrency int
		logger           *zap.Logger
		metrics          tally.Scope
	}
)

var Module = fx.Options(
	fx.Provide(NewBlockTagResolver),
	fx.Provide(NewLogRangeSplitter),
	fx.Provide(NewDispatcher),
)

func NewDispatcher(params DispatcherParams) *Dispatcher {
	concurrency := params.Config.BatchConcurrency
	if concurrency < 1 {
		concurrency = 1
	}

	return &Dispatcher{
		caller:           params.Caller,
		splitter:         params.Splitter,
		batchConcurrency: concurrency,
		logger:           logging.WithPackage(params.Logger),
		metrics:          params.Metrics.SubScope("dispatch"),
	}
}

// Handle answers a raw request body. The reply is a *model.RPCResponse for a
// single request or for a payload that is rejected as a whole, and a
// []*model.RPCResponse in request order for a batch.
func (d *Dispatcher) Handle(ctx context.Context, body []byte) any {
	body = bytes.TrimSpace(body)
	if !json.Valid(body) {
		return model.NewErrorResponse(nil, model.CodeParseError, model.MessageParseError)
	}

	switch {
	case model.IsObject(body):
		return d.handleSingle(ctx, body)
	case model.IsArray(body):
		var batch []json.RawMessage
		if err := json.Unmarshal(body, &batch); err != nil || len(batch) == 0 {
			return model.NewErrorResponse(nil, model.CodeInvalidRequest, model.MessageInvalidRequest)
		}
		return d.handleBatch(ctx, batch)
	default:
		return model.NewErrorResponse(nil, model.CodeInvalidRequest, model.MessageInvalidRequest)
	}
}

func (d *Dispatcher) handleBatch(ctx context.Context, batch []json.RawMessage) []*model.RPCResponse {
	d.logger.Debug("handling batch", zap.Int("size", len(batch)))

	responses := make([]*model.RPCResponse, len(batch))
	var g errgroup.Group
	g.SetLimit(d.batchConcurrency)
	for i, raw := range batch {
		i, raw := i, raw
		g.Go(func() error {
			// Failures stay inside the element's own response.
			responses[i] = d.handleSingle(ctx, raw)
			return nil
		})
	}
	_ = g.Wait()
	return responses
}

func (d *Dispatcher) handleSingle(ctx context.Context, raw json.RawMessage) *model.RPCResponse {
	if !model.IsObject(raw) {
		return model.NewErrorResponse(nil, model.CodeInvalidRequest, model.MessageInvalidRequest)
	}

	request := new(model.RPCRequest)
	if err := json.Unmarshal(raw, request); err != nil {
		return model.NewErrorResponse(requestID(raw), model.CodeInvalidRequest, model.MessageInvalidRequest)
	}

	response, err := d.Dispatch(ctx, request)
	if err != nil {
		d.logger.Warn(
			"request failed",
			zap.String("method", request.Method),
			zap.String("id", request.IDString()),
			zap.Bool("transport", upstream.IsTransportError(err)),
			zap.Error(err),
		)
		return model.NewErrorResponse(request.ID, model.CodeServerError, err.Error())
	}
	return response
}

// Dispatch processes one decoded request. Any error, including a panic while
// processing, is returned for the caller to turn into a JSON-RPC error.
func (d *Dispatcher) Dispatch(ctx context.Context, request *model.RPCRequest) (response *model.RPCResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			response = nil
			err = xerrors.Errorf("panic while handling %s: %v", request.Method, r)
		}
	}()

	d.metrics.Tagged(map[string]string{"method": request.Method}).Counter("requests").Inc(1)
	d.logger.Debug(
		"dispatching request",
		zap.String("method", request.Method),
		zap.String("id", request.IDString()),
		zap.String("fingerprint", request.LogFingerprint()),
	)

	switch request.Method {
	case model.MethodSyncing:
		// The indexer only uses eth_syncing as a readiness probe.
		return model.NewResultResponse(request.Version(), request.ID, model.FalseResult), nil
	case model.MethodGetLogs:
		response, err = d.splitter.Split(ctx, request)
	default:
		response, err = d.caller.Send(ctx, request)
	}
	if err != nil {
		return nil, err
	}
	if response == nil {
		return nil, xerrors.Errorf("empty upstream response for %s", request.Method)
	}

	response.RestoreOriginalId(request)
	if response.HasResult() {
		response.Result = Normalize(request.Method, response.Result)
	}
	return response, nil
}

// requestID extracts the id of a request that failed to decode, if any.
func requestID(raw json.RawMessage) json.RawMessage {
	var envelope struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil
	}
	return envelope.ID
}
