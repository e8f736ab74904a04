package proxy

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/uber-go/tally/v4"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/xerrors"

	"github.com/tronproxy/tronrpc/config"
	"github.com/tronproxy/tronrpc/logging"
	"github.com/tronproxy/tronrpc/model"
	"github.com/tronproxy/tronrpc/upstream"
)

const (
	filterFromBlock = "fromBlock"
	filterToBlock   = "toBlock"
)

type (
	SplitterParams struct {
		fx.In
		Config   *config.Config
		Caller   upstream.Caller
		Resolver *BlockTagResolver
		Logger   *zap.Logger
		Metrics  tally.Scope
	}

	// LogRangeSplitter serves eth_getLogs windows wider than the upstream
	// accepts by querying consecutive sub-ranges and merging the logs.
	LogRangeSplitter struct {
		caller   upstream.Caller
		resolver *BlockTagResolver
		maxRange uint64
		logger   *zap.Logger
		metrics  tally.Scope
	}

	blockRange struct {
		from uint64
		to   uint64
	}
)

func NewLogRangeSplitter(params SplitterParams) *LogRangeSplitter {
	maxRange := params.Config.MaxLogBlockRange
	if maxRange == 0 {
		maxRange = config.DefaultMaxLogBlockRange
	}

	return &LogRangeSplitter{
		caller:   params.Caller,
		resolver: params.Resolver,
		maxRange: maxRange,
		logger:   logging.WithPackage(params.Logger),
		metrics:  params.Metrics.SubScope("getlogs"),
	}
}

// Split answers an eth_getLogs request. Requests without a filter object,
// with a range that cannot be resolved, an inverted range or a range within
// the limit are forwarded untouched.
func (s *LogRangeSplitter) Split(ctx context.Context, request *model.RPCRequest) (*model.RPCResponse, error) {
	filter, ok := logFilter(request)
	if !ok {
		return s.caller.Send(ctx, request)
	}

	from, ok, err := s.resolver.Resolve(ctx, filter[filterFromBlock])
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.caller.Send(ctx, request)
	}

	to, ok, err := s.resolver.Resolve(ctx, filter[filterToBlock])
	if err != nil {
		return nil, err
	}
	if !ok || from > to {
		return s.caller.Send(ctx, request)
	}

	// to-from+1 > maxRange, written so that it cannot overflow.
	if to-from < s.maxRange {
		return s.caller.Send(ctx, request)
	}

	ranges := s.subRanges(from, to)
	s.metrics.Counter("split").Inc(1)
	s.logger.Debug(
		"splitting eth_getLogs",
		zap.String("id", request.IDString()),
		zap.Uint64("from", from),
		zap.Uint64("to", to),
		zap.Int("chunks", len(ranges)),
	)

	merged := make([]json.RawMessage, 0)
	seen := make(map[model.LogKey]struct{})
	for _, br := range ranges {
		chunk, err := chunkRequest(request, filter, br)
		if err != nil {
			return nil, err
		}

		s.metrics.Counter("chunks").Inc(1)
		response, err := s.caller.Send(ctx, chunk)
		if err != nil {
			return nil, err
		}
		if response.Error != nil {
			s.logger.Warn(
				"eth_getLogs chunk failed, aborting merge",
				zap.String("id", request.IDString()),
				zap.Uint64("from", br.from),
				zap.Uint64("to", br.to),
				zap.Int("code", response.Error.Code),
				zap.String("message", response.Error.Message),
			)
			return response, nil
		}

		var logs []json.RawMessage
		if response.HasResult() {
			if err := json.Unmarshal(response.Result, &logs); err != nil {
				return nil, xerrors.Errorf("unexpected eth_getLogs result for blocks %d-%d: %w", br.from, br.to, err)
			}
		}

		// Overlapping boundaries may repeat a log.
		for _, entry := range logs {
			key := model.NewLogKey(entry)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, entry)
		}
	}

	result, err := json.Marshal(merged)
	if err != nil {
		return nil, xerrors.Errorf("failed to encode merged logs: %w", err)
	}
	return model.NewResultResponse(model.JsonRpcVersion, request.ID, result), nil
}

// subRanges partitions [from, to] into ascending windows of at most maxRange blocks.
func (s *LogRangeSplitter) subRanges(from, to uint64) []blockRange {
	var ranges []blockRange
	for curr := from; ; {
		end := curr + s.maxRange - 1
		if end > to || end < curr {
			end = to
		}
		ranges = append(ranges, blockRange{from: curr, to: end})
		if end == to {
			return ranges
		}
		curr = end + 1
	}
}

// logFilter returns the filter object in the first param.
func logFilter(request *model.RPCRequest) (map[string]json.RawMessage, bool) {
	params := request.ParamList()
	if len(params) == 0 || !model.IsObject(params[0]) {
		return nil, false
	}

	var filter map[string]json.RawMessage
	if err := json.Unmarshal(params[0], &filter); err != nil {
		return nil, false
	}
	return filter, true
}

func chunkRequest(request *model.RPCRequest, filter map[string]json.RawMessage, br blockRange) (*model.RPCRequest, error) {
	chunkFilter := make(map[string]json.RawMessage, len(filter)+2)
	for k, v := range filter {
		chunkFilter[k] = v
	}

	from, err := json.Marshal(hexutil.EncodeUint64(br.from))
	if err != nil {
		return nil, err
	}
	to, err := json.Marshal(hexutil.EncodeUint64(br.to))
	if err != nil {
		return nil, err
	}
	chunkFilter[filterFromBlock] = from
	chunkFilter[filterToBlock] = to

	chunk, err := model.NewRequest(model.MethodGetLogs, request.ID, chunkFilter)
	if err != nil {
		return nil, xerrors.Errorf("failed to build eth_getLogs chunk %d-%d: %w", br.from, br.to, err)
	}
	chunk.JsonRpcVersion = request.Version()
	chunk.Extra = request.Extra
	return chunk, nil
}
