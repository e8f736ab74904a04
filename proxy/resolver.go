package proxy

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/common/math"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/xerrors"

	"github.com/tronproxy/tronrpc/logging"
	"github.com/tronproxy/tronrpc/model"
	"github.com/tronproxy/tronrpc/upstream"
)

const (
	TagLatest   = "latest"
	TagPending  = "pending"
	TagEarliest = "earliest"
)

type (
	ResolverParams struct {
		fx.In
		Caller upstream.Caller
		Logger *zap.Logger
	}

	// BlockTagResolver turns block tags into heights.
	BlockTagResolver struct {
		caller upstream.Caller
		logger *zap.Logger
	}
)

// blockNumberID is the id used for the internal eth_blockNumber lookups.
var blockNumberID = json.RawMessage("1")

func NewBlockTagResolver(params ResolverParams) *BlockTagResolver {
	return &BlockTagResolver{
		caller: params.Caller,
		logger: logging.WithPackage(params.Logger),
	}
}

// Resolve returns the height a raw tag refers to. ok is false when the tag
// cannot be resolved; err is only set when the upstream could not be reached.
// A missing or null tag means latest.
func (r *BlockTagResolver) Resolve(ctx context.Context, tag json.RawMessage) (height uint64, ok bool, err error) {
	if len(tag) == 0 || model.IsNull(tag) {
		return r.ResolveTag(ctx, TagLatest)
	}

	var s string
	if err := json.Unmarshal(tag, &s); err != nil {
		return 0, false, nil
	}
	return r.ResolveTag(ctx, s)
}

func (r *BlockTagResolver) ResolveTag(ctx context.Context, tag string) (uint64, bool, error) {
	switch tag {
	case TagLatest, TagPending:
		// There is no separate pending block on this chain, so pending is the head.
		height, err := r.headHeight(ctx)
		if err != nil {
			return 0, false, err
		}
		return height, true, nil
	case TagEarliest:
		return 0, true, nil
	}

	height, ok := ParseHexQuantity(tag)
	return height, ok, nil
}

// headHeight asks the upstream for the current height. An answer that does
// not parse counts as height zero.
func (r *BlockTagResolver) headHeight(ctx context.Context) (uint64, error) {
	request, err := model.NewRequest(model.MethodBlockNumber, blockNumberID)
	if err != nil {
		return 0, err
	}

	response, err := r.caller.Send(ctx, request)
	if err != nil {
		return 0, xerrors.Errorf("failed to resolve head height: %w", err)
	}

	var result string
	if response.HasResult() {
		if err := json.Unmarshal(response.Result, &result); err != nil {
			result = ""
		}
	}

	height, ok := ParseHexQuantity(result)
	if !ok {
		r.logger.Debug("unparsable head height, using zero", zap.String("result", string(response.Result)))
		return 0, nil
	}
	return height, nil
}

// ParseHexQuantity parses a 0x-prefixed hexadecimal integer.
func ParseHexQuantity(s string) (uint64, bool) {
	if !strings.HasPrefix(s, "0x") {
		return 0, false
	}
	return math.ParseUint64(s)
}
