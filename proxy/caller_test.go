package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/uber-go/tally/v4"
	"go.uber.org/zap/zaptest"

	"github.com/tronproxy/tronrpc/config"
	"github.com/tronproxy/tronrpc/model"
)

// fakeCaller records every request and answers through handle.
type fakeCaller struct {
	mu       sync.Mutex
	requests []*model.RPCRequest
	handle   func(request *model.RPCRequest) (*model.RPCResponse, error)
}

func (f *fakeCaller) Send(ctx context.Context, request *model.RPCRequest) (*model.RPCResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, request)
	f.mu.Unlock()
	return f.handle(request)
}

func (f *fakeCaller) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	methods := make([]string, len(f.requests))
	for i, r := range f.requests {
		methods[i] = r.Method
	}
	return methods
}

func (f *fakeCaller) count(method string) int {
	n := 0
	for _, m := range f.methods() {
		if m == method {
			n++
		}
	}
	return n
}

func testConfig() *config.Config {
	return &config.Config{
		UpstreamURL:      "http://upstream.invalid/jsonrpc",
		BatchConcurrency: 4,
		MaxLogBlockRange: config.DefaultMaxLogBlockRange,
	}
}

func newTestResolver(t *testing.T, caller *fakeCaller) *BlockTagResolver {
	return NewBlockTagResolver(ResolverParams{
		Caller: caller,
		Logger: zaptest.NewLogger(t),
	})
}

func newTestSplitter(t *testing.T, caller *fakeCaller) *LogRangeSplitter {
	return NewLogRangeSplitter(SplitterParams{
		Config:   testConfig(),
		Caller:   caller,
		Resolver: newTestResolver(t, caller),
		Logger:   zaptest.NewLogger(t),
		Metrics:  tally.NoopScope,
	})
}

func newTestDispatcher(t *testing.T, caller *fakeCaller) *Dispatcher {
	return NewDispatcher(DispatcherParams{
		Config:   testConfig(),
		Caller:   caller,
		Splitter: newTestSplitter(t, caller),
		Logger:   zaptest.NewLogger(t),
		Metrics:  tally.NoopScope,
	})
}

func result(request *model.RPCRequest, raw string) *model.RPCResponse {
	return &model.RPCResponse{
		JsonRpcVersion: model.JsonRpcVersion,
		ID:             request.ID,
		Result:         json.RawMessage(raw),
	}
}

func rpcError(request *model.RPCRequest, code int, message string) *model.RPCResponse {
	return &model.RPCResponse{
		JsonRpcVersion: model.JsonRpcVersion,
		ID:             request.ID,
		Error:          &model.RPCError{Code: code, Message: message},
	}
}

// filterRange decodes the fromBlock/toBlock hex bounds of an eth_getLogs request.
func filterRange(request *model.RPCRequest) (from uint64, to uint64, err error) {
	filter, ok := logFilter(request)
	if !ok {
		return 0, 0, fmt.Errorf("no filter")
	}
	var fromTag, toTag string
	if err := json.Unmarshal(filter[filterFromBlock], &fromTag); err != nil {
		return 0, 0, err
	}
	if err := json.Unmarshal(filter[filterToBlock], &toTag); err != nil {
		return 0, 0, err
	}
	if from, err = hexutil.DecodeUint64(fromTag); err != nil {
		return 0, 0, err
	}
	if to, err = hexutil.DecodeUint64(toTag); err != nil {
		return 0, 0, err
	}
	return from, to, nil
}

// logAt renders a log entry emitted at the given block.
func logAt(block uint64, index int) string {
	return fmt.Sprintf(
		`{"blockHash":"0x%064x","blockNumber":"%s","transactionHash":"0x%064x","logIndex":"%s","data":"0x"}`,
		block, hexutil.EncodeUint64(block), block+1, hexutil.EncodeUint64(uint64(index)),
	)
}

// chainWithLogs answers eth_blockNumber with head and eth_getLogs with one
// log at every block in the requested range that is a multiple of every.
func chainWithLogs(head uint64, every uint64) func(request *model.RPCRequest) (*model.RPCResponse, error) {
	return func(request *model.RPCRequest) (*model.RPCResponse, error) {
		switch request.Method {
		case model.MethodBlockNumber:
			return result(request, fmt.Sprintf("%q", hexutil.EncodeUint64(head))), nil
		case model.MethodGetLogs:
			from, to, err := filterRange(request)
			if err != nil {
				return rpcError(request, -32602, err.Error()), nil
			}
			if to-from+1 > config.DefaultMaxLogBlockRange {
				return rpcError(request, -32005, "exceed max block range: 5000"), nil
			}
			logs := make([]json.RawMessage, 0)
			for b := from; b <= to; b++ {
				if b%every == 0 {
					logs = append(logs, json.RawMessage(logAt(b, 0)))
				}
			}
			raw, _ := json.Marshal(logs)
			return result(request, string(raw)), nil
		}
		return result(request, "null"), nil
	}
}
