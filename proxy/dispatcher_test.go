package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/tronproxy/tronrpc/model"
	"github.com/tronproxy/tronrpc/upstream"
)

type DispatcherTestSuite struct {
	suite.Suite
	caller     *fakeCaller
	dispatcher *Dispatcher
}

func TestDispatcherTestSuite(t *testing.T) {
	suite.Run(t, new(DispatcherTestSuite))
}

func (s *DispatcherTestSuite) SetupTest() {
	chain := chainWithLogs(20000, 5000)
	s.caller = &fakeCaller{}
	s.caller.handle = func(request *model.RPCRequest) (*model.RPCResponse, error) {
		switch request.Method {
		case "eth_chainId":
			// Upstreams do not always echo the id back faithfully.
			return &model.RPCResponse{JsonRpcVersion: "2.0", ID: json.RawMessage("1"), Result: json.RawMessage(`"0xcd8690dc"`)}, nil
		case model.MethodNetVersion:
			return result(request, `"0xcd8690dc"`), nil
		case model.MethodGetBlockByNumber:
			return result(request, `{"number":"0x10","stateRoot":"0x","transactions":null}`), nil
		case model.MethodSyncing:
			return result(request, `{"currentBlock":"0x1","highestBlock":"0x10"}`), nil
		case "eth_sendRawTransaction":
			return rpcError(request, -32000, "nonce too low"), nil
		case "eth_timeout":
			return nil, &upstream.TransportError{Method: request.Method, Err: errors.New("context deadline exceeded (Client.Timeout exceeded while awaiting headers)")}
		case "eth_panic":
			panic("boom")
		}
		return chain(request)
	}
	s.dispatcher = newTestDispatcher(s.T(), s.caller)
}

func (s *DispatcherTestSuite) handle(body string) string {
	reply := s.dispatcher.Handle(context.Background(), []byte(body))
	out, err := json.Marshal(reply)
	s.Require().NoError(err)
	return string(out)
}

func (s *DispatcherTestSuite) TestParseError() {
	s.JSONEq(`{"jsonrpc":"2.0","error":{"code":-32700,"message":"Parse error"},"id":null}`, s.handle(`not json`))
	s.JSONEq(`{"jsonrpc":"2.0","error":{"code":-32700,"message":"Parse error"},"id":null}`, s.handle(``))
	s.Empty(s.caller.methods())
}

func (s *DispatcherTestSuite) TestInvalidRequest() {
	want := `{"jsonrpc":"2.0","error":{"code":-32600,"message":"Invalid Request"},"id":null}`
	s.JSONEq(want, s.handle(`"eth_chainId"`))
	s.JSONEq(want, s.handle(`42`))
	s.JSONEq(want, s.handle(`null`))
	s.JSONEq(want, s.handle(`[]`))
	s.JSONEq(`{"jsonrpc":"2.0","error":{"code":-32600,"message":"Invalid Request"},"id":3}`, s.handle(`{"id":3,"method":7}`))
	s.Empty(s.caller.methods())
}

func (s *DispatcherTestSuite) TestSyncingNeverCallsUpstream() {
	s.JSONEq(`{"jsonrpc":"2.0","id":"sync","result":false}`, s.handle(`{"jsonrpc":"2.0","id":"sync","method":"eth_syncing","params":[]}`))
	s.Empty(s.caller.methods())
}

func (s *DispatcherTestSuite) TestForwardRestoresID() {
	s.JSONEq(`{"jsonrpc":"2.0","id":"abc","result":"0xcd8690dc"}`, s.handle(`{"jsonrpc":"2.0","id":"abc","method":"eth_chainId","params":[]}`))
	s.JSONEq(`{"jsonrpc":"2.0","id":null,"result":"0xcd8690dc"}`, s.handle(`{"jsonrpc":"2.0","id":null,"method":"eth_chainId"}`))
}

func (s *DispatcherTestSuite) TestNormalizesResults() {
	s.JSONEq(`{"jsonrpc":"2.0","id":1,"result":"3448148188"}`, s.handle(`{"jsonrpc":"2.0","id":1,"method":"net_version","params":[]}`))

	var response model.RPCResponse
	s.Require().NoError(json.Unmarshal([]byte(s.handle(`{"jsonrpc":"2.0","id":2,"method":"eth_getBlockByNumber","params":["0x10",false]}`)), &response))
	block := decodeObject(s.T(), response.Result)
	s.Equal("0x10", block["number"])
	s.Equal(model.ZeroHash, block["stateRoot"])
	s.Equal("0x0", block["gasLimit"])
	s.Equal([]any{}, block["transactions"])
}

func (s *DispatcherTestSuite) TestUpstreamRPCErrorPassesThrough() {
	s.JSONEq(
		`{"jsonrpc":"2.0","id":4,"error":{"code":-32000,"message":"nonce too low"}}`,
		s.handle(`{"jsonrpc":"2.0","id":4,"method":"eth_sendRawTransaction","params":["0x00"]}`),
	)
}

func (s *DispatcherTestSuite) TestTransportError() {
	s.JSONEq(
		`{"jsonrpc":"2.0","id":11,"error":{"code":-32000,"message":"context deadline exceeded (Client.Timeout exceeded while awaiting headers)"}}`,
		s.handle(`{"jsonrpc":"2.0","id":11,"method":"eth_timeout","params":[]}`),
	)
}

func (s *DispatcherTestSuite) TestPanicBecomesServerError() {
	var response model.RPCResponse
	s.Require().NoError(json.Unmarshal([]byte(s.handle(`{"jsonrpc":"2.0","id":12,"method":"eth_panic"}`)), &response))
	s.Equal("12", string(response.ID))
	s.Require().NotNil(response.Error)
	s.Equal(model.CodeServerError, response.Error.Code)
	s.Contains(response.Error.Message, "boom")
}

func (s *DispatcherTestSuite) TestGetLogsScenario() {
	var response model.RPCResponse
	body := `{"jsonrpc":"2.0","id":1,"method":"eth_getLogs","params":[{"fromBlock":"0x0","toBlock":"0x2AF8"}]}`
	s.Require().NoError(json.Unmarshal([]byte(s.handle(body)), &response))
	s.Equal("1", string(response.ID))
	s.Nil(response.Error)

	var logs []json.RawMessage
	s.Require().NoError(json.Unmarshal(response.Result, &logs))
	s.Require().Len(logs, 3)
	s.JSONEq(logAt(0, 0), string(logs[0]))
	s.JSONEq(logAt(5000, 0), string(logs[1]))
	s.JSONEq(logAt(10000, 0), string(logs[2]))
}

func (s *DispatcherTestSuite) TestBatch() {
	var ids []string
	var elems []string
	methods := []string{"eth_chainId", "eth_syncing", "eth_timeout", "net_version", "eth_panic", "eth_sendRawTransaction", "eth_blockNumber"}
	for i, method := range methods {
		id := fmt.Sprintf(`"req-%d"`, i)
		ids = append(ids, id)
		elems = append(elems, fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"method":%q,"params":[]}`, id, method))
	}
	elems = append(elems, `17`)
	ids = append(ids, `null`)

	body := "["
	for i, e := range elems {
		if i > 0 {
			body += ","
		}
		body += e
	}
	body += "]"

	var responses []model.RPCResponse
	s.Require().NoError(json.Unmarshal([]byte(s.handle(body)), &responses))
	s.Require().Len(responses, len(ids))
	for i, response := range responses {
		s.Equal(ids[i], string(response.ID), "element %d", i)
	}

	s.Equal(`"0xcd8690dc"`, string(responses[0].Result))
	s.Equal(`false`, string(responses[1].Result))
	s.Equal(model.CodeServerError, responses[2].Error.Code)
	s.Equal(`"3448148188"`, string(responses[3].Result))
	s.Equal(model.CodeServerError, responses[4].Error.Code)
	s.Equal("nonce too low", responses[5].Error.Message)
	s.Equal(`"0x4e20"`, string(responses[6].Result))
	s.Equal(model.CodeInvalidRequest, responses[7].Error.Code)
}

func (s *DispatcherTestSuite) TestBatchOfOne() {
	out := s.handle(`[{"jsonrpc":"2.0","id":1,"method":"eth_syncing"}]`)
	s.JSONEq(`[{"jsonrpc":"2.0","id":1,"result":false}]`, out)
}
