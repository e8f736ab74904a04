package model

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const (
	JsonRpcVersion = "2.0"

	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeServerError    = -32000

	MessageParseError     = "Parse error"
	MessageInvalidRequest = "Invalid Request"
)

// Method names the proxy treats specially.
const (
	MethodBlockNumber      = "eth_blockNumber"
	MethodGetLogs          = "eth_getLogs"
	MethodSyncing          = "eth_syncing"
	MethodGetBlockByNumber = "eth_getBlockByNumber"
	MethodGetBlockByHash   = "eth_getBlockByHash"
	MethodNetVersion       = "net_version"
)

// RPCRequest is a single JSON-RPC call. ID and Params are kept as raw JSON so
// they travel to the upstream and back byte for byte. Members outside the
// envelope are kept in Extra and written back when the request is encoded.
type RPCRequest struct {
	JsonRpcVersion string                     `json:"jsonrpc,omitempty"`
	ID             json.RawMessage            `json:"id,omitempty"`
	Method         string                     `json:"method"`
	Params         json.RawMessage            `json:"params,omitempty"`
	Extra          map[string]json.RawMessage `json:"-"`
}

// rpcRequestEnvelope has the fields of RPCRequest without its JSON methods.
type rpcRequestEnvelope RPCRequest

var envelopeFields = []string{"jsonrpc", "id", "method", "params"}

func (rpc *RPCRequest) UnmarshalJSON(data []byte) error {
	var envelope rpcRequestEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return err
	}

	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return err
	}
	for name := range members {
		for _, field := range envelopeFields {
			// encoding/json matches field names case-insensitively.
			if strings.EqualFold(name, field) {
				delete(members, name)
				break
			}
		}
	}

	envelope.Extra = nil
	if len(members) > 0 {
		envelope.Extra = members
	}
	*rpc = RPCRequest(envelope)
	return nil
}

func (rpc RPCRequest) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(rpcRequestEnvelope(rpc))
	if err != nil || len(rpc.Extra) == 0 {
		return raw, err
	}

	members := make(map[string]json.RawMessage, len(rpc.Extra)+len(envelopeFields))
	for name, value := range rpc.Extra {
		members[name] = value
	}
	// Envelope fields win over an extra member of the same name.
	if err := json.Unmarshal(raw, &members); err != nil {
		return nil, err
	}
	return json.Marshal(members)
}

func NewRequest(method string, id json.RawMessage, params ...any) (*RPCRequest, error) {
	if params == nil {
		params = []any{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encoding params of %s: %w", method, err)
	}
	return &RPCRequest{
		JsonRpcVersion: JsonRpcVersion,
		ID:             id,
		Method:         method,
		Params:         raw,
	}, nil
}

// Version returns the request's protocol version, defaulting to 2.0.
func (rpc *RPCRequest) Version() string {
	if rpc.JsonRpcVersion == "" {
		return JsonRpcVersion
	}
	return rpc.JsonRpcVersion
}

// ParamList splits the positional params. A missing or non-array params
// value yields an empty list.
func (rpc *RPCRequest) ParamList() (params []json.RawMessage) {
	if len(rpc.Params) == 0 || !IsArray(rpc.Params) {
		return
	}
	if err := json.Unmarshal(rpc.Params, &params); err != nil {
		return nil
	}
	return
}

// Hash digests the method and params. The id is left out so that the same
// call made under different ids shares one fingerprint.
func (rpc *RPCRequest) Hash() (hash []byte) {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(rpc.Method))
	h.Write([]byte{0})
	h.Write(bytes.TrimSpace(rpc.Params))
	hash = h.Sum(nil)
	return
}

// LogFingerprint identifies the call in log fields only.
func (rpc *RPCRequest) LogFingerprint() string {
	return base64.StdEncoding.EncodeToString(rpc.Hash())
}

// IDString renders the id for log fields.
func (rpc *RPCRequest) IDString() string {
	if len(rpc.ID) == 0 {
		return "null"
	}
	return string(rpc.ID)
}

type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type RPCResponse struct {
	JsonRpcVersion string          `json:"jsonrpc"`
	ID             json.RawMessage `json:"id"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *RPCError       `json:"error,omitempty"`
}

func NewResultResponse(version string, id json.RawMessage, result json.RawMessage) *RPCResponse {
	return &RPCResponse{
		JsonRpcVersion: version,
		ID:             id,
		Result:         result,
	}
}

func NewErrorResponse(id json.RawMessage, code int, message string) *RPCResponse {
	return &RPCResponse{
		JsonRpcVersion: JsonRpcVersion,
		ID:             id,
		Error: &RPCError{
			Code:    code,
			Message: message,
		},
	}
}

// HasResult reports whether the response carries a non-null result.
func (r *RPCResponse) HasResult() bool {
	return len(r.Result) > 0 && !IsNull(r.Result)
}

func (r *RPCResponse) ToString() string {
	tmp, _ := json.Marshal(r)
	return string(tmp)
}

// RestoreOriginalId rewrites the response id to the id of the request it answers.
func (r *RPCResponse) RestoreOriginalId(request *RPCRequest) {
	r.ID = request.ID
	if r.JsonRpcVersion == "" {
		r.JsonRpcVersion = request.Version()
	}
}

var (
	FalseResult = json.RawMessage(`false`)
	nullLiteral = []byte("null")
)

func IsNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), nullLiteral)
}

func IsObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

func IsArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}
