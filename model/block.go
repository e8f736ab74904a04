package model

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	// ZeroHash is the 32-byte zero hash, 0x followed by 64 zeros.
	ZeroHash = common.Hash{}.Hex()
	// ZeroAddress is the 20-byte zero address.
	ZeroAddress = common.Address{}.Hex()
	// ZeroNonce is the 8-byte zero block nonce.
	ZeroNonce = hexutil.Encode(make([]byte, len(types.BlockNonce{})))
	// ZeroBloom is the 256-byte zero logs bloom.
	ZeroBloom = hexutil.Encode(types.Bloom{}.Bytes())
	// EmptyData is the placeholder some upstreams emit instead of a value.
	EmptyData = "0x"
	// ZeroQuantity is the canonical encoding of a zero numeric field.
	ZeroQuantity = hexutil.EncodeUint64(0)
)

const (
	BlockFieldTransactions = "transactions"
	BlockFieldUncles       = "uncles"
)

// BlockField is a block key together with the value written when the
// upstream leaves it out.
type BlockField struct {
	Name    string
	Default string
}

// BlockFieldDefaults lists the string-typed block fields in the order they
// are filled. Uncles and transactions are list-typed and handled apart.
var BlockFieldDefaults = []BlockField{
	{"hash", ZeroHash},
	{"parentHash", ZeroHash},
	{"sha3Uncles", ZeroHash},
	{"stateRoot", ZeroHash},
	{"transactionsRoot", ZeroHash},
	{"receiptsRoot", ZeroHash},
	{"mixHash", ZeroHash},
	{"miner", ZeroAddress},
	{"nonce", ZeroNonce},
	{"logsBloom", ZeroBloom},
	{"extraData", EmptyData},
	{"difficulty", ZeroQuantity},
	{"totalDifficulty", ZeroQuantity},
	{"size", ZeroQuantity},
	{"gasLimit", ZeroQuantity},
	{"gasUsed", ZeroQuantity},
	{"timestamp", ZeroQuantity},
	{"number", ZeroQuantity},
}

// PlaceholderHashFields are repaired at any depth of a result when they
// hold EmptyData.
var PlaceholderHashFields = map[string]struct{}{
	"stateRoot":  {},
	"mixHash":    {},
	"sha3Uncles": {},
}

// IsBlankBlockValue reports whether a decoded block value counts as missing.
func IsBlankBlockValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == "" || val == EmptyData
	}
	return false
}
