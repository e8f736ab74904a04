package proxy

import (
	"bytes"
	"encoding/json"
	"math/big"
	"strings"

	"github.com/tronproxy/tronrpc/model"
)

// placeholder is how EmptyData appears inside an encoded result.
var placeholder = []byte(`"` + model.EmptyData + `"`)

// Normalize rewrites an upstream result for method into the shape Ethereum
// clients expect. It never fails: results it cannot decode, or that need no
// change, are returned as they came.
func Normalize(method string, result json.RawMessage) json.RawMessage {
	if len(result) == 0 || model.IsNull(result) {
		return result
	}

	isBlock := method == model.MethodGetBlockByNumber || method == model.MethodGetBlockByHash
	isNetVersion := method == model.MethodNetVersion
	if !isBlock && !isNetVersion && !bytes.Contains(result, placeholder) {
		return result
	}

	decoder := json.NewDecoder(bytes.NewReader(result))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return result
	}

	changed := false
	switch {
	case isBlock:
		if block, ok := value.(map[string]any); ok {
			changed = FillBlockDefaults(block)
		}
	case isNetVersion:
		if s, ok := value.(string); ok {
			if decimal, ok := ChainIDToDecimal(s); ok {
				value = decimal
				changed = true
			}
		}
	}

	if RepairPlaceholderHashes(value) {
		changed = true
	}
	if !changed {
		return result
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(value); err != nil {
		return result
	}
	return bytes.TrimRight(buf.Bytes(), "\n")
}

// FillBlockDefaults writes the zero value of every well-known block field
// that is missing, null, empty or 0x, and makes sure transactions is a list.
// It reports whether the block was modified.
func FillBlockDefaults(block map[string]any) bool {
	changed := false
	for _, field := range model.BlockFieldDefaults {
		v := block[field.Name]
		if model.IsBlankBlockValue(v) && v != any(field.Default) {
			block[field.Name] = field.Default
			changed = true
		}
	}

	if model.IsBlankBlockValue(block[model.BlockFieldUncles]) {
		block[model.BlockFieldUncles] = []any{}
		changed = true
	}
	if block[model.BlockFieldTransactions] == nil {
		block[model.BlockFieldTransactions] = []any{}
		changed = true
	}
	return changed
}

// ChainIDToDecimal re-encodes a hex chain id of any size as a decimal string.
// Leading zeros are accepted.
func ChainIDToDecimal(s string) (string, bool) {
	digits, ok := strings.CutPrefix(s, "0x")
	if !ok || digits == "" || digits[0] == '+' || digits[0] == '-' {
		return "", false
	}
	id, ok := new(big.Int).SetString(digits, 16)
	if !ok {
		return "", false
	}
	return id.String(), true
}

// RepairPlaceholderHashes replaces EmptyData under any PlaceholderHashFields
// key, at any depth, with the zero hash. The walk uses an explicit stack so
// deeply nested results cannot exhaust the goroutine stack.
func RepairPlaceholderHashes(root any) bool {
	changed := false
	stack := []any{root}
	for len(stack) > 0 {
		n := len(stack) - 1
		curr := stack[n]
		stack = stack[:n]

		switch node := curr.(type) {
		case map[string]any:
			for k, v := range node {
				if _, ok := model.PlaceholderHashFields[k]; ok && v == any(model.EmptyData) {
					node[k] = model.ZeroHash
					changed = true
				} else if isContainer(v) {
					stack = append(stack, v)
				}
			}
		case []any:
			for _, item := range node {
				if isContainer(item) {
					stack = append(stack, item)
				}
			}
		}
	}
	return changed
}

func isContainer(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}
