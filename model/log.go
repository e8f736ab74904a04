package model

import (
	"bytes"
	"encoding/json"
)

// LogIdentity is the subset of a log entry that identifies it across
// overlapping eth_getLogs windows.
type LogIdentity struct {
	BlockHash       json.RawMessage `json:"blockHash"`
	TransactionHash json.RawMessage `json:"transactionHash"`
	LogIndex        json.RawMessage `json:"logIndex"`
}

// LogKey is the comparable form of LogIdentity.
type LogKey struct {
	BlockHash       string
	TransactionHash string
	LogIndex        string
}

func (li LogIdentity) Key() LogKey {
	return LogKey{
		BlockHash:       rawKey(li.BlockHash),
		TransactionHash: rawKey(li.TransactionHash),
		LogIndex:        rawKey(li.LogIndex),
	}
}

// NewLogKey decodes the identity of a raw log entry. Entries that are not
// objects all share the zero key.
func NewLogKey(entry json.RawMessage) LogKey {
	var li LogIdentity
	if !IsObject(entry) {
		return LogKey{}
	}
	if err := json.Unmarshal(entry, &li); err != nil {
		return LogKey{}
	}
	return li.Key()
}

// rawKey folds a missing field and an explicit null together.
func rawKey(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || IsNull(raw) {
		return ""
	}
	return string(raw)
}
