package lease

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrCorruptRecord is returned by DecodeRecord for unusable values.
var ErrCorruptRecord = errors.New("corrupt lease record")

// Record is one persisted lease.
type Record struct {
	OwnerAttemptID string `json:"attemptId"`
	ExpiresAtMs    int64  `json:"expiresAtMs"`
	UpdatedAtMs    int64  `json:"updatedAtMs"`
}

// LiveAt reports whether the lease blocks other claimants at nowMs.
func (r Record) LiveAt(nowMs int64) bool {
	return r.ExpiresAtMs > nowMs
}

// wireRecord distinguishes missing fields from zero values.
type wireRecord struct {
	AttemptID   *string `json:"attemptId"`
	ExpiresAtMs *int64  `json:"expiresAtMs"`
	UpdatedAtMs *int64  `json:"updatedAtMs"`
}

// EncodeRecord serializes r to its stored JSON form.
func EncodeRecord(r Record) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode lease record: %w", err)
	}
	return string(data), nil
}

// DecodeRecord parses a stored value.
func DecodeRecord(raw string) (Record, error) {
	var w wireRecord
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	switch {
	case w.AttemptID == nil || *w.AttemptID == "":
		return Record{}, fmt.Errorf("%w: missing attemptId", ErrCorruptRecord)
	case w.ExpiresAtMs == nil:
		return Record{}, fmt.Errorf("%w: missing expiresAtMs", ErrCorruptRecord)
	case w.UpdatedAtMs == nil:
		return Record{}, fmt.Errorf("%w: missing updatedAtMs", ErrCorruptRecord)
	}
	return Record{
		OwnerAttemptID: *w.AttemptID,
		ExpiresAtMs:    *w.ExpiresAtMs,
		UpdatedAtMs:    *w.UpdatedAtMs,
	}, nil
}
