package lease

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeRecord_WireFormat(t *testing.T) {
	raw, err := EncodeRecord(Record{OwnerAttemptID: "attempt-a", ExpiresAtMs: 6000, UpdatedAtMs: 1000})
	require.NoError(t, err)
	assert.JSONEq(t, `{"attemptId":"attempt-a","expiresAtMs":6000,"updatedAtMs":1000}`, raw)
}

func TestDecodeRecord_IgnoresUnknownFields(t *testing.T) {
	rec, err := DecodeRecord(`{"attemptId":"a","expiresAtMs":10,"updatedAtMs":5,"fencing":7,"host":"x"}`)
	require.NoError(t, err)
	assert.Equal(t, Record{OwnerAttemptID: "a", ExpiresAtMs: 10, UpdatedAtMs: 5}, rec)
}

func TestDecodeRecord_Corrupt(t *testing.T) {
	tests := map[string]string{
		"not json":        `{"attemptId":`,
		"missing owner":   `{"expiresAtMs":10,"updatedAtMs":5}`,
		"empty owner":     `{"attemptId":"","expiresAtMs":10,"updatedAtMs":5}`,
		"missing expires": `{"attemptId":"a","updatedAtMs":5}`,
		"missing updated": `{"attemptId":"a","expiresAtMs":10}`,
		"wrong type":      `{"attemptId":"a","expiresAtMs":"soon","updatedAtMs":5}`,
		"fractional":      `{"attemptId":"a","expiresAtMs":10.5,"updatedAtMs":5}`,
		"array":           `[]`,
	}

	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeRecord(raw)
			assert.ErrorIs(t, err, ErrCorruptRecord)
		})
	}
}

func TestRecord_LiveAt(t *testing.T) {
	r := Record{ExpiresAtMs: 6000}
	assert.True(t, r.LiveAt(5999))
	assert.False(t, r.LiveAt(6000), "a lease is live only while expiresAtMs > now")
}
