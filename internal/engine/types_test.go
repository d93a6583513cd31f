package engine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Address
		wantErr bool
	}{
		{name: "prefixed", input: "0x401000", want: 0x401000},
		{name: "upper prefix", input: "0X1F", want: 0x1f},
		{name: "bare hex", input: "deadbeef", want: 0xdeadbeef},
		{name: "surrounding space", input: "  0x10 ", want: 0x10},
		{name: "max", input: "0xffffffffffffffff", want: Address(^uint64(0))},
		{name: "empty", input: "", wantErr: true},
		{name: "prefix only", input: "0x", wantErr: true},
		{name: "not hex", input: "0xzz", wantErr: true},
		{name: "negative", input: "-0x10", wantErr: true},
		{name: "overflow", input: "0x1ffffffffffffffff", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAddress(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAddressJSON(t *testing.T) {
	data, err := json.Marshal(Procedure{Entry: 0x1000, Name: "main"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"address":"0x1000","name":"main"}`, string(data))

	var decoded struct {
		Addr Address `json:"addr"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"addr":"2000"}`), &decoded))
	assert.Equal(t, Address(0x2000), decoded.Addr)
}

func TestRangeOverlaps(t *testing.T) {
	r := Range{Start: 0x1000, End: 0x2000}

	assert.True(t, r.Overlaps(0x0800, 0x1000))
	assert.True(t, r.Overlaps(0x1fff, 0x10))
	assert.False(t, r.Overlaps(0x2000, 0x10))
	assert.False(t, r.Overlaps(0x0800, 0x800))
	assert.True(t, r.Overlaps(0x1500, 0))
	assert.True(t, Everything.Contains(0))
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "ready", StatusReady.String())
	assert.Equal(t, "terminated", StatusTerminated.String())
	assert.Equal(t, "status(42)", Status(42).String())

	data, err := json.Marshal(map[string]Status{"s": StatusAnalyzing})
	require.NoError(t, err)
	assert.JSONEq(t, `{"s":"analyzing"}`, string(data))
}
