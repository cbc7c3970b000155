package event

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractGlobalID(t *testing.T) {
	tests := []struct {
		name         string
		dataLocation string
		want         string
		wantErr      bool
	}{
		{
			name:         "simple hl parameter",
			dataLocation: "https://data.example.com/items/42?hl=0xabc123",
			want:         "0xabc123",
		},
		{
			name:         "hl among other parameters",
			dataLocation: "https://data.example.com/items/42?foo=bar&hl=global-1&baz=qux",
			want:         "global-1",
		},
		{
			name:         "missing hl parameter",
			dataLocation: "https://data.example.com/items/42?foo=bar",
			wantErr:      true,
		},
		{
			name:         "empty hl parameter",
			dataLocation: "https://data.example.com/items/42?hl=",
			wantErr:      true,
		},
		{
			name:         "no query string",
			dataLocation: "https://data.example.com/items/42",
			wantErr:      true,
		},
		{
			name:         "empty data location",
			dataLocation: "",
			wantErr:      true,
		},
		{
			name:         "unparseable url",
			dataLocation: "http://example.com/%zz",
			wantErr:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractGlobalID(tt.dataLocation)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractGlobalID_ErrorsWrapSentinel(t *testing.T) {
	_, err := ExtractGlobalID("https://data.example.com/items/42")
	require.ErrorIs(t, err, ErrMissingGlobalID)
}

func TestEventGlobalID(t *testing.T) {
	ev := &Event{DataLocation: "https://data.example.com/doc?hl=gid-7"}
	got, err := ev.GlobalID()
	require.NoError(t, err)
	assert.Equal(t, "gid-7", got)
}

func TestStripNetwork(t *testing.T) {
	ev := &Event{
		EventType:    "data.created",
		DataLocation: "https://data.example.com/doc?hl=gid-1",
		Network:      "ledger-a",
	}

	stripped := ev.StripNetwork()
	assert.Empty(t, stripped.Network)
	assert.Equal(t, ev.EventType, stripped.EventType)
	assert.Equal(t, ev.DataLocation, stripped.DataLocation)

	// Original is untouched.
	assert.Equal(t, "ledger-a", ev.Network)

	// Idempotent.
	again := stripped.StripNetwork()
	assert.Empty(t, again.Network)
}

func TestDecode(t *testing.T) {
	t.Run("canonical fields", func(t *testing.T) {
		body := `{
			"id": 3,
			"timestamp": 1724400000,
			"eventType": "data.created",
			"dataLocation": "https://data.example.com/doc?hl=gid-1",
			"publisherAddress": "0xpublisher",
			"network": "ledger-a"
		}`

		ev, err := Decode([]byte(body))
		require.NoError(t, err)
		assert.Equal(t, uint64(3), ev.ID)
		assert.Equal(t, "data.created", ev.EventType)
		assert.Equal(t, "0xpublisher", ev.PublisherAddress)
		assert.Equal(t, "ledger-a", ev.Network)
	})

	t.Run("legacy origin becomes publisher address", func(t *testing.T) {
		body := `{
			"eventType": "data.created",
			"dataLocation": "https://data.example.com/doc?hl=gid-1",
			"origin": "0xlegacy"
		}`

		ev, err := Decode([]byte(body))
		require.NoError(t, err)
		assert.Equal(t, "0xlegacy", ev.PublisherAddress)
	})

	t.Run("publisher address wins over origin", func(t *testing.T) {
		body := `{
			"eventType": "data.created",
			"dataLocation": "https://data.example.com/doc?hl=gid-1",
			"publisherAddress": "0xcanonical",
			"origin": "0xlegacy"
		}`

		ev, err := Decode([]byte(body))
		require.NoError(t, err)
		assert.Equal(t, "0xcanonical", ev.PublisherAddress)
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := Decode([]byte("{not json"))
		require.Error(t, err)
	})
}

func TestValidBytes32Hex(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"valid lowercase", "0x" + strings.Repeat("a", 64), true},
		{"valid mixed case", "0x" + strings.Repeat("Af", 32), true},
		{"missing prefix", strings.Repeat("a", 64), false},
		{"too short", "0x" + strings.Repeat("a", 63), false},
		{"too long", "0x" + strings.Repeat("a", 65), false},
		{"non hex characters", "0x" + strings.Repeat("g", 64), false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidBytes32Hex(tt.input))
		})
	}
}
