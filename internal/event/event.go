// Package event defines the canonical event representation shared by the
// distributor engine and the normalization step applied at the adapter
// boundary. Adapters across versions return slightly different shapes for
// the same logical event; everything inside the engine works on the stable
// Event type produced here.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
)

// GlobalIDParam is the query parameter of DataLocation that carries the
// logical identity of an event across all ledgers.
const GlobalIDParam = "hl"

// ErrMissingGlobalID is returned when DataLocation has no usable hl parameter.
var ErrMissingGlobalID = errors.New("data location has no global id")

var bytes32HexRe = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// Event is the unit distributed across ledgers.
//
// Network is transport-only: it identifies the source ledger on events
// received from adapters and must be stripped before the event re-enters
// any ledger or reaches the consumer.
type Event struct {
	ID                 uint64   `json:"id,omitempty"`
	Timestamp          int64    `json:"timestamp,omitempty"`
	EventType          string   `json:"eventType"`
	DataLocation       string   `json:"dataLocation"`
	EntityIDHash       string   `json:"entityIdHash,omitempty"`
	PreviousEntityHash string   `json:"previousEntityHash,omitempty"`
	RelevantMetadata   []string `json:"relevantMetadata,omitempty"`
	PublisherAddress   string   `json:"publisherAddress,omitempty"`
	AuthorAddress      string   `json:"authorAddress,omitempty"`
	Network            string   `json:"network,omitempty"`
}

// wireEvent captures the schema drift observed across adapter versions.
// Older adapters send "origin" where newer ones send "publisherAddress".
type wireEvent struct {
	Event
	Origin string `json:"origin,omitempty"`
}

// Decode parses an adapter-provided event body and normalizes legacy field
// spellings into the stable Event representation.
func Decode(data []byte) (*Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}

	ev := w.Event
	if ev.PublisherAddress == "" && w.Origin != "" {
		ev.PublisherAddress = w.Origin
	}

	return &ev, nil
}

// GlobalID extracts the global id from the event's DataLocation.
func (e *Event) GlobalID() (string, error) {
	return ExtractGlobalID(e.DataLocation)
}

// StripNetwork returns a copy of the event with the transport-only Network
// attribute cleared. Idempotent.
func (e *Event) StripNetwork() *Event {
	clone := *e
	clone.Network = ""
	return &clone
}

// ExtractGlobalID returns the value of the hl query parameter of a
// dataLocation URL. The extraction is read-only: the returned value is the
// parameter exactly as it appears in the URL.
func ExtractGlobalID(dataLocation string) (string, error) {
	u, err := url.Parse(dataLocation)
	if err != nil {
		return "", fmt.Errorf("invalid data location %q: %w", dataLocation, err)
	}

	globalID := u.Query().Get(GlobalIDParam)
	if globalID == "" {
		return "", fmt.Errorf("%w: %q", ErrMissingGlobalID, dataLocation)
	}

	return globalID, nil
}

// ValidBytes32Hex reports whether s is a 32-byte identifier in the canonical
// form: 0x followed by exactly 64 hex characters.
func ValidBytes32Hex(s string) bool {
	return bytes32HexRe.MatchString(s)
}
