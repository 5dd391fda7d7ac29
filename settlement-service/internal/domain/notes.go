package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type ExtraDataKind string

const (
	ExtraDataNone         ExtraDataKind = ""
	ExtraDataNotes        ExtraDataKind = "notes"
	ExtraDataCancellation ExtraDataKind = "cancellation"
)

// Notes are free-form remarks attached at purchase time.
type Notes struct {
	Buyer  string `json:"buyer,omitempty"`
	Seller string `json:"seller,omitempty"`
}

// Cancellation records who cancelled a purchase and why.
type Cancellation struct {
	Actor  string    `json:"actor"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// ExtraData is the order's metadata blob as a tagged variant. Exactly one of
// Notes or Cancellation is set, matching Kind.
type ExtraData struct {
	Kind         ExtraDataKind
	Notes        *Notes
	Cancellation *Cancellation
}

func NotesData(n Notes) ExtraData {
	return ExtraData{Kind: ExtraDataNotes, Notes: &n}
}

func CancellationData(c Cancellation) ExtraData {
	return ExtraData{Kind: ExtraDataCancellation, Cancellation: &c}
}

func (e ExtraData) IsZero() bool {
	return e.Kind == ExtraDataNone
}

func (e ExtraData) Clone() ExtraData {
	c := ExtraData{Kind: e.Kind}
	if e.Notes != nil {
		n := *e.Notes
		c.Notes = &n
	}
	if e.Cancellation != nil {
		x := *e.Cancellation
		c.Cancellation = &x
	}
	return c
}

type extraDataJSON struct {
	Kind         ExtraDataKind `json:"kind"`
	Notes        *Notes        `json:"notes,omitempty"`
	Cancellation *Cancellation `json:"cancellation,omitempty"`
}

func (e ExtraData) MarshalJSON() ([]byte, error) {
	if e.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(extraDataJSON{Kind: e.Kind, Notes: e.Notes, Cancellation: e.Cancellation})
}

func (e *ExtraData) UnmarshalJSON(b []byte) error {
	if string(b) == "null" || len(b) == 0 {
		*e = ExtraData{}
		return nil
	}
	var raw extraDataJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("decode extra data: %w", err)
	}
	switch raw.Kind {
	case ExtraDataNotes:
		if raw.Notes == nil {
			return fmt.Errorf("extra data kind %q without notes", raw.Kind)
		}
		*e = ExtraData{Kind: raw.Kind, Notes: raw.Notes}
	case ExtraDataCancellation:
		if raw.Cancellation == nil {
			return fmt.Errorf("extra data kind %q without cancellation", raw.Kind)
		}
		*e = ExtraData{Kind: raw.Kind, Cancellation: raw.Cancellation}
	default:
		return fmt.Errorf("unknown extra data kind %q", raw.Kind)
	}
	return nil
}
