// Package domain holds the typed identifiers shared across the compliance
// core. IDs are distinct types over uuid.UUID so the compiler rejects
// cross-assignment (an IncidentID can never be passed where an EventID is
// expected).
package domain

import (
	"github.com/google/uuid"

	dErrors "custodia/pkg/domain-errors"
)

type (
	// IncidentID identifies a security incident.
	IncidentID uuid.UUID
	// EventID identifies an audit event.
	EventID uuid.UUID
	// ForensicsID identifies an immutable forensics record.
	ForensicsID uuid.UUID
)

// parseUUID enforces the shared invariant: IDs must be valid, non-empty,
// non-nil UUIDs.
func parseUUID(raw, kind string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" cannot be empty")
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" cannot be nil")
	}
	return parsed, nil
}

func ParseIncidentID(raw string) (IncidentID, error) {
	parsed, err := parseUUID(raw, "incident id")
	return IncidentID(parsed), err
}

func ParseEventID(raw string) (EventID, error) {
	parsed, err := parseUUID(raw, "event id")
	return EventID(parsed), err
}

func ParseForensicsID(raw string) (ForensicsID, error) {
	parsed, err := parseUUID(raw, "forensics id")
	return ForensicsID(parsed), err
}

func NewIncidentID() IncidentID   { return IncidentID(uuid.New()) }
func NewEventID() EventID         { return EventID(uuid.New()) }
func NewForensicsID() ForensicsID { return ForensicsID(uuid.New()) }

func (i IncidentID) String() string  { return uuid.UUID(i).String() }
func (i IncidentID) IsNil() bool     { return uuid.UUID(i) == uuid.Nil }
func (e EventID) String() string     { return uuid.UUID(e).String() }
func (e EventID) IsNil() bool        { return uuid.UUID(e) == uuid.Nil }
func (f ForensicsID) String() string { return uuid.UUID(f).String() }
func (f ForensicsID) IsNil() bool    { return uuid.UUID(f) == uuid.Nil }

// Reference is the operator-facing form of an incident ID.
func (i IncidentID) Reference() string { return "inc-" + uuid.UUID(i).String() }

// IDs travel as canonical UUID strings in JSON and log output.

func (i IncidentID) MarshalText() ([]byte, error) { return uuid.UUID(i).MarshalText() }
func (e EventID) MarshalText() ([]byte, error)    { return uuid.UUID(e).MarshalText() }
func (f ForensicsID) MarshalText() ([]byte, error) {
	return uuid.UUID(f).MarshalText()
}

func (i *IncidentID) UnmarshalText(text []byte) error {
	return (*uuid.UUID)(i).UnmarshalText(text)
}

func (e *EventID) UnmarshalText(text []byte) error {
	return (*uuid.UUID)(e).UnmarshalText(text)
}

func (f *ForensicsID) UnmarshalText(text []byte) error {
	return (*uuid.UUID)(f).UnmarshalText(text)
}
