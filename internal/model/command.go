package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// EntityKind names one of the six upstream entity streams.
type EntityKind string

const (
	KindOffer     EntityKind = "offer"
	KindPurchase  EntityKind = "purchase"
	KindTransport EntityKind = "transport"
	KindSeller    EntityKind = "seller"
	KindBuyer     EntityKind = "buyer"
	KindCarrier   EntityKind = "carrier"
)

// Kinds lists every entity kind in dispatch order.
var Kinds = []EntityKind{KindOffer, KindPurchase, KindTransport, KindSeller, KindBuyer, KindCarrier}

// ParseKind normalizes a kind name; ok is false for unknown kinds.
func ParseKind(value string) (EntityKind, bool) {
	kind := EntityKind(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range Kinds {
		if kind == known {
			return kind, true
		}
	}
	return "", false
}

type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Command is one sync instruction from the ingress channel: a single change to a
// single upstream entity.
type Command struct {
	DocumentID string          `json:"documentId" validate:"required"`
	EntityKind EntityKind      `json:"entityKind" validate:"required,oneof=offer purchase transport seller buyer carrier"`
	Operation  Operation       `json:"operation" validate:"required,oneof=create update delete"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// DecodeCommand parses a wire command. Kind and operation are matched
// case-insensitively and a payload sent as a JSON-encoded string is unwrapped.
func DecodeCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	cmd.DocumentID = strings.TrimSpace(cmd.DocumentID)
	cmd.EntityKind = EntityKind(strings.ToLower(strings.TrimSpace(string(cmd.EntityKind))))
	cmd.Operation = Operation(strings.ToLower(strings.TrimSpace(string(cmd.Operation))))

	payload, err := unwrapPayload(cmd.Payload)
	if err != nil {
		return Command{}, err
	}
	cmd.Payload = payload
	return cmd, nil
}

// Validate reports structural problems with the command.
func (c Command) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid command: %w", err)
	}
	return nil
}

// Key is the partitioning key for the command: the document it targets.
func (c Command) Key() string {
	return c.DocumentID
}

func unwrapPayload(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] != '"' {
		return trimmed, nil
	}
	var inner string
	if err := json.Unmarshal(trimmed, &inner); err != nil {
		return nil, fmt.Errorf("decode payload string: %w", err)
	}
	inner = strings.TrimSpace(inner)
	if inner == "" {
		return nil, nil
	}
	if !json.Valid([]byte(inner)) {
		return nil, fmt.Errorf("decode payload string: not json")
	}
	return json.RawMessage(inner), nil
}
