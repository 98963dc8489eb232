// Package datatypes defines shared enums for webhook events and delivery state.
package datatypes

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// ErrInvalidEventType is returned when a string is not a known webhook event type.
var ErrInvalidEventType = errors.New("invalid event type")

// EventType is the kind of notification carried by a webhook delivery.
// Its string form is sent as the payload "status" field.
type EventType uint16

// Event type constants; string form is given in eventTypeMap.
const (
	EventStatusUpdate EventType = iota + 1
	EventProgress
	EventCompletion
	EventError
)

// eventTypeMap is the single source of truth for valid event type strings.
var eventTypeMap = map[string]EventType{
	"status_update": EventStatusUpdate,
	"progress":      EventProgress,
	"completion":    EventCompletion,
	"error":         EventError,
}

var reverseEventTypeMap map[EventType]string

func init() {
	reverseEventTypeMap = make(map[EventType]string, len(eventTypeMap))
	for str, eventType := range eventTypeMap {
		reverseEventTypeMap[eventType] = str
	}
}

// String returns the wire form of the event type, or "" for unknown values.
func (et EventType) String() string {
	return reverseEventTypeMap[et]
}

// ParseEventType converts a string to an EventType enum.
func ParseEventType(s string) (EventType, error) {
	et, ok := eventTypeMap[s]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrInvalidEventType, s)
	}

	return et, nil
}

// IsValidEventType checks if an event type string is valid.
func IsValidEventType(s string) bool {
	_, ok := eventTypeMap[s]

	return ok
}

// EventTypeNames returns the valid event type strings in sorted order.
func EventTypeNames() []string {
	names := make([]string, 0, len(eventTypeMap))
	for name := range eventTypeMap {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

// MarshalJSON encodes the event type as its string form.
func (et EventType) MarshalJSON() ([]byte, error) {
	return json.Marshal(et.String())
}

// UnmarshalJSON decodes a string event type.
func (et *EventType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	parsed, err := ParseEventType(s)
	if err != nil {
		return err
	}

	*et = parsed

	return nil
}
