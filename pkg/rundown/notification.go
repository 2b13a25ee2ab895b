package rundown

import (
	"encoding/json"
	"fmt"
)

// Event is the kind of change a notification reports.
type Event string

const (
	EventInsert Event = "insert"
	EventUpdate Event = "update"
	EventDelete Event = "delete"
)

// Table names the entity a notification is about.
type Table string

const (
	TableItems  Table = "items"
	TableBlocks Table = "blocks"
)

// Notification is one push message published on a rundown's changes channel.
// Row carries the canonical row as JSON; for deletes it is the last known row.
type Notification struct {
	Event  Event           `json:"event"`
	Table  Table           `json:"table"`
	Origin string          `json:"origin"` // Client that performed the write
	Row    json.RawMessage `json:"row"`
}

// Validate checks the envelope. The row itself is decoded by the consumer.
func (n *Notification) Validate() error {
	switch n.Event {
	case EventInsert, EventUpdate, EventDelete:
	default:
		return fmt.Errorf("unknown event: %q", n.Event)
	}
	switch n.Table {
	case TableItems, TableBlocks:
	default:
		return fmt.Errorf("unknown table: %q", n.Table)
	}
	if len(n.Row) == 0 {
		return fmt.Errorf("notification has no row")
	}
	return nil
}

// DecodeItem decodes the row as an Item and checks it carries an id.
func (n *Notification) DecodeItem() (*Item, error) {
	var it Item
	if err := json.Unmarshal(n.Row, &it); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item row: %w", err)
	}
	if it.ID == "" {
		return nil, fmt.Errorf("item row has no id")
	}
	return &it, nil
}

// DecodeBlock decodes the row as a Block and checks it carries an id.
func (n *Notification) DecodeBlock() (*Block, error) {
	var b Block
	if err := json.Unmarshal(n.Row, &b); err != nil {
		return nil, fmt.Errorf("failed to unmarshal block row: %w", err)
	}
	if b.ID == "" {
		return nil, fmt.Errorf("block row has no id")
	}
	return &b, nil
}

// NewNotification marshals row into a notification envelope.
func NewNotification(event Event, table Table, origin string, row any) (*Notification, error) {
	raw, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s row: %w", table, err)
	}
	return &Notification{Event: event, Table: table, Origin: origin, Row: raw}, nil
}
