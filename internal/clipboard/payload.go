// Package clipboard holds the copy-here/paste-there transfer of one item or
// one whole block between rundowns.
//
// At most one payload is held at a time. It lives in a shared Store under four
// well-known keys, so every process ("tab") using the same store sees the same
// clipboard and a restart finds it again. Payloads older than the expiry
// window are treated as absent and purged.
package clipboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/newsroomate/rundown/pkg/rundown"
)

// Well-known record keys.
const (
	KeyItem           = "copiedItem"
	KeyItemTimestamp  = "copiedItemTimestamp"
	KeyBlock          = "copiedBlock"
	KeyBlockTimestamp = "copiedBlockTimestamp"
)

var allKeys = []string{KeyItem, KeyItemTimestamp, KeyBlock, KeyBlockTimestamp}

var (
	ErrNothingCopied  = errors.New("clipboard is empty")
	ErrRundownClosed  = errors.New("destination rundown is not open for editing")
	ErrInvalidPayload = errors.New("invalid clipboard payload")

	// ErrNotAnnounced is returned by a Store whose write committed but whose
	// change announcement to other handles failed.
	ErrNotAnnounced = errors.New("clipboard change not announced")
)

// State is what the clipboard holds.
type State int

const (
	Empty State = iota
	HoldingItem
	HoldingBlock
)

func (s State) String() string {
	switch s {
	case HoldingItem:
		return "holding_item"
	case HoldingBlock:
		return "holding_block"
	default:
		return "empty"
	}
}

// ItemPayload is a copied item.
type ItemPayload struct {
	Item      rundown.Item `json:"item"`
	Timestamp int64        `json:"timestamp"`
}

// BlockSnapshot is a block as it was when copied, items included.
type BlockSnapshot struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Order int            `json:"order"`
	Items []rundown.Item `json:"items"`
}

// BlockPayload is a copied block.
type BlockPayload struct {
	Block     BlockSnapshot `json:"block"`
	Timestamp int64         `json:"timestamp"`
}

// Snapshot is the clipboard content at one point in time. At most one of Item
// and Block is set, matching State.
type Snapshot struct {
	State State
	Item  *ItemPayload
	Block *BlockPayload
}

// Timestamp returns when the held payload was copied, in epoch ms.
func (s Snapshot) Timestamp() int64 {
	switch {
	case s.Item != nil:
		return s.Item.Timestamp
	case s.Block != nil:
		return s.Block.Timestamp
	default:
		return 0
	}
}

// Title names the held payload for display.
func (s Snapshot) Title() string {
	switch {
	case s.Item != nil:
		return s.Item.Item.Title
	case s.Block != nil:
		return s.Block.Block.Name
	default:
		return ""
	}
}

func (s Snapshot) expired(now time.Time, expiry time.Duration) bool {
	ts := s.Timestamp()
	return ts != 0 && now.Sub(time.UnixMilli(ts)) >= expiry
}

func itemRecord(p ItemPayload) (map[string]string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal copied item: %w", err)
	}
	return map[string]string{
		KeyItem:          string(raw),
		KeyItemTimestamp: strconv.FormatInt(p.Timestamp, 10),
	}, nil
}

func blockRecord(p BlockPayload) (map[string]string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal copied block: %w", err)
	}
	return map[string]string{
		KeyBlock:          string(raw),
		KeyBlockTimestamp: strconv.FormatInt(p.Timestamp, 10),
	}, nil
}

// decode reads a persisted record. When both payloads are present, which only
// a torn write by a foreign client could produce, the newer one wins.
func decode(rec map[string]string) (Snapshot, error) {
	var snap Snapshot

	if raw := rec[KeyItem]; raw != "" {
		var p ItemPayload
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return Snapshot{}, fmt.Errorf("%w: item: %v", ErrInvalidPayload, err)
		}
		if err := stamp(&p.Timestamp, rec[KeyItemTimestamp]); err != nil {
			return Snapshot{}, err
		}
		snap = Snapshot{State: HoldingItem, Item: &p}
	}

	if raw := rec[KeyBlock]; raw != "" {
		var p BlockPayload
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return Snapshot{}, fmt.Errorf("%w: block: %v", ErrInvalidPayload, err)
		}
		if err := stamp(&p.Timestamp, rec[KeyBlockTimestamp]); err != nil {
			return Snapshot{}, err
		}
		if snap.Item == nil || p.Timestamp > snap.Item.Timestamp {
			snap = Snapshot{State: HoldingBlock, Block: &p}
		}
	}

	return snap, nil
}

// stamp takes the timestamp key over the one embedded in the payload.
func stamp(ts *int64, raw string) error {
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: timestamp %q", ErrInvalidPayload, raw)
	}
	*ts = v
	return nil
}
