package rundown

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Serialization helpers for converting between Go structs and Redis hashes
//
// Redis stores data as string-to-string maps (hashes). Scalar fields map to one hash
// field each; the tags array is JSON-encoded into a single field.

// ItemToHash converts an Item to a Redis hash.
func ItemToHash(it *Item) (map[string]interface{}, error) {
	tags := it.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tags: %w", err)
	}

	return map[string]interface{}{
		"id":               it.ID,
		"rundown_id":       it.RundownID,
		"block_id":         it.BlockID,
		"order":            it.Order,
		"page":             it.Page,
		"title":            it.Title,
		"duration_seconds": it.DurationSeconds,
		"status":           string(it.Status),
		"script":           it.Script,
		"lead_in":          it.LeadIn,
		"reporter":         it.Reporter,
		"location":         it.Location,
		"tags":             string(tagsJSON),
		"updated_at_ms":    it.UpdatedAtMs,
	}, nil
}

// HashToItem converts a Redis hash to an Item.
func HashToItem(hash map[string]string) (*Item, error) {
	order, err := strconv.Atoi(hash["order"])
	if err != nil {
		return nil, fmt.Errorf("invalid order field: %w", err)
	}

	duration, err := strconv.Atoi(hash["duration_seconds"])
	if err != nil {
		return nil, fmt.Errorf("invalid duration_seconds field: %w", err)
	}

	var tags []string
	if tagsJSON := hash["tags"]; tagsJSON != "" {
		if err := json.Unmarshal([]byte(tagsJSON), &tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	if len(tags) == 0 {
		tags = nil
	}

	updatedAtMs, _ := strconv.ParseInt(hash["updated_at_ms"], 10, 64)

	return &Item{
		ID:              hash["id"],
		RundownID:       hash["rundown_id"],
		BlockID:         hash["block_id"],
		Order:           order,
		Page:            hash["page"],
		Title:           hash["title"],
		DurationSeconds: duration,
		Status:          Status(hash["status"]),
		Script:          hash["script"],
		LeadIn:          hash["lead_in"],
		Reporter:        hash["reporter"],
		Location:        hash["location"],
		Tags:            tags,
		UpdatedAtMs:     updatedAtMs,
	}, nil
}

// BlockToHash converts a Block to a Redis hash.
func BlockToHash(b *Block) map[string]interface{} {
	return map[string]interface{}{
		"id":         b.ID,
		"rundown_id": b.RundownID,
		"name":       b.Name,
		"order":      b.Order,
	}
}

// HashToBlock converts a Redis hash to a Block.
func HashToBlock(hash map[string]string) (*Block, error) {
	order, err := strconv.Atoi(hash["order"])
	if err != nil {
		return nil, fmt.Errorf("invalid order field: %w", err)
	}

	return &Block{
		ID:        hash["id"],
		RundownID: hash["rundown_id"],
		Name:      hash["name"],
		Order:     order,
	}, nil
}

// RundownToHash converts a Rundown to a Redis hash.
func RundownToHash(r *Rundown) map[string]interface{} {
	return map[string]interface{}{
		"id":   r.ID,
		"name": r.Name,
		"open": strconv.FormatBool(r.Open),
	}
}

// HashToRundown converts a Redis hash to a Rundown.
// A missing open field reads as open.
func HashToRundown(hash map[string]string) (*Rundown, error) {
	open := true
	if raw, ok := hash["open"]; ok && raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid open field: %w", err)
		}
		open = v
	}

	return &Rundown{
		ID:   hash["id"],
		Name: hash["name"],
		Open: open,
	}, nil
}
