package rundown

import (
	"fmt"
	"strings"
)

// Rundown is a single program's schedule for one broadcast.
type Rundown struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Open bool   `json:"open"` // Closed rundowns reject pastes
}

// Block is an ordered sub-section of a rundown.
type Block struct {
	ID        string `json:"id"`
	RundownID string `json:"rundown_id"`
	Name      string `json:"name"`
	Order     int    `json:"order"` // Unique within the rundown, defines display sequence
}

// Item is one news segment ("materia") inside a block.
type Item struct {
	ID              string   `json:"id"`
	RundownID       string   `json:"rundown_id"`
	BlockID         string   `json:"block_id"`
	Order           int      `json:"order"` // Position within the owning block
	Page            string   `json:"page"`
	Title           string   `json:"title"`
	DurationSeconds int      `json:"duration_seconds"`
	Status          Status   `json:"status"`
	Script          string   `json:"script,omitempty"`
	LeadIn          string   `json:"lead_in,omitempty"`
	Reporter        string   `json:"reporter,omitempty"`
	Location        string   `json:"location,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	UpdatedAtMs     int64    `json:"updated_at_ms"`
}

// Status is the editorial state of an item.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusReview    Status = "review"
	StatusApproved  Status = "approved"
	StatusPublished Status = "published"
	StatusUrgent    Status = "urgent"
)

// Validate checks if the Status is a known enum value.
func (s Status) Validate() error {
	switch s {
	case StatusDraft, StatusReview, StatusApproved, StatusPublished, StatusUrgent:
		return nil
	default:
		return fmt.Errorf("unknown status: %q", s)
	}
}

// Validate checks the fields a backend needs before persisting an item.
// The ID is not checked: it is assigned by the backend on create.
func (it *Item) Validate() error {
	if strings.TrimSpace(it.BlockID) == "" {
		return Validationf("validate item", "item must belong to a block")
	}
	if it.DurationSeconds < 0 {
		return Validationf("validate item", "duration must be >= 0, got %d", it.DurationSeconds)
	}
	if it.Status != "" {
		if err := it.Status.Validate(); err != nil {
			return Wrap(KindValidation, "validate item", err)
		}
	}
	return nil
}

// Validate checks the fields a backend needs before persisting a block.
func (b *Block) Validate() error {
	if strings.TrimSpace(b.RundownID) == "" {
		return Validationf("validate block", "block must belong to a rundown")
	}
	if strings.TrimSpace(b.Name) == "" {
		return Validationf("validate block", "block name cannot be empty")
	}
	return nil
}

// Clone returns a deep copy of the item.
func (it Item) Clone() Item {
	if it.Tags != nil {
		it.Tags = append([]string(nil), it.Tags...)
	}
	return it
}

// ItemPatch is a partial update of an item. Nil fields are left unchanged.
type ItemPatch struct {
	BlockID         *string   `json:"block_id,omitempty"`
	Order           *int      `json:"order,omitempty"`
	Page            *string   `json:"page,omitempty"`
	Title           *string   `json:"title,omitempty"`
	DurationSeconds *int      `json:"duration_seconds,omitempty"`
	Status          *Status   `json:"status,omitempty"`
	Script          *string   `json:"script,omitempty"`
	LeadIn          *string   `json:"lead_in,omitempty"`
	Reporter        *string   `json:"reporter,omitempty"`
	Location        *string   `json:"location,omitempty"`
	Tags            *[]string `json:"tags,omitempty"`
}

// Apply returns a copy of it with the patch applied.
func (p ItemPatch) Apply(it Item) Item {
	out := it.Clone()
	if p.BlockID != nil {
		out.BlockID = *p.BlockID
	}
	if p.Order != nil {
		out.Order = *p.Order
	}
	if p.Page != nil {
		out.Page = *p.Page
	}
	if p.Title != nil {
		out.Title = *p.Title
	}
	if p.DurationSeconds != nil {
		out.DurationSeconds = *p.DurationSeconds
	}
	if p.Status != nil {
		out.Status = *p.Status
	}
	if p.Script != nil {
		out.Script = *p.Script
	}
	if p.LeadIn != nil {
		out.LeadIn = *p.LeadIn
	}
	if p.Reporter != nil {
		out.Reporter = *p.Reporter
	}
	if p.Location != nil {
		out.Location = *p.Location
	}
	if p.Tags != nil {
		out.Tags = append([]string(nil), (*p.Tags)...)
	}
	return out
}

// IsEmpty reports whether the patch changes nothing.
func (p ItemPatch) IsEmpty() bool {
	return p == ItemPatch{}
}

// Moves reports whether the patch changes block membership or position.
func (p ItemPatch) Moves() bool {
	return p.BlockID != nil || p.Order != nil
}

// ItemUpdate pairs an item id with its patch for batch writes.
type ItemUpdate struct {
	ID    string    `json:"id"`
	Patch ItemPatch `json:"patch"`
}

// BlockPatch is a partial update of a block.
type BlockPatch struct {
	Name  *string `json:"name,omitempty"`
	Order *int    `json:"order,omitempty"`
}

// Apply returns a copy of b with the patch applied.
func (p BlockPatch) Apply(b Block) Block {
	if p.Name != nil {
		b.Name = *p.Name
	}
	if p.Order != nil {
		b.Order = *p.Order
	}
	return b
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T {
	return &v
}
