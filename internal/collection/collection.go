// Package collection is the in-memory model of a rundown: ordered blocks, each
// holding ordered items.
//
// Every function in this package is pure and total. Inputs are never mutated;
// a call that finds nothing to do (unknown block, unknown item, duplicate id,
// no-op move) returns its input slice unchanged, so callers can detect a no-op
// by identity. Unchanged blocks share their item slices with the input, which
// makes snapshots cheap and means nobody may write into a model slice in place.
package collection

import (
	"sort"
	"strconv"

	"github.com/newsroomate/rundown/pkg/rundown"
)

type refKind uint8

const (
	refPending refKind = iota + 1
	refCommitted
)

// Ref identifies an item in the model. A Pending ref carries the client-side
// temporary id of an optimistic insert that the backend has not confirmed yet;
// a Committed ref carries the backend id.
type Ref struct {
	kind refKind
	id   string
}

// Pending returns the ref of an unconfirmed item.
func Pending(tempID string) Ref {
	return Ref{kind: refPending, id: tempID}
}

// Committed returns the ref of an item the backend knows about.
func Committed(id string) Ref {
	return Ref{kind: refCommitted, id: id}
}

func (r Ref) IsPending() bool   { return r.kind == refPending }
func (r Ref) IsCommitted() bool { return r.kind == refCommitted }
func (r Ref) IsZero() bool      { return r.kind == 0 }

// ID returns the temporary id for pending refs and the backend id otherwise.
func (r Ref) ID() string { return r.id }

func (r Ref) String() string {
	switch r.kind {
	case refPending:
		return "pending:" + r.id
	case refCommitted:
		return r.id
	default:
		return "<none>"
	}
}

// Item is one row of the model.
type Item struct {
	Ref  Ref
	Data rundown.Item
}

// FromRow wraps a backend row.
func FromRow(row rundown.Item) Item {
	return Item{Ref: Committed(row.ID), Data: row}
}

// Block is a backend block together with its items in display order.
type Block struct {
	rundown.Block
	Items []Item
}

// Total is the sum of the durations of the block's items.
func (b Block) Total() int {
	total := 0
	for _, it := range b.Items {
		total += it.Data.DurationSeconds
	}
	return total
}

// RundownTotal is the sum of all block totals.
func RundownTotal(blocks []Block) int {
	total := 0
	for _, b := range blocks {
		total += b.Total()
	}
	return total
}

// Build assembles a model from backend rows. Blocks are sorted by order and
// items keep the relative order they arrive in within each block; items whose
// block is unknown are dropped.
func Build(blocks []rundown.Block, items []rundown.Item) []Block {
	out := make([]Block, 0, len(blocks))
	index := make(map[string]int, len(blocks))

	sorted := append([]rundown.Block(nil), blocks...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })
	for _, b := range sorted {
		if _, dup := index[b.ID]; dup {
			continue
		}
		index[b.ID] = len(out)
		out = append(out, Block{Block: b})
	}

	seen := make(map[string]bool, len(items))
	for _, row := range items {
		bi, ok := index[row.BlockID]
		if !ok || seen[row.ID] {
			continue
		}
		seen[row.ID] = true
		out[bi].Items = append(out[bi].Items, FromRow(row))
	}
	for bi := range out {
		items := out[bi].Items
		sort.SliceStable(items, func(i, j int) bool {
			if items[i].Data.Order != items[j].Data.Order {
				return items[i].Data.Order < items[j].Data.Order
			}
			return items[i].Data.UpdatedAtMs > items[j].Data.UpdatedAtMs
		})
	}
	return out
}

// BlockIndex returns the position of blockID, or -1.
func BlockIndex(blocks []Block, blockID string) int {
	for i, b := range blocks {
		if b.ID == blockID {
			return i
		}
	}
	return -1
}

// Locate returns the block and item indexes of ref.
func Locate(blocks []Block, ref Ref) (blockIdx, itemIdx int, ok bool) {
	if ref.IsZero() {
		return -1, -1, false
	}
	for bi, b := range blocks {
		for ii, it := range b.Items {
			if it.Ref == ref {
				return bi, ii, true
			}
		}
	}
	return -1, -1, false
}

// Find returns the item identified by ref.
func Find(blocks []Block, ref Ref) (Item, bool) {
	bi, ii, ok := Locate(blocks, ref)
	if !ok {
		return Item{}, false
	}
	return blocks[bi].Items[ii], true
}

// FindByID returns the committed item with the given backend id.
func FindByID(blocks []Block, id string) (Item, bool) {
	return Find(blocks, Committed(id))
}

// Flatten lists all items in display order.
func Flatten(blocks []Block) []Item {
	var out []Item
	for _, b := range blocks {
		out = append(out, b.Items...)
	}
	return out
}

// InsertItem adds item to the block named by item.Data.BlockID, before the
// first item whose order is greater than or equal to its own. Equal orders
// therefore resolve newest-first, matching the backend's tie-break.
func InsertItem(blocks []Block, item Item) []Block {
	if item.Ref.IsZero() {
		return blocks
	}
	if _, _, dup := Locate(blocks, item.Ref); dup {
		return blocks
	}
	bi := BlockIndex(blocks, item.Data.BlockID)
	if bi < 0 {
		return blocks
	}
	items := blocks[bi].Items
	return withItems(blocks, bi, insertAt(items, insertPos(items, item.Data.Order), item))
}

// InsertAt adds item to blockID at index, clamped to the block bounds.
func InsertAt(blocks []Block, blockID string, index int, item Item) []Block {
	if item.Ref.IsZero() {
		return blocks
	}
	if _, _, dup := Locate(blocks, item.Ref); dup {
		return blocks
	}
	bi := BlockIndex(blocks, blockID)
	if bi < 0 {
		return blocks
	}
	item.Data.BlockID = blockID
	items := blocks[bi].Items
	return withItems(blocks, bi, insertAt(items, clamp(index, 0, len(items)), item))
}

// RemoveItem drops the item identified by ref.
func RemoveItem(blocks []Block, ref Ref) []Block {
	bi, ii, ok := Locate(blocks, ref)
	if !ok {
		return blocks
	}
	return withItems(blocks, bi, removeAt(blocks[bi].Items, ii))
}

// UpdateItem replaces the data of the item identified by ref. The item keeps
// its position unless its order or block changed, in which case it is moved to
// the position its order implies in the (possibly new) block. An unknown
// destination block leaves the model unchanged.
func UpdateItem(blocks []Block, ref Ref, data rundown.Item) []Block {
	bi, ii, ok := Locate(blocks, ref)
	if !ok {
		return blocks
	}
	cur := blocks[bi].Items[ii]
	next := Item{Ref: cur.Ref, Data: data}
	if next.Data.BlockID == "" {
		next.Data.BlockID = cur.Data.BlockID
	}

	if next.Data.BlockID == cur.Data.BlockID && next.Data.Order == cur.Data.Order {
		items := append([]Item(nil), blocks[bi].Items...)
		items[ii] = next
		return withItems(blocks, bi, items)
	}

	di := BlockIndex(blocks, next.Data.BlockID)
	if di < 0 {
		return blocks
	}
	out := withItems(blocks, bi, removeAt(blocks[bi].Items, ii))
	dest := out[di].Items
	out[di].Items = insertAt(dest, insertPos(dest, next.Data.Order), next)
	return out
}

// ReplaceRef swaps a pending item for the canonical row the backend returned,
// in the same position unless the backend settled on another order. If the
// canonical id is already present (its echo won the race) the pending copy is
// simply dropped.
func ReplaceRef(blocks []Block, temp Ref, row rundown.Item) []Block {
	bi, ii, ok := Locate(blocks, temp)
	if !ok {
		return blocks
	}
	canonical := Committed(row.ID)
	if _, _, dup := Locate(blocks, canonical); dup {
		return RemoveItem(blocks, temp)
	}
	if row.BlockID == "" {
		row.BlockID = blocks[bi].ID
	}
	prev := blocks[bi].Items[ii].Data
	prev.BlockID = blocks[bi].ID
	items := append([]Item(nil), blocks[bi].Items...)
	items[ii] = Item{Ref: canonical, Data: prev}
	return UpdateItem(withItems(blocks, bi, items), canonical, row)
}

// MoveItem moves ref to destIndex of destBlockID in one pass. destIndex is the
// item's final position in the destination block and is clamped to its bounds.
//
// The moved item's BlockID and Order are rewritten, with Order chosen between
// its new neighbours; siblings are left untouched. When both neighbours share
// one order the item goes before them instead, where an update carrying that
// order sorts. When nothing moves, the input slice itself is returned and
// moved is false.
func MoveItem(blocks []Block, ref Ref, destBlockID string, destIndex int) (out []Block, item Item, moved bool) {
	bi, ii, ok := Locate(blocks, ref)
	if !ok {
		return blocks, Item{}, false
	}
	di := BlockIndex(blocks, destBlockID)
	if di < 0 {
		return blocks, Item{}, false
	}
	item = blocks[bi].Items[ii]

	if bi == di {
		destIndex = clamp(destIndex, 0, len(blocks[bi].Items)-1)
		if destIndex == ii {
			return blocks, item, false
		}
	} else {
		destIndex = clamp(destIndex, 0, len(blocks[di].Items))
	}

	out = withItems(blocks, bi, removeAt(blocks[bi].Items, ii))
	dest := out[di].Items

	var prev, next *Item
	if destIndex > 0 {
		prev = &dest[destIndex-1]
	}
	if destIndex < len(dest) {
		next = &dest[destIndex]
	}
	item.Data.BlockID = destBlockID
	item.Data.Order = orderBetween(prev, next)

	// Tied neighbours leave no slot between them: the newest write sorts
	// first among equal orders, so the item lands ahead of the tie as it
	// will for every other client.
	pos := insertPos(dest, item.Data.Order)
	if bi == di && pos == ii && item.Data.Order == blocks[bi].Items[ii].Data.Order {
		return blocks, blocks[bi].Items[ii], false
	}
	out[di].Items = insertAt(dest, pos, item)
	return out, item, true
}

// OrderAfter returns the order a new item needs to land right after ref in
// blockID. When ref is zero or not in that block, the order appends to the
// block. ok is false when the block does not exist.
func OrderAfter(blocks []Block, blockID string, ref Ref) (order int, ok bool) {
	bi := BlockIndex(blocks, blockID)
	if bi < 0 {
		return 0, false
	}
	items := blocks[bi].Items
	for ii := range items {
		if items[ii].Ref != ref {
			continue
		}
		var next *Item
		if ii+1 < len(items) {
			next = &items[ii+1]
		}
		return orderBetween(&items[ii], next), true
	}
	if len(items) == 0 {
		return orderBetween(nil, nil), true
	}
	return orderBetween(&items[len(items)-1], nil), true
}

// NextOrder returns the order that appends to blockID.
func NextOrder(blocks []Block, blockID string) (int, bool) {
	return OrderAfter(blocks, blockID, Ref{})
}

// orderBetween picks an order for a slot between prev and next. It uses the
// midpoint when there is a gap and otherwise ties with next, which sorts
// before it because the new write is the most recent one.
func orderBetween(prev, next *Item) int {
	lower := 0
	if prev != nil {
		lower = prev.Data.Order
	}
	if next == nil {
		return lower + 1
	}
	if next.Data.Order-lower > 1 {
		return lower + (next.Data.Order-lower)/2
	}
	return next.Data.Order
}

// InsertBlock adds a block at the position its order implies.
func InsertBlock(blocks []Block, b Block) []Block {
	if b.ID == "" || BlockIndex(blocks, b.ID) >= 0 {
		return blocks
	}
	pos := len(blocks)
	for i, other := range blocks {
		if other.Order > b.Order {
			pos = i
			break
		}
	}
	out := make([]Block, 0, len(blocks)+1)
	out = append(out, blocks[:pos]...)
	out = append(out, b)
	return append(out, blocks[pos:]...)
}

// UpdateBlock replaces a block's fields and keeps its items. The block list
// is re-sorted when the order changed.
func UpdateBlock(blocks []Block, row rundown.Block) []Block {
	bi := BlockIndex(blocks, row.ID)
	if bi < 0 {
		return blocks
	}
	out := append([]Block(nil), blocks...)
	reorder := out[bi].Order != row.Order
	out[bi].Block = row
	if reorder {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	}
	return out
}

// RemoveBlock drops a block and all of its items.
func RemoveBlock(blocks []Block, blockID string) []Block {
	bi := BlockIndex(blocks, blockID)
	if bi < 0 {
		return blocks
	}
	out := make([]Block, 0, len(blocks)-1)
	out = append(out, blocks[:bi]...)
	return append(out, blocks[bi+1:]...)
}

// NextBlockOrder returns an order greater than every block's.
func NextBlockOrder(blocks []Block) int {
	highest := 0
	for _, b := range blocks {
		if b.Order > highest {
			highest = b.Order
		}
	}
	return highest + 1
}

// Change records one item rewritten by Renumber.
type Change struct {
	ID        string
	Order     int
	Page      string
	PrevOrder int
	PrevPage  string
}

// Renumber rewrites orders to base, base+1, ... within every block and pages
// to base, base+1, ... across the whole rundown, both in display order.
// Only committed items are reported as changes; pending items are renumbered
// locally and persisted when their create completes.
func Renumber(blocks []Block, base int) ([]Block, []Change) {
	var changes []Change
	changed := false
	page := base

	out := make([]Block, len(blocks))
	for bi, b := range blocks {
		items := make([]Item, len(b.Items))
		for ii, it := range b.Items {
			order := base + ii
			pg := strconv.Itoa(page)
			page++

			if it.Data.Order != order || it.Data.Page != pg {
				changed = true
				if it.Ref.IsCommitted() {
					changes = append(changes, Change{
						ID:        it.Ref.ID(),
						Order:     order,
						Page:      pg,
						PrevOrder: it.Data.Order,
						PrevPage:  it.Data.Page,
					})
				}
				it.Data.Order = order
				it.Data.Page = pg
			}
			items[ii] = it
		}
		out[bi] = b
		out[bi].Items = items
	}

	if !changed {
		return blocks, nil
	}
	return out, changes
}

// Restore puts back the previous order and page of each change, in place.
func Restore(blocks []Block, changes []Change) []Block {
	if len(changes) == 0 {
		return blocks
	}
	prev := make(map[string]Change, len(changes))
	for _, c := range changes {
		prev[c.ID] = c
	}

	out := make([]Block, len(blocks))
	for bi, b := range blocks {
		out[bi] = b
		var items []Item
		for ii, it := range b.Items {
			c, ok := prev[it.Ref.ID()]
			if !ok || !it.Ref.IsCommitted() {
				continue
			}
			if items == nil {
				items = append([]Item(nil), b.Items...)
			}
			items[ii].Data.Order = c.PrevOrder
			items[ii].Data.Page = c.PrevPage
		}
		if items != nil {
			out[bi].Items = items
		}
	}
	return out
}

func insertPos(items []Item, order int) int {
	for i, it := range items {
		if it.Data.Order >= order {
			return i
		}
	}
	return len(items)
}

func insertAt(items []Item, pos int, it Item) []Item {
	out := make([]Item, 0, len(items)+1)
	out = append(out, items[:pos]...)
	out = append(out, it)
	return append(out, items[pos:]...)
}

func removeAt(items []Item, pos int) []Item {
	out := make([]Item, 0, len(items)-1)
	out = append(out, items[:pos]...)
	return append(out, items[pos+1:]...)
}

func withItems(blocks []Block, bi int, items []Item) []Block {
	out := append([]Block(nil), blocks...)
	out[bi].Items = items
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
