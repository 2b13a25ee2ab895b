// Package rundown provides the data types shared by every part of the newsroom
// rundown engine, and a reference Redis store that implements the backend contract
// the engine consumes.
//
// # Overview
//
// A rundown is one broadcast's schedule. It is split into ordered blocks, and each
// block holds ordered items (news segments). Clients keep an in-memory copy of a
// rundown, apply their own edits optimistically and merge everybody else's edits
// from push notifications.
//
// # Backend contract
//
// The store exposes create/update/delete operations that return the canonical row,
// plus a push channel per rundown. Each successful write publishes a Notification:
//
//	{"event": "insert|update|delete", "table": "items|blocks", "origin": "<client id>", "row": {...}}
//
// Delivery is at-most-once and best-effort ordered. Consumers must tolerate
// duplicates, gaps and notifications racing their own writes.
//
// # Usage Example
//
//	client, err := rundown.NewClient(&redis.Options{Addr: "localhost:6379"}, "newsroom")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	item, err := client.CreateItem(ctx, rundown.Item{
//		BlockID:         blockID,
//		Order:           1,
//		Title:           "Economy Segment",
//		DurationSeconds: 45,
//	})
//
//	sub, err := client.Subscribe(ctx, item.RundownID)
//	defer sub.Close()
//	for n := range sub.Events() {
//		fmt.Println(n.Event, n.Table)
//	}
//
// # Redis Schema
//
// All Redis keys follow the pattern: rundown:{namespace}:{entity}:{id}
//
// Rundowns: rundown:{namespace}:rundown:{rundown_id}
// Rundown blocks (set): rundown:{namespace}:rundown:{rundown_id}:blocks
// Blocks: rundown:{namespace}:block:{block_id}
// Block items (set): rundown:{namespace}:block:{block_id}:items
// Items: rundown:{namespace}:item:{item_id}
//
// Changes channel: rundown:{namespace}:rundown:{rundown_id}:changes
package rundown
