package rundown

import "fmt"

// Redis key pattern helpers
//
// All keys and Pub/Sub channels are namespaced so that several newsrooms can share
// one Redis server without seeing each other's rundowns.
//
// Key pattern: rundown:{namespace}:{entity}:{id}
// Channel pattern: rundown:{namespace}:rundown:{rundown_id}:changes

// RundownKey returns the Redis key for a rundown's metadata hash.
// Pattern: rundown:{namespace}:rundown:{rundown_id}
func RundownKey(namespace, rundownID string) string {
	return fmt.Sprintf("rundown:%s:rundown:%s", namespace, rundownID)
}

// RundownBlocksKey returns the Redis key for the set of block ids in a rundown.
// Pattern: rundown:{namespace}:rundown:{rundown_id}:blocks
func RundownBlocksKey(namespace, rundownID string) string {
	return fmt.Sprintf("rundown:%s:rundown:%s:blocks", namespace, rundownID)
}

// BlockKey returns the Redis key for a block hash.
// Pattern: rundown:{namespace}:block:{block_id}
func BlockKey(namespace, blockID string) string {
	return fmt.Sprintf("rundown:%s:block:%s", namespace, blockID)
}

// BlockItemsKey returns the Redis key for the set of item ids owned by a block.
// Pattern: rundown:{namespace}:block:{block_id}:items
func BlockItemsKey(namespace, blockID string) string {
	return fmt.Sprintf("rundown:%s:block:%s:items", namespace, blockID)
}

// ItemKey returns the Redis key for an item hash.
// Pattern: rundown:{namespace}:item:{item_id}
func ItemKey(namespace, itemID string) string {
	return fmt.Sprintf("rundown:%s:item:%s", namespace, itemID)
}

// ItemScanPattern returns the SCAN pattern matching item hashes whose id starts with prefix.
func ItemScanPattern(namespace, prefix string) string {
	return fmt.Sprintf("rundown:%s:item:%s*", namespace, prefix)
}

// ChangesChannel returns the Pub/Sub channel carrying notifications for one rundown.
// Pattern: rundown:{namespace}:rundown:{rundown_id}:changes
func ChangesChannel(namespace, rundownID string) string {
	return fmt.Sprintf("rundown:%s:rundown:%s:changes", namespace, rundownID)
}

// ClipboardKey returns the Redis key of one clipboard record field.
// Pattern: rundown:{namespace}:clipboard:{scope}:{field}
func ClipboardKey(namespace, scope, field string) string {
	return fmt.Sprintf("rundown:%s:clipboard:%s:%s", namespace, scope, field)
}

// ClipboardChannel returns the Pub/Sub channel announcing clipboard changes.
// Pattern: rundown:{namespace}:clipboard:{scope}:changes
func ClipboardChannel(namespace, scope string) string {
	return fmt.Sprintf("rundown:%s:clipboard:%s:changes", namespace, scope)
}
