package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/newsroomate/rundown/internal/collection"
	"github.com/newsroomate/rundown/pkg/rundown"
)

// MinShortIDLength is the minimum required length for short ID prefixes.
// Set to 6 characters to balance usability with collision avoidance.
const MinShortIDLength = 6

// ItemSource is the part of the backend client the resolver reads.
type ItemSource interface {
	GetItem(ctx context.Context, itemID string) (rundown.Item, error)
	ScanItems(ctx context.Context, prefix string) ([]string, error)
}

// ResolveItemID resolves a short ID prefix to a full item id.
//
// A full UUID is checked for existence and returned as-is. Anything shorter
// than MinShortIDLength is rejected. Otherwise the namespace is scanned and the
// prefix must match exactly one item.
func ResolveItemID(ctx context.Context, src ItemSource, shortID string) (string, error) {
	if isUUID(shortID) {
		if _, err := src.GetItem(ctx, shortID); err != nil {
			if rundown.IsNotFound(err) {
				return "", &NotFoundError{Kind: "item", ShortID: shortID}
			}
			return "", fmt.Errorf("failed to verify item existence: %w", err)
		}
		return shortID, nil
	}

	if len(shortID) < MinShortIDLength {
		return "", fmt.Errorf("short ID must be at least %d characters (got %d)", MinShortIDLength, len(shortID))
	}

	matches, err := src.ScanItems(ctx, shortID)
	if err != nil {
		return "", fmt.Errorf("failed to search for item: %w", err)
	}
	return pick("item", shortID, matches)
}

// ResolveBlockID resolves a block by id prefix or by exact name within a
// loaded model. Blocks are few, so the model is searched directly and no
// minimum length applies.
func ResolveBlockID(blocks []collection.Block, ref string) (string, error) {
	var byName, byPrefix []string
	for _, b := range blocks {
		if b.ID == ref {
			return b.ID, nil
		}
		if strings.EqualFold(b.Name, ref) {
			byName = append(byName, b.ID)
		}
		if ref != "" && strings.HasPrefix(b.ID, ref) {
			byPrefix = append(byPrefix, b.ID)
		}
	}
	if len(byName) > 0 {
		return pick("block", ref, byName)
	}
	return pick("block", ref, byPrefix)
}

func pick(kind, shortID string, matches []string) (string, error) {
	switch len(matches) {
	case 0:
		return "", &NotFoundError{Kind: kind, ShortID: shortID}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousError{Kind: kind, ShortID: shortID, Matches: matches}
	}
}

func isUUID(s string) bool {
	return len(s) == 36 && strings.Count(s, "-") == 4
}

// NotFoundError indicates nothing matched the short ID.
type NotFoundError struct {
	Kind    string
	ShortID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no %ss found matching '%s'", e.Kind, e.ShortID)
}

// AmbiguousError indicates several ids matched the short ID.
type AmbiguousError struct {
	Kind    string
	ShortID string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous short ID '%s' matches %d %ss", e.ShortID, len(e.Matches), e.Kind)
}

// FormatAmbiguousError creates a user-friendly error message for ambiguous short IDs.
// Lists all matching ids (up to 10, then "...and N more").
func FormatAmbiguousError(err *AmbiguousError) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Error: ambiguous short ID '%s' matches %d %ss:\n", err.ShortID, len(err.Matches), err.Kind)

	displayCount := min(len(err.Matches), 10)
	for i := 0; i < displayCount; i++ {
		fmt.Fprintf(&b, "  %s\n", err.Matches[i])
	}

	if len(err.Matches) > 10 {
		fmt.Fprintf(&b, "  ...and %d more\n", len(err.Matches)-10)
	}

	fmt.Fprintf(&b, "\nUse a longer prefix to uniquely identify the %s.", err.Kind)
	return b.String()
}

// IsNotFoundError checks if an error is a NotFoundError.
func IsNotFoundError(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}

// IsAmbiguousError checks if an error is an AmbiguousError.
func IsAmbiguousError(err error) bool {
	_, ok := err.(*AmbiguousError)
	return ok
}
