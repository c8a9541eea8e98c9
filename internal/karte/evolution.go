package karte

import (
	"context"

	"github.com/ptalab/karte-api/internal/tabular"
)

// ensureColumns widens a sheet header so that every candidate key has a
// column, appending missing keys at the end in the order they appear.
// Existing columns are never reordered or removed, and keys on the nested
// collection deny list are never materialized. Calling this twice with the
// same candidates is a no-op the second time.
//
// This must run before any row write that references a new column, because
// the row API silently drops writes to unknown columns.
func ensureColumns(ctx context.Context, sheet tabular.Sheet, candidates []string) error {
	header, err := sheet.Header(ctx)
	if err != nil {
		return err
	}

	present := make(map[string]struct{}, len(header))
	for _, column := range header {
		present[column] = struct{}{}
	}

	var missing []string
	for _, candidate := range candidates {
		if isNestedCollectionKey(candidate) {
			continue
		}
		if _, ok := present[candidate]; ok {
			continue
		}
		present[candidate] = struct{}{}
		missing = append(missing, candidate)
	}

	if len(missing) == 0 {
		return nil
	}
	return sheet.SetHeader(ctx, append(header, missing...))
}
