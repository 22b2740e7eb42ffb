package tariff

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/mtowater/waterbilling/internal/storage"
)

// Import parses the tariff schedule PDF at path and upserts every customer
// type it finds. Existing types keep bills already encoded against them; only
// the rates change going forward.
func Import(ctx context.Context, store storage.Storage, path string) (*Schedule, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("tariff schedule not found at %s: %w", path, err)
	}

	schedule, err := ParsePDF(path)
	if err != nil {
		return nil, err
	}

	for _, ct := range schedule.Types {
		if err := store.UpsertCustomerType(ctx, ct); err != nil {
			return nil, fmt.Errorf("upsert customer type %q: %w", ct.Type, err)
		}
		log.Printf("tariff: imported %s rate1=%.2f rate2=%.2f", ct.Type, ct.Rate1, ct.Rate2)
	}

	return schedule, nil
}
