package storage

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/saurabh2727/property-finder/internal/domain"
)

// LoadCatalogFromFile reads suburb records from a JSON array file and
// validates them into a catalog.
func LoadCatalogFromFile(path string) (*domain.Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}

	var records []domain.SuburbRecord
	if err := json.Unmarshal(b, &records); err != nil {
		return nil, fmt.Errorf("unmarshal suburbs: %w", err)
	}
	c, err := domain.NewCatalog(records)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}
