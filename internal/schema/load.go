package schema

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/heartmarshall/fedrecords/internal/domain"
)

// Parse decodes a JSON array of collection schemas.
func Parse(data []byte) ([]*domain.Schema, error) {
	var schemas []*domain.Schema
	if err := json.Unmarshal(data, &schemas); err != nil {
		return nil, fmt.Errorf("schema: decode: %w", err)
	}
	return schemas, nil
}

// LoadFile reads application schemas from path. An empty path yields no
// schemas.
func LoadFile(path string) ([]*domain.Schema, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: read %s: %w", path, err)
	}
	return Parse(data)
}
