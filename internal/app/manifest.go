package app

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Manifest lists the users the seeder created, for the load simulator.
type Manifest struct {
	Caregivers []uuid.UUID `json:"caregivers"`
	Pacilians  []uuid.UUID `json:"pacilians"`
}

func WriteManifest(path string, m Manifest) error {
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write manifest %s: %w", path, err)
	}
	return nil
}

func ReadManifest(path string) (Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest %s: %w", path, err)
	}
	if len(m.Caregivers) == 0 || len(m.Pacilians) == 0 {
		return Manifest{}, fmt.Errorf("manifest %s has no caregivers or pacilians", path)
	}
	return m, nil
}
