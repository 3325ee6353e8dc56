package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/example/superapp-dispatch/internal/models"
)

//go:embed roster.json
var defaultRoster []byte

// LoadRoster reads the startup driver pool from path, or the built-in roster
// when path is empty.
func LoadRoster(path string) ([]models.Driver, error) {
	raw := defaultRoster
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read roster: %w", err)
		}
		raw = b
	}
	var drivers []models.Driver
	if err := json.Unmarshal(raw, &drivers); err != nil {
		return nil, fmt.Errorf("decode roster: %w", err)
	}
	seen := make(map[string]bool, len(drivers))
	for i, d := range drivers {
		if d.ID == "" {
			return nil, fmt.Errorf("roster entry %d has no id", i)
		}
		if seen[d.ID] {
			return nil, fmt.Errorf("duplicate driver id %s", d.ID)
		}
		seen[d.ID] = true
		switch d.Status {
		case "":
			drivers[i].Status = models.DriverAvailable
		case models.DriverAvailable, models.DriverOnTrip, models.DriverOffline:
		default:
			return nil, fmt.Errorf("driver %s has unknown status %q", d.ID, d.Status)
		}
	}
	return drivers, nil
}
