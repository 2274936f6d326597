package models

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RegionTable maps region -> location -> coordinates. Loaded once at start;
// the HTTP layer resolves purge and generation scopes against it.
type RegionTable map[string]map[string]Coordinates

// LoadRegions reads the region/location table from a YAML file.
func LoadRegions(path string) (RegionTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read regions file: %w", err)
	}

	var table RegionTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse regions file: %w", err)
	}
	if len(table) == 0 {
		return nil, fmt.Errorf("regions file %s defines no regions", path)
	}
	return table, nil
}

// LocationsFor returns the coordinate set for the requested locations in a
// region, or every location when the list is empty. Unknown location names
// are skipped; ok is false when the region itself is unknown.
func (t RegionTable) LocationsFor(region string, locations []string) (map[string]Coordinates, bool) {
	all, ok := t[region]
	if !ok {
		return nil, false
	}

	if len(locations) == 0 {
		out := make(map[string]Coordinates, len(all))
		for name, coords := range all {
			out[name] = coords
		}
		return out, true
	}

	out := make(map[string]Coordinates, len(locations))
	for _, name := range locations {
		if coords, found := all[name]; found {
			out[name] = coords
		}
	}
	return out, true
}

// LocationNames returns every location name in a region.
func (t RegionTable) LocationNames(region string) []string {
	all, ok := t[region]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	return names
}
