// Package catalog serves candidate round locations from the seeded
// continents/countries/cities tables.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/playperu/geoquest/internal/geoquest"
)

type Catalog struct {
	db *sql.DB
}

func New(db *sql.DB) *Catalog {
	return &Catalog{db: db}
}

// RandomLocation picks a populated place uniformly among those matching
// region. It returns geoquest.ErrNoLocation when nothing matches.
func (c *Catalog) RandomLocation(ctx context.Context, region geoquest.Region) (geoquest.Location, error) {
	query := `
		SELECT ci.name, co.code, co.name, ci.lat, ci.lng, ci.population
		FROM cities ci
		JOIN countries co ON co.code = ci.country_code`
	var args []any
	switch {
	case region.CountryCode != "":
		query += ` WHERE co.code = ?`
		args = append(args, region.CountryCode)
	case region.ContinentCode != "":
		query += ` WHERE co.continent_code = ?`
		args = append(args, region.ContinentCode)
	}
	query += ` ORDER BY RANDOM() LIMIT 1`

	var loc geoquest.Location
	err := c.db.QueryRowContext(ctx, query, args...).Scan(
		&loc.Name, &loc.CountryCode, &loc.CountryName, &loc.Lat, &loc.Lng, &loc.Population,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return geoquest.Location{}, geoquest.ErrNoLocation
	}
	if err != nil {
		return geoquest.Location{}, fmt.Errorf("querying random city: %w", err)
	}
	return loc, nil
}

// ValidateRegion checks that at most one filter is set and that it names a
// known continent or country.
func (c *Catalog) ValidateRegion(ctx context.Context, region geoquest.Region) error {
	if region.ContinentCode != "" && region.CountryCode != "" {
		return fmt.Errorf("%w: continent and country filters are mutually exclusive", geoquest.ErrValidation)
	}

	var table, code string
	switch {
	case region.ContinentCode != "":
		table, code = "continents", region.ContinentCode
	case region.CountryCode != "":
		table, code = "countries", region.CountryCode
	default:
		return nil
	}

	var n int
	err := c.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT 1 FROM %s WHERE code = ?`, table), code,
	).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: unknown region %q", geoquest.ErrValidation, code)
	}
	if err != nil {
		return fmt.Errorf("looking up region: %w", err)
	}
	return nil
}

func (c *Catalog) Continents(ctx context.Context) ([]geoquest.Continent, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT code, name, area_km2 FROM continents ORDER BY name`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []geoquest.Continent{}
	for rows.Next() {
		var ct geoquest.Continent
		if err := rows.Scan(&ct.Code, &ct.Name, &ct.AreaKm2); err != nil {
			return nil, err
		}
		out = append(out, ct)
	}
	return out, rows.Err()
}

// Countries lists countries, optionally restricted to one continent.
func (c *Catalog) Countries(ctx context.Context, continentCode string) ([]geoquest.Country, error) {
	query := `SELECT code, name, continent_code, area_km2 FROM countries`
	var args []any
	if continentCode != "" {
		query += ` WHERE continent_code = ?`
		args = append(args, continentCode)
	}
	query += ` ORDER BY name`

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []geoquest.Country{}
	for rows.Next() {
		var co geoquest.Country
		if err := rows.Scan(&co.Code, &co.Name, &co.ContinentCode, &co.AreaKm2); err != nil {
			return nil, err
		}
		out = append(out, co)
	}
	return out, rows.Err()
}
