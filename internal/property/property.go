// Package property searches listings by the criteria gathered in a
// conversation.
package property

import (
	"context"
	"fmt"
	"strings"

	"github.com/zulandar/openhouse/internal/criteria"
	"github.com/zulandar/openhouse/internal/models"
	"gorm.io/gorm"
)

// MaxResults caps every search.
const MaxResults = 3

// Engine runs property searches.
type Engine struct {
	db    *gorm.DB
	limit int
}

// New returns an Engine. limit outside 1..MaxResults uses MaxResults.
func New(db *gorm.DB, limit int) *Engine {
	if limit < 1 || limit > MaxResults {
		limit = MaxResults
	}
	return &Engine{db: db, limit: limit}
}

// Limit returns the engine's default result count.
func (e *Engine) Limit() int { return e.limit }

// Search returns listings matching every set field of c, cheapest first.
// limit <= 0 uses the engine default; it is never more than MaxResults.
func (e *Engine) Search(ctx context.Context, c criteria.SearchCriteria, limit int) ([]models.Property, error) {
	if limit <= 0 {
		limit = e.limit
	}
	if limit > MaxResults {
		limit = MaxResults
	}

	q := e.db.WithContext(ctx).Model(&models.Property{})
	if c.City != nil {
		q = q.Where("LOWER(city) = LOWER(?)", strings.TrimSpace(*c.City))
	}
	if c.State != nil {
		q = q.Where("LOWER(state) IN ?", StateVariants(*c.State))
	}
	if c.MinBedrooms != nil {
		q = q.Where("bed >= ?", *c.MinBedrooms)
	}
	if c.MinBathrooms != nil {
		q = q.Where("bath >= ?", *c.MinBathrooms)
	}
	if c.MinPrice != nil {
		q = q.Where("price >= ?", *c.MinPrice)
	}
	if c.MaxPrice != nil {
		q = q.Where("price <= ?", *c.MaxPrice)
	}

	var out []models.Property
	if err := q.Order("price ASC").Order("id ASC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("property: search: %w", err)
	}
	return out, nil
}

// Format renders search results as a numbered list.
func Format(c criteria.SearchCriteria, props []models.Property) string {
	if len(props) == 0 {
		if c.IsZero() {
			return "No properties matched your search."
		}
		return fmt.Sprintf("No properties matched %s. Try widening the search, for example a higher budget or fewer bedrooms.", c.String())
	}

	var b strings.Builder
	if len(props) == 1 {
		b.WriteString("Here is 1 property that matches:\n")
	} else {
		fmt.Fprintf(&b, "Here are %d properties that match:\n", len(props))
	}
	for i, p := range props {
		fmt.Fprintf(&b, "%d. %s\n", i+1, describe(p))
	}
	return strings.TrimRight(b.String(), "\n")
}

func describe(p models.Property) string {
	addr := strings.TrimSpace(p.Street)
	place := p.City
	if p.State != "" {
		place += ", " + p.State
	}
	if p.ZipCode != "" {
		place += " " + p.ZipCode
	}
	if addr != "" {
		addr += ", " + place
	} else {
		addr = place
	}

	s := fmt.Sprintf("%s: %s, %d bed, %d bath", addr, criteria.FormatPrice(p.Price), p.Bed, p.Bath)
	if p.HouseSize > 0 {
		s += fmt.Sprintf(", %.0f sq ft", p.HouseSize)
	}
	if p.AcreLot > 0 {
		s += fmt.Sprintf(", %.2f acre lot", p.AcreLot)
	}
	if p.Status != "" && p.Status != "for_sale" {
		s += " (" + strings.ReplaceAll(p.Status, "_", " ") + ")"
	}
	return s
}
