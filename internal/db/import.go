package db

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/zulandar/openhouse/internal/models"
	"gorm.io/gorm"
)

// ImportBatchSize is the number of rows written per insert.
const ImportBatchSize = 500

// ImportStats summarizes an ImportProperties run.
type ImportStats struct {
	Imported int
	Skipped  int
}

// ImportProperties loads a realtor listings CSV into the properties table.
// The header row names the columns; price, city and state are required,
// the rest (bed, bath, acre_lot, street, zip_code, house_size, status) are
// optional. Rows without a usable price, city or state are skipped.
func ImportProperties(db *gorm.DB, r io.Reader) (ImportStats, error) {
	var stats ImportStats

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return stats, fmt.Errorf("db: import: read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"price", "city", "state"} {
		if _, ok := cols[required]; !ok {
			return stats, fmt.Errorf("db: import: missing column %q", required)
		}
	}

	field := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	batch := make([]models.Property, 0, ImportBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := db.CreateInBatches(&batch, ImportBatchSize).Error; err != nil {
			return fmt.Errorf("db: import: insert: %w", err)
		}
		stats.Imported += len(batch)
		batch = batch[:0]
		return nil
	}

	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return stats, fmt.Errorf("db: import: line %d: %w", line, err)
		}

		price, ok := parseFloat(field(rec, "price"))
		city, state := field(rec, "city"), field(rec, "state")
		if !ok || city == "" || state == "" {
			stats.Skipped++
			continue
		}
		bed, _ := parseFloat(field(rec, "bed"))
		bath, _ := parseFloat(field(rec, "bath"))
		acre, _ := parseFloat(field(rec, "acre_lot"))
		size, _ := parseFloat(field(rec, "house_size"))

		batch = append(batch, models.Property{
			Price:     price,
			Bed:       int(bed),
			Bath:      int(bath),
			AcreLot:   acre,
			Street:    field(rec, "street"),
			City:      city,
			State:     state,
			ZipCode:   field(rec, "zip_code"),
			HouseSize: size,
			Status:    field(rec, "status"),
		})
		if len(batch) == ImportBatchSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}
	if err := flush(); err != nil {
		return stats, err
	}
	return stats, nil
}

func parseFloat(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
