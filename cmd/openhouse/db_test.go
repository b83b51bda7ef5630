package main

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/zulandar/openhouse/internal/db"
	"github.com/zulandar/openhouse/internal/models"
)

func TestDBCmd_Help(t *testing.T) {
	out, err := run(t, "db", "--help")
	if err != nil {
		t.Fatalf("db --help failed: %v", err)
	}
	if !strings.Contains(out, "Database management") {
		t.Errorf("expected help to mention 'Database management', got: %s", out)
	}
	for _, sub := range []string{"migrate", "import"} {
		if !strings.Contains(out, sub) {
			t.Errorf("expected help to list %q subcommand, got: %s", sub, out)
		}
	}
}

func TestDBMigrateCmd_SeedsOnce(t *testing.T) {
	path := writeConfig(t, "")

	out, err := run(t, "db", "migrate", "-c", path)
	if err != nil {
		t.Fatalf("db migrate failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Migrated 5 tables (sqlite)") {
		t.Errorf("expected migrate summary, got: %s", out)
	}
	want := len(db.SampleProperties())
	if !strings.Contains(out, "Seeded "+strconv.Itoa(want)+" sample properties") {
		t.Errorf("expected seed summary, got: %s", out)
	}

	out, err = run(t, "db", "migrate", "-c", path)
	if err != nil {
		t.Fatalf("second db migrate failed: %v", err)
	}
	if !strings.Contains(out, "seeding skipped") {
		t.Errorf("expected seeding to be skipped the second time, got: %s", out)
	}
}

func TestDBMigrateCmd_NoSeed(t *testing.T) {
	path := writeConfig(t, "")

	out, err := run(t, "db", "migrate", "--no-seed", "-c", path)
	if err != nil {
		t.Fatalf("db migrate failed: %v", err)
	}
	if strings.Contains(out, "Seeded") {
		t.Errorf("expected no seeding, got: %s", out)
	}
}

func TestDBMigrateCmd_MissingConfig(t *testing.T) {
	_, err := run(t, "db", "migrate", "--config", "/nonexistent/openhouse.yaml")
	if err == nil {
		t.Fatal("expected error for missing config")
	}
}

func TestDBImportCmd(t *testing.T) {
	path := writeConfig(t, "")
	csvPath := filepath.Join(t.TempDir(), "listings.csv")
	csv := "status,price,bed,bath,acre_lot,street,city,state,zip_code,house_size\n" +
		"for_sale,350000,3,2,0.2,12 Oak St,Austin,Texas,78701,1500\n" +
		"for_sale,420000,4,3,0.3,9 Pine Rd,Austin,Texas,78702,2100\n" +
		"for_sale,,2,1,0.1,1 Nowhere Ln,Austin,Texas,78703,900\n"
	if err := os.WriteFile(csvPath, []byte(csv), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	out, err := run(t, "db", "import", "-c", path, csvPath)
	if err != nil {
		t.Fatalf("db import failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Imported 2 properties") || !strings.Contains(out, "(1 rows skipped)") {
		t.Errorf("unexpected import summary: %s", out)
	}

	cfg, err := loadConfig(path, true)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	gormDB, err := connectFromConfig(cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	var count int64
	if err := gormDB.Model(&models.Property{}).Where("city = ?", "Austin").Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Errorf("austin properties = %d, want 2", count)
	}
}

func TestDBImportCmd_RequiresFile(t *testing.T) {
	path := writeConfig(t, "")
	if _, err := run(t, "db", "import", "-c", path); err == nil {
		t.Error("expected error without a csv argument")
	}
	if _, err := run(t, "db", "import", "-c", path, "/nonexistent/listings.csv"); err == nil {
		t.Error("expected error for missing csv file")
	}
}
