package db

import (
	"sort"
	"strings"
	"testing"
)

func TestLoadMigrations(t *testing.T) {
	m := NewMigrator(nil)
	migrations, err := m.LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("no embedded migrations found")
	}

	if !sort.SliceIsSorted(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	}) {
		t.Error("migrations are not sorted by version")
	}

	seen := map[int]bool{}
	for _, mig := range migrations {
		if mig.Version <= 0 {
			t.Errorf("migration %s has version %d", mig.Name, mig.Version)
		}
		if seen[mig.Version] {
			t.Errorf("duplicate migration version %d", mig.Version)
		}
		seen[mig.Version] = true
		if strings.TrimSpace(mig.SQL) == "" {
			t.Errorf("migration %s is empty", mig.Name)
		}
	}
}

func TestBootstrapMigrationsCoverInfrastructure(t *testing.T) {
	m := NewMigrator(nil)
	migrations, err := m.LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}

	all := ""
	for _, mig := range migrations {
		all += mig.SQL + "\n"
	}
	for _, want := range []string{"pg_trgm", `"Project"`} {
		if !strings.Contains(all, want) {
			t.Errorf("bootstrap migrations missing %s", want)
		}
	}
}

func TestMigrationStatusShape(t *testing.T) {
	m := NewMigrator(nil)
	migrations, err := m.LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}

	applied := map[int]bool{migrations[0].Version: true}
	var statuses []MigrationStatus
	for _, mig := range migrations {
		statuses = append(statuses, MigrationStatus{
			Version: mig.Version,
			Name:    mig.Name,
			Applied: applied[mig.Version],
		})
	}

	if !statuses[0].Applied {
		t.Error("first migration should report applied")
	}
	for _, st := range statuses[1:] {
		if st.Applied {
			t.Errorf("migration %d should report pending", st.Version)
		}
		if st.AppliedAt != nil {
			t.Errorf("pending migration %d has AppliedAt", st.Version)
		}
	}
}
