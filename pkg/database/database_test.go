package database

import (
	"io/fs"
	"strings"
	"testing"
)

func TestConfigDSN(t *testing.T) {
	cfg := &Config{Host: "db", Port: 3306, User: "nav", Password: "pw", DBName: "navigator"}
	dsn := cfg.DSN()

	if !strings.HasPrefix(dsn, "nav:pw@tcp(db:3306)/navigator?") {
		t.Errorf("unexpected dsn: %s", dsn)
	}
	if !strings.Contains(dsn, "parseTime=True") {
		t.Errorf("dsn must enable parseTime: %s", dsn)
	}
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		t.Fatalf("failed to read embedded migrations: %v", err)
	}

	ups, downs := map[string]bool{}, map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}

	if len(ups) == 0 {
		t.Fatal("expected at least one migration")
	}
	for v := range ups {
		if !downs[v] {
			t.Errorf("migration %s has no down file", v)
		}
	}
}
