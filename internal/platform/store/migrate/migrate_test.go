package migrate

import (
	"io/fs"
	"strings"
	"testing"
)

func TestDriverURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in, want string
		wantErr  bool
	}{
		{"postgres://u:p@db:5432/etl?sslmode=disable", "pgx5://u:p@db:5432/etl?sslmode=disable", false},
		{"postgresql://db/etl", "pgx5://db/etl", false},
		{"pgx5://db/etl", "pgx5://db/etl", false},
		{"mysql://db/etl", "", true},
		{"", "", true},
	}
	for _, c := range cases {
		got, err := DriverURL(c.in)
		if (err != nil) != c.wantErr {
			t.Fatalf("DriverURL(%q) err=%v wantErr=%v", c.in, err, c.wantErr)
		}
		if got != c.want {
			t.Fatalf("DriverURL(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestEmbeddedMigrations_ArePaired(t *testing.T) {
	t.Parallel()

	ents, err := fs.ReadDir(files, "sql")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	ups, downs := map[string]bool{}, map[string]bool{}
	for _, e := range ents {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Fatalf("unexpected file %s", name)
		}
	}
	if len(ups) == 0 {
		t.Fatalf("no migrations embedded")
	}
	for k := range ups {
		if !downs[k] {
			t.Fatalf("migration %s has no down file", k)
		}
	}
}
