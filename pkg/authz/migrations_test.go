package authz

import (
	"context"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestGetMigrations_VersionsSequential(t *testing.T) {
	migrations := GetMigrations()
	if len(migrations) == 0 {
		t.Fatal("Expected at least one migration")
	}
	for i, m := range migrations {
		if m.Version != i+1 {
			t.Errorf("Migration %d has version %d, expected %d", i, m.Version, i+1)
		}
		if m.Description == "" {
			t.Errorf("Migration %d has no description", m.Version)
		}
		if strings.TrimSpace(m.SQL) == "" {
			t.Errorf("Migration %d has no SQL", m.Version)
		}
	}
}

// Postgres rejects expressions inside table-level UNIQUE constraints;
// expression uniqueness has to be a CREATE UNIQUE INDEX. Guard against
// a constraint like UNIQUE(..., COALESCE(entity_id, ”)) sneaking back
// into a CREATE TABLE body, where it would fail at migration time.
func TestGetMigrations_TableConstraintsAreColumnLists(t *testing.T) {
	constraint := regexp.MustCompile(`(?i)UNIQUE\s*\(([^)]*)`)
	columnsOnly := regexp.MustCompile(`^[\w\s,]*$`)

	for _, m := range GetMigrations() {
		for _, match := range constraint.FindAllStringSubmatch(m.SQL, -1) {
			if !columnsOnly.MatchString(match[1]) {
				t.Errorf("Migration %d: table constraint %q contains an expression; use CREATE UNIQUE INDEX instead", m.Version, strings.TrimSpace(match[0]))
			}
		}
	}
}

func TestRunMigrations_AppliesAllPending(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS authz_migrations").
		WillReturnResult(sqlmock.NewResult(0, 0))
	for range GetMigrations() {
		mock.ExpectQuery("SELECT COUNT").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectExec("CREATE").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("INSERT INTO authz_migrations").
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	if err := RunMigrations(context.Background(), db); err != nil {
		t.Fatalf("RunMigrations failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestRunMigrations_SkipsApplied(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS authz_migrations").
		WillReturnResult(sqlmock.NewResult(0, 0))
	for range GetMigrations() {
		mock.ExpectQuery("SELECT COUNT").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	}

	if err := RunMigrations(context.Background(), db); err != nil {
		t.Fatalf("RunMigrations failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}
