package test

import (
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"testing"

	auth "github.com/castellan/castellan"
)

// NewPGDB returns a new database for testing. Database names are
// randomly generated to avoid race conditions between parallel
// packages. Tests are skipped when Postgres is unreachable.
func NewPGDB(t *testing.T) *sql.DB {
	t.Helper()

	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		host = "localhost"
	}

	connectionString := "user=castellan password=swordfish host=%s port=5432 dbname=%s connect_timeout=3 sslmode=disable"
	testDBName := randomDB()

	sysDB, err := sql.Open("postgres", fmt.Sprintf(connectionString, host, "postgres"))
	if err != nil {
		t.Skip("postgres unavailable:", err)
	}
	if err = sysDB.Ping(); err != nil {
		sysDB.Close()
		t.Skip("postgres unavailable:", err)
	}

	if _, err = sysDB.Exec("CREATE DATABASE " + testDBName); err != nil {
		sysDB.Close()
		t.Fatal("cannot create test DB:", err)
	}

	db, err := sql.Open("postgres", fmt.Sprintf(connectionString, host, testDBName))
	if err != nil {
		t.Fatal("cannot connect to test DB:", err)
	}
	if _, err = db.Exec(auth.Schema); err != nil {
		t.Fatal("failed to create tables:", err)
	}

	t.Cleanup(func() {
		db.Close()
		_, _ = sysDB.Exec("DROP DATABASE IF EXISTS " + testDBName)
		sysDB.Close()
	})

	return db
}

// randomDB creates a random test database name.
func randomDB() string {
	length := 10
	b := make([]rune, length)
	opts := []rune("abcdefghijklmnopqrstuvwxyz")
	for i := range b {
		// nolint:gosec // crypto/rand not applicable for test package
		b[i] = opts[rand.Intn(len(opts))]
	}

	return fmt.Sprintf("castellan_test_%s", string(b))
}
