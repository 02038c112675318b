package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectDriver(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want Driver
	}{
		{"empty selects sqlite", "", DriverSQLite},
		{"postgres scheme", "postgres://lp:lp@localhost:5432/lessonpass", DriverPostgres},
		{"postgresql scheme", "postgresql://localhost/lessonpass", DriverPostgres},
		{"sqlite scheme", "sqlite:///var/lib/lessonpass.db", DriverSQLite},
		{"file scheme", "file:lessonpass.db?cache=shared", DriverSQLite},
		{"bare sqlite3 file", "/tmp/lp.sqlite3", DriverSQLite},
		{"unknown falls back to postgres", "host=localhost dbname=lp", DriverPostgres},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectDriver(tt.url))
		})
	}
}

func TestDriver_IsValid(t *testing.T) {
	assert.True(t, DriverPostgres.IsValid())
	assert.True(t, DriverSQLite.IsValid())
	assert.False(t, Driver("mysql").IsValid())
}

func TestSQLitePathFromURL(t *testing.T) {
	assert.Equal(t, "/var/lib/lp.db", SQLitePathFromURL("sqlite:///var/lib/lp.db"))
	assert.Equal(t, "lp.db", SQLitePathFromURL("lp.db"))
}

func TestAffectedOne(t *testing.T) {
	ok, err := AffectedOne(fakeResult(1))
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = AffectedOne(fakeResult(0))
	assert.NoError(t, err)
	assert.False(t, ok)
}

type fakeResult int64

func (r fakeResult) RowsAffected() (int64, error) { return int64(r), nil }
