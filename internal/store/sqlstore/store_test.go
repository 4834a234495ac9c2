package sqlstore

import (
	"testing"

	"go.uber.org/zap/zaptest"
)

var testStore *SQLStore

func SetupTestDB(t *testing.T) {
	var err error
	testStore, err = New("sqlite3", ":memory:", zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
}

func TeardownTestDB() {
	testStore.Close()
}
