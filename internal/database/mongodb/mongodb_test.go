package mongodb

import (
	"fmt"
	"os"
	"testing"
	"time"

	"fileflow/internal/database/storetest"
	"fileflow/internal/fileflow"
)

func TestMongoStore(t *testing.T) {
	url := os.Getenv("FILEFLOW_TEST_MONGO_URL")
	if url == "" {
		t.Skip("FILEFLOW_TEST_MONGO_URL not set")
	}

	storetest.Run(t, func(t *testing.T) fileflow.Store {
		name := fmt.Sprintf("fileflow_test_%d", time.Now().UnixNano())
		s, err := NewMongoStore(url, name)
		if err != nil {
			t.Fatalf("NewMongoStore() error = %v", err)
		}
		t.Cleanup(func() {
			s.db.DropDatabase()
			s.Close()
		})
		return s
	})
}

func TestVersionDocID(t *testing.T) {
	if got := versionDocID("abc", 3); got != "abc#3" {
		t.Errorf("versionDocID() = %q, want %q", got, "abc#3")
	}
}
