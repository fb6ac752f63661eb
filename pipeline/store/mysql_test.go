package store

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"
)

// TestMySQLBackend_Contract runs the backend contract against a live MySQL server.
//
// Set TEST_MYSQL_DSN to enable, e.g.
//
//	TEST_MYSQL_DSN="root:pass@tcp(localhost:3306)/chatpipe_test" go test ./pipeline/store/...
func TestMySQLBackend_Contract(t *testing.T) {
	dsn := os.Getenv("TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("Skipping MySQL tests: TEST_MYSQL_DSN not set")
	}

	testBackendContract(t, func(t *testing.T) Backend {
		b, err := NewMySQLBackend(dsn)
		if err != nil {
			t.Fatalf("NewMySQLBackend failed: %v", err)
		}
		// Shared database: scope every subtest to unique input paths.
		return &prefixedBackend{Backend: b, prefix: fmt.Sprintf("/t%d", time.Now().UnixNano())}
	})
}

// prefixedBackend isolates runs created by concurrent or repeated test invocations.
type prefixedBackend struct {
	Backend
	prefix string
}

func (p *prefixedBackend) FindOrCreateRun(ctx context.Context, inputPath, contentHash string) (Run, error) {
	return p.Backend.FindOrCreateRun(ctx, p.prefix+inputPath, contentHash)
}

func (p *prefixedBackend) ListRuns(ctx context.Context) ([]Run, error) {
	all, err := p.Backend.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	var runs []Run
	for _, r := range all {
		if strings.HasPrefix(r.InputPath, p.prefix) {
			runs = append(runs, r)
		}
	}
	return runs, nil
}

// TestNewMySQLBackend_BadDSN verifies connection errors are reported.
func TestNewMySQLBackend_BadDSN(t *testing.T) {
	if os.Getenv("TEST_MYSQL_DSN") == "" {
		t.Skip("Skipping MySQL tests: TEST_MYSQL_DSN not set")
	}
	if _, err := NewMySQLBackend("nobody:wrong@tcp(127.0.0.1:1)/none?timeout=1s"); err == nil {
		t.Error("expected error for unreachable server")
	}
}
