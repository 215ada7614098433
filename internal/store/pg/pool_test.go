package pg

import (
	"context"
	"strings"
	"testing"
)

func TestNewPoolRejectsBadDuration(t *testing.T) {
	_, err := NewPool(context.Background(), "postgres://u:p@localhost:5432/db", PoolOptions{MaxConnIdleTime: "soon"})
	if err == nil || !strings.Contains(err.Error(), "DB_POOL_MAX_CONN_IDLE_TIME") {
		t.Fatalf("expected idle time error, got %v", err)
	}
}
