package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/agentmailproxy/mailproxy/internal/session"
)

// NewTestStore starts a Redis test container and returns a session.Store
// backed by it. The container is torn down when the test finishes.
func NewTestStore(t *testing.T) *session.Store {
	t.Helper()

	ctx := context.Background()

	redisContainer, err := tcredis.Run(ctx,
		"redis:7-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	t.Cleanup(func() {
		if err := redisContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := redisContainer.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	store, err := session.New(connStr)
	if err != nil {
		t.Fatalf("Failed to create session store: %v", err)
	}

	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Failed to ping session store: %v", err)
	}

	return store
}
