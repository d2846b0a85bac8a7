package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyvault-io/skyvault/internal/cloudclient"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGetProjectSession_GrantsAtMostOncePerProject(t *testing.T) {
	cloud := cloudclient.NewMockClient()
	p := NewProvider(cloud, "svc@example.com", "secret", 0, 0, testLogger())

	const goroutines = 20
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			_, err := p.GetProjectSession(context.Background(), "project-1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, cloud.GrantAttempts["project-1"], "grant must happen at most once per project under concurrent callers")
	assert.Equal(t, 1, p.GrantCount())
}

func TestGetProjectSession_SessionCacheLocality(t *testing.T) {
	cloud := cloudclient.NewMockClient()
	p := NewProvider(cloud, "svc@example.com", "secret", 0, 0, testLogger())

	projects := []string{"p1", "p1", "p2", "p1", "p2", "p3"}
	for _, proj := range projects {
		_, err := p.GetProjectSession(context.Background(), proj)
		require.NoError(t, err)
	}

	assert.Equal(t, 1, cloud.GrantAttempts["p1"])
	assert.Equal(t, 1, cloud.GrantAttempts["p2"])
	assert.Equal(t, 1, cloud.GrantAttempts["p3"])
	assert.Equal(t, 3, p.GrantCount())
}

func TestInvalidate_ClearsCacheAndGrant(t *testing.T) {
	cloud := cloudclient.NewMockClient()
	p := NewProvider(cloud, "svc@example.com", "secret", 0, 0, testLogger())

	_, err := p.GetProjectSession(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, cloud.GrantAttempts["p1"])

	p.Invalidate("p1")

	_, err = p.GetProjectSession(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, cloud.GrantAttempts["p1"], "invalidation should allow a fresh grant attempt")
}
