package restore

import (
	"io"
	"log/slog"

	"github.com/skyvault-io/skyvault/internal/cloudclient"
	"github.com/skyvault-io/skyvault/internal/session"
)

func newTestSessionProvider(cloud cloudclient.IdentityAPI) *session.Provider {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return session.NewProvider(cloud, "svc@skyvault.local", "secret", 0, 0, log)
}
