package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/skyvault-io/skyvault/internal/cloudclient"
	"github.com/skyvault-io/skyvault/internal/config"
	"github.com/skyvault-io/skyvault/internal/logging"
	"github.com/skyvault-io/skyvault/internal/notifications"
	"github.com/skyvault-io/skyvault/internal/restore"
	"github.com/skyvault-io/skyvault/internal/session"
	"github.com/skyvault-io/skyvault/internal/store"
	"github.com/skyvault-io/skyvault/internal/worker"
)

// app bundles every collaborator a skyvaultd command needs, built once
// from config.Settings, generalizing the teacher's loose package-level
// cobra flag variables into one explicit wiring point.
type app struct {
	Settings *config.Settings
	Log      *slog.Logger
	Cloud    cloudclient.CloudClient
	Sessions *session.Provider
	Store    store.JobStore
	Notifier *notifications.Webhook
	Worker   *worker.Worker
	Restore  *restore.Engine
}

// newApp opens the database, authenticates the cloud client, and
// builds every C1-C6 collaborator. component scopes the logger the
// way the teacher's workflow.SetupLogger(logLevel, cloudProfile) does.
func newApp(ctx context.Context, settings *config.Settings, component string) (*app, error) {
	log := logging.New(settings.LogLevel, component)

	sqlDB, err := sql.Open("mysql", settings.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	sqlDB.SetMaxOpenConns(settings.DBMaxOpenConns)
	sqlDB.SetMaxIdleConns(settings.DBMaxIdleConns)

	gdb, err := gorm.Open(gormmysql.New(gormmysql.Config{Conn: sqlDB}), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("opening gorm handle: %w", err)
	}
	if err := store.AutoMigrate(gdb); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	js := store.New(gdb, sqlx.NewDb(sqlDB, "mysql"))

	cloud, err := cloudclient.NewOpenStackClient(ctx, settings.CloudProfile, cloudclient.DefaultRetryConfig())
	if err != nil {
		return nil, fmt.Errorf("authenticating cloud profile %q: %w", settings.CloudProfile, err)
	}

	var sessionEmail, sessionPassword string
	if !settings.ServiceUserDisabled {
		sessionEmail, sessionPassword = settings.ServiceUserEmail, settings.ServiceUserPassword
	}
	sessions := session.NewProvider(cloud, sessionEmail, sessionPassword, 0, 0, log.With("component", "session"))

	notifier := &notifications.Webhook{
		URL:      settings.WebhookURL,
		Username: settings.WebhookUsername,
		Password: settings.WebhookPassword,
	}

	w := worker.New(cloud, sessions, js, notifier, worker.Config{
		AutoSnapshotMaxSizeGB: settings.AutoSnapshotMaxSizeGB,
		DryRun:                settings.AutoSnapshotDryRun,
	}, log.With("component", "worker"))

	restoreEngine := restore.New(cloud, sessions, js, notifier, restore.Config{
		DryRun:         settings.RestoreDryRun,
		CleanupVolumes: settings.RestoreCleanupVolumes,
	}, log.With("component", "restore"))

	return &app{
		Settings: settings,
		Log:      log,
		Cloud:    cloud,
		Sessions: sessions,
		Store:    js,
		Notifier: notifier,
		Worker:   w,
		Restore:  restoreEngine,
	}, nil
}
