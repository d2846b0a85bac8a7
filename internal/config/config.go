// Package config loads the process environment into a typed settings
// struct, the way the teacher's CLI root binds flags to SNAPSENTRY_*
// env vars through viper, generalized here to the full env surface
// a daemon process needs rather than one --cloud flag.
package config

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings is the resolved configuration for one skyvaultd process.
type Settings struct {
	CloudProfile string
	LogLevel     string

	DatabaseDSN     string
	DBMaxOpenConns  int
	DBMaxIdleConns  int

	RestoreEnabled        bool
	RestoreDryRun         bool
	RestoreCleanupVolumes bool

	PolicyAssignInterval time.Duration
	SnapshotInterval     time.Duration
	AutoSnapshotMaxSizeGB int
	AutoSnapshotDryRun    bool

	ServiceUserEmail              string
	ServiceUserPassword           string
	ServiceUserPasswordKey        string
	ServiceUserPasswordEncrypted  string
	ServiceUserDisabled           bool

	IdentityEndpoint string

	WebhookURL      string
	WebhookUsername string
	WebhookPassword string
}

// Load reads SKYVAULT_* environment variables (and any bound flags)
// into a Settings value, failing fast on any validation error,
// including a bad encrypted service-user password, which must be
// fatal at process startup, never discovered mid-run.
func Load(v *viper.Viper) (*Settings, error) {
	if v == nil {
		v = viper.GetViper()
	}

	v.SetEnvPrefix("SKYVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("log-level", "info")
	v.SetDefault("db-max-open-conns", 10)
	v.SetDefault("db-max-idle-conns", 2)
	v.SetDefault("restore-enabled", true)
	v.SetDefault("restore-dry-run", false)
	v.SetDefault("restore-cleanup-volumes", false)
	v.SetDefault("policy-assign-interval-minutes", 60)
	v.SetDefault("auto-snapshot-interval-minutes", 60)
	v.SetDefault("auto-snapshot-max-size-gb", 260)
	v.SetDefault("auto-snapshot-dry-run", false)

	s := &Settings{
		CloudProfile:                 v.GetString("cloud-profile"),
		LogLevel:                     v.GetString("log-level"),
		DatabaseDSN:                  v.GetString("database-dsn"),
		DBMaxOpenConns:               v.GetInt("db-max-open-conns"),
		DBMaxIdleConns:               v.GetInt("db-max-idle-conns"),
		RestoreEnabled:               v.GetBool("restore-enabled"),
		RestoreDryRun:                v.GetBool("restore-dry-run"),
		RestoreCleanupVolumes:        v.GetBool("restore-cleanup-volumes"),
		PolicyAssignInterval:         time.Duration(v.GetInt("policy-assign-interval-minutes")) * time.Minute,
		SnapshotInterval:             time.Duration(v.GetInt("auto-snapshot-interval-minutes")) * time.Minute,
		AutoSnapshotMaxSizeGB:        v.GetInt("auto-snapshot-max-size-gb"),
		AutoSnapshotDryRun:           v.GetBool("auto-snapshot-dry-run"),
		ServiceUserEmail:             v.GetString("service-user-email"),
		ServiceUserPassword:          v.GetString("service-user-password"),
		ServiceUserPasswordKey:       v.GetString("password-key"),
		ServiceUserPasswordEncrypted: v.GetString("user-password-encrypted"),
		ServiceUserDisabled:          v.GetBool("service-user-disabled"),
		IdentityEndpoint:             v.GetString("identity-endpoint"),
		WebhookURL:                   v.GetString("webhook-url"),
		WebhookUsername:              v.GetString("webhook-username"),
		WebhookPassword:              v.GetString("webhook-password"),
	}

	if err := s.resolveServiceUserPassword(); err != nil {
		return nil, fmt.Errorf("resolving service user password: %w", err)
	}

	return s, nil
}

// resolveServiceUserPassword decides between the plain and encrypted
// password forms and decrypts the latter if present. Decrypt failure
// is returned so the caller treats it as fatal at startup.
func (s *Settings) resolveServiceUserPassword() error {
	if s.ServiceUserDisabled {
		return nil
	}
	if s.ServiceUserPasswordEncrypted == "" {
		return nil
	}
	if s.ServiceUserPassword != "" {
		return fmt.Errorf("plain and encrypted service-user passwords both set, exactly one expected")
	}
	plain, err := decryptAESGCM(s.ServiceUserPasswordKey, s.ServiceUserPasswordEncrypted)
	if err != nil {
		return fmt.Errorf("decrypting service user password: %w", err)
	}
	s.ServiceUserPassword = plain
	return nil
}

func decryptAESGCM(keyB64, payloadB64 string) (string, error) {
	key, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return "", fmt.Errorf("invalid key encoding: %w", err)
	}
	payload, err := base64.StdEncoding.DecodeString(payloadB64)
	if err != nil {
		return "", fmt.Errorf("invalid payload encoding: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("constructing cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("constructing GCM: %w", err)
	}
	if len(payload) < gcm.NonceSize() {
		return "", fmt.Errorf("payload shorter than nonce size")
	}
	nonce, ciphertext := payload[:gcm.NonceSize()], payload[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("opening ciphertext: %w", err)
	}
	return string(plain), nil
}
