// Package session implements the Service-User Session Provider (C2):
// a shared service credential that is temporarily granted the admin
// role on a target project so the core can mutate resources in the
// correct tenant without maintaining one credential per project.
//
// Grounded on the teacher's single-profile authentication path in
// internal/cloud/openstack/client.go, generalized from one cloud
// profile to a per-project LRU of scoped sessions.
package session

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skyvault-io/skyvault/internal/cloudclient"
)

const (
	defaultCacheSize = 64
	defaultTTL       = 50 * time.Minute
	adminRole        = "admin"
)

// Degraded is returned by GetProjectSession when no scoped session
// could be produced; the caller should fall back to the admin session
// and log/record the degradation, per §4.2.
var Degraded = fmt.Errorf("no project session available")

type cacheEntry struct {
	projectID string
	session   cloudclient.Session
	expiresAt time.Time
}

// Provider is the C2 implementation: one admin session for the
// service account's home project, a per-project grant-once gate, and
// a bounded LRU of scoped sessions.
type Provider struct {
	cloud cloudclient.IdentityAPI

	email    string
	password string

	mu          sync.Mutex
	adminSess   *cloudclient.Session
	adminUserID string

	granted map[string]struct{} // project IDs granted this process lifetime
	grants  sync.Map            // project ID -> *sync.Once, guards concurrent grant attempts

	cacheSize int
	ttl       time.Duration
	lru       *list.List
	index     map[string]*list.Element

	log *slog.Logger
}

// NewProvider builds a session provider. cacheSize/ttl of 0 select the
// §4.2 defaults (64 projects, 50 minutes).
func NewProvider(cloud cloudclient.IdentityAPI, email, password string, cacheSize int, ttl time.Duration, log *slog.Logger) *Provider {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Provider{
		cloud:     cloud,
		email:     email,
		password:  password,
		granted:   make(map[string]struct{}),
		cacheSize: cacheSize,
		ttl:       ttl,
		lru:       list.New(),
		index:     make(map[string]*list.Element),
		log:       log,
	}
}

// GetAdminSession returns (and memoizes for the process lifetime) a
// session scoped to the service account's home project.
func (p *Provider) GetAdminSession(ctx context.Context) (cloudclient.Session, error) {
	p.mu.Lock()
	if p.adminSess != nil && time.Now().Before(p.adminSess.ExpiresAt) {
		sess := *p.adminSess
		p.mu.Unlock()
		return sess, nil
	}
	p.mu.Unlock()

	sess, err := p.cloud.Authenticate(ctx, p.email, p.password, "")
	if err != nil {
		return cloudclient.Session{}, fmt.Errorf("authenticating service account: %w", err)
	}

	p.mu.Lock()
	p.adminSess = &sess
	p.mu.Unlock()
	return sess, nil
}

// GetProjectSession resolves a session scoped to project_id by
// granting the admin role to the service account on that project (at
// most once per project per process lifetime) and authenticating
// directly against it. On any failure it returns Degraded rather than
// propagating the underlying error, so the caller can fall back to
// the admin session; the caller is responsible for logging/recording
// the degradation against the current run or step.
func (p *Provider) GetProjectSession(ctx context.Context, projectID string) (cloudclient.Session, error) {
	if sess, ok := p.lookupCached(projectID); ok {
		return sess, nil
	}

	admin, err := p.GetAdminSession(ctx)
	if err != nil {
		p.log.Warn("admin session unavailable, degrading to fallback", "project_id", projectID, "error", err)
		return cloudclient.Session{}, Degraded
	}

	if err := p.ensureUser(ctx, admin); err != nil {
		p.log.Warn("service user lookup failed, degrading to fallback", "project_id", projectID, "error", err)
		return cloudclient.Session{}, Degraded
	}

	if err := p.ensureGrant(ctx, admin, projectID); err != nil {
		p.log.Warn("role grant failed, degrading to fallback", "project_id", projectID, "error", err)
		return cloudclient.Session{}, Degraded
	}

	sess, err := p.cloud.Authenticate(ctx, p.email, p.password, projectID)
	if err != nil {
		p.log.Warn("project-scoped authentication failed, degrading to fallback", "project_id", projectID, "error", err)
		return cloudclient.Session{}, Degraded
	}

	p.cache(projectID, sess)
	return sess, nil
}

// Invalidate drops any cached grant/session state for project_id,
// used when the remote returns 401 on a previously working session.
func (p *Provider) Invalidate(projectID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.granted, projectID)
	p.grants.Delete(projectID)
	if el, ok := p.index[projectID]; ok {
		p.lru.Remove(el)
		delete(p.index, projectID)
	}
}

func (p *Provider) ensureUser(ctx context.Context, admin cloudclient.Session) error {
	p.mu.Lock()
	if p.adminUserID != "" {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	userID, found, err := p.cloud.FindUserByEmail(ctx, admin, p.email)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("service user %q not found", p.email)
	}
	p.mu.Lock()
	p.adminUserID = userID
	p.mu.Unlock()
	return nil
}

// ensureGrant performs the role grant at most once per project per
// process lifetime, even under concurrent callers, by gating on a
// per-project sync.Once stored in grants.
func (p *Provider) ensureGrant(ctx context.Context, admin cloudclient.Session, projectID string) error {
	onceVal, _ := p.grants.LoadOrStore(projectID, &sync.Once{})
	once := onceVal.(*sync.Once)

	var grantErr error
	once.Do(func() {
		p.mu.Lock()
		userID := p.adminUserID
		p.mu.Unlock()
		grantErr = p.cloud.GrantRole(ctx, admin, userID, projectID, adminRole)
		if grantErr == nil {
			p.mu.Lock()
			p.granted[projectID] = struct{}{}
			p.mu.Unlock()
		}
	})
	if grantErr != nil {
		// allow a future call to retry the grant instead of being
		// stuck behind a permanently-failed Once.
		p.grants.Delete(projectID)
		return grantErr
	}
	return nil
}

func (p *Provider) lookupCached(projectID string) (cloudclient.Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	el, ok := p.index[projectID]
	if !ok {
		return cloudclient.Session{}, false
	}
	entry := el.Value.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		p.lru.Remove(el)
		delete(p.index, projectID)
		return cloudclient.Session{}, false
	}
	p.lru.MoveToFront(el)
	return entry.session, true
}

func (p *Provider) cache(projectID string, sess cloudclient.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if el, ok := p.index[projectID]; ok {
		p.lru.Remove(el)
		delete(p.index, projectID)
	}

	entry := &cacheEntry{projectID: projectID, session: sess, expiresAt: time.Now().Add(p.ttl)}
	el := p.lru.PushFront(entry)
	p.index[projectID] = el

	for p.lru.Len() > p.cacheSize {
		oldest := p.lru.Back()
		if oldest == nil {
			break
		}
		p.lru.Remove(oldest)
		delete(p.index, oldest.Value.(*cacheEntry).projectID)
	}
}

// GrantCount reports how many distinct projects have been granted the
// admin role this process lifetime. Used by the session-cache
// locality test (§8.8: exactly P grant attempts for P projects).
func (p *Provider) GrantCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.granted)
}
