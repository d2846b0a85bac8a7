package cloudclient

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skyvault-io/skyvault/internal/errs"
)

// MockClient is an in-memory CloudClient used by unit tests, so they
// never reach a real control plane. It mirrors the teacher's
// "dryrun-<uuid>" synthetic-ID convention.
type MockClient struct {
	mu sync.Mutex

	Servers   map[string]Server
	Volumes   map[string]Volume
	Snapshots map[string]Snapshot
	Ports     map[string]Port
	Quotas    map[string]Quotas

	// SnapshotCreateStatus lets tests force a specific outcome kind
	// (e.g. errs.KindSizeRejected) for the next CreateSnapshot call
	// against a given volume ID.
	SnapshotCreateStatus map[string]errs.Kind

	GrantAttempts map[string]int
}

// NewMockClient builds an empty mock cloud.
func NewMockClient() *MockClient {
	return &MockClient{
		Servers:              make(map[string]Server),
		Volumes:               make(map[string]Volume),
		Snapshots:             make(map[string]Snapshot),
		Ports:                 make(map[string]Port),
		Quotas:                make(map[string]Quotas),
		SnapshotCreateStatus:  make(map[string]errs.Kind),
		GrantAttempts:         make(map[string]int),
	}
}

func (m *MockClient) Authenticate(ctx context.Context, email, password, projectID string) (Session, error) {
	return Session{Token: "mock-token", ProjectID: projectID, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (m *MockClient) GrantRole(ctx context.Context, admin Session, userID, projectID, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GrantAttempts[projectID]++
	return nil
}

func (m *MockClient) FindUserByEmail(ctx context.Context, admin Session, email string) (string, bool, error) {
	return "svc-user-id", true, nil
}

func (m *MockClient) ListRoleAssignments(ctx context.Context, admin Session, userID string) ([]RoleAssignment, error) {
	return nil, nil
}

func (m *MockClient) GetServer(ctx context.Context, s Session, vmID string) (Server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	srv, ok := m.Servers[vmID]
	if !ok {
		return Server{}, errs.New(errs.KindNotFound, "server not found: "+vmID)
	}
	return srv, nil
}

func (m *MockClient) ListServers(ctx context.Context, s Session) ([]Server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Server, 0, len(m.Servers))
	for _, srv := range m.Servers {
		out = append(out, srv)
	}
	return out, nil
}

func (m *MockClient) CreateServer(ctx context.Context, s Session, spec ServerSpec) (Server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	srv := Server{ID: "dryrun-" + uuid.NewString(), Name: spec.Name, FlavorID: spec.FlavorID, Status: "ACTIVE", BootVolume: spec.BootVolumeID}
	m.Servers[srv.ID] = srv
	return srv, nil
}

func (m *MockClient) DeleteServer(ctx context.Context, s Session, vmID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Servers, vmID)
	return nil
}

func (m *MockClient) GetUserData(ctx context.Context, s Session, vmID string) (string, bool, error) {
	return "", false, nil
}

func (m *MockClient) WaitServerStatus(ctx context.Context, s Session, vmID, target string, timeout, pollInterval time.Duration) error {
	return nil
}

func (m *MockClient) GetComputeQuotas(ctx context.Context, s Session, projectID string) (Quotas, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.Quotas[projectID]; ok {
		return q, nil
	}
	return Quotas{InstancesLimit: -1, VCPUsLimit: -1, RAMMBLimit: -1, VolumesLimit: -1, VolumeGBLimit: -1}, nil
}

func (m *MockClient) ListFlavors(ctx context.Context, s Session) ([]Flavor, error) { return nil, nil }

func (m *MockClient) GetFlavor(ctx context.Context, s Session, flavorID string) (Flavor, error) {
	return Flavor{ID: flavorID, VCPUs: 2, RAMMB: 4096, DiskGB: 20}, nil
}

func (m *MockClient) CreateVolumeFromSnapshot(ctx context.Context, s Session, spec VolumeFromSnapshotSpec) (Volume, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := Volume{ID: "dryrun-" + uuid.NewString(), Name: spec.Name, Status: "available", SizeGB: spec.SizeGB}
	m.Volumes[v.ID] = v
	return v, nil
}

func (m *MockClient) WaitVolumeStatus(ctx context.Context, s Session, volumeID, target string, timeout, pollInterval time.Duration) error {
	return nil
}

func (m *MockClient) DeleteVolume(ctx context.Context, s Session, volumeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Volumes, volumeID)
	return nil
}

func (m *MockClient) GetVolume(ctx context.Context, s Session, volumeID string) (Volume, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.Volumes[volumeID]
	if !ok {
		return Volume{}, errs.New(errs.KindNotFound, "volume not found: "+volumeID)
	}
	return v, nil
}

func (m *MockClient) ListVolumes(ctx context.Context, s Session, filters map[string]string) ([]Volume, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Volume
	for _, v := range m.Volumes {
		match := true
		for k, want := range filters {
			if v.Metadata[k] != want {
				match = false
				break
			}
		}
		if match {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *MockClient) ListSnapshots(ctx context.Context, s Session, volumeID string) ([]Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Snapshot
	for _, snap := range m.Snapshots {
		if snap.VolumeID == volumeID {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (m *MockClient) CreateSnapshot(ctx context.Context, s Session, volumeID, name string, metadata map[string]string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if kind, forced := m.SnapshotCreateStatus[volumeID]; forced {
		delete(m.SnapshotCreateStatus, volumeID)
		return Snapshot{}, errs.New(kind, "forced outcome for test")
	}
	snap := Snapshot{ID: "dryrun-" + uuid.NewString(), Name: name, VolumeID: volumeID, Status: "available", Metadata: metadata, CreatedAt: time.Now()}
	m.Snapshots[snap.ID] = snap
	return snap, nil
}

func (m *MockClient) DeleteSnapshot(ctx context.Context, s Session, snapshotID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Snapshots, snapshotID)
	return nil
}

func (m *MockClient) GetSnapshot(ctx context.Context, s Session, snapshotID string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.Snapshots[snapshotID]
	if !ok {
		return Snapshot{}, errs.New(errs.KindSnapshotNotFound, "snapshot not found: "+snapshotID)
	}
	return snap, nil
}

func (m *MockClient) GetStorageQuotas(ctx context.Context, s Session, projectID string) (Quotas, error) {
	return Quotas{VolumesLimit: -1, VolumeGBLimit: -1}, nil
}

func (m *MockClient) ListPorts(ctx context.Context, s Session, filters map[string]string) ([]Port, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Port
	for _, p := range m.Ports {
		if deviceID, ok := filters["device_id"]; ok && p.DeviceID != deviceID {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *MockClient) CreatePort(ctx context.Context, s Session, spec PortSpec) (Port, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := Port{ID: "dryrun-" + uuid.NewString(), NetworkID: spec.NetworkID, FixedIPs: spec.FixedIPs}
	m.Ports[p.ID] = p
	return p, nil
}

func (m *MockClient) DeletePort(ctx context.Context, s Session, portID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Ports, portID)
	return nil
}

func (m *MockClient) ListSubnets(ctx context.Context, s Session, networkID string) ([]Subnet, error) {
	return nil, nil
}

func (m *MockClient) ListNetworks(ctx context.Context, s Session) ([]string, error) { return nil, nil }

func (m *MockClient) CreateSecurityGroup(ctx context.Context, s Session, name, description string) (string, error) {
	return "dryrun-" + uuid.NewString(), nil
}

func (m *MockClient) CreateSecurityGroupRule(ctx context.Context, s Session, groupID, protocol string, portMin, portMax int, cidr string) error {
	return nil
}

func (m *MockClient) ListSecurityGroups(ctx context.Context, s Session, projectID string) ([]string, error) {
	return nil, nil
}

var _ CloudClient = (*MockClient)(nil)
