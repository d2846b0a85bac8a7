package cloudclient

import (
	"context"
	"time"
)

// IdentityAPI is the identity sub-surface of the Cloud Client (§4.1).
type IdentityAPI interface {
	Authenticate(ctx context.Context, email, password, projectID string) (Session, error)
	GrantRole(ctx context.Context, admin Session, userID, projectID, role string) error
	FindUserByEmail(ctx context.Context, admin Session, email string) (userID string, found bool, err error)
	ListRoleAssignments(ctx context.Context, admin Session, userID string) ([]RoleAssignment, error)
}

// ComputeAPI is the compute sub-surface.
type ComputeAPI interface {
	GetServer(ctx context.Context, s Session, vmID string) (Server, error)
	ListServers(ctx context.Context, s Session) ([]Server, error)
	CreateServer(ctx context.Context, s Session, spec ServerSpec) (Server, error)
	DeleteServer(ctx context.Context, s Session, vmID string) error
	GetUserData(ctx context.Context, s Session, vmID string) (string, bool, error)
	WaitServerStatus(ctx context.Context, s Session, vmID, target string, timeout, pollInterval time.Duration) error
	GetComputeQuotas(ctx context.Context, s Session, projectID string) (Quotas, error)
	ListFlavors(ctx context.Context, s Session) ([]Flavor, error)
	GetFlavor(ctx context.Context, s Session, flavorID string) (Flavor, error)
}

// StorageAPI is the block-storage sub-surface.
type StorageAPI interface {
	CreateVolumeFromSnapshot(ctx context.Context, s Session, spec VolumeFromSnapshotSpec) (Volume, error)
	WaitVolumeStatus(ctx context.Context, s Session, volumeID, target string, timeout, pollInterval time.Duration) error
	DeleteVolume(ctx context.Context, s Session, volumeID string) error
	GetVolume(ctx context.Context, s Session, volumeID string) (Volume, error)
	ListVolumes(ctx context.Context, s Session, filters map[string]string) ([]Volume, error)
	ListSnapshots(ctx context.Context, s Session, volumeID string) ([]Snapshot, error)
	CreateSnapshot(ctx context.Context, s Session, volumeID, name string, metadata map[string]string) (Snapshot, error)
	DeleteSnapshot(ctx context.Context, s Session, snapshotID string) error
	GetSnapshot(ctx context.Context, s Session, snapshotID string) (Snapshot, error)
	GetStorageQuotas(ctx context.Context, s Session, projectID string) (Quotas, error)
}

// NetworkAPI is the network sub-surface.
type NetworkAPI interface {
	ListPorts(ctx context.Context, s Session, filters map[string]string) ([]Port, error)
	CreatePort(ctx context.Context, s Session, spec PortSpec) (Port, error)
	DeletePort(ctx context.Context, s Session, portID string) error
	ListSubnets(ctx context.Context, s Session, networkID string) ([]Subnet, error)
	ListNetworks(ctx context.Context, s Session) ([]string, error)
	CreateSecurityGroup(ctx context.Context, s Session, name, description string) (string, error)
	CreateSecurityGroupRule(ctx context.Context, s Session, groupID string, protocol string, portMin, portMax int, cidr string) error
	ListSecurityGroups(ctx context.Context, s Session, projectID string) ([]string, error)
}

// CloudClient is the full C1 façade the rest of the core depends on.
type CloudClient interface {
	IdentityAPI
	ComputeAPI
	StorageAPI
	NetworkAPI
}
