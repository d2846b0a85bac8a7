// Package cloudclient is the stateless, typed façade over the remote
// cloud's identity, compute, block-storage, and network capabilities
// (§4.1 Cloud Client). Every operation takes an explicit Session so
// the caller controls tenant scope; the client itself holds no
// credentials.
package cloudclient

import "time"

// Session is the opaque, project-scoped credential every operation is
// called with. DryRun sessions never touch the remote: mutating calls
// synthesize a "dryrun-<uuid>" identifier instead.
type Session struct {
	Token     string
	ProjectID string
	UserID    string
	ExpiresAt time.Time
	DryRun    bool
}

// Server mirrors the subset of compute server attributes the restore
// engine and policy engine need.
type Server struct {
	ID         string
	Name       string
	ProjectID  string
	Status     string
	FlavorID   string
	BootVolume string // volume ID of the boot device, empty if not boot-from-volume
}

// ServerSpec is the input to CreateServer.
type ServerSpec struct {
	Name                string
	FlavorID            string
	BootVolumeID        string
	PortIDs             []string
	UserData            string // base64 cloud-init payload, may be empty
	SecurityGroupIDs    []string
	AvailabilityZone    string
}

// Volume mirrors block-storage volume attributes.
type Volume struct {
	ID          string
	Name        string
	ProjectID   string
	Status      string
	SizeGB      int
	Metadata    map[string]string
	Attachments []Attachment
}

// Attachment is one volume-to-server attachment.
type Attachment struct {
	ServerID string
	Device   string
}

// VolumeFromSnapshotSpec is the input to CreateVolumeFromSnapshot.
type VolumeFromSnapshotSpec struct {
	SnapshotID string
	Name       string
	SizeGB     int
}

// Snapshot mirrors block-storage snapshot attributes.
type Snapshot struct {
	ID        string
	Name      string
	VolumeID  string
	ProjectID string
	Status    string
	SizeGB    int
	Metadata  map[string]string
	CreatedAt time.Time
}

// Port mirrors network port attributes.
type Port struct {
	ID         string
	NetworkID  string
	DeviceID   string
	MACAddress string
	FixedIPs   []FixedIP
}

// FixedIP is one IP binding on a port.
type FixedIP struct {
	SubnetID  string
	IPAddress string
}

// PortSpec is the input to CreatePort.
type PortSpec struct {
	NetworkID     string
	FixedIPs      []FixedIP // empty => DHCP-assigned (NEW_IPS)
	SecurityGroupIDs []string
}

// Subnet mirrors network subnet attributes.
type Subnet struct {
	ID        string
	NetworkID string
	CIDR      string
}

// Flavor mirrors compute flavor attributes.
type Flavor struct {
	ID    string
	Name  string
	VCPUs int
	RAMMB int
	DiskGB int
}

// Quotas is the subset of project quota dimensions the planner and
// QUOTA_CHECK step compare against.
type Quotas struct {
	InstancesUsed, InstancesLimit int
	VCPUsUsed, VCPUsLimit         int
	RAMMBUsed, RAMMBLimit         int
	VolumesUsed, VolumesLimit     int
	VolumeGBUsed, VolumeGBLimit   int
}

// QuotaDelta is a requested increase along each quota dimension,
// computed by the planner's pre-check and re-verified by QUOTA_CHECK.
type QuotaDelta struct {
	Instances int
	VCPUs     int
	RAMMB     int
	Volumes   int
	VolumeGB  int
}

// Fits reports whether q has enough headroom left for delta.
func (q Quotas) Fits(d QuotaDelta) bool {
	if q.InstancesLimit >= 0 && q.InstancesUsed+d.Instances > q.InstancesLimit {
		return false
	}
	if q.VCPUsLimit >= 0 && q.VCPUsUsed+d.VCPUs > q.VCPUsLimit {
		return false
	}
	if q.RAMMBLimit >= 0 && q.RAMMBUsed+d.RAMMB > q.RAMMBLimit {
		return false
	}
	if q.VolumesLimit >= 0 && q.VolumesUsed+d.Volumes > q.VolumesLimit {
		return false
	}
	if q.VolumeGBLimit >= 0 && q.VolumeGBUsed+d.VolumeGB > q.VolumeGBLimit {
		return false
	}
	return true
}

// RoleAssignment mirrors an identity role binding.
type RoleAssignment struct {
	UserID    string
	ProjectID string
	Role      string
}
