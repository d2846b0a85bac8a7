package cloudclient

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack"
	"github.com/gophercloud/gophercloud/v2/openstack/blockstorage/v3/snapshots"
	"github.com/gophercloud/gophercloud/v2/openstack/blockstorage/v3/volumes"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/flavors"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/servers"
	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/roles"
	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/users"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/extensions/layer3/subnets"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/networks"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/ports"
	groups "github.com/gophercloud/gophercloud/v2/openstack/networking/v2/extensions/security/groups"
	grouprules "github.com/gophercloud/gophercloud/v2/openstack/networking/v2/extensions/security/rules"
	"github.com/gophercloud/gophercloud/v2/pagination"
	"github.com/gophercloud/utils/v2/openstack/clientconfig"

	"github.com/skyvault-io/skyvault/internal/errs"
)

// OpenStackClient is the gophercloud-backed CloudClient implementation.
// It is stateless with respect to tenant scope: every method receives
// an explicit Session, but it holds long-lived per-service
// gophercloud.ServiceClient handles built once at process startup,
// generalizing the teacher's single-profile openstack.Client to every
// service the core's components need.
type OpenStackClient struct {
	ProfileName string
	Retry       RetryConfig

	Identity *gophercloud.ServiceClient
	Compute  *gophercloud.ServiceClient
	Storage  *gophercloud.ServiceClient
	Network  *gophercloud.ServiceClient
}

// NewOpenStackClient authenticates against the named clouds.yaml
// profile and builds the four service clients the core depends on.
func NewOpenStackClient(ctx context.Context, profileName string, retry RetryConfig) (*OpenStackClient, error) {
	c := &OpenStackClient{ProfileName: profileName, Retry: retry}

	var provider *gophercloud.ProviderClient
	authenticate := func(innerCtx context.Context) error {
		p, err := clientconfig.AuthenticatedClient(innerCtx, &clientconfig.ClientOpts{Cloud: profileName})
		if err != nil {
			return err
		}
		provider = p
		return nil
	}
	if err := ExecuteAction(ctx, retry, "openstack.authenticate", authenticate); err != nil {
		return nil, fmt.Errorf("authenticating profile %q: %w", profileName, err)
	}

	cloudCfg, err := clientconfig.GetCloudFromYAML(&clientconfig.ClientOpts{Cloud: profileName})
	if err != nil {
		return nil, fmt.Errorf("parsing cloud config for %q: %w", profileName, err)
	}

	var availability gophercloud.Availability
	switch cloudCfg.EndpointType {
	case "internal":
		availability = gophercloud.AvailabilityInternal
	case "admin":
		availability = gophercloud.AvailabilityAdmin
	default:
		availability = gophercloud.AvailabilityPublic
	}
	endpointOpts := gophercloud.EndpointOpts{Availability: availability, Region: cloudCfg.RegionName}

	if c.Storage, err = openstack.NewBlockStorageV3(provider, endpointOpts); err != nil {
		return nil, fmt.Errorf("initializing block storage client: %w", err)
	}
	if c.Compute, err = openstack.NewComputeV2(provider, endpointOpts); err != nil {
		return nil, fmt.Errorf("initializing compute client: %w", err)
	}
	if c.Identity, err = openstack.NewIdentityV3(provider, endpointOpts); err != nil {
		return nil, fmt.Errorf("initializing identity client: %w", err)
	}
	if c.Network, err = openstack.NewNetworkV2(provider, endpointOpts); err != nil {
		return nil, fmt.Errorf("initializing network client: %w", err)
	}
	return c, nil
}

func (c *OpenStackClient) run(ctx context.Context, opName string, op func(ctx context.Context) error) error {
	return ExecuteAction(ctx, c.Retry, opName, op)
}

// --- Identity ---

func (c *OpenStackClient) Authenticate(ctx context.Context, email, password, projectID string) (Session, error) {
	var sess Session
	op := func(innerCtx context.Context) error {
		opts := &clientconfig.ClientOpts{
			Cloud: c.ProfileName,
			AuthInfo: &clientconfig.AuthInfo{
				Username:    email,
				Password:    password,
				ProjectID:   projectID,
			},
		}
		provider, err := clientconfig.AuthenticatedClient(innerCtx, opts)
		if err != nil {
			return err
		}
		sess = Session{
			Token:     provider.TokenID,
			ProjectID: projectID,
			ExpiresAt: time.Now().Add(55 * time.Minute),
		}
		return nil
	}
	if err := c.run(ctx, "identity.authenticate", op); err != nil {
		return Session{}, err
	}
	return sess, nil
}

func (c *OpenStackClient) GrantRole(ctx context.Context, admin Session, userID, projectID, role string) error {
	if admin.DryRun {
		return nil
	}
	op :=func(innerCtx context.Context) error {
		return roles.AssignToUser(innerCtx, c.Identity, roles.AssignOpts{
			UserID:    userID,
			ProjectID: projectID,
		}, role).ExtractErr()
	}
	err := c.run(ctx, "identity.grant_role", op)
	if err != nil && errs.Is(err, errs.KindConflict) {
		// already granted: idempotent from the caller's perspective.
		return nil
	}
	return err
}

func (c *OpenStackClient) FindUserByEmail(ctx context.Context, admin Session, email string) (string, bool, error) {
	var userID string
	var found bool
	op := func(innerCtx context.Context) error {
		pager := users.List(c.Identity, users.ListOpts{Name: email})
		return pager.EachPage(innerCtx, func(_ context.Context, page pagination.Page) (bool, error) {
			list, err := users.ExtractUsers(page)
			if err != nil {
				return false, err
			}
			for _, u := range list {
				if u.Email == email || u.Name == email {
					userID, found = u.ID, true
					return false, nil
				}
			}
			return true, nil
		})
	}
	if err := c.run(ctx, "identity.find_user_by_email", op); err != nil {
		return "", false, err
	}
	return userID, found, nil
}

func (c *OpenStackClient) ListRoleAssignments(ctx context.Context, admin Session, userID string) ([]RoleAssignment, error) {
	var out []RoleAssignment
	op := func(innerCtx context.Context) error {
		out = nil
		pager := roles.ListAssignments(c.Identity, roles.ListAssignmentsOpts{UserID: userID})
		return pager.EachPage(innerCtx, func(_ context.Context, page pagination.Page) (bool, error) {
			list, err := roles.ExtractRoleAssignments(page)
			if err != nil {
				return false, err
			}
			for _, a := range list {
				out = append(out, RoleAssignment{UserID: a.User.ID, ProjectID: a.Scope.Project.ID, Role: a.Role.ID})
			}
			return true, nil
		})
	}
	if err := c.run(ctx, "identity.list_role_assignments", op); err != nil {
		return nil, err
	}
	return out, nil
}

// --- Compute ---

func (c *OpenStackClient) GetServer(ctx context.Context, s Session, vmID string) (Server, error) {
	var out Server
	op := func(innerCtx context.Context) error {
		srv, err := servers.Get(innerCtx, c.Compute, vmID).Extract()
		if err != nil {
			return err
		}
		out = toServer(srv)
		return nil
	}
	if err := c.run(ctx, "compute.get_server", op); err != nil {
		return Server{}, err
	}
	return out, nil
}

func (c *OpenStackClient) ListServers(ctx context.Context, s Session) ([]Server, error) {
	var out []Server
	op := func(innerCtx context.Context) error {
		out = nil
		pager := servers.List(c.Compute, servers.ListOpts{})
		return pager.EachPage(innerCtx, func(_ context.Context, page pagination.Page) (bool, error) {
			list, err := servers.ExtractServers(page)
			if err != nil {
				return false, err
			}
			for i := range list {
				out = append(out, toServer(&list[i]))
			}
			return true, nil
		})
	}
	if err := c.run(ctx, "compute.list_servers", op); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OpenStackClient) CreateServer(ctx context.Context, s Session, spec ServerSpec) (Server, error) {
	if s.DryRun {
		return Server{ID: "dryrun-" + uuid.NewString(), Name: spec.Name, Status: "ACTIVE"}, nil
	}
	var out Server
	op := func(innerCtx context.Context) error {
		var networks []servers.Network
		for _, p := range spec.PortIDs {
			networks = append(networks, servers.Network{Port: p})
		}
		createOpts := servers.CreateOpts{
			Name:             spec.Name,
			FlavorRef:        spec.FlavorID,
			Networks:         networks,
			UserData:         []byte(spec.UserData),
			SecurityGroups:   spec.SecurityGroupIDs,
			AvailabilityZone: spec.AvailabilityZone,
			ImageRef:         "", // boot-from-volume: image intentionally blank
		}
		srv, err := servers.Create(innerCtx, c.Compute, createOpts, nil).Extract()
		if err != nil {
			return err
		}
		out = toServer(srv)
		return nil
	}
	if err := c.run(ctx, "compute.create_server", op); err != nil {
		return Server{}, err
	}
	return out, nil
}

func (c *OpenStackClient) DeleteServer(ctx context.Context, s Session, vmID string) error {
	if s.DryRun {
		return nil
	}
	op := func(innerCtx context.Context) error {
		return servers.Delete(innerCtx, c.Compute, vmID).ExtractErr()
	}
	err := c.run(ctx, "compute.delete_server", op)
	if errs.Is(err, errs.KindNotFound) {
		return nil // idempotent: already gone counts as success.
	}
	return err
}

func (c *OpenStackClient) GetUserData(ctx context.Context, s Session, vmID string) (string, bool, error) {
	var data string
	op := func(innerCtx context.Context) error {
		result := servers.GetUserData(innerCtx, c.Compute, vmID)
		raw, err := result.Extract()
		if err != nil {
			if errs.Is(classifyWrap(err), errs.KindNotFound) {
				return nil
			}
			return err
		}
		data = string(raw)
		return nil
	}
	if err := c.run(ctx, "compute.get_user_data", op); err != nil {
		return "", false, err
	}
	return data, data != "", nil
}

func (c *OpenStackClient) WaitServerStatus(ctx context.Context, s Session, vmID, target string, timeout, pollInterval time.Duration) error {
	return pollUntil(ctx, timeout, pollInterval, func(innerCtx context.Context) (bool, error) {
		srv, err := servers.Get(innerCtx, c.Compute, vmID).Extract()
		if err != nil {
			return false, err
		}
		if srv.Status == "ERROR" {
			return false, errs.New(errs.KindInternal, fmt.Sprintf("server %s entered ERROR status", vmID))
		}
		return srv.Status == target, nil
	})
}

func (c *OpenStackClient) GetComputeQuotas(ctx context.Context, s Session, projectID string) (Quotas, error) {
	var q Quotas
	op := func(innerCtx context.Context) error {
		url := c.Compute.ServiceURL("os-quota-sets", projectID, "detail")
		var raw struct {
			QuotaSet struct {
				Instances struct{ InUse, Limit int } `json:"instances"`
				Cores     struct{ InUse, Limit int } `json:"cores"`
				RAM       struct{ InUse, Limit int } `json:"ram"`
			} `json:"quota_set"`
		}
		_, err := c.Compute.Get(innerCtx, url, &raw, nil)
		if err != nil {
			return err
		}
		q.InstancesUsed, q.InstancesLimit = raw.QuotaSet.Instances.InUse, raw.QuotaSet.Instances.Limit
		q.VCPUsUsed, q.VCPUsLimit = raw.QuotaSet.Cores.InUse, raw.QuotaSet.Cores.Limit
		q.RAMMBUsed, q.RAMMBLimit = raw.QuotaSet.RAM.InUse, raw.QuotaSet.RAM.Limit
		return nil
	}
	if err := c.run(ctx, "compute.get_quotas", op); err != nil {
		return Quotas{}, err
	}
	return q, nil
}

func (c *OpenStackClient) ListFlavors(ctx context.Context, s Session) ([]Flavor, error) {
	var out []Flavor
	op := func(innerCtx context.Context) error {
		out = nil
		pager := flavors.ListDetail(c.Compute, flavors.ListOpts{})
		return pager.EachPage(innerCtx, func(_ context.Context, page pagination.Page) (bool, error) {
			list, err := flavors.ExtractFlavors(page)
			if err != nil {
				return false, err
			}
			for _, f := range list {
				out = append(out, Flavor{ID: f.ID, Name: f.Name, VCPUs: f.VCPUs, RAMMB: f.RAM, DiskGB: f.Disk})
			}
			return true, nil
		})
	}
	if err := c.run(ctx, "compute.list_flavors", op); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OpenStackClient) GetFlavor(ctx context.Context, s Session, flavorID string) (Flavor, error) {
	var out Flavor
	op := func(innerCtx context.Context) error {
		f, err := flavors.Get(innerCtx, c.Compute, flavorID).Extract()
		if err != nil {
			return err
		}
		out = Flavor{ID: f.ID, Name: f.Name, VCPUs: f.VCPUs, RAMMB: f.RAM, DiskGB: f.Disk}
		return nil
	}
	if err := c.run(ctx, "compute.get_flavor", op); err != nil {
		return Flavor{}, err
	}
	return out, nil
}

// --- Storage ---

func (c *OpenStackClient) CreateVolumeFromSnapshot(ctx context.Context, s Session, spec VolumeFromSnapshotSpec) (Volume, error) {
	if s.DryRun {
		return Volume{ID: "dryrun-" + uuid.NewString(), Name: spec.Name, Status: "available", SizeGB: spec.SizeGB}, nil
	}
	var out Volume
	op := func(innerCtx context.Context) error {
		v, err := volumes.Create(innerCtx, c.Storage, volumes.CreateOpts{
			Name:       spec.Name,
			SnapshotID: spec.SnapshotID,
			Size:       spec.SizeGB,
		}, nil).Extract()
		if err != nil {
			return err
		}
		out = toVolume(v)
		return nil
	}
	if err := c.run(ctx, "storage.create_volume_from_snapshot", op); err != nil {
		return Volume{}, err
	}
	return out, nil
}

func (c *OpenStackClient) WaitVolumeStatus(ctx context.Context, s Session, volumeID, target string, timeout, pollInterval time.Duration) error {
	return pollUntil(ctx, timeout, pollInterval, func(innerCtx context.Context) (bool, error) {
		v, err := volumes.Get(innerCtx, c.Storage, volumeID).Extract()
		if err != nil {
			return false, err
		}
		if v.Status == "error" {
			return false, errs.New(errs.KindInternal, fmt.Sprintf("volume %s entered error status", volumeID))
		}
		return v.Status == target, nil
	})
}

func (c *OpenStackClient) DeleteVolume(ctx context.Context, s Session, volumeID string) error {
	if s.DryRun {
		return nil
	}
	op := func(innerCtx context.Context) error {
		return volumes.Delete(innerCtx, c.Storage, volumeID, volumes.DeleteOpts{}).ExtractErr()
	}
	err := c.run(ctx, "storage.delete_volume", op)
	if errs.Is(err, errs.KindNotFound) {
		return nil
	}
	return err
}

func (c *OpenStackClient) GetVolume(ctx context.Context, s Session, volumeID string) (Volume, error) {
	var out Volume
	op := func(innerCtx context.Context) error {
		v, err := volumes.Get(innerCtx, c.Storage, volumeID).Extract()
		if err != nil {
			return err
		}
		out = toVolume(v)
		return nil
	}
	if err := c.run(ctx, "storage.get_volume", op); err != nil {
		return Volume{}, err
	}
	return out, nil
}

func (c *OpenStackClient) ListVolumes(ctx context.Context, s Session, filters map[string]string) ([]Volume, error) {
	var out []Volume
	op := func(innerCtx context.Context) error {
		out = nil
		opts := volumes.ListOpts{AllTenants: true, Metadata: filters}
		pages, err := volumes.List(c.Storage, opts).AllPages(innerCtx)
		if err != nil {
			return err
		}
		list, err := volumes.ExtractVolumes(pages)
		if err != nil {
			return err
		}
		for i := range list {
			out = append(out, toVolume(&list[i]))
		}
		return nil
	}
	if err := c.run(ctx, "storage.list_volumes", op); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OpenStackClient) ListSnapshots(ctx context.Context, s Session, volumeID string) ([]Snapshot, error) {
	var out []Snapshot
	op := func(innerCtx context.Context) error {
		out = nil
		opts := snapshots.ListOpts{VolumeID: volumeID, Status: "available"}
		pages, err := snapshots.List(c.Storage, opts).AllPages(innerCtx)
		if err != nil {
			return err
		}
		list, err := snapshots.ExtractSnapshots(pages)
		if err != nil {
			return err
		}
		for _, snap := range list {
			out = append(out, toSnapshot(&snap))
		}
		return nil
	}
	if err := c.run(ctx, "storage.list_snapshots", op); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OpenStackClient) CreateSnapshot(ctx context.Context, s Session, volumeID, name string, metadata map[string]string) (Snapshot, error) {
	if s.DryRun {
		return Snapshot{ID: "dryrun-" + uuid.NewString(), Name: name, VolumeID: volumeID, Status: "available", Metadata: metadata}, nil
	}
	var out Snapshot
	op := func(innerCtx context.Context) error {
		result := snapshots.Create(innerCtx, c.Storage, snapshots.CreateOpts{
			VolumeID: volumeID,
			Force:    true,
			Name:     name,
			Metadata: metadata,
		})
		snap, err := result.Extract()
		if err != nil {
			return err
		}
		if err := snapshots.WaitForStatus(innerCtx, c.Storage, snap.ID, "available"); err != nil {
			return fmt.Errorf("waiting for snapshot %s to become available: %w", snap.ID, err)
		}
		out = toSnapshot(snap)
		return nil
	}
	if err := c.run(ctx, "storage.create_snapshot", op); err != nil {
		return Snapshot{}, err
	}
	return out, nil
}

func (c *OpenStackClient) DeleteSnapshot(ctx context.Context, s Session, snapshotID string) error {
	if s.DryRun {
		return nil
	}
	op := func(innerCtx context.Context) error {
		return snapshots.ForceDelete(innerCtx, c.Storage, snapshotID).ExtractErr()
	}
	err := c.run(ctx, "storage.delete_snapshot", op)
	if errs.Is(err, errs.KindNotFound) {
		return nil
	}
	return err
}

func (c *OpenStackClient) GetSnapshot(ctx context.Context, s Session, snapshotID string) (Snapshot, error) {
	var out Snapshot
	op := func(innerCtx context.Context) error {
		snap, err := snapshots.Get(innerCtx, c.Storage, snapshotID).Extract()
		if err != nil {
			return err
		}
		out = toSnapshot(snap)
		return nil
	}
	if err := c.run(ctx, "storage.get_snapshot", op); err != nil {
		return Snapshot{}, err
	}
	return out, nil
}

func (c *OpenStackClient) GetStorageQuotas(ctx context.Context, s Session, projectID string) (Quotas, error) {
	var q Quotas
	op := func(innerCtx context.Context) error {
		url := c.Storage.ServiceURL("os-quota-sets", projectID)
		var raw struct {
			QuotaSet struct {
				Volumes    struct{ InUse, Limit int } `json:"volumes"`
				Gigabytes  struct{ InUse, Limit int } `json:"gigabytes"`
			} `json:"quota_set"`
		}
		_, err := c.Storage.Get(innerCtx, url, &raw, nil)
		if err != nil {
			return err
		}
		q.VolumesUsed, q.VolumesLimit = raw.QuotaSet.Volumes.InUse, raw.QuotaSet.Volumes.Limit
		q.VolumeGBUsed, q.VolumeGBLimit = raw.QuotaSet.Gigabytes.InUse, raw.QuotaSet.Gigabytes.Limit
		return nil
	}
	if err := c.run(ctx, "storage.get_quotas", op); err != nil {
		return Quotas{}, err
	}
	return q, nil
}

// --- Network ---

func (c *OpenStackClient) ListPorts(ctx context.Context, s Session, filters map[string]string) ([]Port, error) {
	var out []Port
	op := func(innerCtx context.Context) error {
		out = nil
		opts := ports.ListOpts{DeviceID: filters["device_id"], NetworkID: filters["network_id"]}
		pager := ports.List(c.Network, opts)
		return pager.EachPage(innerCtx, func(_ context.Context, page pagination.Page) (bool, error) {
			list, err := ports.ExtractPorts(page)
			if err != nil {
				return false, err
			}
			for _, p := range list {
				out = append(out, toPort(&p))
			}
			return true, nil
		})
	}
	if err := c.run(ctx, "network.list_ports", op); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OpenStackClient) CreatePort(ctx context.Context, s Session, spec PortSpec) (Port, error) {
	if s.DryRun {
		return Port{ID: "dryrun-" + uuid.NewString(), NetworkID: spec.NetworkID}, nil
	}
	var out Port
	op := func(innerCtx context.Context) error {
		var fixedIPs []ports.IP
		for _, ip := range spec.FixedIPs {
			fixedIPs = append(fixedIPs, ports.IP{SubnetID: ip.SubnetID, IPAddress: ip.IPAddress})
		}
		p, err := ports.Create(innerCtx, c.Network, ports.CreateOpts{
			NetworkID:      spec.NetworkID,
			FixedIPs:       fixedIPs,
			SecurityGroups: &spec.SecurityGroupIDs,
		}).Extract()
		if err != nil {
			return err
		}
		out = toPort(p)
		return nil
	}
	if err := c.run(ctx, "network.create_port", op); err != nil {
		return Port{}, err
	}
	return out, nil
}

func (c *OpenStackClient) DeletePort(ctx context.Context, s Session, portID string) error {
	if s.DryRun {
		return nil
	}
	op := func(innerCtx context.Context) error {
		return ports.Delete(innerCtx, c.Network, portID).ExtractErr()
	}
	err := c.run(ctx, "network.delete_port", op)
	if errs.Is(err, errs.KindNotFound) {
		return nil
	}
	return err
}

func (c *OpenStackClient) ListSubnets(ctx context.Context, s Session, networkID string) ([]Subnet, error) {
	var out []Subnet
	op := func(innerCtx context.Context) error {
		out = nil
		pager := subnets.List(c.Network, subnets.ListOpts{NetworkID: networkID})
		return pager.EachPage(innerCtx, func(_ context.Context, page pagination.Page) (bool, error) {
			list, err := subnets.ExtractSubnets(page)
			if err != nil {
				return false, err
			}
			for _, sn := range list {
				out = append(out, Subnet{ID: sn.ID, NetworkID: sn.NetworkID, CIDR: sn.CIDR})
			}
			return true, nil
		})
	}
	if err := c.run(ctx, "network.list_subnets", op); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OpenStackClient) ListNetworks(ctx context.Context, s Session) ([]string, error) {
	var out []string
	op := func(innerCtx context.Context) error {
		out = nil
		pager := networks.List(c.Network, networks.ListOpts{})
		return pager.EachPage(innerCtx, func(_ context.Context, page pagination.Page) (bool, error) {
			list, err := networks.ExtractNetworks(page)
			if err != nil {
				return false, err
			}
			for _, n := range list {
				out = append(out, n.ID)
			}
			return true, nil
		})
	}
	if err := c.run(ctx, "network.list_networks", op); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OpenStackClient) CreateSecurityGroup(ctx context.Context, s Session, name, description string) (string, error) {
	if s.DryRun {
		return "dryrun-" + uuid.NewString(), nil
	}
	var id string
	op := func(innerCtx context.Context) error {
		g, err := groups.Create(innerCtx, c.Network, groups.CreateOpts{Name: name, Description: description}).Extract()
		if err != nil {
			return err
		}
		id = g.ID
		return nil
	}
	if err := c.run(ctx, "network.create_security_group", op); err != nil {
		return "", err
	}
	return id, nil
}

func (c *OpenStackClient) CreateSecurityGroupRule(ctx context.Context, s Session, groupID, protocol string, portMin, portMax int, cidr string) error {
	if s.DryRun {
		return nil
	}
	op :=func(innerCtx context.Context) error {
		_, err := grouprules.Create(innerCtx, c.Network, grouprules.CreateOpts{
			SecGroupID:     groupID,
			Direction:      grouprules.DirIngress,
			EtherType:      grouprules.Ether4,
			Protocol:       grouprules.RuleProtocol(protocol),
			PortRangeMin:   portMin,
			PortRangeMax:   portMax,
			RemoteIPPrefix: cidr,
		}).Extract()
		return err
	}
	return c.run(ctx, "network.create_security_group_rule", op)
}

func (c *OpenStackClient) ListSecurityGroups(ctx context.Context, s Session, projectID string) ([]string, error) {
	var out []string
	op := func(innerCtx context.Context) error {
		out = nil
		pager := groups.List(c.Network, groups.ListOpts{ProjectID: projectID})
		return pager.EachPage(innerCtx, func(_ context.Context, page pagination.Page) (bool, error) {
			list, err := groups.ExtractGroups(page)
			if err != nil {
				return false, err
			}
			for _, g := range list {
				out = append(out, g.ID)
			}
			return true, nil
		})
	}
	if err := c.run(ctx, "network.list_security_groups", op); err != nil {
		return nil, err
	}
	return out, nil
}

// --- translation helpers ---

func toServer(s *servers.Server) Server {
	out := Server{ID: s.ID, Name: s.Name, ProjectID: s.TenantID, Status: s.Status, FlavorID: fmt.Sprint(s.Flavor["id"])}
	for _, vols := range s.AttachedVolumes {
		if vols.ID != "" {
			out.BootVolume = vols.ID
			break
		}
	}
	return out
}

func toVolume(v *volumes.Volume) Volume {
	out := Volume{ID: v.ID, Name: v.Name, Status: v.Status, SizeGB: v.Size, Metadata: v.Metadata}
	for _, a := range v.Attachments {
		out.Attachments = append(out.Attachments, Attachment{ServerID: a.ServerID, Device: a.Device})
	}
	return out
}

func toSnapshot(s *snapshots.Snapshot) Snapshot {
	return Snapshot{
		ID: s.ID, Name: s.Name, VolumeID: s.VolumeID, Status: s.Status,
		SizeGB: s.Size, Metadata: s.Metadata, CreatedAt: s.CreatedAt,
	}
}

func toPort(p *ports.Port) Port {
	out := Port{ID: p.ID, NetworkID: p.NetworkID, DeviceID: p.DeviceID, MACAddress: p.MACAddress}
	for _, ip := range p.FixedIPs {
		out.FixedIPs = append(out.FixedIPs, FixedIP{SubnetID: ip.SubnetID, IPAddress: ip.IPAddress})
	}
	return out
}

func classifyWrap(err error) error {
	return errs.Wrap(classify(err), "", err)
}

// pollUntil repeatedly calls check until it returns true, an error, or
// the timeout elapses; grounded on the WAIT_* step contract (§4.6.2).
func pollUntil(ctx context.Context, timeout, interval time.Duration, check func(ctx context.Context) (bool, error)) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := check(ctx)
		if err != nil {
			if errs.Is(err, errs.KindNotFound) {
				return nil
			}
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ticker.C:
			continue
		case <-ctx.Done():
			return errs.New(errs.KindTimeout, "poll timed out")
		}
	}
}
