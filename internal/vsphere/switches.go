package vsphere

import (
	"context"
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/view"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/types"

	"github.com/kubev2v/host-mover/internal/snapshot"
	"github.com/kubev2v/host-mover/internal/uplink"
)

// DistributedSwitches lists the distributed switches this host is a member
// of, with their uplink-to-adapter bindings resolved. This is the capture
// side: only switches the host actually participates in end up in a snapshot.
func (h *HostHandle) DistributedSwitches(ctx context.Context) ([]snapshot.DistributedSwitchConfig, error) {
	switches, err := h.listDistributedSwitches(ctx)
	if err != nil {
		return nil, err
	}

	hostRef := h.host.Reference()
	var out []snapshot.DistributedSwitchConfig
	for _, dvs := range switches {
		if !dvsHasMember(dvs.Config, hostRef) {
			continue
		}
		cfg, err := h.switchConfig(ctx, dvs)
		if err != nil {
			return nil, err
		}
		ref := uplink.SwitchRef{Name: cfg.Name, UUID: cfg.UUID, Ref: dvs.Self}
		bindings, err := h.resolver.ResolveUplinkAdapters(ctx, h, ref)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving uplink adapters of switch %s", cfg.Name)
		}
		cfg.Uplinks = bindings
		out = append(out, cfg)
	}
	return out, nil
}

// AvailableDistributedSwitches lists every distributed switch of the owning
// domain, member or not. This is the restore side: snapshot switches are
// matched against it by name, never by UUID, because UUIDs differ between
// domains.
func (h *HostHandle) AvailableDistributedSwitches(ctx context.Context) ([]snapshot.DistributedSwitchConfig, error) {
	switches, err := h.listDistributedSwitches(ctx)
	if err != nil {
		return nil, err
	}

	var out []snapshot.DistributedSwitchConfig
	for _, dvs := range switches {
		cfg, err := h.switchConfig(ctx, dvs)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

func (h *HostHandle) listDistributedSwitches(ctx context.Context) ([]mo.DistributedVirtualSwitch, error) {
	m := view.NewManager(h.conn.client.Client)
	v, err := m.CreateContainerView(ctx, h.conn.client.ServiceContent.RootFolder, []string{"DistributedVirtualSwitch"}, true)
	if err != nil {
		return nil, errors.Wrap(err, "creating distributed switch view")
	}
	defer func() {
		_ = v.Destroy(ctx)
	}()

	var switches []mo.DistributedVirtualSwitch
	err = v.Retrieve(ctx, []string{"DistributedVirtualSwitch"}, []string{"name", "uuid", "config", "portgroup"}, &switches)
	if err != nil {
		return nil, errors.Wrap(err, "retrieving distributed switches")
	}
	return switches, nil
}

func (h *HostHandle) switchConfig(ctx context.Context, dvs mo.DistributedVirtualSwitch) (snapshot.DistributedSwitchConfig, error) {
	out := snapshot.DistributedSwitchConfig{Name: dvs.Name, UUID: dvs.Uuid}

	uplinkPortGroups := map[types.ManagedObjectReference]bool{}
	if info := dvs.Config.GetDVSConfigInfo(); info != nil {
		if policy, ok := info.UplinkPortPolicy.(*types.DVSNameArrayUplinkPortPolicy); ok {
			out.UplinkNames = policy.UplinkPortName
		}
		for _, ref := range info.UplinkPortgroup {
			uplinkPortGroups[ref] = true
		}
	}
	if vmware, ok := dvs.Config.(*types.VMwareDVSConfigInfo); ok {
		out.MTU = vmware.MaxMtu
	}

	if len(dvs.Portgroup) == 0 {
		return out, nil
	}
	var pgs []mo.DistributedVirtualPortgroup
	err := h.conn.propertyCollector().Retrieve(ctx, dvs.Portgroup, []string{"name", "key", "config"}, &pgs)
	if err != nil {
		return out, errors.Wrapf(err, "retrieving port groups of switch %s", dvs.Name)
	}
	for _, pg := range pgs {
		if uplinkPortGroups[pg.Self] {
			continue
		}
		out.PortGroups = append(out.PortGroups, snapshot.PortGroup{
			Name:   pg.Name,
			Key:    pg.Key,
			VLANID: portGroupVlanID(pg.Config.DefaultPortConfig),
		})
	}
	return out, nil
}

func portGroupVlanID(portCfg types.BaseDVPortSetting) int32 {
	setting, ok := portCfg.(*types.VMwareDVSPortSetting)
	if !ok {
		return 0
	}
	if vlan, ok := setting.Vlan.(*types.VmwareDistributedVirtualSwitchVlanIdSpec); ok {
		return vlan.VlanId
	}
	return 0
}

func dvsHasMember(cfg types.BaseDVSConfigInfo, host types.ManagedObjectReference) bool {
	info := cfg.GetDVSConfigInfo()
	if info == nil {
		return false
	}
	for _, member := range info.Host {
		if member.Config.Host != nil && member.Config.Host.Value == host.Value {
			return true
		}
	}
	return false
}

// UplinkPorts fetches the switch's uplink ports only.
func (h *HostHandle) UplinkPorts(ctx context.Context, sw uplink.SwitchRef) ([]types.DistributedVirtualPort, error) {
	dvs := object.NewDistributedVirtualSwitch(h.conn.client.Client, sw.Ref)
	criteria := &types.DistributedVirtualSwitchPortCriteria{UplinkPort: types.NewBool(true)}
	ports, err := dvs.FetchDVPorts(ctx, criteria)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching uplink ports of switch %s", sw.Name)
	}
	return ports, nil
}

func (h *HostHandle) SwitchHostMembers(ctx context.Context, sw uplink.SwitchRef) ([]types.DistributedVirtualSwitchHostMember, error) {
	var dvs mo.DistributedVirtualSwitch
	err := h.conn.propertyCollector().RetrieveOne(ctx, sw.Ref, []string{"config"}, &dvs)
	if err != nil {
		return nil, errors.Wrapf(err, "retrieving member configuration of switch %s", sw.Name)
	}
	info := dvs.Config.GetDVSConfigInfo()
	if info == nil {
		return nil, nil
	}
	return info.Host, nil
}

func (h *HostHandle) HostProxySwitches(ctx context.Context) ([]types.HostProxySwitch, error) {
	var host mo.HostSystem
	err := h.host.Properties(ctx, h.host.Reference(), []string{"config.network.proxySwitch"}, &host)
	if err != nil {
		return nil, errors.Wrapf(err, "reading proxy switches of host %s", h.name)
	}
	if host.Config == nil || host.Config.Network == nil {
		return nil, nil
	}
	return host.Config.Network.ProxySwitch, nil
}

func (h *HostHandle) PhysicalAdapters(ctx context.Context) ([]types.PhysicalNic, error) {
	var host mo.HostSystem
	err := h.host.Properties(ctx, h.host.Reference(), []string{"config.network.pnic"}, &host)
	if err != nil {
		return nil, errors.Wrapf(err, "reading physical adapters of host %s", h.name)
	}
	if host.Config == nil || host.Config.Network == nil {
		return nil, nil
	}
	return host.Config.Network.Pnic, nil
}

// PhysicalAdaptersForSwitch narrows the host's adapter list to those claimed
// by the proxy switch of the given distributed switch.
func (h *HostHandle) PhysicalAdaptersForSwitch(ctx context.Context, sw uplink.SwitchRef) ([]types.PhysicalNic, error) {
	proxies, err := h.HostProxySwitches(ctx)
	if err != nil {
		return nil, err
	}
	claimed := map[string]bool{}
	for _, proxy := range proxies {
		if proxy.DvsUuid != sw.UUID {
			continue
		}
		for _, key := range proxy.Pnic {
			claimed[key] = true
		}
	}
	if len(claimed) == 0 {
		return nil, nil
	}

	pnics, err := h.PhysicalAdapters(ctx)
	if err != nil {
		return nil, err
	}
	var out []types.PhysicalNic
	for _, pnic := range pnics {
		if claimed[pnic.Key] {
			out = append(out, pnic)
		}
	}
	return out, nil
}

// JoinDistributedSwitch adds this host as a member of the named switch,
// backing its uplinks with the given adapters.
func (h *HostHandle) JoinDistributedSwitch(ctx context.Context, switchName string, uplinks map[string]string) error {
	return h.reconfigureMembership(ctx, switchName, uplinks, types.ConfigSpecOperationAdd)
}

// UpdateUplinkBindings rewrites the adapter backing of an existing member.
func (h *HostHandle) UpdateUplinkBindings(ctx context.Context, switchName string, uplinks map[string]string) error {
	return h.reconfigureMembership(ctx, switchName, uplinks, types.ConfigSpecOperationEdit)
}

func (h *HostHandle) reconfigureMembership(ctx context.Context, switchName string, uplinks map[string]string, op types.ConfigSpecOperation) error {
	dvs, err := h.findSwitchByName(ctx, switchName)
	if err != nil {
		return err
	}

	pgKey, err := h.uplinkPortGroupKey(ctx, dvs)
	if err != nil {
		return err
	}

	// Uplink names sort determines the adapter order so repeated runs
	// produce the same spec.
	names := make([]string, 0, len(uplinks))
	for name := range uplinks {
		names = append(names, name)
	}
	sort.Strings(names)

	var pnicSpecs []types.DistributedVirtualSwitchHostMemberPnicSpec
	for _, name := range names {
		pnicSpecs = append(pnicSpecs, types.DistributedVirtualSwitchHostMemberPnicSpec{
			PnicDevice:         uplinks[name],
			UplinkPortgroupKey: pgKey,
		})
	}

	memberSpec := types.DistributedVirtualSwitchHostMemberConfigSpec{
		Operation: string(op),
		Host:      h.host.Reference(),
		Backing:   &types.DistributedVirtualSwitchHostMemberPnicBacking{PnicSpec: pnicSpecs},
	}

	obj := object.NewDistributedVirtualSwitch(h.conn.client.Client, dvs.Self)
	return h.retry.Call(ctx, fmt.Sprintf("reconfigure membership of switch %s", switchName), func() error {
		// The config version is read inside the retry loop because a
		// competing reconfigure invalidates it.
		var current mo.DistributedVirtualSwitch
		err := h.conn.propertyCollector().RetrieveOne(ctx, dvs.Self, []string{"config"}, &current)
		if err != nil {
			return err
		}
		info := current.Config.GetDVSConfigInfo()
		if info == nil {
			return errors.Errorf("switch %s exposes no configuration", switchName)
		}

		spec := &types.DVSConfigSpec{
			ConfigVersion: info.ConfigVersion,
			Host:          []types.DistributedVirtualSwitchHostMemberConfigSpec{memberSpec},
		}
		task, err := obj.Reconfigure(ctx, spec)
		if err != nil {
			return err
		}
		return task.Wait(ctx)
	})
}

func (h *HostHandle) findSwitchByName(ctx context.Context, name string) (mo.DistributedVirtualSwitch, error) {
	switches, err := h.listDistributedSwitches(ctx)
	if err != nil {
		return mo.DistributedVirtualSwitch{}, err
	}
	for _, dvs := range switches {
		if dvs.Name == name {
			return dvs, nil
		}
	}
	return mo.DistributedVirtualSwitch{}, errors.Errorf("no distributed switch named %s in domain %s", name, h.conn.name)
}

// uplinkPortGroupKey picks the port group that uplink ports are placed in:
// the switch's own uplink port group unless an explicit override was
// configured for the domain.
func (h *HostHandle) uplinkPortGroupKey(ctx context.Context, dvs mo.DistributedVirtualSwitch) (string, error) {
	refs := dvs.Portgroup
	if h.uplinkPortGroup == "" {
		if info := dvs.Config.GetDVSConfigInfo(); info != nil && len(info.UplinkPortgroup) > 0 {
			refs = info.UplinkPortgroup
		}
	}
	if len(refs) == 0 {
		return "", errors.Errorf("switch %s has no port groups", dvs.Name)
	}

	var pgs []mo.DistributedVirtualPortgroup
	err := h.conn.propertyCollector().Retrieve(ctx, refs, []string{"name", "key"}, &pgs)
	if err != nil {
		return "", errors.Wrapf(err, "resolving uplink port group of switch %s", dvs.Name)
	}

	if h.uplinkPortGroup == "" {
		if len(pgs) == 0 {
			return "", errors.Errorf("switch %s has no uplink port group", dvs.Name)
		}
		return pgs[0].Key, nil
	}
	for _, pg := range pgs {
		if pg.Name == h.uplinkPortGroup {
			return pg.Key, nil
		}
	}
	return "", errors.Errorf("switch %s has no port group named %s", dvs.Name, h.uplinkPortGroup)
}
