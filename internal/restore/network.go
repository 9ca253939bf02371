package restore

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/types"

	"github.com/kubev2v/host-mover/internal/snapshot"
	"github.com/kubev2v/host-mover/internal/uplink"
)

const defaultVSwitchPorts = 128

// restoreNetwork applies the network facet in dependency order: standard
// switches, port groups, VMkernel adapters, distributed-switch membership,
// uplink bindings, distributed VMkernel adapters.
func (e *Engine) restoreNetwork(ctx context.Context, target HostTarget, host *mo.HostSystem, snap *snapshot.Snapshot, report *Report) {
	net := host.Config.Network
	if net == nil {
		e.warn(report, "network", "all", errors.New("live network configuration unavailable"))
		return
	}

	skippedSwitches := e.restoreStandardSwitches(ctx, target, net, snap, report)
	e.restoreStandardPortGroups(ctx, target, net, snap, report, skippedSwitches)
	e.restoreStandardVMKernel(ctx, target, net, snap, report)

	targetSwitches, err := target.AvailableDistributedSwitches(ctx)
	if err != nil {
		e.warn(report, "network/dvs", "all", fmt.Errorf("listing distributed switches in target domain: %w", err))
		return
	}
	e.restoreDistributedMembership(ctx, target, net, snap, targetSwitches, report)
	e.restoreDistributedVMKernel(ctx, target, net, snap, targetSwitches, report)
}

// restoreStandardSwitches creates or aligns the standard switches. A standard
// switch whose name also appears in the snapshot's distributed-switch list is
// skipped: recreating it as a standard switch is a known failure mode.
func (e *Engine) restoreStandardSwitches(ctx context.Context, target HostTarget, net *types.HostNetworkInfo, snap *snapshot.Snapshot, report *Report) map[string]bool {
	dvsNames := snap.Network.DistributedSwitchNames()
	skipped := map[string]bool{}

	liveByName := make(map[string]types.HostVirtualSwitch, len(net.Vswitch))
	for _, vsw := range net.Vswitch {
		liveByName[vsw.Name] = vsw
	}

	for _, sw := range snap.Network.StandardSwitches {
		if dvsNames[sw.Name] {
			e.skip(report, "network/vswitch", sw.Name, "name belongs to a distributed switch in this snapshot")
			skipped[sw.Name] = true
			continue
		}

		live, exists := liveByName[sw.Name]
		if !exists {
			if err := target.AddVirtualSwitch(ctx, sw.Name, vSwitchSpec(sw)); err != nil {
				e.warn(report, "network/vswitch", sw.Name, err)
				continue
			}
			e.applied(report, "network/vswitch", sw.Name, "create")
			continue
		}
		if vSwitchMatches(sw, live) {
			continue
		}
		if err := target.UpdateVirtualSwitch(ctx, sw.Name, vSwitchSpec(sw)); err != nil {
			e.warn(report, "network/vswitch", sw.Name, err)
			continue
		}
		e.applied(report, "network/vswitch", sw.Name, "update")
	}
	return skipped
}

func vSwitchSpec(sw snapshot.StandardSwitchConfig) types.HostVirtualSwitchSpec {
	spec := types.HostVirtualSwitchSpec{
		NumPorts: sw.NumPorts,
		Mtu:      sw.MTU,
	}
	if spec.NumPorts == 0 {
		spec.NumPorts = defaultVSwitchPorts
	}
	if len(sw.NICDevices) > 0 {
		spec.Bridge = &types.HostVirtualSwitchBondBridge{NicDevice: sw.NICDevices}
	}
	return spec
}

func vSwitchMatches(desired snapshot.StandardSwitchConfig, live types.HostVirtualSwitch) bool {
	if desired.MTU != 0 && desired.MTU != live.Mtu {
		return false
	}
	if desired.NumPorts != 0 && desired.NumPorts != live.NumPorts {
		return false
	}
	var liveNics []string
	if bond, ok := live.Spec.Bridge.(*types.HostVirtualSwitchBondBridge); ok {
		liveNics = bond.NicDevice
	}
	return sameStringSet(desired.NICDevices, liveNics)
}

func (e *Engine) restoreStandardPortGroups(ctx context.Context, target HostTarget, net *types.HostNetworkInfo, snap *snapshot.Snapshot, report *Report, skippedSwitches map[string]bool) {
	liveByName := make(map[string]types.HostPortGroup, len(net.Portgroup))
	for _, pg := range net.Portgroup {
		liveByName[pg.Spec.Name] = pg
	}

	for _, sw := range snap.Network.StandardSwitches {
		if skippedSwitches[sw.Name] {
			continue
		}
		for _, pg := range sw.PortGroups {
			spec := types.HostPortGroupSpec{
				Name:        pg.Name,
				VlanId:      pg.VLANID,
				VswitchName: sw.Name,
			}

			live, exists := liveByName[pg.Name]
			if !exists {
				if err := target.AddPortGroup(ctx, spec); err != nil {
					e.warn(report, "network/portgroup", pg.Name, err)
					continue
				}
				e.applied(report, "network/portgroup", pg.Name, "create")
				continue
			}
			if live.Spec.VlanId == pg.VLANID && live.Spec.VswitchName == sw.Name {
				continue
			}
			if err := target.UpdatePortGroup(ctx, pg.Name, spec); err != nil {
				e.warn(report, "network/portgroup", pg.Name, err)
				continue
			}
			e.applied(report, "network/portgroup", pg.Name, "update")
		}
	}
}

// restoreStandardVMKernel aligns VMkernel adapters attached to standard port
// groups. Live adapters are matched by port group name rather than device
// name, since device numbering may differ on the target side.
func (e *Engine) restoreStandardVMKernel(ctx context.Context, target HostTarget, net *types.HostNetworkInfo, snap *snapshot.Snapshot, report *Report) {
	liveByPortGroup := map[string]types.HostVirtualNic{}
	for _, vnic := range net.Vnic {
		if vnic.Portgroup != "" {
			liveByPortGroup[vnic.Portgroup] = vnic
		}
	}

	for _, adapter := range snap.Network.VMKernelAdapters {
		if adapter.Distributed() {
			continue
		}
		spec := vmkSpec(adapter)

		live, exists := liveByPortGroup[adapter.PortGroup]
		if !exists {
			if err := target.AddVirtualNic(ctx, adapter.PortGroup, spec); err != nil {
				e.warn(report, "network/vmkernel", adapter.Device, err)
				continue
			}
			e.applied(report, "network/vmkernel", adapter.Device, "create")
			continue
		}
		if vmkMatches(adapter, live) {
			continue
		}
		if err := target.UpdateVirtualNic(ctx, live.Device, spec); err != nil {
			e.warn(report, "network/vmkernel", live.Device, err)
			continue
		}
		e.applied(report, "network/vmkernel", live.Device, "update")
	}
}

func vmkSpec(adapter snapshot.VMKernelAdapter) types.HostVirtualNicSpec {
	return types.HostVirtualNicSpec{
		Ip: &types.HostIpConfig{
			Dhcp:       adapter.DHCP,
			IpAddress:  adapter.IPAddress,
			SubnetMask: adapter.SubnetMask,
		},
		Mtu: adapter.MTU,
	}
}

func vmkMatches(desired snapshot.VMKernelAdapter, live types.HostVirtualNic) bool {
	if desired.MTU != 0 && desired.MTU != live.Spec.Mtu {
		return false
	}
	liveIP := live.Spec.Ip
	if liveIP == nil {
		return desired.DHCP == false && desired.IPAddress == ""
	}
	return liveIP.Dhcp == desired.DHCP &&
		liveIP.IpAddress == desired.IPAddress &&
		liveIP.SubnetMask == desired.SubnetMask
}

// restoreDistributedMembership joins the host to each distributed switch
// recorded in the snapshot and aligns uplink bindings. Switches are matched
// between domains by name; UUIDs differ across domains by construction.
func (e *Engine) restoreDistributedMembership(ctx context.Context, target HostTarget, net *types.HostNetworkInfo, snap *snapshot.Snapshot, targetSwitches []snapshot.DistributedSwitchConfig, report *Report) {
	availableByName := make(map[string]snapshot.DistributedSwitchConfig, len(targetSwitches))
	for _, sw := range targetSwitches {
		availableByName[sw.Name] = sw
	}
	liveProxyByName := make(map[string]types.HostProxySwitch, len(net.ProxySwitch))
	for _, proxy := range net.ProxySwitch {
		liveProxyByName[proxy.DvsName] = proxy
	}

	for _, dvs := range snap.Network.DistributedSwitches {
		if _, ok := availableByName[dvs.Name]; !ok {
			e.warn(report, "network/dvs", dvs.Name, errors.New("switch does not exist in target domain"))
			continue
		}

		uplinks := e.matchUplinks(dvs, net.Pnic, report)

		proxy, member := liveProxyByName[dvs.Name]
		if !member {
			if err := target.JoinDistributedSwitch(ctx, dvs.Name, uplinks); err != nil {
				e.warn(report, "network/dvs", dvs.Name, err)
				continue
			}
			e.applied(report, "network/dvs", dvs.Name, "join")
			continue
		}
		if sameStringSet(proxyPnicDevices(proxy), uplinkDevices(uplinks)) {
			continue
		}
		if err := target.UpdateUplinkBindings(ctx, dvs.Name, uplinks); err != nil {
			e.warn(report, "network/dvs", dvs.Name, err)
			continue
		}
		e.applied(report, "network/dvs", dvs.Name, "update-uplinks")
	}
}

// matchUplinks maps each recorded uplink binding to a live physical adapter.
// A binding that matches nothing is logged as an error but does not stop the
// remaining uplinks.
func (e *Engine) matchUplinks(dvs snapshot.DistributedSwitchConfig, pnics []types.PhysicalNic, report *Report) map[string]string {
	uplinks := map[string]string{}
	for _, binding := range dvs.Uplinks {
		m, ok := uplink.MatchAdapter(binding, pnics)
		if !ok {
			e.log.Errorf("dvs %s: uplink %s: no live adapter matches %q (mac %q, pci %q)",
				dvs.Name, binding.UplinkName, binding.PhysicalAdapterRef, binding.MACAddress, binding.PCIAddress)
			report.Warnings = append(report.Warnings, Warning{
				Facet:   "network/dvs",
				Item:    dvs.Name + "/" + binding.UplinkName,
				Message: fmt.Sprintf("no physical adapter matches %q", binding.PhysicalAdapterRef),
			})
			continue
		}
		if m.LowConfidence {
			e.log.Warnf("dvs %s: uplink %s matched %s by device-name suffix only; verify the mapping",
				dvs.Name, binding.UplinkName, m.Device)
		}
		uplinks[binding.UplinkName] = m.Device
	}
	return uplinks
}

func (e *Engine) restoreDistributedVMKernel(ctx context.Context, target HostTarget, net *types.HostNetworkInfo, snap *snapshot.Snapshot, targetSwitches []snapshot.DistributedSwitchConfig, report *Report) {
	liveByPortGroupKey := map[string]types.HostVirtualNic{}
	for _, vnic := range net.Vnic {
		if dvp := vnic.Spec.DistributedVirtualPort; dvp != nil {
			liveByPortGroupKey[dvp.PortgroupKey] = vnic
		}
	}

	for _, adapter := range snap.Network.VMKernelAdapters {
		if !adapter.Distributed() {
			continue
		}

		pgName, ok := snapshotPortGroupName(snap, adapter.SwitchUUID, adapter.PortGroupKey)
		if !ok {
			e.warn(report, "network/dvs-vmkernel", adapter.Device,
				fmt.Errorf("snapshot has no port group with key %s", adapter.PortGroupKey))
			continue
		}
		targetUUID, targetKey, ok := targetPortGroup(targetSwitches, pgName)
		if !ok {
			e.warn(report, "network/dvs-vmkernel", adapter.Device,
				fmt.Errorf("target domain has no distributed port group named %q", pgName))
			continue
		}

		spec := vmkSpec(adapter)
		spec.DistributedVirtualPort = &types.DistributedVirtualSwitchPortConnection{
			SwitchUuid:   targetUUID,
			PortgroupKey: targetKey,
		}

		live, exists := liveByPortGroupKey[targetKey]
		if !exists {
			if err := target.AddVirtualNic(ctx, "", spec); err != nil {
				e.warn(report, "network/dvs-vmkernel", adapter.Device, err)
				continue
			}
			e.applied(report, "network/dvs-vmkernel", adapter.Device, "create")
			continue
		}
		if vmkMatches(adapter, live) {
			continue
		}
		if err := target.UpdateVirtualNic(ctx, live.Device, spec); err != nil {
			e.warn(report, "network/dvs-vmkernel", live.Device, err)
			continue
		}
		e.applied(report, "network/dvs-vmkernel", live.Device, "update")
	}
}

// snapshotPortGroupName resolves a source-side port group key back to its
// name, which is the only identity stable across domains.
func snapshotPortGroupName(snap *snapshot.Snapshot, switchUUID, portGroupKey string) (string, bool) {
	for _, dvs := range snap.Network.DistributedSwitches {
		if dvs.UUID != switchUUID {
			continue
		}
		for _, pg := range dvs.PortGroups {
			if pg.Key == portGroupKey {
				return pg.Name, true
			}
		}
	}
	return "", false
}

func targetPortGroup(targetSwitches []snapshot.DistributedSwitchConfig, pgName string) (switchUUID, portGroupKey string, ok bool) {
	for _, sw := range targetSwitches {
		for _, pg := range sw.PortGroups {
			if pg.Name == pgName {
				return sw.UUID, pg.Key, true
			}
		}
	}
	return "", "", false
}

func proxyPnicDevices(proxy types.HostProxySwitch) []string {
	if backing, ok := proxy.Spec.Backing.(*types.DistributedVirtualSwitchHostMemberPnicBacking); ok {
		devices := make([]string, 0, len(backing.PnicSpec))
		for _, spec := range backing.PnicSpec {
			devices = append(devices, spec.PnicDevice)
		}
		return devices
	}
	devices := make([]string, 0, len(proxy.Pnic))
	for _, key := range proxy.Pnic {
		devices = append(devices, deviceFromKey(key))
	}
	return devices
}

func deviceFromKey(key string) string {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '-' {
			return key[i+1:]
		}
	}
	return key
}

func uplinkDevices(uplinks map[string]string) []string {
	devices := make([]string, 0, len(uplinks))
	for _, d := range uplinks {
		devices = append(devices, d)
	}
	return devices
}

func sameStringSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
