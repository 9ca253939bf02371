package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/types"
	"go.uber.org/zap"

	"github.com/kubev2v/host-mover/pkg/version"
)

// HostSource is the read side of the management-API client used to capture a
// host's configuration.
type HostSource interface {
	Name() string
	Domain() string
	HostProperties(ctx context.Context) (*mo.HostSystem, error)
	DistributedSwitches(ctx context.Context) ([]DistributedSwitchConfig, error)
}

// Capture reads the live host configuration into a Snapshot. Collection is
// best-effort per facet: a facet that cannot be read is logged and left at
// its zero value. Only failure to resolve the host object itself aborts.
func Capture(ctx context.Context, src HostSource) (*Snapshot, error) {
	log := zap.S().Named("capture")

	host, err := src.HostProperties(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving host %s: %w", src.Name(), err)
	}
	if host.Config == nil {
		return nil, fmt.Errorf("host %s exposes no configuration", src.Name())
	}
	cfg := host.Config

	snap := &Snapshot{
		Metadata: Metadata{
			ID:           uuid.NewString(),
			CapturedAt:   time.Now().UTC(),
			ToolVersion:  version.Get().VersionName,
			HostName:     src.Name(),
			SourceDomain: src.Domain(),
		},
	}

	if cfg.Network != nil {
		snap.Network = captureNetwork(cfg.Network)
	} else {
		log.Warnf("host %s: network configuration unavailable", src.Name())
	}

	dvs, err := src.DistributedSwitches(ctx)
	if err != nil {
		log.Warnf("host %s: collecting distributed switches: %v", src.Name(), err)
	} else {
		snap.Network.DistributedSwitches = dvs
	}

	if cfg.FileSystemVolume != nil {
		snap.Storage = captureStorage(cfg.FileSystemVolume)
	} else {
		log.Warnf("host %s: file system volumes unavailable", src.Name())
	}

	if cfg.Service != nil {
		snap.Services = captureServices(cfg.Service)
	} else {
		log.Warnf("host %s: service list unavailable", src.Name())
	}

	if cfg.Firewall != nil {
		snap.Firewall = captureFirewall(cfg.Firewall)
	} else {
		log.Warnf("host %s: firewall rulesets unavailable", src.Name())
	}

	snap.AdvancedSettings, snap.Syslog = captureAdvanced(cfg.Option)

	if cfg.DateTimeInfo != nil {
		snap.Time = captureTime(cfg.DateTimeInfo)
	} else {
		log.Warnf("host %s: date/time configuration unavailable", src.Name())
	}

	if cfg.Network != nil && cfg.Network.DnsConfig != nil {
		snap.DNS = captureDNS(cfg.Network.DnsConfig)
	} else {
		log.Warnf("host %s: DNS configuration unavailable", src.Name())
	}

	if cfg.PowerSystemInfo != nil {
		snap.Power = PowerConfig{
			PolicyKey:  cfg.PowerSystemInfo.CurrentPolicy.Key,
			PolicyName: cfg.PowerSystemInfo.CurrentPolicy.ShortName,
		}
	} else {
		log.Warnf("host %s: power policy unavailable", src.Name())
	}

	log.Infof("captured configuration of %s: %d pnics, %d standard switches, %d distributed switches, %d vmkernel adapters",
		src.Name(),
		len(snap.Network.PhysicalAdapters),
		len(snap.Network.StandardSwitches),
		len(snap.Network.DistributedSwitches),
		len(snap.Network.VMKernelAdapters))
	return snap, nil
}

func captureNetwork(net *types.HostNetworkInfo) NetworkConfig {
	out := NetworkConfig{}

	for _, pnic := range net.Pnic {
		pa := PhysicalAdapter{
			Name:       pnic.Device,
			MACAddress: pnic.Mac,
			PCIAddress: pnic.Pci,
			Driver:     pnic.Driver,
		}
		if pnic.LinkSpeed != nil {
			pa.LinkSpeedMb = pnic.LinkSpeed.SpeedMb
		}
		out.PhysicalAdapters = append(out.PhysicalAdapters, pa)
	}

	// Standard port groups grouped under their owning switch.
	groupsBySwitch := map[string][]PortGroup{}
	for _, pg := range net.Portgroup {
		groupsBySwitch[pg.Spec.VswitchName] = append(groupsBySwitch[pg.Spec.VswitchName], PortGroup{
			Name:   pg.Spec.Name,
			VLANID: pg.Spec.VlanId,
		})
	}

	for _, vsw := range net.Vswitch {
		sw := StandardSwitchConfig{
			Name:       vsw.Name,
			NumPorts:   vsw.NumPorts,
			MTU:        vsw.Mtu,
			PortGroups: groupsBySwitch[vsw.Name],
		}
		if bond, ok := vsw.Spec.Bridge.(*types.HostVirtualSwitchBondBridge); ok {
			sw.NICDevices = bond.NicDevice
		}
		out.StandardSwitches = append(out.StandardSwitches, sw)
	}

	for _, vnic := range net.Vnic {
		adapter := VMKernelAdapter{
			Device:     vnic.Device,
			PortGroup:  vnic.Portgroup,
			MACAddress: vnic.Spec.Mac,
			MTU:        vnic.Spec.Mtu,
		}
		if vnic.Spec.Ip != nil {
			adapter.DHCP = vnic.Spec.Ip.Dhcp
			adapter.IPAddress = vnic.Spec.Ip.IpAddress
			adapter.SubnetMask = vnic.Spec.Ip.SubnetMask
		}
		if dvp := vnic.Spec.DistributedVirtualPort; dvp != nil {
			adapter.SwitchUUID = dvp.SwitchUuid
			adapter.PortGroupKey = dvp.PortgroupKey
			adapter.PortGroup = ""
		}
		out.VMKernelAdapters = append(out.VMKernelAdapters, adapter)
	}

	return out
}

func captureStorage(fsv *types.HostFileSystemVolumeInfo) StorageConfig {
	out := StorageConfig{}
	for _, mi := range fsv.MountInfo {
		switch vol := mi.Volume.(type) {
		case *types.HostNasVolume:
			mount := NASMount{
				Name:       vol.Name,
				RemoteHost: vol.RemoteHost,
				RemotePath: vol.RemotePath,
			}
			if mi.MountInfo.AccessMode != "" {
				mount.AccessMode = mi.MountInfo.AccessMode
			}
			out.NASMounts = append(out.NASMounts, mount)
		case *types.HostVmfsVolume:
			out.VMFSVolumes = append(out.VMFSVolumes, vol.Name)
		}
	}
	return out
}

func captureServices(si *types.HostServiceInfo) []ServiceConfig {
	out := make([]ServiceConfig, 0, len(si.Service))
	for _, svc := range si.Service {
		out = append(out, ServiceConfig{
			Key:     svc.Key,
			Policy:  svc.Policy,
			Running: svc.Running,
		})
	}
	return out
}

func captureFirewall(fi *types.HostFirewallInfo) []FirewallRule {
	out := make([]FirewallRule, 0, len(fi.Ruleset))
	for _, rs := range fi.Ruleset {
		out = append(out, FirewallRule{Key: rs.Key, Enabled: rs.Enabled})
	}
	return out
}

// captureAdvanced splits the host option list into generic advanced settings
// and the syslog facet, which is restored separately.
func captureAdvanced(options []types.BaseOptionValue) ([]AdvancedSetting, SyslogConfig) {
	var settings []AdvancedSetting
	var syslog SyslogConfig

	for _, opt := range options {
		ov := opt.GetOptionValue()
		if ov == nil {
			continue
		}
		value, kind, ok := FormatSettingValue(ov.Value)
		if !ok {
			continue
		}
		switch ov.Key {
		case SyslogLogHostKey:
			syslog.LogHost = value
		case SyslogLogDirKey:
			syslog.LogDir = value
		default:
			settings = append(settings, AdvancedSetting{Key: ov.Key, Value: value, Type: kind})
		}
	}
	return settings, syslog
}

func captureTime(dti *types.HostDateTimeInfo) TimeConfig {
	out := TimeConfig{TimeZone: dti.TimeZone.Key}
	if dti.NtpConfig != nil {
		out.NTPServers = dti.NtpConfig.Server
	}
	return out
}

func captureDNS(cfg types.BaseHostDnsConfig) DNSConfig {
	dns := cfg.GetHostDnsConfig()
	if dns == nil {
		return DNSConfig{}
	}
	return DNSConfig{
		DHCP:          dns.Dhcp,
		HostName:      dns.HostName,
		DomainName:    dns.DomainName,
		Servers:       dns.Address,
		SearchDomains: dns.SearchDomain,
	}
}
