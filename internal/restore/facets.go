package restore

import (
	"context"
	"fmt"

	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/types"

	"github.com/kubev2v/host-mover/internal/snapshot"
)

const defaultNasAccessMode = string(types.HostMountModeReadWrite)

func (e *Engine) restoreStorage(ctx context.Context, target HostTarget, host *mo.HostSystem, snap *snapshot.Snapshot, report *Report) {
	liveMounts := map[string]bool{}
	if host.Config.FileSystemVolume != nil {
		for _, mi := range host.Config.FileSystemVolume.MountInfo {
			if nas, ok := mi.Volume.(*types.HostNasVolume); ok {
				liveMounts[nas.Name] = true
			}
		}
	}

	for _, mount := range snap.Storage.NASMounts {
		if liveMounts[mount.Name] {
			continue
		}
		spec := types.HostNasVolumeSpec{
			RemoteHost: mount.RemoteHost,
			RemotePath: mount.RemotePath,
			LocalPath:  mount.Name,
			AccessMode: mount.AccessMode,
		}
		if spec.AccessMode == "" {
			spec.AccessMode = defaultNasAccessMode
		}
		if err := target.CreateNasDatastore(ctx, spec); err != nil {
			e.warn(report, "storage", mount.Name, err)
			continue
		}
		e.applied(report, "storage", mount.Name, "mount")
	}
}

func (e *Engine) restoreDNS(ctx context.Context, target HostTarget, host *mo.HostSystem, snap *snapshot.Snapshot, report *Report) {
	desired := snap.DNS
	if desired.HostName == "" && len(desired.Servers) == 0 && !desired.DHCP {
		return
	}

	var live snapshot.DNSConfig
	if host.Config.Network != nil && host.Config.Network.DnsConfig != nil {
		if cfg := host.Config.Network.DnsConfig.GetHostDnsConfig(); cfg != nil {
			live = snapshot.DNSConfig{
				DHCP:          cfg.Dhcp,
				HostName:      cfg.HostName,
				DomainName:    cfg.DomainName,
				Servers:       cfg.Address,
				SearchDomains: cfg.SearchDomain,
			}
		}
	}

	if dnsMatches(desired, live) {
		return
	}
	cfg := types.HostDnsConfig{
		Dhcp:         desired.DHCP,
		HostName:     desired.HostName,
		DomainName:   desired.DomainName,
		Address:      desired.Servers,
		SearchDomain: desired.SearchDomains,
	}
	if err := target.UpdateDNSConfig(ctx, cfg); err != nil {
		e.warn(report, "dns", desired.HostName, err)
		return
	}
	e.applied(report, "dns", desired.HostName, "update")
}

func dnsMatches(desired, live snapshot.DNSConfig) bool {
	return desired.DHCP == live.DHCP &&
		desired.HostName == live.HostName &&
		desired.DomainName == live.DomainName &&
		sameStringSet(desired.Servers, live.Servers) &&
		sameStringSet(desired.SearchDomains, live.SearchDomains)
}

func (e *Engine) restoreTime(ctx context.Context, target HostTarget, host *mo.HostSystem, snap *snapshot.Snapshot, report *Report) {
	desired := snap.Time
	if len(desired.NTPServers) == 0 && desired.TimeZone == "" {
		return
	}

	var liveServers []string
	liveZone := ""
	if host.Config.DateTimeInfo != nil {
		liveZone = host.Config.DateTimeInfo.TimeZone.Key
		if host.Config.DateTimeInfo.NtpConfig != nil {
			liveServers = host.Config.DateTimeInfo.NtpConfig.Server
		}
	}

	if sameStringSet(desired.NTPServers, liveServers) && (desired.TimeZone == "" || desired.TimeZone == liveZone) {
		return
	}
	cfg := types.HostDateTimeConfig{
		TimeZone:  desired.TimeZone,
		NtpConfig: &types.HostNtpConfig{Server: desired.NTPServers},
	}
	if err := target.UpdateDateTimeConfig(ctx, cfg); err != nil {
		e.warn(report, "time", "ntp", err)
		return
	}
	e.applied(report, "time", "ntp", "update")
}

func (e *Engine) restoreServices(ctx context.Context, target HostTarget, host *mo.HostSystem, snap *snapshot.Snapshot, report *Report) {
	liveByKey := map[string]types.HostService{}
	if host.Config.Service != nil {
		for _, svc := range host.Config.Service.Service {
			liveByKey[svc.Key] = svc
		}
	}

	for _, desired := range snap.Services {
		live, exists := liveByKey[desired.Key]
		if !exists {
			e.warn(report, "services", desired.Key, fmt.Errorf("service not present on target host"))
			continue
		}
		if live.Policy != desired.Policy {
			if err := target.UpdateServicePolicy(ctx, desired.Key, desired.Policy); err != nil {
				e.warn(report, "services", desired.Key, err)
			} else {
				e.applied(report, "services", desired.Key, "policy")
			}
		}
		if live.Running != desired.Running {
			var err error
			action := "start"
			if desired.Running {
				err = target.StartService(ctx, desired.Key)
			} else {
				action = "stop"
				err = target.StopService(ctx, desired.Key)
			}
			if err != nil {
				e.warn(report, "services", desired.Key, err)
				continue
			}
			e.applied(report, "services", desired.Key, action)
		}
	}
}

func (e *Engine) restoreFirewall(ctx context.Context, target HostTarget, host *mo.HostSystem, snap *snapshot.Snapshot, report *Report) {
	liveByKey := map[string]types.HostFirewallRuleset{}
	if host.Config.Firewall != nil {
		for _, rs := range host.Config.Firewall.Ruleset {
			liveByKey[rs.Key] = rs
		}
	}

	for _, desired := range snap.Firewall {
		live, exists := liveByKey[desired.Key]
		if !exists {
			e.warn(report, "firewall", desired.Key, fmt.Errorf("ruleset not present on target host"))
			continue
		}
		if live.Enabled == desired.Enabled {
			continue
		}
		var err error
		action := "enable"
		if desired.Enabled {
			err = target.EnableFirewallRuleset(ctx, desired.Key)
		} else {
			action = "disable"
			err = target.DisableFirewallRuleset(ctx, desired.Key)
		}
		if err != nil {
			e.warn(report, "firewall", desired.Key, err)
			continue
		}
		e.applied(report, "firewall", desired.Key, action)
	}
}

// restoreAdvancedSettings applies changed options one at a time so a single
// rejected key cannot poison the rest of the batch.
func (e *Engine) restoreAdvancedSettings(ctx context.Context, target HostTarget, host *mo.HostSystem, snap *snapshot.Snapshot, report *Report) {
	liveValues := liveOptionValues(host.Config.Option)

	for _, setting := range snap.AdvancedSettings {
		liveValue, exists := liveValues[setting.Key]
		if exists && liveValue == setting.Value {
			continue
		}
		typed, err := setting.TypedValue()
		if err != nil {
			e.warn(report, "advanced", setting.Key, err)
			continue
		}
		option := []types.BaseOptionValue{&types.OptionValue{Key: setting.Key, Value: typed}}
		if err := target.UpdateAdvancedOptions(ctx, option); err != nil {
			e.warn(report, "advanced", setting.Key, err)
			continue
		}
		e.applied(report, "advanced", setting.Key, "update")
	}
}

func (e *Engine) restoreSyslog(ctx context.Context, target HostTarget, host *mo.HostSystem, snap *snapshot.Snapshot, report *Report) {
	liveValues := liveOptionValues(host.Config.Option)

	apply := func(key, desired string) {
		if desired == "" || liveValues[key] == desired {
			return
		}
		option := []types.BaseOptionValue{&types.OptionValue{Key: key, Value: desired}}
		if err := target.UpdateAdvancedOptions(ctx, option); err != nil {
			e.warn(report, "syslog", key, err)
			return
		}
		e.applied(report, "syslog", key, "update")
	}

	apply(snapshot.SyslogLogHostKey, snap.Syslog.LogHost)
	apply(snapshot.SyslogLogDirKey, snap.Syslog.LogDir)
}

func (e *Engine) restorePower(ctx context.Context, target HostTarget, host *mo.HostSystem, snap *snapshot.Snapshot, report *Report) {
	if snap.Power.PolicyKey == 0 {
		return
	}
	if host.Config.PowerSystemInfo != nil && host.Config.PowerSystemInfo.CurrentPolicy.Key == snap.Power.PolicyKey {
		return
	}
	if err := target.SetPowerPolicy(ctx, snap.Power.PolicyKey); err != nil {
		e.warn(report, "power", snap.Power.PolicyName, err)
		return
	}
	e.applied(report, "power", snap.Power.PolicyName, "update")
}

func liveOptionValues(options []types.BaseOptionValue) map[string]string {
	live := make(map[string]string, len(options))
	for _, opt := range options {
		ov := opt.GetOptionValue()
		if ov == nil {
			continue
		}
		if value, _, ok := snapshot.FormatSettingValue(ov.Value); ok {
			live[ov.Key] = value
		}
	}
	return live
}
