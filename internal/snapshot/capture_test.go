package snapshot

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/types"
)

type fakeSource struct {
	host    *mo.HostSystem
	hostErr error
	dvs     []DistributedSwitchConfig
	dvsErr  error
}

func (f *fakeSource) Name() string   { return "esx-01.lab.local" }
func (f *fakeSource) Domain() string { return "source-vcenter" }

func (f *fakeSource) HostProperties(ctx context.Context) (*mo.HostSystem, error) {
	return f.host, f.hostErr
}

func (f *fakeSource) DistributedSwitches(ctx context.Context) ([]DistributedSwitchConfig, error) {
	return f.dvs, f.dvsErr
}

func fullHostConfig() *types.HostConfigInfo {
	return &types.HostConfigInfo{
		Network: &types.HostNetworkInfo{
			Pnic: []types.PhysicalNic{
				{
					Device:    "vmnic0",
					Mac:       "aa:bb:cc:00:00:01",
					Pci:       "0000:02:00.0",
					Driver:    "ixgben",
					LinkSpeed: &types.PhysicalNicLinkInfo{SpeedMb: 10000},
				},
				{Device: "vmnic1", Mac: "aa:bb:cc:00:00:02", Pci: "0000:02:00.1"},
			},
			Vswitch: []types.HostVirtualSwitch{
				{
					Name:     "vSwitch0",
					NumPorts: 128,
					Mtu:      1500,
					Spec: types.HostVirtualSwitchSpec{
						Bridge: &types.HostVirtualSwitchBondBridge{NicDevice: []string{"vmnic0"}},
					},
				},
			},
			Portgroup: []types.HostPortGroup{
				{Spec: types.HostPortGroupSpec{Name: "Management Network", VlanId: 0, VswitchName: "vSwitch0"}},
				{Spec: types.HostPortGroupSpec{Name: "vMotion", VlanId: 42, VswitchName: "vSwitch0"}},
			},
			Vnic: []types.HostVirtualNic{
				{
					Device:    "vmk0",
					Portgroup: "Management Network",
					Spec: types.HostVirtualNicSpec{
						Mac: "00:50:56:00:00:01",
						Mtu: 1500,
						Ip:  &types.HostIpConfig{Dhcp: false, IpAddress: "10.0.0.5", SubnetMask: "255.255.255.0"},
					},
				},
				{
					Device: "vmk1",
					Spec: types.HostVirtualNicSpec{
						Mtu: 9000,
						Ip:  &types.HostIpConfig{Dhcp: true},
						DistributedVirtualPort: &types.DistributedVirtualSwitchPortConnection{
							SwitchUuid:   "50 11 22 33",
							PortgroupKey: "dvportgroup-100",
						},
					},
				},
			},
			DnsConfig: &types.HostDnsConfig{
				Dhcp:         false,
				HostName:     "esx-01",
				DomainName:   "lab.local",
				Address:      []string{"10.0.0.2"},
				SearchDomain: []string{"lab.local"},
			},
		},
		FileSystemVolume: &types.HostFileSystemVolumeInfo{
			MountInfo: []types.HostFileSystemMountInfo{
				{
					MountInfo: types.HostMountInfo{AccessMode: "readWrite"},
					Volume: &types.HostNasVolume{
						HostFileSystemVolume: types.HostFileSystemVolume{Name: "nfs-datastore"},
						RemoteHost:           "10.0.0.40",
						RemotePath:           "/export/vmware",
					},
				},
				{
					Volume: &types.HostVmfsVolume{
						HostFileSystemVolume: types.HostFileSystemVolume{Name: "local-vmfs"},
					},
				},
			},
		},
		Service: &types.HostServiceInfo{
			Service: []types.HostService{
				{Key: "TSM-SSH", Policy: "on", Running: true},
				{Key: "ntpd", Policy: "automatic", Running: false},
			},
		},
		Firewall: &types.HostFirewallInfo{
			Ruleset: []types.HostFirewallRuleset{
				{Key: "sshServer", Enabled: true},
				{Key: "ntpClient", Enabled: false},
			},
		},
		Option: []types.BaseOptionValue{
			&types.OptionValue{Key: "Net.TcpipHeapSize", Value: int32(32)},
			&types.OptionValue{Key: SyslogLogHostKey, Value: "tcp://loghost:514"},
			&types.OptionValue{Key: SyslogLogDirKey, Value: "[] /scratch/log"},
			&types.OptionValue{Key: "Misc.HostAgentUpdateLevel", Value: "3"},
		},
		DateTimeInfo: &types.HostDateTimeInfo{
			TimeZone:  types.HostDateTimeSystemTimeZone{Key: "UTC"},
			NtpConfig: &types.HostNtpConfig{Server: []string{"0.pool.ntp.org", "1.pool.ntp.org"}},
		},
		PowerSystemInfo: &types.PowerSystemInfo{
			CurrentPolicy: types.HostPowerPolicy{Key: 2, ShortName: "dynamic"},
		},
	}
}

func TestCaptureMapsFullConfiguration(t *testing.T) {
	src := &fakeSource{
		host: &mo.HostSystem{Config: fullHostConfig()},
		dvs: []DistributedSwitchConfig{
			{
				Name:        "dvs-prod",
				UUID:        "50 11 22 33",
				UplinkNames: []string{"uplink1", "uplink2"},
				PortGroups:  []PortGroup{{Name: "dv-pg", Key: "dvportgroup-100", VLANID: 100}},
				Uplinks:     []UplinkBinding{{UplinkName: "uplink1", PhysicalAdapterRef: "vmnic1", MACAddress: "aa:bb:cc:00:00:02"}},
			},
		},
	}

	snap, err := Capture(context.Background(), src)
	require.NoError(t, err)

	assert.NotEmpty(t, snap.Metadata.ID)
	assert.False(t, snap.Metadata.CapturedAt.IsZero())
	assert.Equal(t, "esx-01.lab.local", snap.Metadata.HostName)
	assert.Equal(t, "source-vcenter", snap.Metadata.SourceDomain)

	require.Len(t, snap.Network.PhysicalAdapters, 2)
	assert.Equal(t, PhysicalAdapter{
		Name:        "vmnic0",
		MACAddress:  "aa:bb:cc:00:00:01",
		PCIAddress:  "0000:02:00.0",
		Driver:      "ixgben",
		LinkSpeedMb: 10000,
	}, snap.Network.PhysicalAdapters[0])

	require.Len(t, snap.Network.StandardSwitches, 1)
	sw := snap.Network.StandardSwitches[0]
	assert.Equal(t, "vSwitch0", sw.Name)
	assert.Equal(t, int32(1500), sw.MTU)
	assert.Equal(t, []string{"vmnic0"}, sw.NICDevices)
	require.Len(t, sw.PortGroups, 2)
	assert.Equal(t, int32(42), sw.PortGroups[1].VLANID)

	require.Len(t, snap.Network.VMKernelAdapters, 2)
	std, dist := snap.Network.VMKernelAdapters[0], snap.Network.VMKernelAdapters[1]
	assert.False(t, std.Distributed())
	assert.Equal(t, "Management Network", std.PortGroup)
	assert.Equal(t, "10.0.0.5", std.IPAddress)
	assert.True(t, dist.Distributed())
	assert.Empty(t, dist.PortGroup)
	assert.Equal(t, "50 11 22 33", dist.SwitchUUID)
	assert.Equal(t, "dvportgroup-100", dist.PortGroupKey)
	assert.True(t, dist.DHCP)

	require.Len(t, snap.Network.DistributedSwitches, 1)
	assert.Equal(t, "dvs-prod", snap.Network.DistributedSwitches[0].Name)

	require.Len(t, snap.Storage.NASMounts, 1)
	assert.Equal(t, NASMount{
		Name:       "nfs-datastore",
		RemoteHost: "10.0.0.40",
		RemotePath: "/export/vmware",
		AccessMode: "readWrite",
	}, snap.Storage.NASMounts[0])
	assert.Equal(t, []string{"local-vmfs"}, snap.Storage.VMFSVolumes)

	assert.Equal(t, []ServiceConfig{
		{Key: "TSM-SSH", Policy: "on", Running: true},
		{Key: "ntpd", Policy: "automatic", Running: false},
	}, snap.Services)

	assert.Equal(t, []FirewallRule{
		{Key: "sshServer", Enabled: true},
		{Key: "ntpClient", Enabled: false},
	}, snap.Firewall)

	assert.Equal(t, TimeConfig{NTPServers: []string{"0.pool.ntp.org", "1.pool.ntp.org"}, TimeZone: "UTC"}, snap.Time)
	assert.Equal(t, DNSConfig{
		HostName:      "esx-01",
		DomainName:    "lab.local",
		Servers:       []string{"10.0.0.2"},
		SearchDomains: []string{"lab.local"},
	}, snap.DNS)
	assert.Equal(t, PowerConfig{PolicyKey: 2, PolicyName: "dynamic"}, snap.Power)
}

func TestCaptureSplitsSyslogOptions(t *testing.T) {
	src := &fakeSource{host: &mo.HostSystem{Config: fullHostConfig()}}

	snap, err := Capture(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, SyslogConfig{LogHost: "tcp://loghost:514", LogDir: "[] /scratch/log"}, snap.Syslog)
	for _, setting := range snap.AdvancedSettings {
		assert.NotEqual(t, SyslogLogHostKey, setting.Key)
		assert.NotEqual(t, SyslogLogDirKey, setting.Key)
	}
	assert.Equal(t, []AdvancedSetting{
		{Key: "Net.TcpipHeapSize", Value: "32", Type: "int"},
		{Key: "Misc.HostAgentUpdateLevel", Value: "3", Type: "string"},
	}, snap.AdvancedSettings)
}

func TestCaptureAbortsOnlyOnHostResolveFailure(t *testing.T) {
	tests := []struct {
		name    string
		src     *fakeSource
		wantErr bool
	}{
		{
			name:    "host properties unreadable",
			src:     &fakeSource{hostErr: errors.New("connection refused")},
			wantErr: true,
		},
		{
			name:    "host with no config",
			src:     &fakeSource{host: &mo.HostSystem{}},
			wantErr: true,
		},
		{
			name:    "missing facets are tolerated",
			src:     &fakeSource{host: &mo.HostSystem{Config: &types.HostConfigInfo{}}},
			wantErr: false,
		},
		{
			name: "distributed switch listing failure is tolerated",
			src: &fakeSource{
				host:   &mo.HostSystem{Config: fullHostConfig()},
				dvsErr: errors.New("view creation failed"),
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := Capture(context.Background(), tt.src)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "esx-01.lab.local", snap.Metadata.HostName)
		})
	}
}

func TestLookupPhysicalAdapter(t *testing.T) {
	net := NetworkConfig{
		PhysicalAdapters: []PhysicalAdapter{
			{Name: "vmnic0", MACAddress: "aa:bb:cc:00:00:01", PCIAddress: "0000:02:00.0"},
			{Name: "vmnic1", MACAddress: "aa:bb:cc:00:00:02", PCIAddress: "0000:02:00.1"},
		},
	}

	tests := []struct {
		name string
		ref  string
		want string
		ok   bool
	}{
		{name: "by device name", ref: "vmnic1", want: "vmnic1", ok: true},
		{name: "by mac case-insensitive", ref: "AA:BB:CC:00:00:01", want: "vmnic0", ok: true},
		{name: "by pci address", ref: "0000:02:00.1", want: "vmnic1", ok: true},
		{name: "no match", ref: "vmnic7", ok: false},
		{name: "empty ref", ref: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pa, ok := net.LookupPhysicalAdapter(tt.ref)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, pa.Name)
			}
		})
	}
}

func TestHostShortName(t *testing.T) {
	assert.Equal(t, "esx-01", HostShortName("esx-01.lab.local"))
	assert.Equal(t, "esx-01", HostShortName("esx-01"))
}
