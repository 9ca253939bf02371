// Package snapshot defines the typed configuration document captured from a
// host and the capture/persistence logic that produces it. A snapshot is
// immutable once captured; restore and rollback only ever read it.
package snapshot

import (
	"strings"
	"time"
)

type Snapshot struct {
	Metadata         Metadata          `json:"metadata"`
	Network          NetworkConfig     `json:"network"`
	Storage          StorageConfig     `json:"storage"`
	Services         []ServiceConfig   `json:"services"`
	Firewall         []FirewallRule    `json:"firewall"`
	AdvancedSettings []AdvancedSetting `json:"advancedSettings"`
	Time             TimeConfig        `json:"time"`
	DNS              DNSConfig         `json:"dns"`
	Syslog           SyslogConfig      `json:"syslog"`
	Power            PowerConfig       `json:"power"`
}

type Metadata struct {
	ID           string    `json:"id"`
	CapturedAt   time.Time `json:"capturedAt"`
	ToolVersion  string    `json:"toolVersion"`
	HostName     string    `json:"hostName"`
	SourceDomain string    `json:"sourceDomain"`
}

type NetworkConfig struct {
	VMKernelAdapters    []VMKernelAdapter         `json:"vmkernelAdapters"`
	PhysicalAdapters    []PhysicalAdapter         `json:"physicalAdapters"`
	StandardSwitches    []StandardSwitchConfig    `json:"standardSwitches"`
	DistributedSwitches []DistributedSwitchConfig `json:"distributedSwitches"`
}

// PhysicalAdapter is enumerated once per host. Everything else refers to it
// by lookup key (device name, MAC or PCI address), never by pointer, because
// adapter identity may shift between domains.
type PhysicalAdapter struct {
	Name        string `json:"name"`
	MACAddress  string `json:"macAddress,omitempty"`
	PCIAddress  string `json:"pciAddress,omitempty"`
	Driver      string `json:"driver,omitempty"`
	LinkSpeedMb int32  `json:"linkSpeedMb,omitempty"`
}

type StandardSwitchConfig struct {
	Name       string      `json:"name"`
	NumPorts   int32       `json:"numPorts,omitempty"`
	MTU        int32       `json:"mtu,omitempty"`
	NICDevices []string    `json:"nicDevices,omitempty"`
	PortGroups []PortGroup `json:"portGroups"`
}

// PortGroup describes a port group on either switch flavour. Key is populated
// for distributed port groups only.
type PortGroup struct {
	Name   string `json:"name"`
	Key    string `json:"key,omitempty"`
	VLANID int32  `json:"vlanId"`
}

type DistributedSwitchConfig struct {
	Name        string          `json:"name"`
	UUID        string          `json:"uuid"`
	MTU         int32           `json:"mtu,omitempty"`
	UplinkNames []string        `json:"uplinkNames,omitempty"`
	PortGroups  []PortGroup     `json:"portGroups"`
	Uplinks     []UplinkBinding `json:"uplinks"`
}

// UplinkBinding records which physical adapter backed a logical uplink at
// capture time. PhysicalAdapterRef is the adapter device name; MAC and PCI
// are kept as secondary lookup keys for re-matching on the target side.
type UplinkBinding struct {
	UplinkName         string `json:"uplinkName"`
	PhysicalAdapterRef string `json:"physicalAdapterRef"`
	MACAddress         string `json:"macAddress,omitempty"`
	PCIAddress         string `json:"pciAddress,omitempty"`
}

type VMKernelAdapter struct {
	Device       string `json:"device"`
	PortGroup    string `json:"portGroup,omitempty"`
	SwitchUUID   string `json:"switchUuid,omitempty"`
	PortGroupKey string `json:"portGroupKey,omitempty"`
	MACAddress   string `json:"macAddress,omitempty"`
	MTU          int32  `json:"mtu,omitempty"`
	DHCP         bool   `json:"dhcp"`
	IPAddress    string `json:"ipAddress,omitempty"`
	SubnetMask   string `json:"subnetMask,omitempty"`
}

// Distributed reports whether the adapter hangs off a distributed switch
// rather than a standard port group.
func (a VMKernelAdapter) Distributed() bool {
	return a.SwitchUUID != ""
}

type StorageConfig struct {
	NASMounts   []NASMount `json:"nasMounts"`
	VMFSVolumes []string   `json:"vmfsVolumes,omitempty"`
}

type NASMount struct {
	Name       string `json:"name"`
	RemoteHost string `json:"remoteHost"`
	RemotePath string `json:"remotePath"`
	AccessMode string `json:"accessMode,omitempty"`
}

type ServiceConfig struct {
	Key     string `json:"key"`
	Policy  string `json:"policy"`
	Running bool   `json:"running"`
}

type FirewallRule struct {
	Key     string `json:"key"`
	Enabled bool   `json:"enabled"`
}

// AdvancedSetting keeps the option value stringified together with its wire
// type so the document survives a JSON round trip without losing numeric
// precision.
type AdvancedSetting struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Type  string `json:"type"`
}

type TimeConfig struct {
	NTPServers []string `json:"ntpServers"`
	TimeZone   string   `json:"timeZone,omitempty"`
}

type DNSConfig struct {
	DHCP          bool     `json:"dhcp"`
	HostName      string   `json:"hostName,omitempty"`
	DomainName    string   `json:"domainName,omitempty"`
	Servers       []string `json:"servers"`
	SearchDomains []string `json:"searchDomains,omitempty"`
}

type SyslogConfig struct {
	LogHost string `json:"logHost,omitempty"`
	LogDir  string `json:"logDir,omitempty"`
}

type PowerConfig struct {
	PolicyKey  int32  `json:"policyKey,omitempty"`
	PolicyName string `json:"policyName,omitempty"`
}

// LookupPhysicalAdapter resolves a back-reference key against the enumerated
// adapters: device name first, then MAC, then PCI address.
func (n NetworkConfig) LookupPhysicalAdapter(ref string) (PhysicalAdapter, bool) {
	for _, pa := range n.PhysicalAdapters {
		if pa.Name == ref {
			return pa, true
		}
	}
	for _, pa := range n.PhysicalAdapters {
		if pa.MACAddress != "" && strings.EqualFold(pa.MACAddress, ref) {
			return pa, true
		}
	}
	for _, pa := range n.PhysicalAdapters {
		if pa.PCIAddress == ref && ref != "" {
			return pa, true
		}
	}
	return PhysicalAdapter{}, false
}

// DistributedSwitchNames returns the set of distributed switch names, used by
// restore to skip standard switches that would shadow a distributed one.
func (n NetworkConfig) DistributedSwitchNames() map[string]bool {
	names := make(map[string]bool, len(n.DistributedSwitches))
	for _, dvs := range n.DistributedSwitches {
		names[dvs.Name] = true
	}
	return names
}

// HostShortName trims the domain part off a FQDN for use in file names.
func HostShortName(hostName string) string {
	short, _, _ := strings.Cut(hostName, ".")
	return short
}
