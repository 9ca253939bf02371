package uplink

import (
	"strings"

	"github.com/vmware/govmomi/vim25/types"

	"github.com/kubev2v/host-mover/internal/snapshot"
)

type MatchStrategy string

const (
	MatchByName   MatchStrategy = "name"
	MatchByMAC    MatchStrategy = "mac"
	MatchByPCI    MatchStrategy = "pci"
	MatchBySuffix MatchStrategy = "suffix"
)

// Match is the outcome of mapping a recorded uplink binding onto a live
// physical adapter. Suffix matches carry no identity guarantee and are
// flagged low-confidence so callers can surface them instead of silently
// trusting the guess.
type Match struct {
	Binding       snapshot.UplinkBinding
	Device        string
	Strategy      MatchStrategy
	LowConfidence bool
}

// MatchAdapter finds the live adapter backing a recorded binding: by device
// name, then MAC address, then PCI address, then by the numeric suffix of the
// device name. The first hit wins.
func MatchAdapter(binding snapshot.UplinkBinding, pnics []types.PhysicalNic) (Match, bool) {
	for _, pnic := range pnics {
		if pnic.Device == binding.PhysicalAdapterRef && binding.PhysicalAdapterRef != "" {
			return Match{Binding: binding, Device: pnic.Device, Strategy: MatchByName}, true
		}
	}
	if binding.MACAddress != "" {
		for _, pnic := range pnics {
			if strings.EqualFold(pnic.Mac, binding.MACAddress) {
				return Match{Binding: binding, Device: pnic.Device, Strategy: MatchByMAC}, true
			}
		}
	}
	if binding.PCIAddress != "" {
		for _, pnic := range pnics {
			if pnic.Pci == binding.PCIAddress {
				return Match{Binding: binding, Device: pnic.Device, Strategy: MatchByPCI}, true
			}
		}
	}
	if suffix, ok := numericSuffix(binding.PhysicalAdapterRef); ok {
		for _, pnic := range pnics {
			if liveSuffix, ok := numericSuffix(pnic.Device); ok && liveSuffix == suffix {
				return Match{Binding: binding, Device: pnic.Device, Strategy: MatchBySuffix, LowConfidence: true}, true
			}
		}
	}
	return Match{}, false
}

func numericSuffix(device string) (string, bool) {
	i := len(device)
	for i > 0 && device[i-1] >= '0' && device[i-1] <= '9' {
		i--
	}
	if i == len(device) || i == 0 {
		return "", false
	}
	return device[i:], true
}
