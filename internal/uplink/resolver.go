// Package uplink re-establishes the mapping between physical adapters and
// logical distributed-switch uplinks. The management API exposes this binding
// inconsistently across versions and adapter states, so resolution walks an
// ordered chain of strategies and stops at the first that yields data.
package uplink

import (
	"context"
	"fmt"
	"strings"

	"github.com/vmware/govmomi/vim25/types"
	"go.uber.org/zap"

	"github.com/kubev2v/host-mover/internal/snapshot"
)

// SwitchRef identifies a distributed switch to resolve against.
type SwitchRef struct {
	Name string
	UUID string
	Ref  types.ManagedObjectReference
}

// API is the slice of the management-API client the resolver needs. Each
// method backs exactly one strategy except PhysicalAdapters, which is shared
// for filling in MAC/PCI details.
type API interface {
	HostRef() types.ManagedObjectReference
	UplinkPorts(ctx context.Context, sw SwitchRef) ([]types.DistributedVirtualPort, error)
	SwitchHostMembers(ctx context.Context, sw SwitchRef) ([]types.DistributedVirtualSwitchHostMember, error)
	HostProxySwitches(ctx context.Context) ([]types.HostProxySwitch, error)
	PhysicalAdapters(ctx context.Context) ([]types.PhysicalNic, error)
	PhysicalAdaptersForSwitch(ctx context.Context, sw SwitchRef) ([]types.PhysicalNic, error)
}

type Resolver struct {
	cache *Cache
	log   *zap.SugaredLogger
}

func NewResolver(cache *Cache) *Resolver {
	return &Resolver{
		cache: cache,
		log:   zap.S().Named("uplink"),
	}
}

type resolveContext struct {
	api         API
	sw          SwitchRef
	pnics       []types.PhysicalNic
	pnicsLoaded bool
}

type strategy struct {
	name string
	run  func(ctx context.Context, rc *resolveContext) ([]snapshot.UplinkBinding, error)
}

func (r *Resolver) strategies() []strategy {
	return []strategy{
		{name: "direct port binding", run: directPortBinding},
		{name: "switch-side host backing", run: switchHostBacking},
		{name: "host proxy-switch config", run: hostProxyConfig},
		{name: "filtered enumeration", run: filteredEnumeration},
	}
}

// ResolveUplinkAdapters determines which physical adapters back which uplink
// of the given switch. A strategy error or empty result moves on to the next
// strategy; an empty, nil-error return means no strategy produced data.
func (r *Resolver) ResolveUplinkAdapters(ctx context.Context, api API, sw SwitchRef) ([]snapshot.UplinkBinding, error) {
	key := cacheKey(api.HostRef(), sw)
	if r.cache != nil {
		if bindings, ok := r.cache.Get(key); ok {
			return bindings, nil
		}
	}

	rc := &resolveContext{api: api, sw: sw}
	for _, s := range r.strategies() {
		bindings, err := s.run(ctx, rc)
		if err != nil {
			r.log.Debugf("switch %s: strategy %q failed: %v", sw.Name, s.name, err)
			continue
		}
		if len(bindings) == 0 {
			r.log.Debugf("switch %s: strategy %q returned no adapters", sw.Name, s.name)
			continue
		}
		r.log.Infof("switch %s: resolved %d uplink adapters via %q", sw.Name, len(bindings), s.name)
		if r.cache != nil {
			r.cache.Put(key, bindings)
		}
		return bindings, nil
	}

	r.log.Warnf("switch %s: no strategy could resolve uplink adapters", sw.Name)
	return nil, nil
}

func cacheKey(host types.ManagedObjectReference, sw SwitchRef) string {
	return host.Value + "/" + sw.UUID
}

// directPortBinding inspects the switch's uplink ports and reads the NIC each
// port reports as its connectee on this host.
func directPortBinding(ctx context.Context, rc *resolveContext) ([]snapshot.UplinkBinding, error) {
	ports, err := rc.api.UplinkPorts(ctx, rc.sw)
	if err != nil {
		return nil, err
	}

	hostRef := rc.api.HostRef()
	var bindings []snapshot.UplinkBinding
	for _, port := range ports {
		if port.ProxyHost == nil || port.ProxyHost.Value != hostRef.Value {
			continue
		}
		if port.Connectee == nil || port.Connectee.NicKey == "" {
			continue
		}
		uplinkName := port.Key
		if port.Config.Name != "" {
			uplinkName = port.Config.Name
		}
		bindings = append(bindings, rc.binding(ctx, uplinkName, deviceFromNicKey(port.Connectee.NicKey)))
	}
	return bindings, nil
}

// switchHostBacking reads the switch's per-host member configuration and
// takes the pnic specs recorded for this host.
func switchHostBacking(ctx context.Context, rc *resolveContext) ([]snapshot.UplinkBinding, error) {
	members, err := rc.api.SwitchHostMembers(ctx, rc.sw)
	if err != nil {
		return nil, err
	}

	hostRef := rc.api.HostRef()
	for _, member := range members {
		if member.Config.Host == nil || member.Config.Host.Value != hostRef.Value {
			continue
		}
		backing, ok := member.Config.Backing.(*types.DistributedVirtualSwitchHostMemberPnicBacking)
		if !ok {
			continue
		}
		return rc.bindingsFromPnicSpecs(ctx, backing.PnicSpec), nil
	}
	return nil, nil
}

// hostProxyConfig inspects the host network subsystem for a proxy switch
// bound to the target switch UUID and cross-references its pnic keys.
func hostProxyConfig(ctx context.Context, rc *resolveContext) ([]snapshot.UplinkBinding, error) {
	proxies, err := rc.api.HostProxySwitches(ctx)
	if err != nil {
		return nil, err
	}

	for _, proxy := range proxies {
		if proxy.DvsUuid != rc.sw.UUID {
			continue
		}
		if backing, ok := proxy.Spec.Backing.(*types.DistributedVirtualSwitchHostMemberPnicBacking); ok && len(backing.PnicSpec) > 0 {
			return rc.bindingsFromPnicSpecs(ctx, backing.PnicSpec), nil
		}
		var bindings []snapshot.UplinkBinding
		for i, key := range proxy.Pnic {
			bindings = append(bindings, rc.binding(ctx, fallbackUplinkName(i), deviceFromNicKey(key)))
		}
		return bindings, nil
	}
	return nil, nil
}

// filteredEnumeration asks the API for physical adapters pre-filtered by the
// switch, trusting the API's own filtering.
func filteredEnumeration(ctx context.Context, rc *resolveContext) ([]snapshot.UplinkBinding, error) {
	pnics, err := rc.api.PhysicalAdaptersForSwitch(ctx, rc.sw)
	if err != nil {
		return nil, err
	}

	var bindings []snapshot.UplinkBinding
	for i, pnic := range pnics {
		bindings = append(bindings, snapshot.UplinkBinding{
			UplinkName:         fallbackUplinkName(i),
			PhysicalAdapterRef: pnic.Device,
			MACAddress:         pnic.Mac,
			PCIAddress:         pnic.Pci,
		})
	}
	return bindings, nil
}

func (rc *resolveContext) bindingsFromPnicSpecs(ctx context.Context, specs []types.DistributedVirtualSwitchHostMemberPnicSpec) []snapshot.UplinkBinding {
	var bindings []snapshot.UplinkBinding
	for i, spec := range specs {
		uplinkName := spec.UplinkPortKey
		if uplinkName == "" {
			uplinkName = fallbackUplinkName(i)
		}
		bindings = append(bindings, rc.binding(ctx, uplinkName, spec.PnicDevice))
	}
	return bindings
}

// binding fills in MAC/PCI lookup keys from the host's adapter list when the
// enumeration is available; the device name alone is still a valid binding.
func (rc *resolveContext) binding(ctx context.Context, uplinkName, device string) snapshot.UplinkBinding {
	b := snapshot.UplinkBinding{UplinkName: uplinkName, PhysicalAdapterRef: device}
	for _, pnic := range rc.physicalAdapters(ctx) {
		if pnic.Device == device {
			b.MACAddress = pnic.Mac
			b.PCIAddress = pnic.Pci
			break
		}
	}
	return b
}

func (rc *resolveContext) physicalAdapters(ctx context.Context) []types.PhysicalNic {
	if !rc.pnicsLoaded {
		rc.pnicsLoaded = true
		pnics, err := rc.api.PhysicalAdapters(ctx)
		if err == nil {
			rc.pnics = pnics
		}
	}
	return rc.pnics
}

// deviceFromNicKey turns a pnic key such as
// "key-vim.host.PhysicalNic-vmnic2" into the device name. Plain device names
// pass through unchanged.
func deviceFromNicKey(key string) string {
	if idx := strings.LastIndex(key, "-"); idx >= 0 {
		return key[idx+1:]
	}
	return key
}

func fallbackUplinkName(i int) string {
	return fmt.Sprintf("uplink%d", i+1)
}
