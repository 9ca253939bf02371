// Package restore applies a snapshot to a live host by diffing each
// configuration item against the current value and mutating only on
// difference. Re-running the same snapshot against a matching host therefore
// issues zero mutating calls. Per-item failures are recorded as warnings and
// never halt the remaining items.
package restore

import (
	"context"
	"fmt"
	"time"

	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/types"
	"go.uber.org/zap"

	"github.com/kubev2v/host-mover/internal/snapshot"
)

type Scope int

const (
	// ScopeFull restores every facet of the snapshot.
	ScopeFull Scope = iota
	// ScopeNetworkOnly restores the network facet only. Rollback runs in
	// this scope because the host is still connectivity-limited.
	ScopeNetworkOnly
)

func (s Scope) String() string {
	if s == ScopeNetworkOnly {
		return "network-only"
	}
	return "full"
}

// HostTarget is the mutating side of the management-API client needed to
// apply a snapshot. Reads come through the same handle so diffing and
// mutating always see the same host.
type HostTarget interface {
	Name() string
	HostProperties(ctx context.Context) (*mo.HostSystem, error)
	// AvailableDistributedSwitches lists every distributed switch of the
	// host's owning domain, whether or not the host is a member yet.
	AvailableDistributedSwitches(ctx context.Context) ([]snapshot.DistributedSwitchConfig, error)

	AddVirtualSwitch(ctx context.Context, name string, spec types.HostVirtualSwitchSpec) error
	UpdateVirtualSwitch(ctx context.Context, name string, spec types.HostVirtualSwitchSpec) error
	AddPortGroup(ctx context.Context, spec types.HostPortGroupSpec) error
	UpdatePortGroup(ctx context.Context, name string, spec types.HostPortGroupSpec) error
	AddVirtualNic(ctx context.Context, portgroup string, spec types.HostVirtualNicSpec) error
	UpdateVirtualNic(ctx context.Context, device string, spec types.HostVirtualNicSpec) error

	JoinDistributedSwitch(ctx context.Context, switchName string, uplinks map[string]string) error
	UpdateUplinkBindings(ctx context.Context, switchName string, uplinks map[string]string) error

	CreateNasDatastore(ctx context.Context, spec types.HostNasVolumeSpec) error
	UpdateDNSConfig(ctx context.Context, cfg types.HostDnsConfig) error
	UpdateDateTimeConfig(ctx context.Context, cfg types.HostDateTimeConfig) error
	UpdateServicePolicy(ctx context.Context, key, policy string) error
	StartService(ctx context.Context, key string) error
	StopService(ctx context.Context, key string) error
	EnableFirewallRuleset(ctx context.Context, key string) error
	DisableFirewallRuleset(ctx context.Context, key string) error
	UpdateAdvancedOptions(ctx context.Context, options []types.BaseOptionValue) error
	SetPowerPolicy(ctx context.Context, key int32) error
}

type Change struct {
	Facet  string `json:"facet"`
	Item   string `json:"item"`
	Action string `json:"action"`
}

type Warning struct {
	Facet   string `json:"facet"`
	Item    string `json:"item"`
	Message string `json:"message"`
}

// Report summarizes one restore run. MutationCount counts the mutating API
// calls that were actually issued.
type Report struct {
	HostName    string    `json:"hostName"`
	Scope       string    `json:"scope"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
	Changes     []Change  `json:"changes"`
	Warnings    []Warning `json:"warnings"`
	Skipped     []string  `json:"skipped,omitempty"`
}

func (r *Report) MutationCount() int {
	return len(r.Changes)
}

// Clean reports whether the live host already matched the snapshot: no
// mutations issued and no item failed.
func (r *Report) Clean() bool {
	return len(r.Changes) == 0 && len(r.Warnings) == 0
}

type Engine struct {
	log *zap.SugaredLogger
}

func NewEngine() *Engine {
	return &Engine{log: zap.S().Named("restore")}
}

// Restore diffs the snapshot against the live host and applies the deltas.
// Network configuration goes first because later facets depend on
// connectivity existing; the remaining facets are independent of each other.
// The returned error is non-nil only when the host state cannot be read at
// all; individual item failures land in Report.Warnings.
func (e *Engine) Restore(ctx context.Context, target HostTarget, snap *snapshot.Snapshot, scope Scope) (*Report, error) {
	report := &Report{
		HostName:  target.Name(),
		Scope:     scope.String(),
		StartedAt: time.Now().UTC(),
	}

	host, err := target.HostProperties(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading live state of %s: %w", target.Name(), err)
	}
	if host.Config == nil {
		return nil, fmt.Errorf("host %s exposes no configuration", target.Name())
	}

	e.log.Infof("restoring %s configuration of %s from snapshot taken %s",
		scope, target.Name(), snap.Metadata.CapturedAt.Format(time.RFC3339))

	e.restoreNetwork(ctx, target, host, snap, report)

	if scope == ScopeFull {
		e.restoreStorage(ctx, target, host, snap, report)
		e.restoreDNS(ctx, target, host, snap, report)
		e.restoreTime(ctx, target, host, snap, report)
		e.restoreServices(ctx, target, host, snap, report)
		e.restoreFirewall(ctx, target, host, snap, report)
		e.restoreAdvancedSettings(ctx, target, host, snap, report)
		e.restoreSyslog(ctx, target, host, snap, report)
		e.restorePower(ctx, target, host, snap, report)
	}

	report.CompletedAt = time.Now().UTC()
	e.log.Infof("restore of %s finished: %d changes, %d warnings, %d skipped",
		target.Name(), len(report.Changes), len(report.Warnings), len(report.Skipped))
	return report, nil
}

func (e *Engine) applied(report *Report, facet, item, action string) {
	e.log.Infof("%s: %s %s", facet, action, item)
	report.Changes = append(report.Changes, Change{Facet: facet, Item: item, Action: action})
}

func (e *Engine) warn(report *Report, facet, item string, err error) {
	e.log.Warnf("%s: %s: %v", facet, item, err)
	report.Warnings = append(report.Warnings, Warning{Facet: facet, Item: item, Message: err.Error()})
}

func (e *Engine) skip(report *Report, facet, item, reason string) {
	e.log.Warnf("%s: skipping %s: %s", facet, item, reason)
	report.Skipped = append(report.Skipped, fmt.Sprintf("%s/%s: %s", facet, item, reason))
}
