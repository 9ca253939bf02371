// Package migration coordinates the relocation of a host from one management
// domain to another: capture, disconnect, re-register, restore, and a
// guaranteed best-effort rollback when a phase fails past the point of no
// return.
package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/kubev2v/host-mover/internal/lockdown"
	"github.com/kubev2v/host-mover/internal/restore"
	"github.com/kubev2v/host-mover/internal/snapshot"
)

// ErrHostNotFound is returned by Domain.FindHost when the named host is not
// part of the domain's inventory.
var ErrHostNotFound = errors.New("host not found")

type ConnectionState string

const (
	ConnectionStateConnected     ConnectionState = "connected"
	ConnectionStateDisconnected  ConnectionState = "disconnected"
	ConnectionStateNotResponding ConnectionState = "notResponding"
)

// Host is one host as seen through a domain connection.
type Host interface {
	Name() string
	ConnectionState(ctx context.Context) (ConnectionState, error)
	InMaintenance(ctx context.Context) (bool, error)
	Disconnect(ctx context.Context) error
	Reconnect(ctx context.Context) error
}

// Domain is a management server owning a pool of hosts.
type Domain interface {
	Name() string
	FindHost(ctx context.Context, name string) (Host, error)
	RegisterHost(ctx context.Context, spec RegisterSpec) (Host, error)
}

type RegisterSpec struct {
	HostName   string
	Username   string
	Password   string
	Datacenter string
	Cluster    string
}

// ConfigMover captures a host's configuration and re-applies it. Rollback is
// deliberately not a separate code path: it is a Restore with the
// pre-migration snapshot and network-only scope.
type ConfigMover interface {
	Capture(ctx context.Context, host Host) (*snapshot.Snapshot, error)
	Restore(ctx context.Context, host Host, snap *snapshot.Snapshot, scope restore.Scope) (*restore.Report, error)
}

// LockdownHandler reads and sets the host's lockdown mode over a direct
// connection, independent of either domain.
type LockdownHandler interface {
	GetMode(ctx context.Context) (lockdown.Mode, error)
	SetMode(ctx context.Context, mode lockdown.Mode) (bool, error)
}

// DirectCleaner removes stale distributed-switch proxy entries directly on
// the host. Such entries survive disconnection and block re-registration.
type DirectCleaner interface {
	CleanOrphanProxySwitches(ctx context.Context, staleUUIDs []string) (int, error)
}

type SnapshotStore interface {
	Save(snap *snapshot.Snapshot) (string, error)
	Delete(path string) error
}

type Params struct {
	HostName         string
	HostUsername     string
	HostPassword     string
	TargetDatacenter string
	TargetCluster    string
	// PropagationWait is how long to wait after the source disconnect
	// before touching the host directly.
	PropagationWait time.Duration
}

type Orchestrator struct {
	source   Domain
	target   Domain
	mover    ConfigMover
	lockdown LockdownHandler
	cleaner  DirectCleaner
	store    SnapshotStore
	params   Params
	clk      clock.Clock
	log      *zap.SugaredLogger

	state State
}

type Option func(*Orchestrator)

// WithClock replaces the wall clock, for tests.
func WithClock(clk clock.Clock) Option {
	return func(o *Orchestrator) { o.clk = clk }
}

func New(source, target Domain, mover ConfigMover, ld LockdownHandler, cleaner DirectCleaner, store SnapshotStore, params Params, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		source:   source,
		target:   target,
		mover:    mover,
		lockdown: ld,
		cleaner:  cleaner,
		store:    store,
		params:   params,
		clk:      clock.WallClock,
		log:      zap.S().Named("migration"),
		state:    StateNotStarted,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) State() State {
	return o.state
}

// Run executes the migration. The returned state is Completed, RolledBack or
// Failed; on RolledBack the returned error is the original migration error,
// never a rollback-internal one.
func (o *Orchestrator) Run(ctx context.Context) (finalState State, err error) {
	o.log.Infof("migrating host %s from domain %s to domain %s",
		o.params.HostName, o.source.Name(), o.target.Name())

	// Preflight. Aborts here require no compensation: nothing has mutated.
	srcHost, err := o.source.FindHost(ctx, o.params.HostName)
	if err != nil {
		return o.abort(fmt.Errorf("resolving host in source domain %s: %w", o.source.Name(), err))
	}
	inMaintenance, err := srcHost.InMaintenance(ctx)
	if err != nil {
		return o.abort(fmt.Errorf("checking maintenance mode: %w", err))
	}
	if !inMaintenance {
		return o.abort(fmt.Errorf("host %s is not in maintenance mode; refusing to migrate", o.params.HostName))
	}
	o.advance(StatePreflightValidated)

	// Lockdown handling. A locked-down host refuses re-registration, so the
	// original mode is recorded and lockdown disabled for the duration.
	originalMode, err := o.lockdown.GetMode(ctx)
	if err != nil {
		return o.abort(fmt.Errorf("resolving lockdown mode: %w", err))
	}
	if originalMode != lockdown.ModeDisabled {
		o.log.Infof("host lockdown mode is %s, disabling for migration", originalMode)
		if _, err := o.lockdown.SetMode(ctx, lockdown.ModeDisabled); err != nil {
			return o.abort(fmt.Errorf("disabling lockdown mode: %w", err))
		}
	}
	o.advance(StateLockdownHandled)

	// Pre-migration backup: the rollback anchor. It must be on disk before
	// anything destructive happens.
	snap, err := o.mover.Capture(ctx, srcHost)
	if err != nil {
		return o.abort(fmt.Errorf("capturing pre-migration configuration: %w", err))
	}
	snapPath, err := o.store.Save(snap)
	if err != nil {
		return o.abort(fmt.Errorf("persisting pre-migration snapshot: %w", err))
	}
	o.log.Infof("pre-migration snapshot written to %s", snapPath)
	o.advance(StatePreMigrationBackedUp)

	pastPointOfNoReturn := false
	defer func() {
		if err == nil || !pastPointOfNoReturn {
			if err != nil {
				o.state = StateFailed
				finalState = StateFailed
			}
			return
		}
		o.log.Errorf("migration failed past the point of no return: %v", err)
		o.rollback(ctx, srcHost, snap)
		finalState = o.state
	}()

	// Disconnect from the source domain. From here on, every failure
	// triggers the rollback guard above.
	pastPointOfNoReturn = true
	if err = srcHost.Disconnect(ctx); err != nil {
		return o.state, fmt.Errorf("disconnecting host from %s: %w", o.source.Name(), err)
	}
	o.advance(StateDisconnectedFromSource)

	if o.params.PropagationWait > 0 {
		o.log.Infof("waiting %s for the disconnect to propagate", o.params.PropagationWait)
		select {
		case <-o.clk.After(o.params.PropagationWait):
		case <-ctx.Done():
			err = ctx.Err()
			return o.state, err
		}
	}

	staleUUIDs := make([]string, 0, len(snap.Network.DistributedSwitches))
	for _, dvs := range snap.Network.DistributedSwitches {
		staleUUIDs = append(staleUUIDs, dvs.UUID)
	}
	removed, cleanErr := o.cleaner.CleanOrphanProxySwitches(ctx, staleUUIDs)
	if cleanErr != nil {
		err = fmt.Errorf("cleaning orphaned proxy switches: %w", cleanErr)
		return o.state, err
	}
	if removed > 0 {
		o.log.Infof("removed %d orphaned proxy switch(es) directly on the host", removed)
	}
	o.advance(StateOrphansCleaned)

	// Connect to the target domain. A host already present there may be a
	// leftover of a retried run: reuse it only if it is genuinely owned by
	// the target (connected, or reconnectable).
	tgtHost, findErr := o.target.FindHost(ctx, o.params.HostName)
	switch {
	case findErr == nil:
		var connState ConnectionState
		connState, err = tgtHost.ConnectionState(ctx)
		if err != nil {
			err = fmt.Errorf("checking connection state in target domain: %w", err)
			return o.state, err
		}
		switch connState {
		case ConnectionStateConnected:
			o.log.Infof("host already connected in target domain %s, skipping registration", o.target.Name())
		case ConnectionStateDisconnected:
			o.log.Infof("host present but disconnected in target domain %s, reconnecting", o.target.Name())
			if err = tgtHost.Reconnect(ctx); err != nil {
				err = fmt.Errorf("reconnecting host in target domain: %w", err)
				return o.state, err
			}
		default:
			err = fmt.Errorf("host present in target domain but %s: stale inventory entry", connState)
			return o.state, err
		}
	case errors.Is(findErr, ErrHostNotFound):
		tgtHost, err = o.target.RegisterHost(ctx, RegisterSpec{
			HostName:   o.params.HostName,
			Username:   o.params.HostUsername,
			Password:   o.params.HostPassword,
			Datacenter: o.params.TargetDatacenter,
			Cluster:    o.params.TargetCluster,
		})
		if err != nil {
			err = fmt.Errorf("registering host in target domain %s: %w", o.target.Name(), err)
			return o.state, err
		}
	default:
		err = fmt.Errorf("looking up host in target domain: %w", findErr)
		return o.state, err
	}
	o.advance(StateConnectedToTarget)

	// Restore the captured configuration onto the new host object.
	report, restoreErr := o.mover.Restore(ctx, tgtHost, snap, restore.ScopeFull)
	if restoreErr != nil {
		err = fmt.Errorf("restoring configuration in target domain: %w", restoreErr)
		return o.state, err
	}
	o.log.Infof("configuration restored: %d changes, %d warnings", len(report.Changes), len(report.Warnings))
	o.advance(StateConfigRestored)

	if originalMode != lockdown.ModeDisabled {
		if _, err = o.lockdown.SetMode(ctx, originalMode); err != nil {
			err = fmt.Errorf("restoring lockdown mode %s: %w", originalMode, err)
			return o.state, err
		}
	}
	o.advance(StateLockdownRestored)

	pastPointOfNoReturn = false
	if delErr := o.store.Delete(snapPath); delErr != nil {
		o.log.Warnf("removing pre-migration snapshot %s: %v", snapPath, delErr)
	}
	o.advance(StateCompleted)
	o.log.Infof("host %s migrated to domain %s", o.params.HostName, o.target.Name())
	return StateCompleted, nil
}

// rollback best-effort restores the network facet of the pre-migration
// snapshot onto the original host object. Its own failures are logged and
// swallowed: the original migration error is what callers must see.
func (o *Orchestrator) rollback(ctx context.Context, srcHost Host, snap *snapshot.Snapshot) {
	o.log.Warnf("rolling back network configuration of %s from pre-migration snapshot", srcHost.Name())
	report, err := o.mover.Restore(ctx, srcHost, snap, restore.ScopeNetworkOnly)
	if err != nil {
		o.log.Errorf("rollback restore failed: %v", err)
	} else {
		o.log.Infof("rollback finished: %d changes, %d warnings", len(report.Changes), len(report.Warnings))
	}
	o.state = StateRolledBack
}

func (o *Orchestrator) abort(reason error) (State, error) {
	o.state = StateFailed
	return StateFailed, reason
}

func (o *Orchestrator) advance(next State) {
	if next <= o.state {
		o.log.DPanicf("illegal state transition %s -> %s", o.state, next)
		return
	}
	o.log.Infof("state: %s -> %s", o.state, next)
	o.state = next
}
