package vsphere

import (
	"context"

	"github.com/pkg/errors"

	"github.com/kubev2v/host-mover/internal/migration"
	"github.com/kubev2v/host-mover/internal/restore"
	"github.com/kubev2v/host-mover/internal/snapshot"
)

// Mover adapts the capture and restore engines to the orchestrator's host
// abstraction. It only works on hosts produced by this package.
type Mover struct{}

func NewMover() *Mover {
	return &Mover{}
}

func (m *Mover) Capture(ctx context.Context, host migration.Host) (*snapshot.Snapshot, error) {
	handle, err := asHandle(host)
	if err != nil {
		return nil, err
	}
	return snapshot.Capture(ctx, handle)
}

func (m *Mover) Restore(ctx context.Context, host migration.Host, snap *snapshot.Snapshot, scope restore.Scope) (*restore.Report, error) {
	handle, err := asHandle(host)
	if err != nil {
		return nil, err
	}
	return restore.NewEngine().Restore(ctx, handle, snap, scope)
}

func asHandle(host migration.Host) (*HostHandle, error) {
	handle, ok := host.(*HostHandle)
	if !ok {
		return nil, errors.Errorf("unsupported host implementation %T", host)
	}
	return handle, nil
}
