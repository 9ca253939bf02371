package migration_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/kubev2v/host-mover/internal/lockdown"
	"github.com/kubev2v/host-mover/internal/migration"
	"github.com/kubev2v/host-mover/internal/restore"
	"github.com/kubev2v/host-mover/internal/snapshot"
)

func TestMigration(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Migration Suite")
}

var _ = BeforeSuite(func() {
	zap.ReplaceGlobals(zap.NewNop())
})

type fakeHost struct {
	name          string
	connState     migration.ConnectionState
	connStateErr  error
	inMaintenance bool
	maintErr      error
	disconnectErr error
	reconnectErr  error

	disconnects int
	reconnects  int
}

func (h *fakeHost) Name() string { return h.name }

func (h *fakeHost) ConnectionState(ctx context.Context) (migration.ConnectionState, error) {
	return h.connState, h.connStateErr
}

func (h *fakeHost) InMaintenance(ctx context.Context) (bool, error) {
	return h.inMaintenance, h.maintErr
}

func (h *fakeHost) Disconnect(ctx context.Context) error {
	h.disconnects++
	return h.disconnectErr
}

func (h *fakeHost) Reconnect(ctx context.Context) error {
	h.reconnects++
	return h.reconnectErr
}

type fakeDomain struct {
	name        string
	host        *fakeHost
	findErr     error
	registerErr error

	registered *migration.RegisterSpec
}

func (d *fakeDomain) Name() string { return d.name }

func (d *fakeDomain) FindHost(ctx context.Context, name string) (migration.Host, error) {
	if d.findErr != nil {
		return nil, d.findErr
	}
	if d.host == nil {
		return nil, fmt.Errorf("host %s in domain %s: %w", name, d.name, migration.ErrHostNotFound)
	}
	return d.host, nil
}

func (d *fakeDomain) RegisterHost(ctx context.Context, spec migration.RegisterSpec) (migration.Host, error) {
	d.registered = &spec
	if d.registerErr != nil {
		return nil, d.registerErr
	}
	d.host = &fakeHost{name: spec.HostName, connState: migration.ConnectionStateConnected}
	return d.host, nil
}

type restoreCall struct {
	host  migration.Host
	scope restore.Scope
}

type fakeMover struct {
	snap       *snapshot.Snapshot
	captureErr error
	fullErr    error
	networkErr error

	restores []restoreCall
}

func (m *fakeMover) Capture(ctx context.Context, host migration.Host) (*snapshot.Snapshot, error) {
	return m.snap, m.captureErr
}

func (m *fakeMover) Restore(ctx context.Context, host migration.Host, snap *snapshot.Snapshot, scope restore.Scope) (*restore.Report, error) {
	m.restores = append(m.restores, restoreCall{host: host, scope: scope})
	if scope == restore.ScopeFull && m.fullErr != nil {
		return nil, m.fullErr
	}
	if scope == restore.ScopeNetworkOnly && m.networkErr != nil {
		return nil, m.networkErr
	}
	return &restore.Report{HostName: host.Name(), Scope: scope.String()}, nil
}

type fakeLockdown struct {
	mode   lockdown.Mode
	getErr error
	setErr error

	setCalls []lockdown.Mode
}

func (l *fakeLockdown) GetMode(ctx context.Context) (lockdown.Mode, error) {
	return l.mode, l.getErr
}

func (l *fakeLockdown) SetMode(ctx context.Context, mode lockdown.Mode) (bool, error) {
	l.setCalls = append(l.setCalls, mode)
	if l.setErr != nil {
		return false, l.setErr
	}
	changed := mode != l.mode
	l.mode = mode
	return changed, nil
}

type fakeCleaner struct {
	removed int
	err     error

	gotUUIDs []string
}

func (c *fakeCleaner) CleanOrphanProxySwitches(ctx context.Context, staleUUIDs []string) (int, error) {
	c.gotUUIDs = staleUUIDs
	return c.removed, c.err
}

type fakeStore struct {
	path      string
	saveErr   error
	deleteErr error

	saved   int
	deleted []string
}

func (s *fakeStore) Save(snap *snapshot.Snapshot) (string, error) {
	s.saved++
	return s.path, s.saveErr
}

func (s *fakeStore) Delete(path string) error {
	s.deleted = append(s.deleted, path)
	return s.deleteErr
}

var _ = Describe("host migration", func() {
	var (
		srcHost *fakeHost
		source  *fakeDomain
		target  *fakeDomain
		mover   *fakeMover
		ld      *fakeLockdown
		cleaner *fakeCleaner
		store   *fakeStore
		params  migration.Params
	)

	BeforeEach(func() {
		srcHost = &fakeHost{
			name:          "esx-01.lab.local",
			connState:     migration.ConnectionStateConnected,
			inMaintenance: true,
		}
		source = &fakeDomain{name: "source-vcenter", host: srcHost}
		target = &fakeDomain{name: "target-vcenter"}
		mover = &fakeMover{
			snap: &snapshot.Snapshot{
				Metadata: snapshot.Metadata{HostName: "esx-01.lab.local"},
				Network: snapshot.NetworkConfig{
					DistributedSwitches: []snapshot.DistributedSwitchConfig{
						{Name: "dvs-prod", UUID: "uuid-src"},
					},
				},
			},
		}
		ld = &fakeLockdown{mode: lockdown.ModeNormal}
		cleaner = &fakeCleaner{removed: 1}
		store = &fakeStore{path: "/var/backups/esx-01_20260826.json"}
		params = migration.Params{
			HostName:         "esx-01.lab.local",
			HostUsername:     "root",
			HostPassword:     "secret",
			TargetDatacenter: "dc-east",
			TargetCluster:    "compute-a",
		}
	})

	newOrchestrator := func(opts ...migration.Option) *migration.Orchestrator {
		return migration.New(source, target, mover, ld, cleaner, store, params, opts...)
	}

	Context("happy path", func() {
		It("migrates the host end to end", func() {
			state, err := newOrchestrator().Run(context.Background())
			Expect(err).To(BeNil())
			Expect(state).To(Equal(migration.StateCompleted))

			Expect(srcHost.disconnects).To(Equal(1))
			Expect(cleaner.gotUUIDs).To(Equal([]string{"uuid-src"}))

			Expect(target.registered).ToNot(BeNil())
			Expect(target.registered.HostName).To(Equal("esx-01.lab.local"))
			Expect(target.registered.Username).To(Equal("root"))
			Expect(target.registered.Datacenter).To(Equal("dc-east"))
			Expect(target.registered.Cluster).To(Equal("compute-a"))

			Expect(mover.restores).To(HaveLen(1))
			Expect(mover.restores[0].scope).To(Equal(restore.ScopeFull))
			Expect(mover.restores[0].host.Name()).To(Equal("esx-01.lab.local"))

			// Lockdown disabled for the move, then put back.
			Expect(ld.setCalls).To(Equal([]lockdown.Mode{lockdown.ModeDisabled, lockdown.ModeNormal}))

			Expect(store.saved).To(Equal(1))
			Expect(store.deleted).To(Equal([]string{store.path}))
		})

		It("leaves lockdown alone when already disabled", func() {
			ld.mode = lockdown.ModeDisabled

			state, err := newOrchestrator().Run(context.Background())
			Expect(err).To(BeNil())
			Expect(state).To(Equal(migration.StateCompleted))
			Expect(ld.setCalls).To(BeEmpty())
		})

		It("reuses a host already connected in the target domain", func() {
			target.host = &fakeHost{name: "esx-01.lab.local", connState: migration.ConnectionStateConnected}

			state, err := newOrchestrator().Run(context.Background())
			Expect(err).To(BeNil())
			Expect(state).To(Equal(migration.StateCompleted))
			Expect(target.registered).To(BeNil())
		})

		It("reconnects a host present but disconnected in the target domain", func() {
			tgtHost := &fakeHost{name: "esx-01.lab.local", connState: migration.ConnectionStateDisconnected}
			target.host = tgtHost

			state, err := newOrchestrator().Run(context.Background())
			Expect(err).To(BeNil())
			Expect(state).To(Equal(migration.StateCompleted))
			Expect(tgtHost.reconnects).To(Equal(1))
			Expect(target.registered).To(BeNil())
		})

		It("waits out the propagation delay before touching the host directly", func() {
			clk := testclock.NewClock(time.Now())
			params.PropagationWait = 30 * time.Second

			orch := newOrchestrator(migration.WithClock(clk))

			type result struct {
				state migration.State
				err   error
			}
			done := make(chan result, 1)
			go func() {
				state, err := orch.Run(context.Background())
				done <- result{state, err}
			}()

			Expect(clk.WaitAdvance(30*time.Second, time.Second, 1)).To(Succeed())

			var res result
			Eventually(done).Should(Receive(&res))
			Expect(res.err).To(BeNil())
			Expect(res.state).To(Equal(migration.StateCompleted))
		})
	})

	Context("preflight aborts", func() {
		It("refuses to migrate a host not in maintenance mode", func() {
			srcHost.inMaintenance = false

			state, err := newOrchestrator().Run(context.Background())
			Expect(err).To(MatchError(ContainSubstring("not in maintenance mode")))
			Expect(state).To(Equal(migration.StateFailed))

			Expect(srcHost.disconnects).To(BeZero())
			Expect(store.saved).To(BeZero())
			Expect(ld.setCalls).To(BeEmpty())
		})

		It("fails when the host is missing from the source domain", func() {
			source.host = nil

			state, err := newOrchestrator().Run(context.Background())
			Expect(err).To(MatchError(migration.ErrHostNotFound))
			Expect(state).To(Equal(migration.StateFailed))
		})

		It("fails when the snapshot cannot be persisted", func() {
			store.saveErr = errors.New("disk full")

			state, err := newOrchestrator().Run(context.Background())
			Expect(err).To(MatchError(ContainSubstring("disk full")))
			Expect(state).To(Equal(migration.StateFailed))
			Expect(srcHost.disconnects).To(BeZero())
		})
	})

	Context("failures past the point of no return", func() {
		It("rolls back when the restore in the target domain fails", func() {
			mover.fullErr = errors.New("platform rejected the spec")

			state, err := newOrchestrator().Run(context.Background())
			Expect(err).To(MatchError(ContainSubstring("restoring configuration in target domain")))
			Expect(err).To(MatchError(ContainSubstring("platform rejected the spec")))
			Expect(state).To(Equal(migration.StateRolledBack))

			// Rollback is a network-only restore against the original host.
			Expect(mover.restores).To(HaveLen(2))
			Expect(mover.restores[1].scope).To(Equal(restore.ScopeNetworkOnly))
			Expect(mover.restores[1].host).To(BeIdenticalTo(srcHost))

			// The rollback anchor stays on disk.
			Expect(store.deleted).To(BeEmpty())
		})

		It("rolls back when the host cannot disconnect cleanly", func() {
			srcHost.disconnectErr = errors.New("task timed out")

			state, err := newOrchestrator().Run(context.Background())
			Expect(err).To(MatchError(ContainSubstring("task timed out")))
			Expect(state).To(Equal(migration.StateRolledBack))
		})

		It("rolls back when orphaned proxy switches cannot be removed", func() {
			cleaner.err = errors.New("host unreachable")

			state, err := newOrchestrator().Run(context.Background())
			Expect(err).To(MatchError(ContainSubstring("cleaning orphaned proxy switches")))
			Expect(state).To(Equal(migration.StateRolledBack))
		})

		It("rolls back when the target inventory entry is stale", func() {
			target.host = &fakeHost{name: "esx-01.lab.local", connState: migration.ConnectionStateNotResponding}

			state, err := newOrchestrator().Run(context.Background())
			Expect(err).To(MatchError(ContainSubstring("stale inventory entry")))
			Expect(state).To(Equal(migration.StateRolledBack))
		})

		It("surfaces the original error even when the rollback itself fails", func() {
			mover.fullErr = errors.New("platform rejected the spec")
			mover.networkErr = errors.New("rollback also broke")

			state, err := newOrchestrator().Run(context.Background())
			Expect(err).To(MatchError(ContainSubstring("platform rejected the spec")))
			Expect(err).ToNot(MatchError(ContainSubstring("rollback also broke")))
			Expect(state).To(Equal(migration.StateRolledBack))
		})
	})
})
