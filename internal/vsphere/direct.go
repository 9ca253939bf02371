package vsphere

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/vim25/methods"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/types"
	"go.uber.org/zap"

	"github.com/kubev2v/host-mover/internal/lockdown"
)

// HostIdentity is the host's own management endpoint and credentials, used
// for operations that must work while the host belongs to no domain.
type HostIdentity struct {
	Hostname string
	Username string
	Password string
	Insecure bool
}

// DirectHost dials the host directly. Every operation opens a fresh session
// and closes it before returning, because lockdown changes and domain moves
// invalidate sessions midway.
type DirectHost struct {
	identity HostIdentity
	retry    *Retryer
	log      *zap.SugaredLogger
}

func NewDirectHost(identity HostIdentity, retryer *Retryer) *DirectHost {
	return &DirectHost{
		identity: identity,
		retry:    retryer,
		log:      zap.S().Named("direct").With("host", identity.Hostname),
	}
}

func (d *DirectHost) dial(ctx context.Context) (*Connection, *object.HostSystem, error) {
	conn, err := Connect(ctx, ConnectParams{
		Name:     d.identity.Hostname,
		URL:      d.identity.Hostname,
		Username: d.identity.Username,
		Password: d.identity.Password,
		Insecure: d.identity.Insecure,
	})
	if err != nil {
		return nil, nil, errors.Wrapf(err, "dialing host %s directly", d.identity.Hostname)
	}

	// A direct endpoint exposes exactly one host system.
	host, err := conn.finder.DefaultHostSystem(ctx)
	if err != nil {
		conn.Close(ctx)
		return nil, nil, errors.Wrapf(err, "resolving host system on %s", d.identity.Hostname)
	}
	return conn, host, nil
}

func (d *DirectHost) DialDirect(ctx context.Context) (lockdown.HostAccess, error) {
	conn, host, err := d.dial(ctx)
	if err != nil {
		return nil, err
	}
	return &directAccess{conn: conn, host: host, retry: d.retry}, nil
}

// CleanOrphanProxySwitches removes proxy-switch entries left behind by a
// source domain the host no longer belongs to. Only entries whose switch UUID
// is in staleUUIDs are touched; anything else on the host is someone else's.
func (d *DirectHost) CleanOrphanProxySwitches(ctx context.Context, staleUUIDs []string) (int, error) {
	conn, host, err := d.dial(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close(ctx)

	var hostMo mo.HostSystem
	err = host.Properties(ctx, host.Reference(), []string{"config.network.proxySwitch"}, &hostMo)
	if err != nil {
		return 0, errors.Wrap(err, "reading proxy switches")
	}
	if hostMo.Config == nil || hostMo.Config.Network == nil {
		return 0, nil
	}

	stale := make(map[string]bool, len(staleUUIDs))
	for _, id := range staleUUIDs {
		stale[id] = true
	}

	var removals []types.HostProxySwitchConfig
	for _, proxy := range hostMo.Config.Network.ProxySwitch {
		if !stale[proxy.DvsUuid] {
			continue
		}
		d.log.Infof("removing orphaned proxy switch %s (%s)", proxy.DvsName, proxy.DvsUuid)
		removals = append(removals, types.HostProxySwitchConfig{
			ChangeOperation: string(types.HostConfigChangeOperationRemove),
			Uuid:            proxy.DvsUuid,
		})
	}
	if len(removals) == 0 {
		return 0, nil
	}

	ns, err := host.ConfigManager().NetworkSystem(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "resolving network system")
	}
	cfg := types.HostNetworkConfig{ProxySwitch: removals}
	err = d.retry.Call(ctx, "remove orphaned proxy switches", func() error {
		_, err := ns.UpdateNetworkConfig(ctx, cfg, string(types.HostConfigChangeModeModify))
		return err
	})
	if err != nil {
		return 0, err
	}
	return len(removals), nil
}

type directAccess struct {
	conn  *Connection
	host  *object.HostSystem
	retry *Retryer
}

func (a *directAccess) LockdownMode(ctx context.Context) (lockdown.Mode, error) {
	var host mo.HostSystem
	err := a.host.Properties(ctx, a.host.Reference(), []string{"config.lockdownMode"}, &host)
	if err != nil {
		return "", errors.Wrap(err, "reading lockdown mode")
	}
	if host.Config == nil {
		// Versions predating lockdown report no mode at all.
		return lockdown.ModeDisabled, nil
	}
	return modeFromVim(host.Config.LockdownMode)
}

func (a *directAccess) SetLockdownMode(ctx context.Context, mode lockdown.Mode) error {
	var host mo.HostSystem
	err := a.host.Properties(ctx, a.host.Reference(), []string{"configManager.hostAccessManager"}, &host)
	if err != nil {
		return errors.Wrap(err, "resolving host access manager")
	}
	am := host.ConfigManager.HostAccessManager
	if am == nil {
		return errors.New("host exposes no access manager")
	}
	return a.retry.Call(ctx, fmt.Sprintf("set lockdown mode %s", mode), func() error {
		_, err := methods.ChangeLockdownMode(ctx, a.conn.client.Client, &types.ChangeLockdownMode{
			This: *am,
			Mode: vimMode(mode),
		})
		return err
	})
}

func (a *directAccess) Close(ctx context.Context) error {
	return a.conn.client.Logout(ctx)
}

func modeFromVim(mode types.HostLockdownMode) (lockdown.Mode, error) {
	switch mode {
	case types.HostLockdownModeLockdownDisabled, "":
		return lockdown.ModeDisabled, nil
	case types.HostLockdownModeLockdownNormal:
		return lockdown.ModeNormal, nil
	case types.HostLockdownModeLockdownStrict:
		return lockdown.ModeStrict, nil
	}
	return "", errors.Errorf("unknown lockdown mode %q", mode)
}

func vimMode(mode lockdown.Mode) types.HostLockdownMode {
	switch mode {
	case lockdown.ModeNormal:
		return types.HostLockdownModeLockdownNormal
	case lockdown.ModeStrict:
		return types.HostLockdownModeLockdownStrict
	}
	return types.HostLockdownModeLockdownDisabled
}
