package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kubev2v/host-mover/internal/lockdown"
	"github.com/kubev2v/host-mover/internal/migration"
	"github.com/kubev2v/host-mover/internal/snapshot"
	"github.com/kubev2v/host-mover/internal/vsphere"
)

type MigrateOptions struct {
	GlobalOptions
	Source EndpointOptions
	Target EndpointOptions

	HostName     string
	HostUsername string
	HostPassword string

	Datacenter      string
	Cluster         string
	UplinkPortGroup string
	PropagationWait time.Duration
	Output          string
}

func DefaultMigrateOptions() *MigrateOptions {
	return &MigrateOptions{
		GlobalOptions:   DefaultGlobalOptions(),
		Source:          EndpointOptions{prefix: "source"},
		Target:          EndpointOptions{prefix: "target"},
		HostUsername:    "root",
		PropagationWait: 30 * time.Second,
	}
}

func NewCmdMigrate() *cobra.Command {
	o := DefaultMigrateOptions()
	cmd := &cobra.Command{
		Use:   "migrate --host NAME",
		Short: "Move a host from the source management domain to the target one, configuration included.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return finish(o.Output, "", err)
			}
			if err := o.Validate(args); err != nil {
				return finish(o.Output, "", err)
			}
			return o.Run(cmd.Context(), args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}

func (o *MigrateOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)
	o.Source.Bind(fs)
	o.Target.Bind(fs)

	fs.StringVar(&o.HostName, "host", o.HostName, "Name of the host to migrate.")
	fs.StringVar(&o.HostUsername, "host-username", o.HostUsername, "Username for the host's own management endpoint.")
	fs.StringVar(&o.HostPassword, "host-password", o.HostPassword, "Password for the host's own management endpoint.")
	fs.StringVar(&o.Datacenter, "datacenter", o.Datacenter, "Target datacenter to register the host in.")
	fs.StringVar(&o.Cluster, "cluster", o.Cluster, "Target cluster to register the host in.")
	fs.StringVar(&o.UplinkPortGroup, "uplink-portgroup", o.UplinkPortGroup, "Port group for uplink ports when joining target distributed switches. Defaults to each switch's own uplink port group.")
	fs.DurationVar(&o.PropagationWait, "propagation-wait", o.PropagationWait, "How long to wait after the source disconnect before touching the host directly.")
	fs.StringVarP(&o.Output, "output", "o", o.Output, "Output format. One of: (json, yaml).")
}

func (o *MigrateOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	if err := o.Source.Validate(); err != nil {
		return err
	}
	if err := o.Target.Validate(); err != nil {
		return err
	}

	var missing []string
	for flag, value := range map[string]string{
		"host":          o.HostName,
		"host-password": o.HostPassword,
		"datacenter":    o.Datacenter,
		"cluster":       o.Cluster,
	} {
		if value == "" {
			missing = append(missing, flag)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required flag(s): %v", missing)
	}
	return validateOutputFormat(o.Output)
}

func (o *MigrateOptions) Run(ctx context.Context, args []string) error {
	message, err := o.run(ctx)
	return finish(o.Output, message, err)
}

func (o *MigrateOptions) run(ctx context.Context) (string, error) {
	cfg := o.Config()
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout.Std())
	defer cancel()

	retryer := vsphere.NewRetryer(cfg.Retry)

	srcConn, err := o.Source.Connect(ctx, cfg)
	if err != nil {
		return "", err
	}
	defer srcConn.Close(ctx)

	tgtConn, err := o.Target.Connect(ctx, cfg)
	if err != nil {
		return "", err
	}
	defer tgtConn.Close(ctx)

	source := vsphere.NewDomain(srcConn, retryer)
	var targetOpts []vsphere.DomainOption
	if o.UplinkPortGroup != "" {
		targetOpts = append(targetOpts, vsphere.WithUplinkPortGroup(o.UplinkPortGroup))
	}
	target := vsphere.NewDomain(tgtConn, retryer, targetOpts...)

	direct := vsphere.NewDirectHost(vsphere.HostIdentity{
		Hostname: o.HostName,
		Username: o.HostUsername,
		Password: o.HostPassword,
		Insecure: cfg.Insecure,
	}, retryer)

	orchestrator := migration.New(
		source,
		target,
		vsphere.NewMover(),
		lockdown.NewController(direct),
		direct,
		snapshot.NewStore(cfg.BackupDir),
		migration.Params{
			HostName:         o.HostName,
			HostUsername:     o.HostUsername,
			HostPassword:     o.HostPassword,
			TargetDatacenter: o.Datacenter,
			TargetCluster:    o.Cluster,
			PropagationWait:  o.PropagationWait,
		},
	)

	state, err := orchestrator.Run(ctx)
	if err != nil {
		return "", fmt.Errorf("migration ended in state %s: %w", state, err)
	}
	return fmt.Sprintf("host %s migrated to %s: %s", o.HostName, o.Target.URL, state), nil
}
