package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kubev2v/host-mover/internal/snapshot"
	"github.com/kubev2v/host-mover/internal/vsphere"
)

type BackupOptions struct {
	GlobalOptions
	Source EndpointOptions

	HostName string
	Output   string
}

func DefaultBackupOptions() *BackupOptions {
	return &BackupOptions{
		GlobalOptions: DefaultGlobalOptions(),
		Source:        EndpointOptions{prefix: "source"},
	}
}

func NewCmdBackup() *cobra.Command {
	o := DefaultBackupOptions()
	cmd := &cobra.Command{
		Use:   "backup --host NAME",
		Short: "Capture a host's configuration into a snapshot file.",
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

func (o *BackupOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)
	o.Source.Bind(fs)

	fs.StringVar(&o.HostName, "host", o.HostName, "Name of the host to capture.")
	fs.StringVarP(&o.Output, "output", "o", o.Output, "Output format. One of: (json, yaml).")
}

func (o *BackupOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	if err := o.Source.Validate(); err != nil {
		return err
	}
	if o.HostName == "" {
		return fmt.Errorf("missing required flag: --host")
	}
	return validateOutputFormat(o.Output)
}

func (o *BackupOptions) Run(ctx context.Context, args []string) error {
	message, err := o.run(ctx)
	return finish(o.Output, message, err)
}

func (o *BackupOptions) run(ctx context.Context) (string, error) {
	cfg := o.Config()
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout.Std())
	defer cancel()

	conn, err := o.Source.Connect(ctx, cfg)
	if err != nil {
		return "", err
	}
	defer conn.Close(ctx)

	domain := vsphere.NewDomain(conn, vsphere.NewRetryer(cfg.Retry))
	host, err := domain.FindHost(ctx, o.HostName)
	if err != nil {
		return "", err
	}

	snap, err := vsphere.NewMover().Capture(ctx, host)
	if err != nil {
		return "", fmt.Errorf("capturing configuration of %s: %w", o.HostName, err)
	}

	path, err := snapshot.NewStore(cfg.BackupDir).Save(snap)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("snapshot %s of %s written to %s", snap.Metadata.ID, snap.Metadata.HostName, path), nil
}
