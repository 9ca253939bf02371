package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kubev2v/host-mover/pkg/version"
)

type VersionOptions struct {
	Output string
}

func DefaultVersionOptions() *VersionOptions {
	return &VersionOptions{
		Output: "",
	}
}

func NewCmdVersion() *cobra.Command {
	o := DefaultVersionOptions()
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print host-mover version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutputFormat(o.Output); err != nil {
				return err
			}
			return o.Run(cmd.Context(), args)
		},
	}
	cmd.Flags().StringVarP(&o.Output, "output", "o", o.Output, "Output format. One of: (json, yaml).")
	return cmd
}

func (o *VersionOptions) Run(ctx context.Context, args []string) error {
	versionInfo := version.Get()
	return printAs(versionInfo, o.Output, func() {
		fmt.Printf("host-mover Version: %s\n", versionInfo.String())
	})
}
