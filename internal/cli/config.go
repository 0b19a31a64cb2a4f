package cli

import (
	"io"

	"github.com/spf13/cobra"
)

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long: `Print the configuration with defaults filled in and the --db override
applied.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig(cmd)
			if err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Emit(cfg, func(w io.Writer) error {
				out, err := cfg.YAML()
				if err != nil {
					return err
				}
				_, err = w.Write(out)
				return err
			})
		},
	})
	return cmd
}
