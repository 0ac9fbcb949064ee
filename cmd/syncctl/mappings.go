package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/faciam-dev/cssync/internal/registry"
	"github.com/faciam-dev/cssync/internal/registry/codec"
)

func newMappingsCmd(gf *globalFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "mappings", Short: "Import and export field mappings"}
	cmd.AddCommand(newMappingsApplyCmd(gf))
	cmd.AddCommand(newMappingsExportCmd(gf))
	return cmd
}

func newMappingsApplyCmd(gf *globalFlags) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "apply <file>",
		Short: "Replace the mappings of a source with a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			kind, ms, err := codec.DecodeYAML(b)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			if dryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d mappings over %d tables (dry run)\n", kind, len(ms), len(registry.Tables(ms)))
				return nil
			}
			a, _, err := gf.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.Repo.ReplaceMappings(cmd.Context(), kind, ms); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: applied %d mappings\n", kind, len(ms))
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate only")
	return cmd
}

func newMappingsExportCmd(gf *globalFlags) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <source>",
		Short: "Write the mappings of a source as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := registry.ParseKind(args[0])
			if err != nil {
				return err
			}
			a, _, err := gf.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			ms, err := a.Repo.ListMappings(cmd.Context(), kind)
			if err != nil {
				return err
			}
			b, err := codec.EncodeYAML(kind, ms)
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(b)
				return err
			}
			return os.WriteFile(out, b, 0o644) //nolint:gosec // mapping files are not secret
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}
