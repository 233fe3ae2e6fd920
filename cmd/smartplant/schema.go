package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/EnricoMattana/IoT-SmartPlant/internal/schema"
)

func newSchemaCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect entity schemas",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check [dir]",
		Short: "Parse the built-in schemas and every descriptor in dir",
		Long: "Parse the built-in schemas and every *.yaml descriptor in dir.\n" +
			"Without an argument the configured schemas.dir is checked.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) == 1 {
				dir = args[0]
			} else {
				cfg, err := load()
				if err != nil {
					return fmt.Errorf("loading config: %w", err)
				}
				dir = cfg.Schemas.Dir
			}

			reg, err := loadSchemas(dir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, name := range reg.Types() {
				d, _ := reg.Get(name) //nolint:errcheck // name comes from Types
				fmt.Fprintf(out, "%-8s profile=%d data=%d mandatory=%s\n",
					name, len(d.Profile), len(d.Data), strings.Join(d.Mandatory[schema.SectionProfile], ","))
			}
			return nil
		},
	})
	return cmd
}

// loadSchemas builds the registry used by the backend: built-in
// descriptors, overridden by any found in dir.
func loadSchemas(dir string) (*schema.Registry, error) {
	reg, err := schema.NewDefaultRegistry()
	if err != nil {
		return nil, fmt.Errorf("loading built-in schemas: %w", err)
	}
	if dir == "" {
		return reg, nil
	}
	if _, err := reg.LoadDir(dir); err != nil {
		return nil, fmt.Errorf("loading schemas from %s: %w", dir, err)
	}
	return reg, nil
}
