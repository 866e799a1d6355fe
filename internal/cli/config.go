package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jvs-project/hookctl/pkg/config"
	"github.com/jvs-project/hookctl/pkg/errclass"
)

func newConfigCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config <command>",
		Short: "Manage hookctl configuration",
		Long: `Manage hookctl configuration stored in hookctl.yaml at the project root.

Available commands:
  show  - Show the effective configuration
  init  - Write a hookctl.yaml with the defaults`,
		DisableFlagsInUseLine: true,
	}
	cmd.AddCommand(newConfigShowCmd(g), newConfigInitCmd())
	return cmd
}

func newConfigShowCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("cannot get current directory: %w", err)
			}
			cfg, err := config.Load(cwd, g.configPath)
			if err != nil {
				return err
			}
			if g.json {
				return outputJSON(cmd.OutOrStdout(), cfg)
			}

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# project root: %s\n%s", cfg.Root, data)
			return nil
		},
	}
}

func newConfigInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a hookctl.yaml with the defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("cannot get current directory: %w", err)
			}
			path := filepath.Join(cwd, config.FileName)
			if _, err := os.Stat(path); err == nil && !force {
				return errclass.ErrConfig.WithMessagef("%s already exists (use --force to overwrite)", path)
			}

			cfg := config.Default()
			cfg.Root = cwd
			if err := config.Save(cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
