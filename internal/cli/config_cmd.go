package cli

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"turboreg/pkg/config"
)

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a configuration file with default values",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := root.configPath
			if len(args) > 0 {
				path = args[0]
			}
			if fileExists(path) && !force {
				cmd.Printf("%s already exists, use --force to overwrite\n", path)
				return nil
			}
			if err := config.CreateDefaultConfigFile(path); err != nil {
				return err
			}
			cmd.Printf("Default configuration written to %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := yaml.Marshal(root.cfg)
			if err != nil {
				return err
			}
			cmd.Printf("# %s\n%s", root.configPath, data)
			return nil
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}
