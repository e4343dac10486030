package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"taskingbot-bridge/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Create a .taskingbot workspace with a template config",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := "."
		if len(args) == 1 {
			root = args[0]
		} else if wd, err := os.Getwd(); err == nil {
			root = wd
		}
		if err := config.InitWorkspace(root); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "initialized workspace in %s/%s\n", root, config.WorkspaceDirName)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
