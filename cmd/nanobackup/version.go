package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AlxHnr/nano-backup-go/internal/buildinfo"
)

func versionMain(command *cobra.Command, arguments []string) error {
	fmt.Println(buildinfo.Version)
	return nil
}

var versionCommand = &cobra.Command{
	Use:          "version",
	Short:        "Show version information",
	Args:         cobra.NoArgs,
	RunE:         versionMain,
	SilenceUsage: true,
}

var versionConfiguration struct {
	help bool
}

func init() {
	flags := versionCommand.Flags()
	flags.SortFlags = false
	flags.BoolVarP(&versionConfiguration.help, "help", "h", false, "Show help information")
}
