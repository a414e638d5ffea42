package main

import (
	"github.com/spf13/cobra"

	"github.com/AlxHnr/nano-backup-go/internal/fatal"
)

func rootMain(command *cobra.Command, arguments []string) {
	command.Help()
}

var rootCommand = &cobra.Command{
	Use:   "nanobackup",
	Short: "nanobackup is a crash-safe incremental filesystem backup engine.",
	Run:   rootMain,
}

var rootConfiguration struct {
	help bool
}

func init() {
	flags := rootCommand.Flags()
	flags.SortFlags = false
	flags.BoolVarP(&rootConfiguration.help, "help", "h", false, "Show help information")

	cobra.EnableCommandSorting = false
	cobra.MousetrapHelpText = ""

	rootCommand.AddCommand(
		backupCommand,
		restoreCommand,
		gcCommand,
		versionCommand,
		legalCommand,
	)
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		fatal.Die(err)
	}
}
