package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AlxHnr/nano-backup-go/internal/buildinfo"
)

func legalMain(command *cobra.Command, arguments []string) error {
	fmt.Println(buildinfo.LegalNotice)
	return nil
}

var legalCommand = &cobra.Command{
	Use:          "legal",
	Short:        "Show legal information",
	Args:         cobra.NoArgs,
	RunE:         legalMain,
	SilenceUsage: true,
}

var legalConfiguration struct {
	help bool
}

func init() {
	flags := legalCommand.Flags()
	flags.SortFlags = false
	flags.BoolVarP(&legalConfiguration.help, "help", "h", false, "Show help information")
}
