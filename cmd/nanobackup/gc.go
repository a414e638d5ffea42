package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/AlxHnr/nano-backup-go/pkg/gc"
	"github.com/AlxHnr/nano-backup-go/pkg/logging"
	"github.com/AlxHnr/nano-backup-go/pkg/metadata"
	"github.com/AlxHnr/nano-backup-go/pkg/repository"
)

func gcMain(command *cobra.Command, arguments []string) error {
	logger := logging.RootLogger.Sublogger("gc")

	repo, err := repository.Open(gcConfiguration.repository, logger)
	if err != nil {
		return fmt.Errorf("unable to open repository: %w", err)
	}
	defer repo.Close()

	m, err := metadata.Load(repo)
	if err != nil {
		return fmt.Errorf("unable to load repository metadata: %w", err)
	}

	report, err := gc.Run(repo, m, logger)
	if err != nil {
		return fmt.Errorf("unable to collect garbage: %w", err)
	}

	fmt.Printf("Deleted %d files, reclaiming %s\n", report.DeletedCount, humanize.Bytes(report.DeletedBytes))
	return nil
}

var gcCommand = &cobra.Command{
	Use:          "gc",
	Short:        "Delete repository content no longer referenced by any backup",
	Args:         cobra.NoArgs,
	RunE:         gcMain,
	SilenceUsage: true,
}

var gcConfiguration struct {
	help       bool
	repository string
}

func init() {
	flags := gcCommand.Flags()
	flags.SortFlags = false
	flags.BoolVarP(&gcConfiguration.help, "help", "h", false, "Show help information")
	flags.StringVarP(&gcConfiguration.repository, "repository", "r", "", "Path to the backup repository (required)")
	gcCommand.MarkFlagRequired("repository")
}
