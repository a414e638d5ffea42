package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AlxHnr/nano-backup-go/pkg/backup"
	"github.com/AlxHnr/nano-backup-go/pkg/logging"
)

func backupMain(command *cobra.Command, arguments []string) error {
	if len(arguments) != 1 {
		return errors.New("expected exactly one argument: the directory to back up")
	}
	sourcePath := arguments[0]

	logger := logging.RootLogger.Sublogger("backup")

	repo, root, m, err := openRepositoryAndConfig(backupConfiguration.repository, backupConfiguration.config, logger)
	if err != nil {
		return err
	}
	defer repo.Close()

	if err := backup.Initiate(m, root, sourcePath, logger); err != nil {
		return fmt.Errorf("unable to scan %s: %w", sourcePath, err)
	}

	if err := backup.Finish(m, repo, sourcePath, logger); err != nil {
		return fmt.Errorf("unable to finish backup: %w", err)
	}

	fmt.Printf("Backup completed: %d tracked paths\n", m.TotalPathCount)
	return nil
}

var backupCommand = &cobra.Command{
	Use:          "backup <path>",
	Short:        "Run a backup of the given directory",
	Args:         cobra.ExactArgs(1),
	RunE:         backupMain,
	SilenceUsage: true,
}

var backupConfiguration struct {
	help       bool
	repository string
	config     string
}

func init() {
	flags := backupCommand.Flags()
	flags.SortFlags = false
	flags.BoolVarP(&backupConfiguration.help, "help", "h", false, "Show help information")
	flags.StringVarP(&backupConfiguration.repository, "repository", "r", "", "Path to the backup repository (required)")
	flags.StringVarP(&backupConfiguration.config, "config", "c", "", "Path to the search tree config file (required)")
	backupCommand.MarkFlagRequired("repository")
	backupCommand.MarkFlagRequired("config")
}
