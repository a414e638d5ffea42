package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AlxHnr/nano-backup-go/pkg/logging"
	"github.com/AlxHnr/nano-backup-go/pkg/metadata"
	"github.com/AlxHnr/nano-backup-go/pkg/repository"
	"github.com/AlxHnr/nano-backup-go/pkg/restore"
)

func restoreMain(command *cobra.Command, arguments []string) error {
	if len(arguments) != 1 {
		return errors.New("expected exactly one argument: the restore destination directory")
	}
	destination := arguments[0]

	logger := logging.RootLogger.Sublogger("restore")

	repo, err := repository.Open(restoreConfiguration.repository, logger)
	if err != nil {
		return fmt.Errorf("unable to open repository: %w", err)
	}
	defer repo.Close()

	m, err := metadata.Load(repo)
	if err != nil {
		return fmt.Errorf("unable to load repository metadata: %w", err)
	}

	backupID := restoreConfiguration.backupID
	if restoreConfiguration.backupID < 0 && m.CurrentBackup.CompletionTime != 0 {
		// Load returns the last completed run as the current backup.
		backupID = int(m.CurrentBackup.ID)
	} else if restoreConfiguration.backupID < 0 {
		if len(m.BackupHistory) == 0 {
			return errors.New("repository has no completed backups")
		}
		backupID = int(m.BackupHistory[len(m.BackupHistory)-1].ID)
	}

	if err := restore.Tree(m, repo, uint64(backupID), restoreConfiguration.subtree, destination, logger); err != nil {
		return fmt.Errorf("unable to restore: %w", err)
	}

	fmt.Printf("Restored backup %d to %s\n", backupID, destination)
	return nil
}

var restoreCommand = &cobra.Command{
	Use:          "restore <destination>",
	Short:        "Restore a backup to the given directory",
	Args:         cobra.ExactArgs(1),
	RunE:         restoreMain,
	SilenceUsage: true,
}

var restoreConfiguration struct {
	help       bool
	repository string
	backupID   int
	subtree    string
}

func init() {
	flags := restoreCommand.Flags()
	flags.SortFlags = false
	flags.BoolVarP(&restoreConfiguration.help, "help", "h", false, "Show help information")
	flags.StringVarP(&restoreConfiguration.repository, "repository", "r", "", "Path to the backup repository (required)")
	flags.IntVar(&restoreConfiguration.backupID, "backup", -1, "Backup id to restore (defaults to the most recent)")
	flags.StringVar(&restoreConfiguration.subtree, "path", "", "Root-relative subtree to restore (defaults to the entire backup)")
	restoreCommand.MarkFlagRequired("repository")
}
