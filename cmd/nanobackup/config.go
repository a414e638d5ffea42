package main

import (
	"fmt"
	"os"

	"github.com/AlxHnr/nano-backup-go/pkg/logging"
	"github.com/AlxHnr/nano-backup-go/pkg/metadata"
	"github.com/AlxHnr/nano-backup-go/pkg/policy"
	"github.com/AlxHnr/nano-backup-go/pkg/repository"
)

// openRepositoryAndConfig opens the repository at repoPath (creating it if
// necessary, per spec §4.1) and parses the search tree config at
// configPath, loading any prior Metadata found in the repository.
func openRepositoryAndConfig(repoPath, configPath string, logger *logging.Logger) (*repository.Repository, *policy.SearchNode, *metadata.Metadata, error) {
	repo, err := repository.Open(repoPath, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("unable to open repository: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		repo.Close()
		return nil, nil, nil, fmt.Errorf("unable to read config file: %w", err)
	}
	root, err := policy.ParseConfig(data)
	if err != nil {
		repo.Close()
		return nil, nil, nil, fmt.Errorf("unable to parse config file: %w", err)
	}

	m, err := metadata.Load(repo)
	if err != nil {
		repo.Close()
		return nil, nil, nil, fmt.Errorf("unable to load repository metadata: %w", err)
	}

	return repo, root, m, nil
}
