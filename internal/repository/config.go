// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

// RepositoryConfig holds configuration for Store operations. All fields
// have sensible defaults, so this configuration is optional.
type RepositoryConfig struct {
	// CommitInterval is how many events the Store batches into one SQLite
	// transaction before committing and opening the next one.
	// Default: 100
	CommitInterval int

	// VacuumOnFinish runs VACUUM and PRAGMA optimize once the final
	// transaction of an ingest run commits.
	// Default: true
	VacuumOnFinish bool
}

// DefaultConfig returns the default repository configuration.
func DefaultConfig() *RepositoryConfig {
	return &RepositoryConfig{
		CommitInterval: 100,
		VacuumOnFinish: true,
	}
}

// repoConfig is the package-level configuration instance.
// It is initialized with defaults and can be overridden via SetConfig.
var repoConfig *RepositoryConfig = DefaultConfig()

// SetConfig sets the repository configuration.
// This must be called before any repository initialization (Connect, Open, etc.).
// If not called, default values from DefaultConfig() are used.
func SetConfig(cfg *RepositoryConfig) {
	if cfg != nil {
		repoConfig = cfg
	}
}

// GetConfig returns the current repository configuration.
func GetConfig() *RepositoryConfig {
	return repoConfig
}
