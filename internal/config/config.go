// Package config provides configuration loading from environment variables.
package config

import (
	"os"
	"time"
)

// EngineConfig holds configuration for the batch-job engine.
type EngineConfig struct {
	JobFileDir        string // Base directory for staged job files
	JobFileDirMkdtemp bool   // Allocate a fresh subdirectory per run
	JobFileDirCleanup bool   // Delete the staging directory on teardown
	Threads           int    // Default worker pool size for batch operations
	MetricsPort       string
	Scheduler         string // "docker" or "shell"
	PollInterval      time.Duration

	// Per-operation chunk sizes. 0 disables chunking for that operation.
	ChunkSizeSubmit  int
	ChunkSizeCancel  int
	ChunkSizeCleanup int
	ChunkSizeQuery   int
}

// LoadEngineConfig loads engine configuration from environment variables.
func LoadEngineConfig() *EngineConfig {
	return &EngineConfig{
		JobFileDir:        GetEnv("JOB_FILE_DIR", os.TempDir()),
		JobFileDirMkdtemp: GetBoolEnv("JOB_FILE_DIR_MKDTEMP", true),
		JobFileDirCleanup: GetBoolEnv("JOB_FILE_DIR_CLEANUP", false),
		Threads:           GetIntEnv("THREADS", 4),
		MetricsPort:       GetEnv("METRICS_PORT", "9090"),
		Scheduler:         GetEnv("SCHEDULER", "docker"),
		PollInterval:      GetDurationEnv("POLL_INTERVAL", 5*time.Second),
		ChunkSizeSubmit:   GetIntEnv("CHUNK_SIZE_SUBMIT", 0),
		ChunkSizeCancel:   GetIntEnv("CHUNK_SIZE_CANCEL", 0),
		ChunkSizeCleanup:  GetIntEnv("CHUNK_SIZE_CLEANUP", 0),
		ChunkSizeQuery:    GetIntEnv("CHUNK_SIZE_QUERY", 0),
	}
}
