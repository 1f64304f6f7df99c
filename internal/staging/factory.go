package staging

import (
	"fmt"

	"fileflow/internal/config"
)

// DefaultMaxSize is the default staging limit.
const DefaultMaxSize int64 = config.DefaultMaxUpload

// NewStagingAreaFromConfig creates a staging Area based on the config type.
func NewStagingAreaFromConfig(cfg config.StagingConfig) (*Area, error) {
	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	switch cfg.Type {
	case "memory", "":
		return NewMemoryStagingArea(maxSize), nil
	case "filesystem":
		if cfg.StagingDir == "" {
			return nil, fmt.Errorf("filesystem staging area requires staging_dir to be set")
		}
		return NewFileSystemStagingArea(cfg.StagingDir, maxSize)
	default:
		return nil, fmt.Errorf("unknown staging area type: %s", cfg.Type)
	}
}
