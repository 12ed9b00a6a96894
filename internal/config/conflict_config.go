package config

import "time"

// ConflictConfig holds the conflict engine settings
type ConflictConfig struct {
	// ============ POLICY ============
	RulesPath string // YAML or JSON rule file; empty uses the built-in seed

	// ============ SCHEDULING ============
	AutoResolveInterval time.Duration // 0 disables the periodic sweep
	PurgeInterval       time.Duration // 0 disables the periodic purge
	RetentionDays       int           // resolved conflicts older than this are purged

	// ============ LIMITS ============
	BatchSize int
}

// LoadConflictConfig loads conflict settings from the environment
func LoadConflictConfig() ConflictConfig {
	return ConflictConfig{
		RulesPath:           getEnv("CONFLICT_RULES_PATH", ""),
		AutoResolveInterval: time.Duration(getIntEnv("CONFLICT_AUTO_RESOLVE_INTERVAL", 300)) * time.Second,
		PurgeInterval:       time.Duration(getIntEnv("CONFLICT_PURGE_INTERVAL", 86400)) * time.Second,
		RetentionDays:       getIntEnv("CONFLICT_RETENTION_DAYS", 90),
		BatchSize:           getIntEnv("CONFLICT_BATCH_SIZE", 100),
	}
}

// RetentionCutoff returns the instant before which resolved conflicts are purged
func (c ConflictConfig) RetentionCutoff(now time.Time) time.Time {
	return now.AddDate(0, 0, -c.RetentionDays)
}
