package config

import "time"

// UI and Display Constants
const (
	LeaderboardPageSize = 10
	MaxAutocomplete     = 25

	ErrorColor   = 0xFF0000
	SuccessColor = 0x00FF00
	InfoColor    = 0x0099FF
	WarningColor = 0xFFAA00

	EmbedDefaultColor = 0x2B2D31
)

// Database and Performance Constants
const (
	DefaultQueryTimeout     = 30 * time.Second
	BatchQueryTimeout       = 30 * time.Second
	CommandExecutionTimeout = 10 * time.Second
	AwardHandlerTimeout     = 15 * time.Second
	JobExecutionTimeout     = 5 * time.Minute

	// Identity cache
	IdentityCacheSize = 10000
	IdentityCacheTTL  = 30 * time.Minute

	// Scheduler
	DefaultPollInterval = 15 * time.Second
	DefaultJobBatch     = 10
	DefaultMaxAttempts  = 5
	RetryBaseDelay      = 30 * time.Second
	RetryMaxDelay       = 30 * time.Minute
)
