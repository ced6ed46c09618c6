package consts

import "time"

// Buffer sizes for various operations
const (
	// BufferSize1KB is 1 kilobyte
	BufferSize1KB = 1024
	// BufferSize64KB is 64 kilobytes
	BufferSize64KB = 64 * 1024
	// BufferSize1MB is 1 megabyte
	BufferSize1MB = 1024 * 1024
	// BufferSize10MB is 10 megabytes
	BufferSize10MB = 10 * 1024 * 1024
)

// LLM default configurations
const (
	// DefaultMaxTokens is the default maximum tokens for LLM responses
	DefaultMaxTokens = 3000
	// DefaultTemperature keeps generated processing code deterministic
	DefaultTemperature = 0.0
	// MaxPromptTokens caps the token budget of a code generation prompt
	MaxPromptTokens = 12000
)

// Timeouts for various operations
const (
	// Timeout5Seconds is a 5 second timeout
	Timeout5Seconds = 5 * time.Second
	// Timeout30Seconds is a 30 second timeout
	Timeout30Seconds = 30 * time.Second
	// Timeout2Minutes is a 2 minute timeout
	Timeout2Minutes = 2 * time.Minute
	// Timeout5Minutes is a 5 minute timeout
	Timeout5Minutes = 5 * time.Minute
)

// Task execution limits
const (
	// MaxFastAttempts bounds regenerate-and-run cycles in fast mode
	MaxFastAttempts = 2
	// MaxPumpIterations bounds signal-driven auto-advancement per message
	MaxPumpIterations = 16
)

// Intent classification
const (
	// IntentMemoryExchanges is the number of remembered exchanges in the prompt
	IntentMemoryExchanges = 3
	// TaskNameSimilarityThreshold is the minimum fuzzy-match ratio for task names
	TaskNameSimilarityThreshold = 0.2
)

// Storage limits
const (
	// StoreChunkRows is the row count per bulk insert statement
	StoreChunkRows = 1000
	// DefaultFileRetentionDays is the default age bound for stored file cleanup
	DefaultFileRetentionDays = 30
)
