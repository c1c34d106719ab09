package config

// Backlog defaults
const (
	DefaultBacklogPath = "prd.json"
)

// Agent defaults
const (
	DefaultAgentCommand = "claude"
)

// Loop defaults
const (
	DefaultMaxIterations = 50
	DefaultHistoryCap    = 10
)

// Breaker defaults
const (
	DefaultNoProgressThreshold      = 3
	DefaultTestOnlyThreshold        = 3
	DefaultConflictingDoneThreshold = 2
)
