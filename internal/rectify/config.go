package rectify

import "runtime"

// Config holds configuration for the rectification engine.
type Config struct {
	Workers    int // number of row workers (0 = runtime.NumCPU())
	RowsPerJob int // destination rows handed to a worker at a time (0 = 8)
}

// DefaultConfig returns sensible defaults for the engine.
func DefaultConfig() Config {
	return Config{
		Workers:    runtime.NumCPU(),
		RowsPerJob: 8,
	}
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.RowsPerJob <= 0 {
		c.RowsPerJob = 8
	}
	return c
}
