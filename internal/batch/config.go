package batch

import "runtime"

// Config holds all configuration for batch rendering.
type Config struct {
	// Parallel frames (0 = half the CPUs). Rows inside a frame are parallelised
	// by the engine on top of this.
	Workers int

	// Output settings
	OutputDir    string
	OutputSuffix string  // appended to the input base name before ".png"
	OutputAspect float64 // crop to this aspect ratio after rendering (0 = keep)

	// Error handling
	ContinueOnError bool

	// File discovery settings
	Recursive       bool
	IncludePatterns []string
	ExcludePatterns []string

	// Optional progress reporting
	Progress ProgressCallback
}

// DefaultConfig returns sensible defaults for batch rendering.
func DefaultConfig() Config {
	return Config{
		Workers:      max(1, runtime.NumCPU()/2),
		OutputDir:    "rectified",
		OutputSuffix: "",
	}
}
