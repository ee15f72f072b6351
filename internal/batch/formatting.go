package batch

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type frameReport struct {
	FrameResult `yaml:",inline"`
	Error       string `json:"error,omitempty" yaml:"error,omitempty"`
}

type batchReport struct {
	Frames     []frameReport `json:"frames" yaml:"frames"`
	Total      int           `json:"total" yaml:"total"`
	Failed     int           `json:"failed" yaml:"failed"`
	Workers    int           `json:"workers" yaml:"workers"`
	DurationMS int64         `json:"duration_ms" yaml:"duration_ms"`
}

func (r *Result) report() batchReport {
	rep := batchReport{
		Frames:     make([]frameReport, len(r.Frames)),
		Total:      len(r.Frames),
		Failed:     r.Failed(),
		Workers:    r.Workers,
		DurationMS: r.Duration.Milliseconds(),
	}
	for i, f := range r.Frames {
		rep.Frames[i] = frameReport{FrameResult: f}
		if f.Err != nil {
			rep.Frames[i].Error = f.Err.Error()
		}
	}
	return rep
}

// FormatResults renders the result as text, json or yaml.
func (r *Result) FormatResults(format string) (string, error) {
	switch format {
	case "json":
		b, err := json.MarshalIndent(r.report(), "", "  ")
		return string(b), err
	case "yaml":
		b, err := yaml.Marshal(r.report())
		return string(b), err
	case "text", "":
		return r.formatText(), nil
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

func (r *Result) formatText() string {
	var sb strings.Builder
	for _, f := range r.Frames {
		if f.Err != nil {
			fmt.Fprintf(&sb, "FAIL %s: %v\n", f.Input, f.Err)
			continue
		}
		if f.Output == "" {
			fmt.Fprintf(&sb, "SKIP %s\n", f.Input)
			continue
		}
		var extra string
		if f.Sidecar {
			extra = ", sidecar params"
		}
		fmt.Fprintf(&sb, "OK   %s -> %s (%dx%d, %v%s)\n", f.Input, f.Output, f.Width, f.Height,
			f.Duration.Round(time.Millisecond), extra)
	}
	fmt.Fprintf(&sb, "\n%d frames, %d failed, %d workers, %v\n",
		len(r.Frames), r.Failed(), r.Workers, r.Duration.Round(time.Millisecond))
	return sb.String()
}
