// Package artifact persists per-request diagnostics once a request reaches a terminal state.
package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jzx17/gorelay/pkg/types"
	"gopkg.in/yaml.v3"
)

// DefaultFileName is the record file written inside each resource directory
const DefaultFileName = "outcome.yaml"

// Sink receives one call per terminal request outcome.
// resourceID is the path handed out by the resource allocator for the request.
type Sink interface {
	Write(ctx context.Context, resourceID string, req *types.Request, res *types.ExecutionResult) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, resourceID string, req *types.Request, res *types.ExecutionResult) error

// Write calls f
func (f SinkFunc) Write(ctx context.Context, resourceID string, req *types.Request, res *types.ExecutionResult) error {
	return f(ctx, resourceID, req, res)
}

// Record is the on-disk shape of one request's diagnostics
type Record struct {
	RequestID  string            `yaml:"request_id"`
	ResourceID string            `yaml:"resource_id"`
	Backend    string            `yaml:"backend"`
	Method     string            `yaml:"method,omitempty"`
	Path       string            `yaml:"path,omitempty"`
	Tags       map[string]string `yaml:"tags,omitempty"`
	State      string            `yaml:"state"`
	Kind       string            `yaml:"kind"`
	Attempts   int               `yaml:"attempts"`
	StatusCode int               `yaml:"status_code,omitempty"`
	Network    bool              `yaml:"network_error,omitempty"`
	Elapsed    time.Duration     `yaml:"elapsed"`
	Message    string            `yaml:"message,omitempty"`
	Error      string            `yaml:"error,omitempty"`
	Payload    string            `yaml:"payload,omitempty"`
	WrittenAt  time.Time         `yaml:"written_at"`
}

// NewRecord flattens a request and its result
func NewRecord(resourceID string, req *types.Request, res *types.ExecutionResult, at time.Time) Record {
	r := Record{
		ResourceID: resourceID,
		WrittenAt:  at.UTC(),
	}
	if req != nil {
		r.RequestID = req.ID
		r.Method = req.Method
		r.Path = req.Path
		r.Tags = req.Options.Tags
	}
	if res != nil {
		r.Backend = res.Backend
		r.State = res.State.String()
		r.Kind = res.Kind.String()
		r.Attempts = res.Attempts
		r.StatusCode = res.Outcome.StatusCode
		r.Network = res.Outcome.NetworkError
		r.Elapsed = res.Elapsed
		r.Message = res.Outcome.Message
		r.Payload = string(res.Outcome.Payload)
		if res.Err != nil {
			r.Error = res.Err.Error()
		}
	}
	return r
}

// FileSink writes each record as YAML into the resource directory
type FileSink struct {
	fileName string
	perm     os.FileMode
	clock    types.Clock
}

// FileSinkOption configures a FileSink
type FileSinkOption func(*FileSink)

// WithFileName sets the record file name
func WithFileName(name string) FileSinkOption {
	return func(s *FileSink) {
		if name != "" {
			s.fileName = name
		}
	}
}

// WithClock sets the clock stamping records
func WithClock(clock types.Clock) FileSinkOption {
	return func(s *FileSink) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewFileSink creates a FileSink
func NewFileSink(opts ...FileSinkOption) *FileSink {
	s := &FileSink{
		fileName: DefaultFileName,
		perm:     0o644,
		clock:    types.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Write creates the resource directory if needed and writes the record into it
func (s *FileSink) Write(ctx context.Context, resourceID string, req *types.Request, res *types.ExecutionResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if resourceID == "" {
		return fmt.Errorf("artifact: empty resource id")
	}

	data, err := yaml.Marshal(NewRecord(resourceID, req, res, s.clock.Now()))
	if err != nil {
		return fmt.Errorf("artifact: encode record: %w", err)
	}
	if err := os.MkdirAll(resourceID, 0o755); err != nil {
		return fmt.Errorf("artifact: create %s: %w", resourceID, err)
	}

	path := filepath.Join(resourceID, s.fileName)
	if err := os.WriteFile(path, data, s.perm); err != nil {
		return fmt.Errorf("artifact: write %s: %w", path, err)
	}
	return nil
}

// ReadRecord loads a record written by FileSink
func ReadRecord(path string) (Record, error) {
	var r Record
	data, err := os.ReadFile(path)
	if err != nil {
		return r, err
	}
	if err := yaml.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("artifact: decode %s: %w", path, err)
	}
	return r, nil
}
