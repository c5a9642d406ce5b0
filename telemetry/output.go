package telemetry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"

	"github.com/pthm-cable/treewalk/config"
)

// OutputManager handles run output with CSV logging.
type OutputManager struct {
	dir       string
	batchFile *os.File
	walkFile  *os.File

	// Track if headers have been written
	batchHeaderWritten bool
	walkHeaderWritten  bool
}

// NewOutputManager creates a new output manager and initializes the output directory.
// Returns nil if dir is empty (output disabled).
func NewOutputManager(dir string) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	om := &OutputManager{dir: dir}

	f, err := os.Create(filepath.Join(dir, "batches.csv"))
	if err != nil {
		return nil, fmt.Errorf("creating batches.csv: %w", err)
	}
	om.batchFile = f

	f, err = os.Create(filepath.Join(dir, "walks.csv"))
	if err != nil {
		om.batchFile.Close()
		return nil, fmt.Errorf("creating walks.csv: %w", err)
	}
	om.walkFile = f

	return om, nil
}

// WriteConfig saves the current configuration as YAML.
func (om *OutputManager) WriteConfig(cfg *config.Config) error {
	if om == nil {
		return nil
	}
	return cfg.WriteYAML(filepath.Join(om.dir, "config.yaml"))
}

// WriteBatches appends batch timing records to batches.csv.
func (om *OutputManager) WriteBatches(records []BatchRecord) error {
	if om == nil || len(records) == 0 {
		return nil
	}

	if !om.batchHeaderWritten {
		// First write includes headers
		if err := gocsv.Marshal(records, om.batchFile); err != nil {
			return fmt.Errorf("writing batches: %w", err)
		}
		om.batchHeaderWritten = true
	} else {
		if err := gocsv.MarshalWithoutHeaders(records, om.batchFile); err != nil {
			return fmt.Errorf("writing batches: %w", err)
		}
	}
	return nil
}

// WriteWalks appends walk summaries to walks.csv.
func (om *OutputManager) WriteWalks(summaries []WalkSummary) error {
	if om == nil || len(summaries) == 0 {
		return nil
	}

	if !om.walkHeaderWritten {
		if err := gocsv.Marshal(summaries, om.walkFile); err != nil {
			return fmt.Errorf("writing walks: %w", err)
		}
		om.walkHeaderWritten = true
	} else {
		if err := gocsv.MarshalWithoutHeaders(summaries, om.walkFile); err != nil {
			return fmt.Errorf("writing walks: %w", err)
		}
	}
	return nil
}

// Dir returns the output directory path.
func (om *OutputManager) Dir() string {
	if om == nil {
		return ""
	}
	return om.dir
}

// Close flushes and closes all output files.
func (om *OutputManager) Close() error {
	if om == nil {
		return nil
	}

	var firstErr error
	for _, f := range []*os.File{om.batchFile, om.walkFile} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
