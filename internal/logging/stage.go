package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// StageLogger is a per-stage log sink for the client worker pipeline. Each
// pipeline stage (download, unpack, gather_info, update_dns, run, collate,
// upload, archive, clean) writes to its own file so a failed run's logs can
// be uploaded and inspected stage by stage, mirroring the original harness's
// "NN_stage_netconfig.log" naming.
type StageLogger struct {
	file   *os.File
	logger *slog.Logger
}

// NewStageLogger opens (creating parent directories as needed) the log file
// for the given stage index, stage name and netconfig under dir, and returns
// a StageLogger whose Logger writes structured text lines to it in addition
// to stderr.
func NewStageLogger(dir string, index int, stage, netconfig string) (*StageLogger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	name := fmt.Sprintf("%02d_%s_%s.log", index, stage, netconfig)
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	handler := slog.NewTextHandler(io.MultiWriter(f, os.Stderr), &slog.HandlerOptions{Level: logLevel})
	return &StageLogger{file: f, logger: slog.New(handler).With("stage", stage, "netconfig", netconfig)}, nil
}

// Logger returns the stage's structured logger.
func (s *StageLogger) Logger() *slog.Logger {
	return s.logger
}

// Path returns the absolute path of the underlying log file, used by the
// archiver stage to decide what to bundle up on failure.
func (s *StageLogger) Path() string {
	if s.file == nil {
		return ""
	}
	return s.file.Name()
}

// Close flushes and closes the underlying log file.
func (s *StageLogger) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}
