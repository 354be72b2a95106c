// Package infrastructure contains the adapters that connect the routing core
// to the host: the command based config applier and the system backend
// resolver.
//
// The infrastructure layer:
// - Implements secondary ports (outbound adapters)
// - Talks to the filesystem and external processes
// - Should not contain business logic
package infrastructure

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/mattn/go-shellwords"
	lberrors "github.com/mir00r/domain-router/internal/errors"
	"github.com/mir00r/domain-router/internal/ports"
	"github.com/mir00r/domain-router/pkg/logger"
)

const applierComponent = "applier"

// FilePlaceholder is replaced by the path of the file a command operates on
const FilePlaceholder = "{file}"

// CommandRunner runs argv and returns its combined output
type CommandRunner func(ctx context.Context, argv []string) ([]byte, error)

// ExecRunner runs argv as a child process
func ExecRunner(ctx context.Context, argv []string) ([]byte, error) {
	return exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput()
}

// CommandApplierConfig configures a CommandApplier
type CommandApplierConfig struct {
	// ConfigPath is the live configuration file read by the load balancer
	ConfigPath string
	// CheckCommand validates a candidate file, e.g. "haproxy -c -f {file}"
	CheckCommand string
	// ReloadCommand makes the load balancer pick up ConfigPath
	ReloadCommand string
	Timeout       time.Duration
}

// CommandApplier implements ports.ConfigApplier by writing a candidate file,
// checking it with an external command, swapping it in and reloading. If the
// reload fails the previous file is restored. Nothing is retried.
type CommandApplier struct {
	config CommandApplierConfig
	run    CommandRunner
	logger *logger.Logger

	mu sync.Mutex
}

// NewCommandApplier creates a new applier. A nil runner uses ExecRunner.
func NewCommandApplier(config CommandApplierConfig, run CommandRunner, log *logger.Logger) (*CommandApplier, error) {
	if strings.TrimSpace(config.ConfigPath) == "" {
		return nil, lberrors.NewMissingFieldError(applierComponent, "haproxy.config_path")
	}
	for field, cmd := range map[string]string{"haproxy.check_command": config.CheckCommand, "haproxy.reload_command": config.ReloadCommand} {
		if _, err := shellwords.Parse(cmd); err != nil {
			return nil, lberrors.WrapError(err, lberrors.ErrCodeInvalidField, applierComponent, "command does not parse").
				WithMetadata("field", field)
		}
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if run == nil {
		run = ExecRunner
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &CommandApplier{config: config, run: run, logger: log}, nil
}

// Apply installs config as the live configuration. The report is returned
// even when the apply fails so callers can show the tool output.
func (a *CommandApplier) Apply(ctx context.Context, config string) (*ports.ApplyReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := time.Now()
	report := &ports.ApplyReport{
		TransactionID: uuid.NewString(),
		ConfigPath:    a.config.ConfigPath,
	}
	log := a.logger.ApplyLogger(report.TransactionID)
	defer func() { report.Duration = time.Since(start) }()

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	data := []byte(config)
	previous, err := os.ReadFile(a.config.ConfigPath)
	hadPrevious := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return report, a.fail(report, "failed to read the live configuration", err, nil)
	}
	if hadPrevious && bytes.Equal(previous, data) {
		report.Unchanged = true
		log.Info("Configuration unchanged, reload skipped")
		return report, nil
	}

	dir := filepath.Dir(a.config.ConfigPath)
	candidate := filepath.Join(dir, fmt.Sprintf(".%s.%s.candidate", filepath.Base(a.config.ConfigPath), report.TransactionID))
	if err := writeAtomically(dir, candidate, data); err != nil {
		return report, a.fail(report, "failed to write the candidate configuration", err, nil)
	}
	defer os.Remove(candidate)

	if a.config.CheckCommand != "" {
		out, err := a.runCommand(ctx, a.config.CheckCommand, candidate)
		report.Output = string(out)
		if err != nil {
			return report, a.fail(report, "configuration check rejected the generated config", err, out)
		}
		report.Checked = true
		log.Debug("Candidate configuration passed the check")
	}

	if err := writeAtomically(dir, a.config.ConfigPath, data); err != nil {
		return report, a.fail(report, "failed to install the configuration", err, nil)
	}

	if a.config.ReloadCommand != "" {
		out, err := a.runCommand(ctx, a.config.ReloadCommand, a.config.ConfigPath)
		report.Output = strings.TrimSpace(report.Output + "\n" + string(out))
		if err != nil {
			if rbErr := a.restore(dir, previous, hadPrevious); rbErr != nil {
				log.WithError(rbErr).Error("Failed to restore the previous configuration")
			} else {
				report.RolledBack = true
			}
			return report, a.fail(report, "reload failed", err, out)
		}
	}
	report.Reloaded = true

	log.WithFields(map[string]interface{}{
		"config_path": a.config.ConfigPath,
		"bytes":       len(data),
		"duration":    time.Since(start).String(),
	}).Info("Configuration applied")
	return report, nil
}

func (a *CommandApplier) runCommand(ctx context.Context, command, file string) ([]byte, error) {
	argv, err := CommandArgs(command, file)
	if err != nil {
		return nil, err
	}
	return a.run(ctx, argv)
}

func (a *CommandApplier) restore(dir string, previous []byte, hadPrevious bool) error {
	if !hadPrevious {
		err := os.Remove(a.config.ConfigPath)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return writeAtomically(dir, a.config.ConfigPath, previous)
}

func (a *CommandApplier) fail(report *ports.ApplyReport, message string, cause error, output []byte) error {
	err := lberrors.NewErrorWithCause(lberrors.ErrCodeApplyFailed, applierComponent, message, cause).
		WithMetadata("transaction_id", report.TransactionID).
		WithMetadata("rolled_back", report.RolledBack)
	if len(output) > 0 {
		err.WithMetadata("output", strings.TrimSpace(string(output)))
	}
	a.logger.ApplyLogger(report.TransactionID).WithError(cause).Error(message)
	return err
}

// CommandArgs splits command into argv and substitutes FilePlaceholder.
// Substitution happens after splitting so paths containing spaces stay one
// argument.
func CommandArgs(command, file string) ([]string, error) {
	argv, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("failed to parse command %q: %w", command, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("command is empty")
	}
	for i := range argv {
		argv[i] = strings.ReplaceAll(argv[i], FilePlaceholder, file)
	}
	return argv, nil
}

func writeAtomically(dir, path string, data []byte) error {
	f, err := renameio.TempFile(dir, path)
	if err != nil {
		return fmt.Errorf("failed to open temporary file: %w", err)
	}
	defer f.Cleanup()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	return f.CloseAtomicallyReplace()
}
