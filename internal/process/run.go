// Package process implements ExternalRun, the one-subprocess-per-working-
// directory unit of the evaluation-coordination engine (spec.md §4.1).
// Process spawning here is grounded on the teacher's
// mcp/deno-calc/main.go (temp-file staging, exec.CommandContext, captured
// stdout/stderr, timeout context); the lifecycle state machine and retry
// rule follow original_source/evaluation.py's ExternalRun line for line.
package process

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/longregen/nlpdrive/internal/nlperrors"
	"github.com/longregen/nlpdrive/internal/variable"
)

// FileLocation controls how addData resolves a path at add time.
type FileLocation int

const (
	Auto FileLocation = iota
	Absolute
	Relative
)

type templater interface {
	Write(path string) error
}

// ExternalRun specs a single subprocess invocation in a private working
// directory. The zero value is not usable; build one with New.
type ExternalRun struct {
	WorkDir    string
	Command    string
	UseSymlink bool
	maxTries   int

	dataFiles     []string
	relDataFiles  []string
	confFiles     []string
	expectedFiles []string
	parameters    []*variable.Parameter
	variables     []templater

	numTries int
	isIni    bool
	isRun    bool
	retCode  int

	cmd        *exec.Cmd
	stdout     *os.File
	stderr     *os.File
	cancelFunc context.CancelFunc
	waitDone   chan error

	logger *slog.Logger
}

// New creates an ExternalRun spec'd to run Command inside workDir.
func New(workDir, command string) *ExternalRun {
	r := &ExternalRun{
		WorkDir:  workDir,
		Command:  command,
		maxTries: 1,
		retCode:  -100,
		logger:   slog.Default(),
	}
	return r
}

// WithLogger overrides the default logger (used by the driver to scope logs
// per evaluation).
func (r *ExternalRun) WithLogger(l *slog.Logger) *ExternalRun {
	r.logger = l
	return r
}

// AddData enqueues a data file to stage verbatim (by copy or symlink)
// alongside the run's config files.
func (r *ExternalRun) AddData(path string, loc FileLocation) error {
	switch loc {
	case Relative:
		r.relDataFiles = append(r.relDataFiles, path)
		return nil
	case Absolute:
		abs, err := resolveAbsolute(path)
		if err != nil {
			return err
		}
		r.dataFiles = append(r.dataFiles, abs)
		return nil
	default: // Auto
		if abs, err := resolveAbsolute(path); err == nil {
			r.dataFiles = append(r.dataFiles, abs)
			return nil
		}
		r.relDataFiles = append(r.relDataFiles, path)
		return nil
	}
}

// AddConfig registers a config file; it is resolved to an absolute path
// immediately and must exist now.
func (r *ExternalRun) AddConfig(path string) error {
	abs, err := resolveAbsolute(path)
	if err != nil {
		return err
	}
	r.confFiles = append(r.confFiles, abs)
	return nil
}

// AddExpected registers a path (relative to WorkDir) whose existence after
// the process exits indicates success.
func (r *ExternalRun) AddExpected(relPath string) {
	r.expectedFiles = append(r.expectedFiles, filepath.Join(r.WorkDir, relPath))
}

// AddParameter registers a continuation parameter that templates into this
// run's config files ahead of any variable (parameters write first, per
// original_source/evaluation.py's initialize()).
func (r *ExternalRun) AddParameter(p *variable.Parameter) {
	r.parameters = append(r.parameters, p)
}

// GetParameters returns the parameters this run was given, so a Function can
// aggregate them across its evaluation chain for DriverBase.preprocessVariables.
func (r *ExternalRun) GetParameters() []*variable.Parameter {
	return r.parameters
}

// UpdateVariables registers design variables this run depends on, discovered
// by DriverBase.preprocessVariables. Idempotent per variable pointer.
func (r *ExternalRun) UpdateVariables(vars ...templater) {
	for _, v := range vars {
		dup := false
		for _, existing := range r.variables {
			if existing == v {
				dup = true
				break
			}
		}
		if !dup {
			r.variables = append(r.variables, v)
		}
	}
}

// SetMaxTries sets the total attempt budget for this run.
func (r *ExternalRun) SetMaxTries(n int) {
	if n < 1 {
		n = 1
	}
	r.maxTries = n
}

func resolveAbsolute(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s", nlperrors.ErrFileNotFound, path)
	}
	if st, err := os.Stat(abs); err != nil || st.IsDir() {
		return "", fmt.Errorf("%w: %s", nlperrors.ErrFileNotFound, path)
	}
	return abs, nil
}

// IsIni reports whether Initialize has run for the current attempt.
func (r *ExternalRun) IsIni() bool { return r.isIni }

// IsRun reports whether the process has completed (successfully, after
// retries if needed).
func (r *ExternalRun) IsRun() bool { return r.isRun }

// ReturnCode returns the last observed exit code.
func (r *ExternalRun) ReturnCode() int { return r.retCode }

// Initialize stages data/config files, templates the configs, and spawns
// the subprocess. Idempotent while already initialized.
func (r *ExternalRun) Initialize() error {
	if r.isIni {
		return nil
	}

	if err := os.MkdirAll(r.WorkDir, 0o755); err != nil {
		return fmt.Errorf("initialize %s: %w", r.WorkDir, err)
	}

	for _, f := range append(append([]string{}, r.dataFiles...), r.relDataFiles...) {
		target := filepath.Join(r.WorkDir, filepath.Base(f))
		if err := stageFile(f, target, r.UseSymlink); err != nil {
			return fmt.Errorf("stage data %s: %w", f, err)
		}
	}

	for _, f := range r.confFiles {
		target := filepath.Join(r.WorkDir, filepath.Base(f))
		if err := stageFile(f, target, false); err != nil {
			return fmt.Errorf("stage config %s: %w", f, err)
		}
		for _, p := range r.parameters {
			if err := p.Write(target); err != nil {
				return fmt.Errorf("template parameter into %s: %w", target, err)
			}
		}
		for _, v := range r.variables {
			if err := v.Write(target); err != nil {
				return fmt.Errorf("template variable into %s: %w", target, err)
			}
		}
	}

	if err := r.createProcess(); err != nil {
		return err
	}
	r.isIni = true
	r.isRun = false
	r.numTries = 0
	r.logger.Info("external run initialized", "workdir", r.WorkDir, "command", r.Command)
	return nil
}

func stageFile(src, dst string, symlink bool) error {
	if symlink {
		return os.Symlink(src, dst)
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func (r *ExternalRun) createProcess() error {
	stdoutF, err := os.Create(filepath.Join(r.WorkDir, "stdout.txt"))
	if err != nil {
		return fmt.Errorf("open stdout.txt: %w", err)
	}
	stderrF, err := os.Create(filepath.Join(r.WorkDir, "stderr.txt"))
	if err != nil {
		stdoutF.Close()
		return fmt.Errorf("open stderr.txt: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, "bash", "-c", r.Command)
	cmd.Dir = r.WorkDir
	cmd.Stdout = stdoutF
	cmd.Stderr = stderrF

	if err := cmd.Start(); err != nil {
		cancel()
		stdoutF.Close()
		stderrF.Close()
		return fmt.Errorf("spawn %q in %s: %w", r.Command, r.WorkDir, err)
	}

	r.cmd = cmd
	r.stdout = stdoutF
	r.stderr = stderrF
	r.cancelFunc = cancel
	r.waitDone = make(chan error, 1)
	go func(c *exec.Cmd, done chan<- error) { done <- c.Wait() }(cmd, r.waitDone)
	return nil
}

// Run blocks until the process exits, validating expected outputs and
// retrying up to maxTries on failure.
func (r *ExternalRun) Run(ctx context.Context) (int, error) {
	if !r.isIni {
		return 0, nlperrors.ErrProcessNotInitialized
	}
	if r.numTries >= r.maxTries {
		return 0, r.runFailed()
	}
	if r.isRun {
		return r.retCode, nil
	}

	select {
	case <-ctx.Done():
		if r.cancelFunc != nil {
			r.cancelFunc()
		}
		<-r.waitDone
	case <-r.waitDone:
	}

	r.retCode = r.cmd.ProcessState.ExitCode()
	r.numTries++

	if !r.success() {
		r.Finalize()
		if err := r.createProcess(); err != nil {
			return 0, err
		}
		r.isIni = true
		return r.Run(ctx)
	}

	r.numTries = 0
	r.isRun = true
	return r.retCode, nil
}

// Poll is the non-blocking variant used by the scheduler: it never sleeps
// or blocks beyond the cost of a single wait4/kill check.
func (r *ExternalRun) Poll() (done bool, retCode int, err error) {
	if !r.isIni {
		return false, 0, nlperrors.ErrProcessNotInitialized
	}
	if r.numTries >= r.maxTries {
		return false, 0, r.runFailed()
	}
	if r.isRun {
		return true, r.retCode, nil
	}

	select {
	case <-r.waitDone:
	default:
		return false, 0, nil
	}

	r.retCode = r.cmd.ProcessState.ExitCode()
	r.numTries++

	if !r.success() {
		r.Finalize()
		if err := r.createProcess(); err != nil {
			return false, 0, err
		}
		r.isIni = true
		return r.Poll()
	}

	r.numTries = 0
	r.isRun = true
	return true, r.retCode, nil
}

func (r *ExternalRun) runFailed() error {
	var missing []string
	for _, f := range r.expectedFiles {
		if _, err := os.Stat(f); err != nil {
			missing = append(missing, f)
		}
	}
	return &nlperrors.RunFailedError{WorkDir: r.WorkDir, Attempts: r.maxTries, Missing: missing}
}

func (r *ExternalRun) success() bool {
	for _, f := range r.expectedFiles {
		if _, err := os.Stat(f); err != nil {
			return false
		}
	}
	return true
}

// Finalize closes stream handles and resets the lifecycle flags, leaving
// the working directory intact. finalize→initialize is how a retry or a
// fresh evaluation restarts this run.
func (r *ExternalRun) Finalize() {
	if r.stdout != nil {
		r.stdout.Close()
	}
	if r.stderr != nil {
		r.stderr.Close()
	}
	r.isIni = false
	r.isRun = false
	r.retCode = -100
}
