// Package runner ties one invocation together: registry lookup, security
// checks, parameter validation, the cooldown gate, job creation and the
// supervised background execution.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/galaxy-gateway/discord-bot-sub001/internal/archive"
	"github.com/galaxy-gateway/discord-bot-sub001/internal/executor"
	"github.com/galaxy-gateway/discord-bot-sub001/internal/job"
	"github.com/galaxy-gateway/discord-bot-sub001/internal/metrics"
	"github.com/galaxy-gateway/discord-bot-sub001/internal/plugin"
)

var (
	ErrUnknownPlugin  = errors.New("unknown plugin")
	ErrPluginDisabled = errors.New("plugin is disabled")
	ErrNotInvocable   = errors.New("plugin does not run an external command")
	// ErrCooldown is reported as a generic refusal; the window is not echoed.
	ErrCooldown = errors.New("plugin is on cooldown for this requester")
)

// Service executes plugin invocations against the resolved registry.
type Service struct {
	defs     map[string]*plugin.PluginDefinition
	exec     *executor.Executor
	jobs     *job.Manager
	archiver *archive.Archiver
	logger   *zap.Logger
}

// NewService creates the invocation service. archiver may be nil when output
// archiving is disabled.
func NewService(defs []*plugin.PluginDefinition, exec *executor.Executor, jobs *job.Manager, archiver *archive.Archiver, logger *zap.Logger) *Service {
	byName := make(map[string]*plugin.PluginDefinition, len(defs))
	for _, d := range defs {
		byName[d.Name] = d
	}
	return &Service{
		defs:     byName,
		exec:     exec,
		jobs:     jobs,
		archiver: archiver,
		logger:   logger,
	}
}

// Definition returns the resolved definition for a plugin name.
func (s *Service) Definition(name string) (*plugin.PluginDefinition, bool) {
	d, ok := s.defs[name]
	return d, ok
}

// Definitions returns every loaded definition.
func (s *Service) Definitions() []*plugin.PluginDefinition {
	out := make([]*plugin.PluginDefinition, 0, len(s.defs))
	for _, d := range s.defs {
		out = append(out, d)
	}
	return out
}

// Jobs exposes the job manager for status lookups.
func (s *Service) Jobs() *job.Manager {
	return s.jobs
}

// Invoke runs the full single-invocation path. It returns the job id the
// moment the Pending record exists; execution proceeds in a supervised
// background goroutine the caller never waits on.
func (s *Service) Invoke(ctx context.Context, pluginName string, req Requester, jctx job.Context, rawParams map[string]string) (uuid.UUID, error) {
	def, err := s.lookup(pluginName)
	if err != nil {
		metrics.Refusal("unknown_plugin")
		return uuid.Nil, err
	}

	if err := s.Authorize(def, req, jctx); err != nil {
		metrics.Refusal("access_denied")
		return uuid.Nil, err
	}

	params, err := s.ValidateParams(def, rawParams)
	if err != nil {
		metrics.Refusal("invalid_params")
		return uuid.Nil, err
	}

	if !s.jobs.CheckCooldown(req.ID, def.Name, def.Security.Cooldown) {
		metrics.Refusal("cooldown")
		return uuid.Nil, ErrCooldown
	}

	j, err := s.jobs.Create(ctx, def.Name, req.ID, jctx, params, nil)
	if err != nil {
		return uuid.Nil, err
	}
	metrics.JobCreated(def.Name)

	go s.supervised(j.ID, def.Name, func() {
		s.runJob(def, j.ID, params)
	})
	return j.ID, nil
}

func (s *Service) lookup(pluginName string) (*plugin.PluginDefinition, error) {
	def, ok := s.defs[pluginName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, pluginName)
	}
	if !def.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrPluginDisabled, pluginName)
	}
	if !def.Executable() {
		return nil, fmt.Errorf("%w: %s", ErrNotInvocable, pluginName)
	}
	return def, nil
}

// runJob drives one execution through its full lifecycle. Runs on a
// background goroutine; the job record is the only channel back to callers.
func (s *Service) runJob(def *plugin.PluginDefinition, jobID uuid.UUID, params map[string]string) {
	ctx := context.Background()
	start := time.Now()

	if err := s.jobs.Start(ctx, jobID); err != nil {
		s.logger.Error("Failed to start job", zap.String("job_id", jobID.String()), zap.Error(err))
		return
	}

	res, err := s.execute(ctx, def, params)
	if err != nil {
		s.failJob(ctx, def.Name, jobID, refusalMessage(err), time.Since(start))
		return
	}
	if !res.Success {
		s.failJob(ctx, def.Name, jobID, executionMessage(res), res.Duration)
		return
	}

	preview := s.preview(ctx, def, jobID, res.Stdout)
	if err := s.jobs.Complete(ctx, jobID, preview); err != nil {
		s.logger.Error("Failed to complete job", zap.String("job_id", jobID.String()), zap.Error(err))
		return
	}
	metrics.JobFinished(def.Name, string(job.StatusCompleted), res.Duration)
}

func (s *Service) execute(ctx context.Context, def *plugin.PluginDefinition, params map[string]string) (*executor.Result, error) {
	if def.Execution.Chunking != nil {
		return s.exec.ExecuteChunked(ctx, &def.Execution, params)
	}
	return s.exec.Execute(ctx, &def.Execution, params)
}

func (s *Service) failJob(ctx context.Context, pluginName string, jobID uuid.UUID, msg string, duration time.Duration) {
	if err := s.jobs.Fail(ctx, jobID, msg); err != nil {
		s.logger.Error("Failed to fail job", zap.String("job_id", jobID.String()), zap.Error(err))
		return
	}
	metrics.JobFinished(pluginName, string(job.StatusFailed), duration)
}

// preview archives the full output when it exceeds the inline limit and
// returns the short preview kept on the job record. An archive failure is
// logged; the job still completes with the preview.
func (s *Service) preview(ctx context.Context, def *plugin.PluginDefinition, jobID uuid.UUID, stdout string) string {
	limit := def.Output.InlineLimit
	if limit <= 0 || len(stdout) <= limit {
		return stdout
	}

	if def.Output.Archive && s.archiver != nil {
		if key, err := s.archiver.Store(ctx, def.Name, jobID, stdout); err != nil {
			s.logger.Error("Failed to archive output",
				zap.String("job_id", jobID.String()),
				zap.Error(err),
			)
		} else {
			s.logger.Debug("Full output archived", zap.String("key", key))
		}
	}
	return stdout[:limit]
}

// supervised runs fn, catching panics: the panic is logged and the owning
// job is marked Failed instead of the crash being silently swallowed.
func (s *Service) supervised(jobID uuid.UUID, pluginName string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Job worker panicked",
				zap.String("job_id", jobID.String()),
				zap.String("plugin", pluginName),
				zap.Any("panic", r),
			)
			_ = s.jobs.Fail(context.Background(), jobID, "internal worker failure")
			metrics.JobFinished(pluginName, string(job.StatusFailed), 0)
		}
	}()
	fn()
}

// refusalMessage maps executor refusals to the short message stored on the
// job. Security refusals stay generic and never echo the offending value.
func refusalMessage(err error) string {
	var secErr *executor.SecurityError
	if errors.As(err, &secErr) {
		return "invocation refused by security policy"
	}
	var subErr *executor.SubstitutionError
	if errors.As(err, &subErr) {
		return subErr.Error()
	}
	return err.Error()
}

func executionMessage(res *executor.Result) string {
	if res.TimedOut {
		return "command timed out"
	}
	msg := fmt.Sprintf("command exited with status %d", res.ExitCode)
	if res.Stderr != "" {
		stderr := res.Stderr
		if len(stderr) > 200 {
			stderr = stderr[:200]
		}
		msg += ": " + stderr
	}
	return msg
}
