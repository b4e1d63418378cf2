package runner

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/galaxy-gateway/discord-bot-sub001/internal/job"
	"github.com/galaxy-gateway/discord-bot-sub001/internal/metrics"
	"github.com/galaxy-gateway/discord-bot-sub001/internal/plugin"
)

// ItemOutcome is the result of one playlist child run.
type ItemOutcome struct {
	JobID    uuid.UUID
	Failed   bool
	Preview  string
	Error    string
	Duration time.Duration
}

// RunChild creates and synchronously executes one child job on behalf of a
// playlist. The caller's goroutine is the playlist worker, so running inline
// preserves strict item ordering. Per-item validation failures fail the item,
// never the playlist.
// The created hook fires once the child record exists, before execution
// starts, so the playlist can point at the in-flight child.
func (s *Service) RunChild(ctx context.Context, def *plugin.PluginDefinition, parentID uuid.UUID, requester string, jctx job.Context, rawParams map[string]string, created func(uuid.UUID)) ItemOutcome {
	start := time.Now()

	params, err := s.ValidateParams(def, rawParams)
	if err != nil {
		// No child record exists yet; the aggregate counters carry the failure.
		return ItemOutcome{Failed: true, Error: err.Error(), Duration: time.Since(start)}
	}

	j, err := s.jobs.Create(ctx, def.Name, requester, jctx, params, &parentID)
	if err != nil {
		return ItemOutcome{Failed: true, Error: err.Error(), Duration: time.Since(start)}
	}
	metrics.JobCreated(def.Name)
	if created != nil {
		created(j.ID)
	}

	outcome := ItemOutcome{JobID: j.ID}
	if err := s.jobs.Start(ctx, j.ID); err != nil {
		s.logger.Error("Failed to start child job", zap.String("job_id", j.ID.String()), zap.Error(err))
		outcome.Failed = true
		outcome.Error = "internal job error"
		outcome.Duration = time.Since(start)
		return outcome
	}

	res, err := s.execute(ctx, def, params)
	switch {
	case err != nil:
		outcome.Failed = true
		outcome.Error = refusalMessage(err)
		outcome.Duration = time.Since(start)
		s.failJob(ctx, def.Name, j.ID, outcome.Error, outcome.Duration)
	case !res.Success:
		outcome.Failed = true
		outcome.Error = executionMessage(res)
		outcome.Duration = res.Duration
		s.failJob(ctx, def.Name, j.ID, outcome.Error, outcome.Duration)
	default:
		outcome.Preview = s.preview(ctx, def, j.ID, res.Stdout)
		outcome.Duration = res.Duration
		if err := s.jobs.Complete(ctx, j.ID, outcome.Preview); err != nil {
			s.logger.Error("Failed to complete child job", zap.String("job_id", j.ID.String()), zap.Error(err))
		}
		metrics.JobFinished(def.Name, string(job.StatusCompleted), res.Duration)
	}
	return outcome
}
