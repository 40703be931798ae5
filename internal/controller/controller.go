// Package controller is the Job Controller façade: it validates a
// JobRequest, allocates a Job ID, wires the Workspace Manager, Scheduler,
// and Event Hub together for one Job run, and guarantees workspace teardown
// and a terminal event regardless of how the run ends.
package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/agentswarm/swarmd/internal/activation"
	"github.com/agentswarm/swarmd/internal/config"
	"github.com/agentswarm/swarmd/internal/eventhub"
	"github.com/agentswarm/swarmd/internal/eventlog"
	"github.com/agentswarm/swarmd/internal/protocol"
	"github.com/agentswarm/swarmd/internal/receipt"
	"github.com/agentswarm/swarmd/internal/runstate"
	"github.com/agentswarm/swarmd/internal/scheduler"
	"github.com/agentswarm/swarmd/internal/workspace"
)

// Controller runs Jobs end to end: validate, allocate, schedule, persist,
// teardown. One Controller is shared across every Job a process serves.
type Controller struct {
	WS          *workspace.Manager
	Sem         *scheduler.Semaphore
	Credentials config.Credentials
	Policy      config.Policy
	Logger      *slog.Logger

	// RunStateRoot is where per-job run_state.json audit records are
	// written. Empty disables persistence.
	RunStateRoot string

	// Launcher overrides the Scheduler's agent launcher, for tests that
	// need a scripted fake instead of spawning a real agent CLI. Nil uses
	// the Scheduler's default (internal/supervisor-backed) launcher.
	Launcher scheduler.Launcher
}

// New constructs a Controller sharing one global concurrency-cap Semaphore
// and Workspace Manager across every Job it is asked to run.
func New(ws *workspace.Manager, sem *scheduler.Semaphore, creds config.Credentials, policy config.Policy, logger *slog.Logger) *Controller {
	return &Controller{
		WS:          ws,
		Sem:         sem,
		Credentials: creds,
		Policy:      policy,
		Logger:      logger,
	}
}

// Handle is returned to the caller immediately after a Job is accepted: the
// assigned Job ID and a live subscription to its event stream.
type Handle struct {
	JobID string
	Sub   *eventhub.Subscription
}

// Start allocates a Job ID and launches the Job's two-phase run in the
// background. The returned Handle's subscription receives every
// ProgressEvent the Job produces, terminated by a `complete` event.
// Start itself never returns an error: per spec.md §7, no failure — not
// even a request that fails validation before any workspace is touched —
// ever escapes the Job Controller to the caller. A configuration error
// (empty source/objective, missing model or credential) instead produces a
// single synthetic `error` event followed by `complete(failed)` on the
// subscription, with no workspace ever allocated.
func (c *Controller) Start(ctx context.Context, req protocol.JobRequest) (*Handle, error) {
	jobID := uuid.New().String()
	hub := eventhub.New(jobID, 0)
	sub := hub.Subscribe()
	eventLog := c.openEventLog(jobID, hub)

	instances, err := activation.BuildAgentInstances(req, c.Credentials)
	if err != nil {
		go c.failFast(jobID, req.Objective, hub, eventLog, err)
		return &Handle{JobID: jobID, Sub: sub}, nil
	}

	sched := scheduler.New(c.WS, hub, c.Sem, c.Policy, c.Logger)
	if c.Launcher != nil {
		sched.Launcher = c.Launcher
	}

	timeoutMinutes := c.Policy.AgentTimeoutMinutes
	if req.Config != nil && req.Config.AgentTimeoutMinutes != nil {
		timeoutMinutes = *req.Config.AgentTimeoutMinutes
	}
	timeout := time.Duration(timeoutMinutes) * time.Minute

	job := scheduler.Job{
		ID:        jobID,
		Source:    workspace.Source{RemoteURL: remoteURLFor(req), LocalPath: localPathFor(req), Ref: req.Ref},
		Objective: req.Objective,
		Timeout:   timeout,
		Instances: instances,
	}
	job.Credentials = c.Credentials

	go c.run(ctx, hub, sched, job, eventLog)

	return &Handle{JobID: jobID, Sub: sub}, nil
}

// openEventLog opens the durable event log for jobID and wires it as hub's
// Sink, when RunStateRoot is configured. A failure to open the log is
// logged and swallowed: the log is a post-mortem aid, not something a job's
// outcome depends on.
func (c *Controller) openEventLog(jobID string, hub *eventhub.Hub) *eventlog.EventLog {
	if c.RunStateRoot == "" {
		return nil
	}
	path := filepath.Join(c.RunStateRoot, jobID, "events.ndjson")
	el, err := eventlog.NewEventLog(path, c.Policy.MessageMaxBytes, c.Logger)
	if err != nil {
		if c.Logger != nil {
			c.Logger.Warn("event log open failed", "job_id", jobID, "error", err)
		}
		return nil
	}
	hub.Sink = func(evt *protocol.ProgressEvent) {
		if err := el.WriteEvent(evt); err != nil && c.Logger != nil {
			c.Logger.Warn("event log write failed", "job_id", jobID, "error", err)
		}
	}
	return el
}

// failFast emits the synthetic error+complete(failed) pair for a request
// that never passed validation, per spec.md §7's configuration-error
// taxonomy. No workspace is allocated and no agent is launched.
func (c *Controller) failFast(jobID, objective string, hub *eventhub.Hub, eventLog *eventlog.EventLog, cause error) {
	defer func() {
		if eventLog != nil {
			eventLog.Close()
		}
	}()

	hub.Publish(&protocol.ProgressEvent{
		JobID:    jobID,
		AgentKey: protocol.AgentKeyJob,
		Kind:     protocol.EventKindError,
		Payload:  cause.Error(),
	})

	summary := protocol.JobSummary{JobID: jobID, Classification: protocol.ClassificationFailed}
	c.persist(scheduler.Job{ID: jobID, Objective: objective}, summary)

	hub.Publish(&protocol.ProgressEvent{
		JobID:    jobID,
		AgentKey: protocol.AgentKeyJob,
		Kind:     protocol.EventKindComplete,
		Payload:  c.completePayload(jobID, summary),
	})
	hub.Close()
}

// run executes job to terminal state, guaranteeing workspace teardown and a
// closing `complete` event even on panic.
func (c *Controller) run(ctx context.Context, hub *eventhub.Hub, sched *scheduler.Scheduler, job scheduler.Job, eventLog *eventlog.EventLog) {
	var summary protocol.JobSummary
	var paths map[protocol.AgentKey]string

	defer func() {
		if eventLog != nil {
			defer eventLog.Close()
		}

		if r := recover(); r != nil {
			hub.Publish(&protocol.ProgressEvent{
				JobID:    job.ID,
				AgentKey: protocol.AgentKeyJob,
				Kind:     protocol.EventKindError,
				Payload:  fmt.Sprintf("internal error: %v", r),
			})
			summary = protocol.JobSummary{JobID: job.ID, Classification: protocol.ClassificationFailed}
		}

		for _, path := range paths {
			if path == "" {
				continue
			}
			if err := c.WS.Release(path); err != nil && c.Logger != nil {
				c.Logger.Warn("workspace release failed", "job_id", job.ID, "path", path, "error", err)
			}
		}

		c.persist(job, summary)

		hub.Publish(&protocol.ProgressEvent{
			JobID:    job.ID,
			AgentKey: protocol.AgentKeyJob,
			Kind:     protocol.EventKindComplete,
			Payload:  c.completePayload(job.ID, summary),
		})
		hub.Close()
	}()

	var err error
	summary, paths, err = sched.Run(ctx, job)
	if err != nil {
		hub.Publish(&protocol.ProgressEvent{
			JobID:    job.ID,
			AgentKey: protocol.AgentKeyJob,
			Kind:     protocol.EventKindError,
			Payload:  err.Error(),
		})
		summary = protocol.JobSummary{JobID: job.ID, Classification: protocol.ClassificationFailed}
	}
}

// completePayload JSON-encodes summary for the terminal complete event's
// Payload, per spec.md §7: the complete event carries the aggregate
// classification and the per-agent summary block, not the classification
// string alone. A marshal failure (unexpected: JobSummary has no cyclic or
// unencodable fields) falls back to the bare classification so the client
// still learns the outcome.
func (c *Controller) completePayload(jobID string, summary protocol.JobSummary) string {
	data, err := json.Marshal(summary)
	if err != nil {
		if c.Logger != nil {
			c.Logger.Warn("job summary marshal failed", "job_id", jobID, "error", err)
		}
		return string(summary.Classification)
	}
	return string(data)
}

func (c *Controller) persist(job scheduler.Job, summary protocol.JobSummary) {
	if c.RunStateRoot == "" {
		return
	}
	state := runstate.NewRunState(job.ID, job.Objective)
	state.Finish(summary)
	path := runstate.PathFor(c.RunStateRoot, job.ID)
	if err := runstate.Save(state, path); err != nil && c.Logger != nil {
		c.Logger.Warn("run state persist failed", "job_id", job.ID, "error", err)
	}

	if summary.FinalArtifact != nil {
		r := receipt.NewReceipt(&summary)
		if err := receipt.WriteReceipt(r, receipt.GetReceiptPath(c.RunStateRoot, job.ID)); err != nil && c.Logger != nil {
			c.Logger.Warn("receipt persist failed", "job_id", job.ID, "error", err)
		}
	}
}

func remoteURLFor(req protocol.JobRequest) string {
	if looksLikeURL(req.Source) {
		return req.Source
	}
	return ""
}

func localPathFor(req protocol.JobRequest) string {
	if looksLikeURL(req.Source) {
		return ""
	}
	return req.Source
}

func looksLikeURL(source string) bool {
	for _, prefix := range []string{"http://", "https://", "git@", "ssh://"} {
		if len(source) >= len(prefix) && source[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}
