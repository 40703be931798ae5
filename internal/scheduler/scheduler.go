// Package scheduler executes the two-phase fan-out/fan-in plan for a Job:
// phase A runs the three primary AgentInstances concurrently, a barrier
// waits for all of them to reach a terminal state, then phase B runs the
// Integrator AgentInstance. It owns workspace allocation per agent, the
// global concurrency cap, and retry of transient launch failures.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/agentswarm/swarmd/internal/activation"
	"github.com/agentswarm/swarmd/internal/adapter"
	"github.com/agentswarm/swarmd/internal/checksum"
	"github.com/agentswarm/swarmd/internal/config"
	"github.com/agentswarm/swarmd/internal/eventhub"
	"github.com/agentswarm/swarmd/internal/fsutil"
	"github.com/agentswarm/swarmd/internal/idempotency"
	"github.com/agentswarm/swarmd/internal/protocol"
	"github.com/agentswarm/swarmd/internal/supervisor"
	"github.com/agentswarm/swarmd/internal/workspace"
)

const finalArtifactName = "final_report.md"

// loadFinalArtifact reads the integrator's terminal artifact and computes
// its checksum metadata, without rewriting the file the agent already
// produced.
func loadFinalArtifact(workspaceDir string) (*protocol.Artifact, error) {
	fullPath, err := fsutil.ResolveWorkspacePath(workspaceDir, finalArtifactName)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, err
	}
	return &protocol.Artifact{
		Path:      finalArtifactName,
		SHA256:    checksum.SHA256Bytes(content),
		SizeBytes: int64(len(content)),
	}, nil
}

// Semaphore is the global concurrency cap from spec.md §4.4: it limits
// concurrently running AgentInstances across every Job in the process, not
// just within one Scheduler.
type Semaphore struct {
	ch chan struct{}
}

// NewSemaphore creates a Semaphore admitting at most n concurrent holders.
func NewSemaphore(n int) *Semaphore {
	if n < 1 {
		n = 1
	}
	return &Semaphore{ch: make(chan struct{}, n)}
}

// Acquire blocks until a permit is available or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a permit to the pool.
func (s *Semaphore) Release() {
	<-s.ch
}

// AgentHandle is the subset of *supervisor.Supervisor the Scheduler needs,
// narrowed to an interface so tests can inject a fake launch outcome
// without spawning a real process.
type AgentHandle interface {
	Events() <-chan *protocol.ProgressEvent
	Result() supervisor.Result
}

// Launcher starts one AgentInstance attempt and returns a handle to observe
// it, or an error if the process never started.
type Launcher interface {
	Launch(ctx context.Context, jobID string, agentKey protocol.AgentKey, argv, env []string, workDir string, timeout time.Duration) (AgentHandle, error)
}

// supervisorLauncher is the real Launcher, wrapping internal/supervisor.
type supervisorLauncher struct {
	Logger        *slog.Logger
	MaxLineBytes  int
	GraceInterval time.Duration
}

func (l *supervisorLauncher) Launch(ctx context.Context, jobID string, agentKey protocol.AgentKey, argv, env []string, workDir string, timeout time.Duration) (AgentHandle, error) {
	sup := supervisor.New(jobID, agentKey, argv, env, workDir, l.Logger)
	if l.MaxLineBytes > 0 {
		sup.MaxLineBytes = l.MaxLineBytes
	}
	if l.GraceInterval > 0 {
		sup.GraceInterval = l.GraceInterval
	}
	if err := sup.Start(ctx, timeout); err != nil {
		return nil, err
	}
	return sup, nil
}

// Job is one scheduler run: a source spec shared by every agent, the
// objective text, a per-agent timeout, and the validated AgentInstance
// specs (three primaries plus the integrator).
type Job struct {
	ID          string
	Source      workspace.Source
	Objective   string
	Timeout     time.Duration
	Instances   []activation.AgentInstance
	Credentials config.Credentials
}

// AgentResult is the scheduler's internal record of one AgentInstance's
// outcome, the raw material for protocol.AgentSummary.
type AgentResult struct {
	AgentKey       protocol.AgentKey
	Kind           protocol.AgentKind
	Classification protocol.Classification
	Attempts       int
	StartedAt      *time.Time
	EndedAt        *time.Time
	Artifact       *protocol.Artifact
	Detail         string
}

// Scheduler runs Jobs against a shared Workspace Manager, Event Hub, and
// concurrency-cap Semaphore.
type Scheduler struct {
	WS                  *workspace.Manager
	Hub                 *eventhub.Hub
	Sem                 *Semaphore
	Retry               config.Retry
	RedactSecretsInLogs bool
	Logger              *slog.Logger
	Launcher            Launcher
}

// New constructs a Scheduler with the real supervisor-backed Launcher,
// threading policy.MaxLineBytes through to the Launcher's stdout/stderr
// truncation bound and policy.RedactSecretsInLogs into the per-launch debug
// log.
func New(ws *workspace.Manager, hub *eventhub.Hub, sem *Semaphore, policy config.Policy, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		WS:                  ws,
		Hub:                 hub,
		Sem:                 sem,
		Retry:               policy.Retry,
		RedactSecretsInLogs: policy.RedactSecretsInLogs,
		Logger:              logger,
		Launcher:            &supervisorLauncher{Logger: logger, MaxLineBytes: policy.MaxLineBytes},
	}
}

// Run executes job's two-phase plan and returns its terminal summary along
// with the workspace path materialized for each agent key (empty string for
// an agent whose workspace never materialized), so the caller can guarantee
// teardown of whatever was allocated.
func (s *Scheduler) Run(ctx context.Context, job Job) (protocol.JobSummary, map[protocol.AgentKey]string, error) {
	instanceByKey := make(map[protocol.AgentKey]activation.AgentInstance, len(job.Instances))
	for _, inst := range job.Instances {
		instanceByKey[inst.AgentKey] = inst
	}

	type outcome struct {
		result AgentResult
		path   string
	}

	resultsCh := make(chan outcome, len(protocol.PrimaryAgentKeys))
	for _, key := range protocol.PrimaryAgentKeys {
		inst := instanceByKey[key]
		go func() {
			path, result := s.runAgent(ctx, job, inst, nil)
			resultsCh <- outcome{result, path}
		}()
	}

	primaryResults := make(map[protocol.AgentKey]AgentResult, len(protocol.PrimaryAgentKeys))
	paths := make(map[protocol.AgentKey]string, len(protocol.PrimaryAgentKeys)+1)
	for range protocol.PrimaryAgentKeys {
		o := <-resultsCh
		primaryResults[o.result.AgentKey] = o.result
		paths[o.result.AgentKey] = o.path
	}

	cancelled := ctx.Err() != nil

	var integratorResult AgentResult
	var integratorPath string
	if cancelled {
		integratorResult = AgentResult{
			AgentKey:       protocol.AgentKeyIntegrator,
			Kind:           protocol.AgentKindIntegrator,
			Classification: protocol.ClassificationCancelled,
		}
	} else {
		s.emit(job.ID, protocol.AgentKeyJob, protocol.EventKindPhase, "integrating")
		integratorPath, integratorResult = s.runAgent(ctx, job, instanceByKey[protocol.AgentKeyIntegrator], paths)
	}
	paths[protocol.AgentKeyIntegrator] = integratorPath

	jobCls := composeClassification(cancelled, primaryResults, integratorResult.Classification)

	agents := make([]protocol.AgentSummary, 0, len(protocol.PrimaryAgentKeys)+1)
	for _, key := range protocol.PrimaryAgentKeys {
		agents = append(agents, toAgentSummary(primaryResults[key]))
	}
	agents = append(agents, toAgentSummary(integratorResult))

	summary := protocol.JobSummary{
		JobID:          job.ID,
		Classification: jobCls,
		Agents:         agents,
		FinalArtifact:  integratorResult.Artifact,
	}

	return summary, paths, nil
}

// runAgent allocates a workspace, plans the launch, and runs one
// AgentInstance to terminal state (with retry of transient launch
// failures). primaryWorkspaces is non-nil only for the integrator.
func (s *Scheduler) runAgent(ctx context.Context, job Job, inst activation.AgentInstance, primaryWorkspaces map[protocol.AgentKey]string) (string, AgentResult) {
	alloc, err := s.WS.Allocate(ctx, job.ID, inst.AgentKey, job.Source)
	if err != nil {
		s.emit(job.ID, inst.AgentKey, protocol.EventKindError, fmt.Sprintf("workspace allocation failed: %v", err))
		return "", AgentResult{
			AgentKey:       inst.AgentKey,
			Kind:           inst.Kind,
			Classification: protocol.ClassificationFailed,
			Detail:         err.Error(),
		}
	}
	path := alloc.Path

	if inst.AgentKey == protocol.AgentKeyIntegrator && len(primaryWorkspaces) > 0 {
		if err := workspace.LinkPrimaries(path, primaryWorkspaces); err != nil {
			s.emit(job.ID, inst.AgentKey, protocol.EventKindError, err.Error())
			return path, AgentResult{
				AgentKey:       inst.AgentKey,
				Kind:           inst.Kind,
				Classification: protocol.ClassificationFailed,
				Detail:         err.Error(),
			}
		}
	}

	ad, err := adapter.ForKind(inst.Kind)
	if err != nil {
		s.emit(job.ID, inst.AgentKey, protocol.EventKindError, err.Error())
		return path, AgentResult{
			AgentKey:       inst.AgentKey,
			Kind:           inst.Kind,
			Classification: protocol.ClassificationFailed,
			Detail:         err.Error(),
		}
	}

	plan, err := ad.Plan(adapter.PlanRequest{
		JobID:             job.ID,
		AgentKey:          inst.AgentKey,
		Model:             inst.Model,
		Objective:         job.Objective,
		WorkspaceDir:      path,
		Credentials:       job.Credentials,
		PrimaryWorkspaces: primaryWorkspaces,
	})
	if err != nil {
		s.emit(job.ID, inst.AgentKey, protocol.EventKindError, err.Error())
		return path, AgentResult{
			AgentKey:       inst.AgentKey,
			Kind:           inst.Kind,
			Classification: protocol.ClassificationFailed,
			Detail:         err.Error(),
		}
	}

	maxAttempts := s.Retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var handle AgentHandle
	attempts := 0
	for {
		attempts++

		launchKey, keyErr := idempotency.GenerateLaunchKey(idempotency.LaunchAttempt{
			JobID: job.ID, AgentKey: inst.AgentKey, Attempt: attempts, Argv: plan.Argv,
		})
		if keyErr != nil && s.Logger != nil {
			s.Logger.Warn("launch key derivation failed", "job_id", job.ID, "agent_key", inst.AgentKey, "error", keyErr)
		}

		if err := s.Sem.Acquire(ctx); err != nil {
			return path, AgentResult{
				AgentKey:       inst.AgentKey,
				Kind:           inst.Kind,
				Classification: protocol.ClassificationCancelled,
				Attempts:       attempts,
				Detail:         err.Error(),
			}
		}

		if s.Logger != nil {
			s.Logger.Debug("launching agent", "job_id", job.ID, "agent_key", inst.AgentKey,
				"attempt", attempts, "launch_key", launchKey, "argv", plan.Argv,
				"env", redactEnv(plan.Env, s.RedactSecretsInLogs))
		}

		h, launchErr := s.Launcher.Launch(ctx, job.ID, inst.AgentKey, plan.Argv, plan.Env, path, job.Timeout)
		if launchErr == nil {
			handle = h
			break
		}
		s.Sem.Release()

		if isTransientLaunchError(launchErr) && attempts < maxAttempts {
			s.emit(job.ID, inst.AgentKey, protocol.EventKindWarning,
				fmt.Sprintf("launch attempt %d/%d failed (%s), retrying: %v", attempts, maxAttempts, launchKey, launchErr))
			time.Sleep(backoffDuration(attempts, s.Retry.Backoff))
			continue
		}

		s.emit(job.ID, inst.AgentKey, protocol.EventKindError, launchErr.Error())
		return path, AgentResult{
			AgentKey:       inst.AgentKey,
			Kind:           inst.Kind,
			Classification: protocol.ClassificationFailed,
			Attempts:       attempts,
			Detail:         launchErr.Error(),
		}
	}

	eventsDone := make(chan struct{})
	go func() {
		defer close(eventsDone)
		for evt := range handle.Events() {
			s.Hub.Publish(evt)
		}
	}()
	<-eventsDone
	s.Sem.Release()

	res := handle.Result()
	result := AgentResult{
		AgentKey:       inst.AgentKey,
		Kind:           inst.Kind,
		Classification: res.Classification,
		Attempts:       attempts,
	}
	if !res.StartedAt.IsZero() {
		startedAt := res.StartedAt
		result.StartedAt = &startedAt
	}
	if !res.EndedAt.IsZero() {
		endedAt := res.EndedAt
		result.EndedAt = &endedAt
	}
	if res.ExitErr != nil {
		result.Detail = res.ExitErr.Error()
	}

	if inst.AgentKey == protocol.AgentKeyIntegrator && res.Classification == protocol.ClassificationSucceeded {
		if artifact, err := loadFinalArtifact(path); err == nil {
			result.Artifact = artifact
		} else {
			s.emit(job.ID, inst.AgentKey, protocol.EventKindWarning, fmt.Sprintf("final_report.md missing or unreadable: %v", err))
		}
	}

	return path, result
}

func (s *Scheduler) emit(jobID string, agentKey protocol.AgentKey, kind protocol.EventKind, payload string) {
	s.Hub.Publish(&protocol.ProgressEvent{
		JobID:     jobID,
		AgentKey:  agentKey,
		Kind:      kind,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
}

// composeClassification applies the failure-composition rule from spec.md
// §4.4: the worst of the agents' classifications, except that a successful
// integrator after a non-succeeding primary downgrades the result to
// partial-failure.
func composeClassification(cancelled bool, primaries map[protocol.AgentKey]AgentResult, integratorCls protocol.Classification) protocol.Classification {
	if cancelled {
		return protocol.ClassificationCancelled
	}

	primaryWorst := protocol.ClassificationSucceeded
	for _, r := range primaries {
		primaryWorst = protocol.Worse(primaryWorst, r.Classification)
	}

	if integratorCls == protocol.ClassificationSucceeded && primaryWorst != protocol.ClassificationSucceeded {
		return protocol.ClassificationPartialFailure
	}

	return protocol.Worse(primaryWorst, integratorCls)
}

func toAgentSummary(r AgentResult) protocol.AgentSummary {
	return protocol.AgentSummary{
		AgentKey:       r.AgentKey,
		Kind:           r.Kind,
		Classification: r.Classification,
		Attempts:       r.Attempts,
		StartedAt:      r.StartedAt,
		EndedAt:        r.EndedAt,
		Artifact:       r.Artifact,
		Detail:         r.Detail,
	}
}

// sensitiveEnvKeys marks env var name suffixes redactEnv treats as secret.
var sensitiveEnvKeys = []string{"CRED", "KEY", "TOKEN", "SECRET"}

// redactEnv returns env with the value of any CRED/KEY/TOKEN/SECRET-suffixed
// variable replaced by a placeholder, for logging a launch's environment
// without leaking the credentials adapter.Plan embedded in it. When redact
// (policy.RedactSecretsInLogs) is false, env is returned unchanged; the agent
// processes receive env unredacted either way.
func redactEnv(env []string, redact bool) []string {
	if !redact {
		return env
	}
	out := make([]string, len(env))
	for i, kv := range env {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			out[i] = kv
			continue
		}
		sensitive := false
		for _, suffix := range sensitiveEnvKeys {
			if strings.HasSuffix(strings.ToUpper(name), suffix) {
				sensitive = true
				break
			}
		}
		if sensitive {
			out[i] = name + "=***redacted***"
		} else {
			out[i] = kv
		}
	}
	return out
}

// isTransientLaunchError reports whether err looks like a transient
// fork/exec-boundary failure (resource exhaustion) rather than a permanent
// one (command not found, permission denied).
func isTransientLaunchError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	transient := []string{
		"resource temporarily unavailable",
		"text file busy",
		"too many open files",
		"cannot allocate memory",
	}
	for _, s := range transient {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// backoffDuration computes the exponential backoff for the given 1-indexed
// attempt number, capped at MaxMs, with full jitter when b.Jitter is "full".
func backoffDuration(attempt int, b config.Backoff) time.Duration {
	initial := b.InitialMs
	if initial <= 0 {
		initial = 1000
	}
	maxMs := b.MaxMs
	if maxMs <= 0 {
		maxMs = 60000
	}
	mult := b.Multiplier
	if mult <= 0 {
		mult = 2.0
	}

	ms := float64(initial)
	for i := 1; i < attempt; i++ {
		ms *= mult
		if ms > float64(maxMs) {
			ms = float64(maxMs)
			break
		}
	}

	if strings.EqualFold(b.Jitter, "full") {
		ms = rand.Float64() * ms
	}

	return time.Duration(ms) * time.Millisecond
}
