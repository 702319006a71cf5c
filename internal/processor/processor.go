// Package processor implements the queue poll loop and the per-message
// execution lifecycle.
package processor

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/flowforge/browser-runner/internal/database"
	"github.com/flowforge/browser-runner/internal/executor"
	"github.com/flowforge/browser-runner/internal/logging"
	"github.com/flowforge/browser-runner/internal/metrics"
	"github.com/flowforge/browser-runner/internal/queue"
	"github.com/flowforge/browser-runner/internal/report"
	"github.com/flowforge/browser-runner/internal/storage"
	"github.com/flowforge/browser-runner/internal/task"
)

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

// Config controls the poll loop and worker pool.
type Config struct {
	// Concurrency caps messages processed in parallel.
	Concurrency int
	// BatchSize is the max deliveries requested per receive.
	BatchSize int
	// PollWait bounds how long one receive may block.
	PollWait time.Duration
	// Grace pads the visibility extension beyond the task timeout to cover
	// uploads and reporting.
	Grace time.Duration
	// StoragePrefix namespaces artifact keys in the object store.
	StoragePrefix string
}

// Processor consumes deliveries and runs them through classification,
// execution, upload, report, and acknowledgment.
type Processor struct {
	queue      queue.Provider
	store      storage.Provider
	reporter   report.Client
	automation executor.Executor
	scan       executor.Executor
	attempts   database.Provider
	clock      Clock
	logger     *zap.Logger
	cfg        Config

	sem      chan struct{}
	wg       sync.WaitGroup
	inFlight atomic.Int64
}

// New constructs a Processor.
func New(
	q queue.Provider,
	store storage.Provider,
	reporter report.Client,
	automation executor.Executor,
	scan executor.Executor,
	attempts database.Provider,
	clock Clock,
	cfg Config,
	logger *zap.Logger,
) *Processor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = cfg.Concurrency
	}
	if cfg.PollWait <= 0 {
		cfg.PollWait = 20 * time.Second
	}
	if cfg.Grace <= 0 {
		cfg.Grace = time.Minute
	}
	if cfg.StoragePrefix == "" {
		cfg.StoragePrefix = "browser-automation"
	}
	return &Processor{
		queue:      q,
		store:      store,
		reporter:   reporter,
		automation: automation,
		scan:       scan,
		attempts:   attempts,
		clock:      clock,
		logger:     logger,
		cfg:        cfg,
		sem:        make(chan struct{}, cfg.Concurrency),
	}
}

// InFlight returns how many messages are currently being processed.
func (p *Processor) InFlight() int {
	return int(p.inFlight.Load())
}

// Run polls the queue until the context finishes, then waits for in-flight
// work to drain.
func (p *Processor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			break
		}
		deliveries, err := p.queue.Receive(ctx, p.cfg.BatchSize, p.cfg.PollWait)
		metrics.ObserveQueueOp("receive", err)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			p.logger.Error("queue receive failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		for _, d := range deliveries {
			p.handle(ctx, d)
		}
	}
	p.wg.Wait()
}

// handle routes one delivery. Invalid messages are deleted immediately; valid
// ones are executed on a worker slot when one is free. With the pool
// saturated the message is left unacknowledged so the queue redelivers it.
func (p *Processor) handle(ctx context.Context, d queue.Delivery) {
	cls := task.Classify(d.Body)
	if cls.Kind == task.KindInvalid {
		p.logger.Warn("invalid message deleted",
			zap.String("message_id", d.MessageID),
			zap.String("project_id", cls.Message.ProjectID),
			zap.String("flow_id", cls.Message.FlowID),
			zap.String("type", string(cls.Message.Type)),
			zap.String("reason", cls.Reason),
		)
		metrics.ObserveInvalidMessage()
		err := p.queue.Delete(ctx, d.Receipt)
		metrics.ObserveQueueOp("delete", err)
		if err != nil {
			p.logger.Error("delete invalid message failed",
				zap.String("message_id", d.MessageID), zap.Error(err))
		}
		return
	}

	select {
	case p.sem <- struct{}{}:
	default:
		p.logger.Debug("worker pool saturated, leaving message for redelivery",
			zap.String("message_id", d.MessageID))
		return
	}

	// Buy enough visibility for the run plus upload/report grace before the
	// queue hands the message to someone else.
	if err := p.queue.ExtendVisibility(ctx, d.Receipt, cls.Message.Timeout()+p.cfg.Grace); err != nil {
		p.logger.Warn("extend visibility failed",
			zap.String("message_id", d.MessageID), zap.Error(err))
	}

	p.wg.Add(1)
	p.inFlight.Add(1)
	metrics.WorkerStarted()
	go func() {
		defer func() {
			<-p.sem
			p.inFlight.Add(-1)
			metrics.WorkerFinished()
			p.wg.Done()
		}()
		p.process(ctx, d, cls)
	}()
}

// process runs one classified message end to end.
func (p *Processor) process(ctx context.Context, d queue.Delivery, cls task.Classification) {
	msg := cls.Message
	start := p.clock.Now()
	log := logging.ForTask(p.logger, d.MessageID, msg.ProjectID, msg.FlowID, string(msg.Type))

	var exec executor.Executor
	switch cls.Kind {
	case task.KindAutomation:
		exec = p.automation
	case task.KindScan:
		exec = p.scan
	default:
		log.Error("unroutable classification")
		return
	}

	result, execErr := exec.Execute(ctx, msg)
	if execErr != nil {
		log.Warn("execution failed", zap.String("kind", string(task.KindOf(execErr))), zap.Error(execErr))
	}

	mediaURLs, uploaded := p.uploadArtifacts(ctx, d.MessageID, msg, result, log)

	reportErr := p.reporter.SendSessionResult(ctx, msg.ProjectID, msg.FlowID,
		p.buildSessionResult(msg, result, mediaURLs, uploaded))
	metrics.ObserveReport(reportErr == nil)
	if reportErr != nil {
		log.Error("report delivery failed", zap.Error(reportErr))
	}

	duration := p.clock.Now().Sub(start)
	metrics.ObserveTask(string(msg.Type), string(result.Status), duration)

	// The message is acknowledged only when the execution completed and its
	// report was delivered. Everything else rides the queue's redelivery and
	// dead-letter policy.
	if result.Status == task.StatusCompleted && reportErr == nil {
		err := p.queue.Delete(ctx, d.Receipt)
		metrics.ObserveQueueOp("delete", err)
		if err != nil {
			log.Error("delete message failed", zap.Error(err))
		} else {
			log.Info("task completed", zap.Duration("duration", duration))
		}
	} else {
		log.Info("task left for redelivery",
			zap.String("status", string(result.Status)),
			zap.Bool("report_delivered", reportErr == nil),
			zap.Duration("duration", duration),
		)
	}

	p.recordAttempt(ctx, d.MessageID, msg, result, duration, log)
}

// uploadArtifacts puts every artifact with per-artifact failure tolerance and
// removes the temp files afterwards.
func (p *Processor) uploadArtifacts(ctx context.Context, messageID string, msg task.Message, result *task.Result, log *zap.Logger) ([]string, int) {
	var urls []string
	uploaded := 0
	for _, artifact := range result.Artifacts {
		url, err := p.uploadArtifact(ctx, messageID, msg, artifact)
		os.Remove(artifact.Path)
		metrics.ObserveUpload(err == nil)
		if err != nil {
			log.Warn("artifact upload failed",
				zap.String("artifact", artifact.Name), zap.Error(err))
			continue
		}
		urls = append(urls, url)
		uploaded++
	}
	return urls, uploaded
}

func (p *Processor) uploadArtifact(ctx context.Context, messageID string, msg task.Message, artifact task.Artifact) (string, error) {
	data, err := os.ReadFile(artifact.Path)
	if err != nil {
		return "", task.Errorf(task.KindUploadFailure, "read artifact %s: %w", artifact.Name, err)
	}
	// Deterministic keys: a redelivered message overwrites its own artifacts
	// instead of duplicating them.
	key := fmt.Sprintf("%s/%s/%s/%s_%s",
		p.cfg.StoragePrefix, msg.ProjectID, msg.FlowID, messageID, artifact.Name)
	url, err := p.store.Put(ctx, key, artifact.ContentType, data)
	if err != nil {
		return "", task.Errorf(task.KindUploadFailure, "put artifact %s: %w", artifact.Name, err)
	}
	return url, nil
}

func (p *Processor) buildSessionResult(msg task.Message, result *task.Result, mediaURLs []string, uploaded int) report.SessionResult {
	sr := report.SessionResult{
		AgentHistory: result.Steps,
		MediaURLs:    mediaURLs,
		Status:       result.Status,
		Timestamp:    p.clock.Now().UTC().Format(time.RFC3339),
		ScanData:     result.Data,
		Metadata: report.Metadata{
			ResultSummary:     result.Summary,
			MediaFileCount:    len(result.Artifacts),
			SuccessfulUploads: uploaded,
			StartingURL:       msg.URL,
			TaskPrompt:        msg.Prompt,
		},
	}
	if sr.AgentHistory == nil {
		sr.AgentHistory = []task.Step{}
	}
	if sr.MediaURLs == nil {
		sr.MediaURLs = []string{}
	}
	if result.Err != nil {
		sr.Error = result.Err.Error()
	}
	return sr
}

func (p *Processor) recordAttempt(ctx context.Context, messageID string, msg task.Message, result *task.Result, duration time.Duration, log *zap.Logger) {
	attempt := database.Attempt{
		MessageID: messageID,
		ProjectID: msg.ProjectID,
		FlowID:    msg.FlowID,
		Type:      string(msg.Type),
		Status:    string(result.Status),
		Duration:  duration,
	}
	if result.Err != nil {
		attempt.Error = result.Err.Error()
	}
	if _, err := p.attempts.RecordAttempt(ctx, attempt); err != nil {
		log.Warn("record attempt failed", zap.Error(err))
	}
}
