package worker

import (
	"compress/gzip"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"blob-vault/internal/email"
	"blob-vault/internal/hub"
	"blob-vault/internal/report"
	"blob-vault/internal/storage"
)

// maxAttachmentSize caps report attachments; bigger artifacts fall back to
// a download link.
const maxAttachmentSize = 25 * 1024 * 1024

// Pool runs inventory report jobs with a bounded queue. The cursor
// semaphore is shared with the download path so reports and downloads
// together never hold more database cursors than configured.
type Pool struct {
	jobQueue  chan *ReportJob
	workers   int
	cursorSem *semaphore.Weighted
	wg        sync.WaitGroup
	quit      chan struct{}

	jobsMu sync.RWMutex
	jobs   map[string]*ReportJob

	db           *sql.DB
	storage      storage.Provider
	emailer      email.Sender
	events       *hub.Hub
	useGzip      bool
	attachReport bool
}

// NewPool initializes the pool; call Start to begin processing.
func NewPool(workers int, cursorSem *semaphore.Weighted, db *sql.DB, store storage.Provider, emailer email.Sender, events *hub.Hub, useGzip, attachReport bool) *Pool {
	return &Pool{
		jobQueue:     make(chan *ReportJob, 100),
		workers:      workers,
		cursorSem:    cursorSem,
		quit:         make(chan struct{}),
		jobs:         make(map[string]*ReportJob),
		db:           db,
		storage:      store,
		emailer:      emailer,
		events:       events,
		useGzip:      useGzip,
		attachReport: attachReport,
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.workerLoop(i)
	}
	slog.Info("Report worker pool started", "workers", p.workers)
}

// Submit queues a job; reports false when the queue is full or the pool is
// shutting down.
func (p *Pool) Submit(job *ReportJob) bool {
	select {
	case p.jobQueue <- job:
		p.jobsMu.Lock()
		p.jobs[job.ID] = job
		p.jobsMu.Unlock()
		return true
	case <-p.quit:
		return false
	default:
		return false
	}
}

// JobSnapshot is a point-in-time view of a tracked job, safe to serialize.
type JobSnapshot struct {
	ID          string    `json:"id"`
	Format      string    `json:"format"`
	Status      JobStatus `json:"status"`
	Submitted   time.Time `json:"submitted"`
	Rows        int64     `json:"rows,omitempty"`
	ArtifactKey string    `json:"artifact_key,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// JobStatus reports the current state of a tracked job.
func (p *Pool) JobStatus(id string) (JobSnapshot, bool) {
	p.jobsMu.RLock()
	defer p.jobsMu.RUnlock()

	job, ok := p.jobs[id]
	if !ok {
		return JobSnapshot{}, false
	}

	snap := JobSnapshot{
		ID:          job.ID,
		Format:      job.Format,
		Status:      job.Status,
		Submitted:   job.Submitted,
		ArtifactKey: job.ArtifactKey,
	}
	if job.Stats != nil {
		snap.Rows = job.Stats.Rows
	}
	if job.Error != nil {
		snap.Error = job.Error.Error()
	}
	return snap, true
}

// setStatus serializes job mutations against JobStatus readers.
func (p *Pool) setStatus(job *ReportJob, status JobStatus) {
	p.jobsMu.Lock()
	job.Status = status
	p.jobsMu.Unlock()
}

// Stop initiates graceful shutdown.
func (p *Pool) Stop() {
	close(p.quit)
	p.wg.Wait()
	slog.Info("Report worker pool stopped")
}

func (p *Pool) workerLoop(id int) {
	defer p.wg.Done()
	slog.Debug("Report worker started", "worker_id", id)

	for {
		select {
		case job, ok := <-p.jobQueue:
			if !ok {
				return
			}
			p.processJob(id, job)
		case <-p.quit:
			return
		}
	}
}

func (p *Pool) processJob(workerID int, job *ReportJob) {
	defer job.Cancel()
	slog.Info("Processing report job", "worker_id", workerID, "job_id", job.ID, "format", job.Format)

	job.Started = time.Now()
	p.setStatus(job, StatusProcessing)
	waitTime := job.Started.Sub(job.Submitted)

	p.events.Broadcast(hub.Event{Type: hub.EventReportStarted, JobID: job.ID})

	if err := p.cursorSem.Acquire(job.Ctx, 1); err != nil {
		p.failJob(job, fmt.Errorf("failed to acquire database cursor: %w", err))
		return
	}
	err := p.generateReport(job)
	p.cursorSem.Release(1)

	if err != nil {
		p.failJob(job, err)
		return
	}

	job.Finished = time.Now()
	p.setStatus(job, StatusCompleted)

	slog.Info("Report job completed", "job_id", job.ID, "rows", job.Stats.Rows)
	p.events.Broadcast(hub.Event{Type: hub.EventReportCompleted, JobID: job.ID, Rows: int(job.Stats.Rows)})

	summary := fmt.Sprintf(
		"Job ID: %s\nFiles listed: %d\nTotal content bytes: %d\nSubmitted: %s\nStarted: %s (wait: %v)\nFinished: %s\nQuery duration: %v\n",
		job.ID,
		job.Stats.Rows,
		job.Stats.Bytes,
		job.Submitted.Format(time.DateTime),
		job.Started.Format(time.DateTime), waitTime,
		job.Finished.Format(time.DateTime),
		job.Stats.Duration,
	)

	p.notify(job, summary)
}

// generateReport streams the inventory through the chosen encoder into
// storage: DB -> encoder -> [gzip] -> pipe -> provider.
func (p *Pool) generateReport(job *ReportJob) error {
	ext := job.Format
	if ext == "excel" {
		ext = "xlsx"
	}
	key := fmt.Sprintf("reports/%s.%s", job.ID, ext)
	if p.useGzip {
		key += ".gz"
	}
	p.jobsMu.Lock()
	job.ArtifactKey = key
	p.jobsMu.Unlock()

	storageWriter, errChan := p.storage.StreamToFile(job.Ctx, job.ArtifactKey)
	if storageWriter == nil {
		return fmt.Errorf("storage setup failed: %w", <-errChan)
	}

	var finalWriter io.WriteCloser = storageWriter
	if p.useGzip {
		finalWriter = gzip.NewWriter(storageWriter)
	}

	var encoder report.Encoder
	switch job.Format {
	case "json":
		encoder = report.NewJSONEncoder(finalWriter)
	case "excel":
		encoder = report.NewExcelEncoder(finalWriter)
	case "pdf":
		encoder = report.NewPDFEncoder(finalWriter)
	default:
		encoder = report.NewCSVEncoder(finalWriter)
	}

	stats, streamErr := report.Stream(job.Ctx, p.db, encoder)

	encoderCloseErr := encoder.Close()

	// Gzip must close first to flush its footer, then the pipe.
	var gzipCloseErr error
	if gw, ok := finalWriter.(*gzip.Writer); ok {
		gzipCloseErr = gw.Close()
	}
	storageCloseErr := storageWriter.Close()
	uploadErr := <-errChan

	if streamErr != nil {
		return fmt.Errorf("report generation failed: %w", streamErr)
	}
	if encoderCloseErr != nil {
		return fmt.Errorf("encoder close failed: %w", encoderCloseErr)
	}
	if gzipCloseErr != nil {
		return fmt.Errorf("gzip close failed: %w", gzipCloseErr)
	}
	if storageCloseErr != nil {
		return fmt.Errorf("storage close failed: %w", storageCloseErr)
	}
	if uploadErr != nil {
		return fmt.Errorf("upload failed: %w", uploadErr)
	}

	p.jobsMu.Lock()
	job.Stats = stats
	p.jobsMu.Unlock()
	return nil
}

func (p *Pool) notify(job *ReportJob, summary string) {
	if job.Email == "" {
		return
	}

	if !p.attachReport {
		p.emailer.SendDownloadLink(job.Email, p.storage.GetDownloadURL(job.ArtifactKey), summary)
		return
	}

	content, err := p.readArtifact(job)
	if err != nil {
		slog.Warn("Skipping attachment", "key", job.ArtifactKey, "error", err)
		url := p.storage.GetDownloadURL(job.ArtifactKey)
		p.emailer.SendDownloadLink(job.Email, url, summary+fmt.Sprintf("\nAttachment skipped: %v", err))
		return
	}
	p.emailer.SendWithAttachment(job.Email, job.ArtifactKey, content, summary)
}

func (p *Pool) readArtifact(job *ReportJob) ([]byte, error) {
	reader, err := p.storage.OpenFile(job.Ctx, job.ArtifactKey)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	content, err := io.ReadAll(io.LimitReader(reader, maxAttachmentSize+1))
	if err != nil {
		return nil, err
	}
	if len(content) > maxAttachmentSize {
		return nil, fmt.Errorf("artifact exceeds max attachment size (%d bytes)", maxAttachmentSize)
	}
	return content, nil
}

func (p *Pool) failJob(job *ReportJob, err error) {
	p.jobsMu.Lock()
	job.Error = err
	job.Finished = time.Now()
	job.Status = StatusFailed
	p.jobsMu.Unlock()
	slog.Error("Report job failed", "job_id", job.ID, "error", err)
	p.events.Broadcast(hub.Event{Type: hub.EventReportFailed, JobID: job.ID})
}
