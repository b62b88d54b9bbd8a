package writer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/spectragram/benchworker/internal/benchmark/domain"
	"github.com/spectragram/benchworker/internal/benchmark/store"
)

// Command is one persistence mutation routed through the writer.
type Command interface {
	isCommand()
}

// IdentityReply carries the resolved keys (or the failure) of an
// UpsertIdentity command back to the submitting task.
type IdentityReply struct {
	IDs domain.IdentityIDs
	Err error
}

// UpsertIdentity resolves the (dataset, variant, utterance) identity rows.
// Reply must be buffered; it receives exactly one value once the enclosing
// batch has committed.
type UpsertIdentity struct {
	DatasetName string
	Variant     domain.Variant
	Utt         domain.Utterance
	Reply       chan IdentityReply
}

func (UpsertIdentity) isCommand() {}

// InsertPrediction writes one prediction and its latency sample.
type InsertPrediction struct {
	JobRunID           int64
	UttPK              int64
	Transcript         domain.Transcript
	TotalTimeMS        float64
	RTF                float64
	RTFMissingDuration bool
}

func (InsertPrediction) isCommand() {}

// MetricEntry is one metric_summary row within an InsertSummaryBatch.
type MetricEntry struct {
	DatasetID int64
	VariantID int64
	Metric    string
	Value     float64
}

// IntervalEntry is one bootstrap_result row within an InsertSummaryBatch.
type IntervalEntry struct {
	DatasetID int64
	VariantID int64
	CI        domain.CIResult
}

// InsertSummaryBatch writes a bucket's metrics and confidence intervals.
type InsertSummaryBatch struct {
	JobRunID  int64
	Metrics   []MetricEntry
	Intervals []IntervalEntry
}

func (InsertSummaryBatch) isCommand() {}

// Writer is the single serialized path for persistence mutations during the
// inference phase. Queued commands are drained into batched transactions; a
// failed batch rolls back entirely and stops the writer.
type Writer struct {
	store     *store.Store
	logger    *slog.Logger
	batchSize int

	commands chan Command
	done     chan struct{}

	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

// New creates a writer. batchSize bounds how many queued commands share one
// transaction.
func New(st *store.Store, logger *slog.Logger, batchSize int) *Writer {
	if batchSize <= 0 {
		batchSize = 64
	}
	return &Writer{
		store:     st,
		logger:    logger,
		batchSize: batchSize,
		commands:  make(chan Command, batchSize*2),
		done:      make(chan struct{}),
	}
}

// Start launches the writer goroutine.
func (w *Writer) Start() {
	go w.loop()
}

// Stop closes the command channel, waits for the queue to drain, and returns
// the writer's failure if a batch could not be committed.
func (w *Writer) Stop() error {
	w.closeOnce.Do(func() { close(w.commands) })
	<-w.done
	return w.Err()
}

// Err returns the fatal batch error, if any.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Submit enqueues a command, honoring cancellation while the queue is full.
func (w *Writer) Submit(ctx context.Context, cmd Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := w.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrWriterClosed, err)
	}
	// Never send on the closed command channel after Stop.
	select {
	case <-w.done:
		return domain.ErrWriterClosed
	default:
	}
	select {
	case <-w.done:
		return domain.ErrWriterClosed
	case <-ctx.Done():
		return ctx.Err()
	case w.commands <- cmd:
		return nil
	}
}

// ResolveIdentity submits an UpsertIdentity command and blocks until the
// identity write is acknowledged (committed) or the context is cancelled.
func (w *Writer) ResolveIdentity(ctx context.Context, datasetName string, variant domain.Variant, utt domain.Utterance) (domain.IdentityIDs, error) {
	reply := make(chan IdentityReply, 1)
	cmd := UpsertIdentity{
		DatasetName: datasetName,
		Variant:     variant,
		Utt:         utt,
		Reply:       reply,
	}
	if err := w.Submit(ctx, cmd); err != nil {
		return domain.IdentityIDs{}, err
	}
	select {
	case <-ctx.Done():
		return domain.IdentityIDs{}, ctx.Err()
	case r := <-reply:
		return r.IDs, r.Err
	}
}

func (w *Writer) loop() {
	defer close(w.done)

	for {
		cmd, ok := <-w.commands
		if !ok {
			return
		}

		batch := []Command{cmd}
	drain:
		for len(batch) < w.batchSize {
			select {
			case next, open := <-w.commands:
				if !open {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}

		if err := w.commitBatch(batch); err != nil {
			w.logger.Error("Writer batch failed",
				slog.Int("batch_size", len(batch)),
				slog.Any("error", err),
			)
			w.fail(batch, err)
			// Drain remaining commands so submitters are not stuck, then exit.
			for rest := range w.commands {
				w.refuse(rest, err)
			}
			return
		}
	}
}

// commitBatch applies every command of one batch in a single transaction.
// Identity replies are delivered only after the commit so an acknowledgement
// always means the row is durable.
func (w *Writer) commitBatch(batch []Command) error {
	ctx := context.Background()

	tx, err := w.store.DB().BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin writer transaction: %w", err)
	}

	replies := make([]func(), 0, len(batch))

	for _, cmd := range batch {
		switch c := cmd.(type) {
		case UpsertIdentity:
			ids, err := w.store.UpsertIdentity(ctx, tx, c.DatasetName, c.Variant, c.Utt)
			if err != nil {
				tx.Rollback()
				c.Reply <- IdentityReply{Err: err}
				return err
			}
			reply := c.Reply
			replies = append(replies, func() { reply <- IdentityReply{IDs: ids} })

		case InsertPrediction:
			if err := w.store.InsertPrediction(ctx, tx, c.JobRunID, c.UttPK, c.Transcript, c.TotalTimeMS, c.RTF, c.RTFMissingDuration); err != nil {
				tx.Rollback()
				return err
			}

		case InsertSummaryBatch:
			for _, m := range c.Metrics {
				if err := w.store.InsertMetricSummary(ctx, tx, c.JobRunID, m.DatasetID, m.VariantID, m.Metric, m.Value); err != nil {
					tx.Rollback()
					return err
				}
			}
			for _, iv := range c.Intervals {
				if err := w.store.InsertBootstrapResult(ctx, tx, c.JobRunID, iv.DatasetID, iv.VariantID, iv.CI); err != nil {
					tx.Rollback()
					return err
				}
			}

		default:
			tx.Rollback()
			return fmt.Errorf("unknown writer command %T", cmd)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit writer batch: %w", err)
	}

	for _, send := range replies {
		send()
	}
	return nil
}

func (w *Writer) fail(batch []Command, err error) {
	w.mu.Lock()
	if w.err == nil {
		w.err = err
	}
	w.mu.Unlock()

	for _, cmd := range batch {
		w.refuse(cmd, err)
	}
}

// refuse unblocks an identity submitter after the writer has failed.
func (w *Writer) refuse(cmd Command, err error) {
	if u, ok := cmd.(UpsertIdentity); ok {
		select {
		case u.Reply <- IdentityReply{Err: err}:
		default:
		}
	}
}
