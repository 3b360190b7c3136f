package receipt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/schoolcore/fees-management/internal/core/datamodel/student"
	"github.com/schoolcore/fees-management/internal/core/events"
	"github.com/schoolcore/fees-management/internal/mail"
)

// Job is one receipt email waiting for a worker.
type Job struct {
	TransactionID int64
	StudentID     int64
	ReceiptNumber string
	PaymentRef    string
	Amount        decimal.Decimal
	PaidAt        time.Time
}

type Worker struct {
	ID         int
	WorkerPool chan chan Job
	JobChannel chan Job
	Logger     *slog.Logger
}

func NewWorker(id int, workerPool chan chan Job, logger *slog.Logger) *Worker {
	return &Worker{
		ID:         id,
		WorkerPool: workerPool,
		JobChannel: make(chan Job),
		Logger:     logger,
	}
}

func (w *Worker) Start(ctx context.Context, wg *sync.WaitGroup, processFunc func(Job)) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			w.WorkerPool <- w.JobChannel

			select {
			case job := <-w.JobChannel:
				w.Logger.Debug("worker processing receipt", "worker_id", w.ID, "transaction_id", job.TransactionID)
				processFunc(job)
			case <-ctx.Done():
				w.Logger.Debug("receipt worker shutting down", "worker_id", w.ID)
				return
			}
		}
	}()
}

// StudentDirectory resolves a student for addressing the receipt.
type StudentDirectory interface {
	GetStudent(id int64) (*student.Student, error)
}

// DeliveryLog records that a receipt email went out, so the standalone
// receipts worker does not send it again. Recording happens after the send:
// a lost mark costs a duplicate email, never a missing one.
type DeliveryLog interface {
	MarkReceiptEmailed(id int64) error
}

type Config struct {
	SchoolName string
	MaxWorkers int
	QueueSize  int
}

// Emitter listens for completed payments and emails a receipt to the
// student. Delivery is best effort: the payment stays completed whether or
// not the email goes out, so every failure here is logged and dropped.
type Emitter struct {
	sender     mail.Sender
	students   StudentDirectory
	deliveries DeliveryLog
	cfg        Config
	logger     *slog.Logger

	jobQueue   chan Job
	workerPool chan chan Job
	maxWorkers int
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	once       sync.Once
}

func NewEmitter(sender mail.Sender, students StudentDirectory, deliveries DeliveryLog, cfg Config, logger *slog.Logger) *Emitter {
	ctx, cancel := context.WithCancel(context.Background())

	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 100
	}
	if cfg.SchoolName == "" {
		cfg.SchoolName = "School Administration"
	}

	e := &Emitter{
		sender:     sender,
		students:   students,
		deliveries: deliveries,
		cfg:        cfg,
		logger:     logger,

		maxWorkers: maxWorkers,
		jobQueue:   make(chan Job, queueSize),
		workerPool: make(chan chan Job, maxWorkers),
		ctx:        ctx,
		cancel:     cancel,
	}

	e.startWorkerPool()

	return e
}

func (e *Emitter) startWorkerPool() {
	e.once.Do(func() {
		for i := 0; i < e.maxWorkers; i++ {
			worker := NewWorker(i, e.workerPool, e.logger)
			worker.Start(e.ctx, &e.wg, e.processJob)
		}

		e.wg.Add(1)
		go e.dispatch()

		e.logger.Info("receipt worker pool started",
			"max_workers", e.maxWorkers,
			"queue_size", cap(e.jobQueue))
	})
}

func (e *Emitter) dispatch() {
	defer e.wg.Done()

	for {
		select {
		case job := <-e.jobQueue:
			select {
			case jobChannel := <-e.workerPool:
				select {
				case jobChannel <- job:
				case <-e.ctx.Done():
					return
				}
			case <-e.ctx.Done():
				return
			}
		case <-e.ctx.Done():
			return
		}
	}
}

func (e *Emitter) Shutdown() {
	e.logger.Info("shutting down receipt emitter")
	e.cancel()
	e.wg.Wait()
	e.logger.Info("receipt emitter shutdown complete")
}

// SubscribeTo registers the emitter on the bus for completed payments.
func (e *Emitter) SubscribeTo(bus *events.EventBus) {
	bus.Subscribe(events.EventTypePaymentCompleted, e.handleEvent)
}

func (e *Emitter) handleEvent(ctx context.Context, event events.Event) error {
	completed, ok := event.(*events.PaymentCompletedEvent)
	if !ok {
		return fmt.Errorf("unexpected event payload for %s", event.EventType())
	}

	job := Job{
		TransactionID: completed.TransactionID,
		StudentID:     completed.StudentID,
		ReceiptNumber: completed.ReceiptNumber,
		PaymentRef:    completed.PaymentRef,
		Amount:        completed.Amount,
		PaidAt:        completed.OccurredAt(),
	}

	select {
	case e.jobQueue <- job:
		e.logger.Info("receipt queued",
			"transaction_id", job.TransactionID,
			"receipt_number", job.ReceiptNumber,
			"queue_length", len(e.jobQueue))
	default:
		// the payment itself is already completed, so a full queue only
		// costs us an email
		e.logger.Warn("receipt queue full, dropping receipt email",
			"transaction_id", job.TransactionID,
			"queue_capacity", cap(e.jobQueue))
	}

	return nil
}

func (e *Emitter) processJob(job Job) {
	st, err := e.students.GetStudent(job.StudentID)
	if err != nil {
		e.logger.Error("receipt: student lookup failed",
			"student_id", job.StudentID,
			"transaction_id", job.TransactionID,
			"error", err)
		return
	}

	text, html, err := Render(Data{
		StudentName:   st.FullName(),
		ReceiptNumber: job.ReceiptNumber,
		TransactionID: job.TransactionID,
		Amount:        job.Amount,
		PaymentRef:    job.PaymentRef,
		PaidAt:        job.PaidAt,
		SchoolName:    e.cfg.SchoolName,
	})
	if err != nil {
		e.logger.Error("receipt: render failed",
			"transaction_id", job.TransactionID,
			"error", err)
		return
	}

	msg := &mail.Message{
		ToName:      st.FullName(),
		ToEmail:     st.Email,
		Subject:     fmt.Sprintf("Payment receipt %s", job.ReceiptNumber),
		TextContent: text,
		HTMLContent: html,
	}

	if err := e.sender.Send(e.ctx, msg); err != nil {
		e.logger.Error("receipt: send failed",
			"transaction_id", job.TransactionID,
			"to", st.Email,
			"error", err)
		return
	}

	e.logger.Info("receipt sent",
		"transaction_id", job.TransactionID,
		"receipt_number", job.ReceiptNumber,
		"to", st.Email)

	if e.deliveries != nil {
		if err := e.deliveries.MarkReceiptEmailed(job.TransactionID); err != nil {
			e.logger.Error("receipt: marking delivery failed",
				"transaction_id", job.TransactionID,
				"error", err)
		}
	}
}
