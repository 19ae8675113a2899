// Package amqp retrieves products through a partner service reached over RabbitMQ.
// Retrieval requests are published to a request queue; the partner reports job
// progress on a status queue and finally a URL the payload can be fetched from.
package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"github.com/timmy/tiercache/internal/domain"
	"github.com/timmy/tiercache/internal/logger"
	"github.com/timmy/tiercache/internal/remote"
)

// Statuses is the partner service vocabulary.
var Statuses = remote.StatusMap{
	"accepted":    domain.JobStatusRunning,
	"in_progress": domain.JobStatusRunning,
	"done":        domain.JobStatusCompleted,
	"error":       domain.JobStatusFailed,
	"rejected":    domain.JobStatusFailed,
	"cancelled":   domain.JobStatusFailed,
}

// Config holds broker settings.
type Config struct {
	URL          string
	RequestQueue string
	StatusQueue  string
	Timeout      time.Duration
	// MaxJobAge fails a running job once it has been silent this long past its
	// estimated completion. Zero disables the deadline.
	MaxJobAge time.Duration
}

// RetrievalRequest is published for every submitted product.
type RetrievalRequest struct {
	JobID       string    `json:"job_id"`
	ProductUUID string    `json:"product_uuid"`
	Identifier  string    `json:"identifier"`
	Size        int64     `json:"size"`
	ReplyTo     string    `json:"reply_to"`
	RequestedAt time.Time `json:"requested_at"`
}

// StatusUpdate is consumed from the status queue.
type StatusUpdate struct {
	JobID               string     `json:"job_id"`
	Status              string     `json:"status"`
	Message             string     `json:"message,omitempty"`
	DownloadURL         string     `json:"download_url,omitempty"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
}

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// Adapter implements remote.Adapter on top of a broker connection.
type Adapter struct {
	cfg  Config
	log  *logger.Logger
	http *resty.Client

	conn    *amqp091.Connection
	channel publisher
	closeCh func() error

	mu   sync.RWMutex
	jobs map[string]*StatusUpdate
	// last submit or status update per job, or the first poll of an unknown job
	touched map[string]time.Time
	now     func() time.Time

	wg sync.WaitGroup
}

// Dial connects to the broker, declares both queues and starts consuming status updates.
func Dial(cfg Config) (*Adapter, error) {
	conn, err := amqp091.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	for _, name := range []string{cfg.RequestQueue, cfg.StatusQueue} {
		if _, err := ch.QueueDeclare(
			name,  // queue name
			true,  // durable
			false, // auto-delete
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to declare queue %s: %w", name, err)
		}
	}

	deliveries, err := ch.Consume(
		cfg.StatusQueue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to consume %s: %w", cfg.StatusQueue, err)
	}

	a := newAdapter(cfg, ch)
	a.conn = conn
	a.closeCh = ch.Close

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for d := range deliveries {
			a.handleDelivery(d.Body)
			if err := d.Ack(false); err != nil {
				a.log.WithError(err).Warn("Failed to ack status update")
			}
		}
	}()

	a.log.Info("RabbitMQ adapter initialized")
	return a, nil
}

func newAdapter(cfg Config, ch publisher) *Adapter {
	client := resty.New()
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	return &Adapter{
		cfg:     cfg,
		log:     logger.GetDefault().WithField(logger.FieldComponent, "amqp").WithField("queue", cfg.RequestQueue),
		http:    client,
		channel: ch,
		jobs:    make(map[string]*StatusUpdate),
		touched: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (a *Adapter) Name() string { return "amqp" }

// handleDelivery records a status update. Malformed messages are logged and dropped.
func (a *Adapter) handleDelivery(body []byte) {
	var update StatusUpdate
	if err := json.Unmarshal(body, &update); err != nil {
		a.log.WithError(err).Warn("Dropping malformed status update")
		return
	}
	if update.JobID == "" {
		a.log.Warn("Dropping status update without job id")
		return
	}

	a.mu.Lock()
	a.jobs[update.JobID] = &update
	a.touched[update.JobID] = a.now()
	a.mu.Unlock()

	a.log.WithFields(logger.Fields{
		logger.FieldJobID:  update.JobID,
		logger.FieldStatus: update.Status,
	}).Debug("Received status update")
}

// Submit publishes a retrieval request with a fresh job id.
func (a *Adapter) Submit(ctx context.Context, req remote.SubmitRequest) (*remote.JobHandle, error) {
	msg := RetrievalRequest{
		JobID:       uuid.NewString(),
		ProductUUID: req.ProductUUID,
		Identifier:  req.RemoteID,
		Size:        req.Size,
		ReplyTo:     a.cfg.StatusQueue,
		RequestedAt: time.Now().UTC(),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	err = a.channel.PublishWithContext(
		ctx,
		"",                 // exchange (empty for direct queue)
		a.cfg.RequestQueue, // routing key (queue name)
		false,              // mandatory
		false,              // immediate
		amqp091.Publishing{
			DeliveryMode:  amqp091.Persistent,
			ContentType:   "application/json",
			CorrelationId: msg.JobID,
			ReplyTo:       a.cfg.StatusQueue,
			Body:          body,
			Timestamp:     time.Now(),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to publish request: %w", err)
	}

	a.mu.Lock()
	if _, ok := a.jobs[msg.JobID]; !ok {
		a.jobs[msg.JobID] = &StatusUpdate{JobID: msg.JobID, Status: "accepted"}
	}
	a.touched[msg.JobID] = a.now()
	a.mu.Unlock()

	return &remote.JobHandle{
		JobID:    msg.JobID,
		RemoteID: req.RemoteID,
		Status:   domain.JobStatusRunning,
		Message:  "request published",
	}, nil
}

// PollStatus reports the last update seen for the job. Jobs with no update yet are
// running until they outlive MaxJobAge; status kept in memory does not survive a
// restart, so this is what eventually fails their orders.
func (a *Adapter) PollStatus(_ context.Context, jobID string) (*remote.JobHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	update, ok := a.jobs[jobID]
	if !ok {
		update = &StatusUpdate{JobID: jobID, Status: "accepted", Message: "awaiting status"}
	}
	if _, seen := a.touched[jobID]; !seen {
		a.touched[jobID] = a.now()
	}

	status, note := Statuses.Translate(update.Status)
	msg := update.Message
	if note != "" {
		msg = note
	}
	if status == domain.JobStatusCompleted && update.DownloadURL == "" {
		status, msg = domain.JobStatusFailed, "completed without download url"
	}
	if status == domain.JobStatusRunning && a.expired(jobID, update.EstimatedCompletion) {
		status = domain.JobStatusFailed
		msg = fmt.Sprintf("no status update from partner within %s", a.cfg.MaxJobAge)
		a.log.WithField(logger.FieldJobID, jobID).Warn("Partner job timed out")
		delete(a.jobs, jobID)
		delete(a.touched, jobID)
	}
	return &remote.JobHandle{
		JobID:               jobID,
		Status:              status,
		EstimatedCompletion: update.EstimatedCompletion,
		Message:             msg,
	}, nil
}

// expired reports whether a running job has been silent for MaxJobAge, counted from
// its estimated completion when that is later than the last update. Callers hold a.mu.
func (a *Adapter) expired(jobID string, eta *time.Time) bool {
	if a.cfg.MaxJobAge <= 0 {
		return false
	}
	since := a.touched[jobID]
	if eta != nil && eta.After(since) {
		since = *eta
	}
	return a.now().Sub(since) > a.cfg.MaxJobAge
}

// Download fetches the payload from the URL given in the completion message.
func (a *Adapter) Download(ctx context.Context, job *remote.JobHandle) (io.ReadCloser, int64, error) {
	a.mu.RLock()
	update, ok := a.jobs[job.JobID]
	a.mu.RUnlock()
	if !ok || update.DownloadURL == "" {
		return nil, 0, fmt.Errorf("no download url for job %s", job.JobID)
	}

	resp, err := a.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(update.DownloadURL)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open download: %w", err)
	}
	body := resp.RawBody()
	if resp.StatusCode() != http.StatusOK {
		body.Close()
		return nil, 0, fmt.Errorf("download failed: status %d", resp.StatusCode())
	}

	a.mu.Lock()
	delete(a.jobs, job.JobID)
	delete(a.touched, job.JobID)
	a.mu.Unlock()

	return body, resp.RawResponse.ContentLength, nil
}

// Close stops the status consumer and closes the connection.
func (a *Adapter) Close() error {
	if a.closeCh != nil {
		a.closeCh()
	}
	var err error
	if a.conn != nil {
		err = a.conn.Close()
	}
	a.wg.Wait()
	return err
}

var _ remote.Adapter = (*Adapter)(nil)
