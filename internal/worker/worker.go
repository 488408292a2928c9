// Package worker classifies articles arriving on a Kafka topic and publishes
// the results to another topic.
//
// Offsets are committed manually once a message has been handled: either its
// result was published or the message was parked on the dead-letter topic.
package worker

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/YuminosukeSato/newsclf/internal/config"
	"github.com/YuminosukeSato/newsclf/internal/predict"
	"github.com/YuminosukeSato/newsclf/pkg/errors"
	"github.com/YuminosukeSato/newsclf/pkg/log"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Reader is the consumer side of kafka.Reader.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Writer is the producer side of kafka.Writer.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Classifier is the part of predict.Service the worker uses.
type Classifier interface {
	Predict(ctx context.Context, title, text string) (predict.Result, error)
	ModelName() string
}

// Input is one article to classify.
type Input struct {
	ID    string `json:"id,omitempty"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Output is the published classification.
type Output struct {
	ID            string                `json:"id"`
	Title         string                `json:"title"`
	Label         string                `json:"label"`
	Confidence    float64               `json:"confidence"`
	Probabilities predict.Probabilities `json:"probabilities"`
	Model         string                `json:"model"`
	ClassifiedAt  time.Time             `json:"classified_at"`
}

// permanentError marks a message that will never succeed and belongs on the
// dead-letter topic.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error { return &permanentError{err: err} }

// IsPermanent reports whether err was caused by the message itself.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Worker moves messages from the input topic to the output topic.
type Worker struct {
	reader  Reader
	out     Writer
	dlq     Writer
	clf     Classifier
	retries int
	backoff func(attempt int) time.Duration
	now     func() time.Time
	logger  log.Logger
}

// New wires a worker from explicit endpoints.
func New(reader Reader, out, dlq Writer, clf Classifier, retries int) *Worker {
	if retries < 1 {
		retries = 1
	}
	return &Worker{
		reader:  reader,
		out:     out,
		dlq:     dlq,
		clf:     clf,
		retries: retries,
		backoff: func(attempt int) time.Duration { return time.Duration(1<<uint(attempt)) * time.Second },
		now:     func() time.Time { return time.Now().UTC() },
		logger:  log.GetLoggerWithName("worker"),
	}
}

// NewKafka connects a worker to the brokers in cfg.
func NewKafka(cfg config.KafkaConfig, clf Classifier) *Worker {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.InputTopic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
	})
	out := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.OutputTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
	}
	dlq := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.DLQTopic(),
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
	}
	w := New(reader, out, dlq, clf, cfg.DLQRetries)
	w.logger = w.logger.With(log.TopicKey, cfg.InputTopic)
	return w
}

// Close releases the reader and both writers.
func (w *Worker) Close() error {
	return errors.CombineErrors(
		w.reader.Close(),
		errors.CombineErrors(w.out.Close(), w.dlq.Close()),
	)
}

// Run consumes until ctx is done. A message that keeps failing for a reason
// other than its own content stops the worker uncommitted.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Worker started", log.ModelNameKey, w.clf.ModelName())
	for {
		msg, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				w.logger.Info("Context canceled, stopping")
				return nil
			}
			w.logger.Error("Fetch message failed", "error", err.Error())
			if !w.sleep(ctx, 0) {
				return nil
			}
			continue
		}

		if err := w.handleWithRetry(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !IsPermanent(err) {
				// Stop without committing so the group redelivers the message.
				return errors.Wrapf(err, "handle partition %d offset %d", msg.Partition, msg.Offset)
			}
			if !w.deadLetter(ctx, msg, err) {
				if ctx.Err() != nil {
					return nil
				}
				return errors.Newf("dead-letter partition %d offset %d failed", msg.Partition, msg.Offset)
			}
		}
		if err := w.reader.CommitMessages(ctx, msg); err != nil {
			w.logger.Error("Commit failed", "error", err.Error(), "offset", msg.Offset)
		}
	}
}

// handleWithRetry retries transient failures such as a model that has not been
// trained yet.
func (w *Worker) handleWithRetry(ctx context.Context, msg kafka.Message) error {
	var err error
	for attempt := 0; attempt < w.retries; attempt++ {
		if err = w.Handle(ctx, msg); err == nil || IsPermanent(err) {
			return err
		}
		if attempt+1 == w.retries {
			break
		}
		w.logger.Warn("Handle failed, retrying", "error", err.Error(), "attempt", attempt+1)
		if !w.sleep(ctx, attempt) {
			return ctx.Err()
		}
	}
	return err
}

// Handle classifies one message and publishes the result.
func (w *Worker) Handle(ctx context.Context, msg kafka.Message) error {
	var in Input
	if err := json.Unmarshal(msg.Value, &in); err != nil {
		return permanent(errors.Wrap(err, "decode message"))
	}
	if strings.TrimSpace(in.Title) == "" && strings.TrimSpace(in.Text) == "" {
		return permanent(errors.NewValidationError("content", "title and text are empty", nil))
	}

	res, err := w.clf.Predict(ctx, in.Title, in.Text)
	if err != nil {
		var verr *errors.ValidationError
		if errors.As(err, &verr) {
			return permanent(err)
		}
		return err
	}

	id := in.ID
	if id == "" {
		id = string(msg.Key)
	}
	if id == "" {
		id = uuid.NewString()
	}
	out := Output{
		ID:            id,
		Title:         in.Title,
		Label:         res.Label,
		Confidence:    res.Confidence,
		Probabilities: res.Probabilities,
		Model:         w.clf.ModelName(),
		ClassifiedAt:  w.now(),
	}
	value, err := json.Marshal(out)
	if err != nil {
		return errors.Wrap(err, "encode result")
	}
	if err := w.out.WriteMessages(ctx, kafka.Message{Key: []byte(id), Value: value}); err != nil {
		return errors.Wrap(err, "publish result")
	}
	w.logger.Debug("Article classified", "id", id, log.LabelKey, out.Label, log.ConfidenceKey, out.Confidence)
	return nil
}

// deadLetter parks msg with its error context. It reports whether the message
// may be committed.
func (w *Worker) deadLetter(ctx context.Context, msg kafka.Message, cause error) bool {
	w.logger.Warn("Process message failed, sending to DLQ",
		"error", cause.Error(),
		"partition", msg.Partition,
		"offset", msg.Offset,
	)
	headers := append([]kafka.Header(nil), msg.Headers...)
	dlqMsg := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: append(headers,
			kafka.Header{Key: "original_topic", Value: []byte(msg.Topic)},
			kafka.Header{Key: "original_partition", Value: []byte(strconv.Itoa(msg.Partition))},
			kafka.Header{Key: "original_offset", Value: []byte(strconv.FormatInt(msg.Offset, 10))},
			kafka.Header{Key: "error", Value: []byte(cause.Error())},
			kafka.Header{Key: "timestamp", Value: []byte(w.now().Format(time.RFC3339))},
		),
	}
	for attempt := 0; attempt < w.retries; attempt++ {
		err := w.dlq.WriteMessages(ctx, dlqMsg)
		if err == nil {
			w.logger.Info("Message sent to DLQ", "offset", msg.Offset, "attempt", attempt+1)
			return true
		}
		w.logger.Warn("DLQ write failed, retrying", "error", err.Error(), "attempt", attempt+1)
		if attempt+1 < w.retries && !w.sleep(ctx, attempt) {
			return false
		}
	}
	w.logger.Error("DLQ write exhausted retries", "partition", msg.Partition, "offset", msg.Offset)
	return false
}

// sleep waits for the backoff of attempt; false means ctx ended first.
func (w *Worker) sleep(ctx context.Context, attempt int) bool {
	select {
	case <-time.After(w.backoff(attempt)):
		return true
	case <-ctx.Done():
		return false
	}
}
