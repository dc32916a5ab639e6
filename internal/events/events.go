// Package events publishes checkout outcomes and reconciliation
// inconsistencies to Kafka.
package events

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/segmentio/kafka-go"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/checkout"
)

// Default topics.
const (
	TopicOutcomes        = "checkout.outcomes"
	TopicInconsistencies = "checkout.inconsistencies"
)

// Outcome is the event published for every terminal checkout attempt.
type Outcome struct {
	AttemptID           string
	State               string
	OrderID             string
	PaymentReference    string
	Total               string
	Reason              string
	NeedsReconciliation bool
	FinishedAt          time.Time
}

// Inconsistency is the event published when a captured payment's order could
// not be confirmed.
type Inconsistency struct {
	AttemptID        string
	OrderID          string
	PaymentReference string
	Total            string
	Cause            string
	DetectedAt       time.Time
}

type encoder interface {
	Encode(e *jx.Encoder)
}

// MessageWriter is the subset of *kafka.Writer used for publishing.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ParseBrokers splits a comma-separated broker list.
func ParseBrokers(csv string) []string {
	var brokers []string
	for _, b := range strings.Split(csv, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// NewWriter returns a writer for topic that hashes message keys to partitions.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
}

var (
	_ checkout.Notifier = (*Publisher)(nil)
	_ checkout.Reporter = (*Publisher)(nil)
)

// Publisher sends checkout events to Kafka.
type Publisher struct {
	outcomes        MessageWriter
	inconsistencies MessageWriter
	now             func() time.Time
}

// NewPublisher creates a Publisher writing to the given writers.
func NewPublisher(outcomes, inconsistencies MessageWriter) *Publisher {
	return &Publisher{outcomes: outcomes, inconsistencies: inconsistencies, now: time.Now}
}

// Notify publishes r keyed by order id, so all events of one order land on
// one partition. Attempts without an order are keyed by attempt id.
func (p *Publisher) Notify(ctx context.Context, r checkout.Result) error {
	key := r.OrderID
	if key == "" {
		key = r.AttemptID
	}
	return p.publish(ctx, p.outcomes, key, NewOutcome(r))
}

// ReportInconsistency publishes inc keyed by order id.
func (p *Publisher) ReportInconsistency(ctx context.Context, inc checkout.Inconsistency) error {
	return p.publish(ctx, p.inconsistencies, inc.OrderID, Inconsistency{
		AttemptID:        inc.AttemptID,
		OrderID:          inc.OrderID,
		PaymentReference: inc.PaymentReference,
		Total:            inc.Total.StringFixed(2),
		Cause:            inc.Cause,
		DetectedAt:       inc.DetectedAt.UTC(),
	})
}

// Close flushes and closes both writers.
func (p *Publisher) Close() error {
	return multierr.Append(p.outcomes.Close(), p.inconsistencies.Close())
}

func (p *Publisher) publish(ctx context.Context, w MessageWriter, key string, payload encoder) error {
	var e jx.Encoder
	payload.Encode(&e)
	if err := w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: e.Bytes(),
		Time:  p.now().UTC(),
	}); err != nil {
		return errors.Wrap(err, "write message")
	}
	return nil
}

// NewOutcome converts a checkout result into its event form.
func NewOutcome(r checkout.Result) Outcome {
	return Outcome{
		AttemptID:           r.AttemptID,
		State:               r.State.String(),
		OrderID:             r.OrderID,
		PaymentReference:    r.PaymentReference,
		Total:               r.Total.StringFixed(2),
		Reason:              r.Reason,
		NeedsReconciliation: r.NeedsReconciliation,
		FinishedAt:          r.FinishedAt.UTC(),
	}
}

// LogNotifier logs outcomes. It is used when no brokers are configured.
type LogNotifier struct {
	lg *zap.Logger
}

var _ checkout.Notifier = LogNotifier{}

// NewLogNotifier returns a LogNotifier writing to lg.
func NewLogNotifier(lg *zap.Logger) LogNotifier { return LogNotifier{lg: lg} }

// Notify logs r.
func (n LogNotifier) Notify(_ context.Context, r checkout.Result) error {
	n.lg.Info("Checkout outcome",
		zap.String("attempt", r.AttemptID),
		zap.Stringer("state", r.State),
		zap.String("order", r.OrderID),
		zap.String("total", r.Total.StringFixed(2)),
	)
	return nil
}

// Reporters fans an inconsistency out to every reporter. All reporters are
// tried; their errors are combined.
type Reporters []checkout.Reporter

var _ checkout.Reporter = Reporters(nil)

// ReportInconsistency reports inc to every reporter.
func (rs Reporters) ReportInconsistency(ctx context.Context, inc checkout.Inconsistency) error {
	var err error
	for _, r := range rs {
		err = multierr.Append(err, r.ReportInconsistency(ctx, inc))
	}
	return err
}
