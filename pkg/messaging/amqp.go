package messaging

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"github.com/MariuszPieniakKID/sales-assistant-sub000/pkg/config"
	"github.com/MariuszPieniakKID/sales-assistant-sub000/pkg/metrics"
)

const reconnectWait = 5 * time.Second

// TranscriptEntry is one finalized utterance in a published transcript.
type TranscriptEntry struct {
	Speaker   string    `json:"speaker"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionTranscript is the message published when a session ends.
type SessionTranscript struct {
	SessionID       string            `json:"session_id"`
	ClientID        int               `json:"client_id,omitempty"`
	ProductID       int               `json:"product_id,omitempty"`
	Method          string            `json:"method"`
	DurationSeconds int64             `json:"duration_seconds"`
	EndedAt         time.Time         `json:"ended_at"`
	Entries         []TranscriptEntry `json:"entries"`
}

// Publisher delivers completed session transcripts to an AMQP queue.
// A disabled publisher accepts and drops everything, which keeps the
// call sites clean in tests and single-node deployments.
type Publisher struct {
	logger *logrus.Logger
	cfg    config.AMQPConfig

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool
}

// NewPublisher creates a publisher. Call Connect before publishing.
func NewPublisher(logger *logrus.Logger, cfg config.AMQPConfig) *Publisher {
	return &Publisher{
		logger: logger,
		cfg:    cfg,
	}
}

// Connect dials the AMQP server, retrying until it succeeds or the
// publisher is closed. Run it in its own goroutine.
func (p *Publisher) Connect() {
	if !p.cfg.Enabled {
		p.logger.Info("AMQP publishing disabled")
		return
	}

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		conn, err := amqp.Dial(p.cfg.URL)
		if err != nil {
			color.Red("Failed to connect to AMQP server at %s: %v", p.cfg.URL, err)
			p.logger.WithError(err).Errorf("Retrying connection to AMQP server at %s in %s...", p.cfg.URL, reconnectWait)
			time.Sleep(reconnectWait)
			continue
		}

		color.Green("Successfully connected to AMQP server at %s", p.cfg.URL)
		p.logger.Infof("Successfully connected to AMQP server at %s", p.cfg.URL)

		channel, err := conn.Channel()
		if err != nil {
			color.Red("Failed to open AMQP channel: %v", err)
			p.logger.WithError(err).Errorf("Retrying opening channel to AMQP server at %s in %s...", p.cfg.URL, reconnectWait)
			conn.Close()
			time.Sleep(reconnectWait)
			continue
		}
		color.Green("Successfully opened AMQP channel")

		queue, err := channel.QueueDeclare(
			p.cfg.QueueName,
			true,  // Durable
			false, // Delete when unused
			false, // Exclusive
			false, // No-wait
			nil,   // Arguments
		)
		if err != nil {
			color.Red("Failed to declare AMQP queue %s: %v", p.cfg.QueueName, err)
			p.logger.WithError(err).Error("Retrying declaring queue in 5 seconds...")
			conn.Close()
			time.Sleep(reconnectWait)
			continue
		}

		color.Green("Successfully declared AMQP queue: %s", queue.Name)
		p.logger.Infof("Queue Details: Name=%s, Messages=%d, Consumers=%d", queue.Name, queue.Messages, queue.Consumers)

		p.mu.Lock()
		p.conn = conn
		p.channel = channel
		p.mu.Unlock()
		return
	}
}

// PublishTranscript sends a completed session transcript to the queue.
func (p *Publisher) PublishTranscript(transcript SessionTranscript) {
	if !p.cfg.Enabled {
		return
	}

	p.mu.Lock()
	channel := p.channel
	p.mu.Unlock()

	if channel == nil {
		p.logger.WithField("session_id", transcript.SessionID).Warn("AMQP channel not ready, dropping transcript")
		metrics.IncCounter(metrics.PublishErrors)
		return
	}

	body, err := json.Marshal(transcript)
	if err != nil {
		p.logger.WithError(err).WithField("session_id", transcript.SessionID).Error("Failed to marshal transcript to JSON")
		metrics.IncCounter(metrics.PublishErrors)
		return
	}

	err = channel.Publish(
		"",              // Exchange
		p.cfg.QueueName, // Routing key (queue name)
		false,           // Mandatory
		false,           // Immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
	if err != nil {
		p.logger.WithError(err).WithField("session_id", transcript.SessionID).Error("Failed to publish transcript to AMQP")
		metrics.IncCounter(metrics.PublishErrors)
		return
	}

	metrics.IncCounter(metrics.TranscriptsPublished)
	p.logger.WithFields(logrus.Fields{
		"session_id": transcript.SessionID,
		"entries":    len(transcript.Entries),
	}).Info("Successfully published transcript to AMQP")
}

// Close tears down the AMQP connection.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.channel != nil {
		p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}
