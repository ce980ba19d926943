// Package kafka publishes one completion event per stored artifact. The
// publisher is optional: a nil *Publisher accepts and discards everything, so
// callers never branch on whether events are configured.
package kafka

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/videoforge/image-harvest/internal/core/config"
)

// Event is the JSON body a downstream video pipeline consumes to pick up a
// finished artifact.
type Event struct {
	ArtifactID string    `json:"artifact_id"`
	Path       string    `json:"path"`
	Provider   string    `json:"provider"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Checksum   string    `json:"checksum"`
	TS         time.Time `json:"ts"`
}

type Publisher struct {
	topic   string
	events  chan Event
	prod    sarama.AsyncProducer
	logger  *slog.Logger
	stopped chan struct{}
}

func NewPublisher(cfg config.EventsCfg, logger *slog.Logger) (*Publisher, error) {
	var brokers []string
	for _, b := range strings.Split(cfg.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}

	sc := sarama.NewConfig()
	sc.Version = sarama.V2_5_0_0
	sc.Producer.Return.Errors = true
	sc.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("create async producer: %w", err)
	}
	return newPublisher(prod, cfg.Topic, cfg.Queue, logger), nil
}

func newPublisher(prod sarama.AsyncProducer, topic string, queueSize int, logger *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	p := &Publisher{
		topic:   topic,
		events:  make(chan Event, queueSize),
		prod:    prod,
		logger:  logger,
		stopped: make(chan struct{}),
	}
	go p.pump()
	go p.drainErrors()
	return p
}

// Publish enqueues ev without ever blocking the request path: a full queue
// drops the event.
func (p *Publisher) Publish(ev Event) {
	if p == nil {
		return
	}
	select {
	case p.events <- ev:
	default:
		// queue full → drop (do NOT block request path)
	}
}

func (p *Publisher) pump() {
	defer close(p.stopped)
	for ev := range p.events {
		b, err := json.Marshal(ev)
		if err != nil {
			p.logger.Warn("marshal completion event", "err", err)
			continue
		}
		p.prod.Input() <- &sarama.ProducerMessage{
			Topic: p.topic,
			Key:   sarama.StringEncoder(ev.ArtifactID),
			Value: sarama.ByteEncoder(b),
		}
	}
}

func (p *Publisher) drainErrors() {
	for perr := range p.prod.Errors() {
		if perr != nil {
			p.logger.Warn("async produce failed", "topic", p.topic, "err", perr.Err)
		}
	}
}

// Close drains queued events and shuts the producer down.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	close(p.events)
	<-p.stopped

	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("close producer: %w", err)
	}
	return nil
}
