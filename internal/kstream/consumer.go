// Package kstream feeds sync commands from Kafka into a handler.
package kstream

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"offersearch/api/internal/syncer"
	"offersearch/api/internal/worker"
)

// errAbandoned stops a partition's worker after a message was given up
// without a commit; committing any later offset would acknowledge it.
var errAbandoned = errors.New("message abandoned")

const (
	queueDepth    = 64
	commitTimeout = 10 * time.Second
)

// Handler applies one raw command.
type Handler interface {
	ApplyRaw(ctx context.Context, data []byte) error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Config struct {
	Brokers  []string
	Topic    string
	GroupID  string
	DLQTopic string
	Workers  int
}

// Consumer reads a topic as part of a consumer group. Messages of one
// partition are handled one at a time in offset order and committed only once
// handled. Malformed commands go to the dead-letter topic; anything else is
// retried until it succeeds or the consumer stops.
type Consumer struct {
	reader     messageReader
	dlq        messageWriter
	handler    Handler
	workers    int
	newBackOff func() backoff.BackOff
}

func NewConsumer(cfg Config, handler Handler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	var dlq messageWriter
	if cfg.DLQTopic != "" {
		dlq = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.DLQTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		}
	}
	return newConsumer(reader, dlq, handler, cfg.Workers)
}

func newConsumer(reader messageReader, dlq messageWriter, handler Handler, workers int) *Consumer {
	return &Consumer{
		reader:  reader,
		dlq:     dlq,
		handler: handler,
		workers: max(workers, 1),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
}

// Run consumes until ctx is canceled or fetching fails. Messages already
// handed to workers finish their current attempt before Run returns.
func (c *Consumer) Run(ctx context.Context) error {
	pool := worker.New(c.workers, queueDepth)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(gctx) })
	g.Go(func() error {
		defer pool.Close()
		for {
			msg, err := c.reader.FetchMessage(gctx)
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("fetch message: %w", err)
			}
			task := func(ctx context.Context) error {
				return c.process(ctx, msg)
			}
			if err := pool.Submit(gctx, strconv.Itoa(msg.Partition), task); err != nil {
				return nil
			}
		}
	})
	log.Printf("kstream: consuming with %d workers", c.workers)
	err := g.Wait()
	if errors.Is(err, errAbandoned) && ctx.Err() != nil {
		err = nil
	}
	log.Printf("kstream: consumer stopped")
	return err
}

func (c *Consumer) Close() error {
	var errs []error
	if err := c.reader.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close reader: %w", err))
	}
	if c.dlq != nil {
		if err := c.dlq.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close dead-letter writer: %w", err))
		}
	}
	return errors.Join(errs...)
}

// process handles one message and commits it. When ctx ends first it returns
// errAbandoned without committing so the message is redelivered after a
// restart.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %s: %w", errAbandoned, position(msg), err)
	}
	var poison error
	op := func() error {
		err := c.handler.ApplyRaw(ctx, msg.Value)
		if errors.Is(err, syncer.ErrMalformed) {
			poison = err
			return nil
		}
		return err
	}
	if err := c.retry(ctx, op, msg, "apply"); err != nil {
		return fmt.Errorf("%w: %s: %w", errAbandoned, position(msg), err)
	}

	if poison != nil {
		log.Printf("kstream: malformed message %s: %v", position(msg), poison)
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %s: %w", errAbandoned, position(msg), err)
		}
		if err := c.retry(ctx, func() error { return c.deadLetter(ctx, msg, poison) }, msg, "dead-letter"); err != nil {
			return fmt.Errorf("%w: %s: %w", errAbandoned, position(msg), err)
		}
	}

	// nothing is committed once ctx has ended
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %s: %w", errAbandoned, position(msg), err)
	}
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	if err := c.reader.CommitMessages(commitCtx, msg); err != nil {
		log.Printf("kstream: commit %s: %v", position(msg), err)
	}
	return nil
}

func (c *Consumer) retry(ctx context.Context, op backoff.Operation, msg kafka.Message, what string) error {
	notify := func(err error, wait time.Duration) {
		log.Printf("kstream: %s %s failed, retrying in %s: %v", what, position(msg), wait, err)
	}
	err := backoff.RetryNotify(op, backoff.WithContext(c.newBackOff(), ctx), notify)
	if err != nil {
		log.Printf("kstream: %s %s abandoned: %v", what, position(msg), err)
	}
	return err
}

func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message, cause error) error {
	if c.dlq == nil {
		return nil
	}
	out := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: append(append([]kafka.Header(nil), msg.Headers...),
			kafka.Header{Key: "dlq-id", Value: []byte(uuid.NewString())},
			kafka.Header{Key: "dlq-error", Value: []byte(cause.Error())},
			kafka.Header{Key: "dlq-source", Value: []byte(position(msg))},
		),
	}
	if err := c.dlq.WriteMessages(ctx, out); err != nil {
		return fmt.Errorf("write dead letter: %w", err)
	}
	return nil
}

func position(msg kafka.Message) string {
	return fmt.Sprintf("%s/%d@%d", msg.Topic, msg.Partition, msg.Offset)
}
