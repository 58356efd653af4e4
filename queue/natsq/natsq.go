// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package natsq implements queue.Queue on NATS JetStream work-queue streams.
package natsq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/poiesic/folio/queue"
)

// Config names the stream and consumer backing one queue.
type Config struct {
	Stream          string
	Subject         string
	Durable         string
	MaxDeliver      int
	AckWait         time.Duration
	DuplicateWindow time.Duration
	FetchWait       time.Duration
}

// UploadsConfig is the queue of upload notifications.
func UploadsConfig() Config {
	return Config{
		Stream:          "FOLIO_UPLOADS",
		Subject:         "folio.uploads",
		Durable:         "dispatcher",
		MaxDeliver:      10,
		AckWait:         5 * time.Minute,
		DuplicateWindow: 10 * time.Minute,
		FetchWait:       time.Second,
	}
}

// PagesConfig is the queue of page tasks.
func PagesConfig() Config {
	return Config{
		Stream:          "FOLIO_PAGES",
		Subject:         "folio.pages",
		Durable:         "workers",
		MaxDeliver:      10,
		AckWait:         2 * time.Minute,
		DuplicateWindow: 10 * time.Minute,
		FetchWait:       time.Second,
	}
}

// Queue is a JetStream-backed queue.Queue.
type Queue struct {
	cfg    Config
	js     nats.JetStreamContext
	sub    *nats.Subscription
	logger *slog.Logger
}

var _ queue.Queue = (*Queue)(nil)

// New ensures the stream exists and binds a durable pull consumer to it.
// Every process using the same Durable shares the work.
func New(nc *nats.Conn, cfg Config) (*Queue, error) {
	if cfg.Stream == "" || cfg.Subject == "" || cfg.Durable == "" {
		return nil, errors.New("natsq: stream, subject and durable are required")
	}
	if cfg.FetchWait <= 0 {
		cfg.FetchWait = time.Second
	}

	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("natsq: jetstream context: %w", err)
	}

	if _, err := js.StreamInfo(cfg.Stream); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return nil, fmt.Errorf("natsq: stream info %s: %w", cfg.Stream, err)
		}
		_, err = js.AddStream(&nats.StreamConfig{
			Name:       cfg.Stream,
			Subjects:   []string{cfg.Subject},
			Retention:  nats.WorkQueuePolicy,
			Storage:    nats.FileStorage,
			Duplicates: cfg.DuplicateWindow,
		})
		if err != nil {
			return nil, fmt.Errorf("natsq: add stream %s: %w", cfg.Stream, err)
		}
	}

	// The consumer is created explicitly so unsubscribing never deletes it.
	_, err = js.AddConsumer(cfg.Stream, &nats.ConsumerConfig{
		Durable:       cfg.Durable,
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       cfg.AckWait,
		MaxDeliver:    cfg.MaxDeliver,
		FilterSubject: cfg.Subject,
	})
	if err != nil {
		return nil, fmt.Errorf("natsq: add consumer %s: %w", cfg.Durable, err)
	}
	sub, err := js.PullSubscribe(cfg.Subject, cfg.Durable, nats.Bind(cfg.Stream, cfg.Durable), nats.ManualAck())
	if err != nil {
		return nil, fmt.Errorf("natsq: pull subscribe %s: %w", cfg.Durable, err)
	}

	return &Queue{
		cfg:    cfg,
		js:     js,
		sub:    sub,
		logger: slog.Default().With("component", "natsq", "stream", cfg.Stream),
	}, nil
}

// Publish sends data with id as the JetStream message id, so the server
// drops duplicates within the stream's duplicate window.
func (q *Queue) Publish(ctx context.Context, id string, data []byte) error {
	opts := []nats.PubOpt{nats.Context(ctx)}
	if id != "" {
		opts = append(opts, nats.MsgId(id))
	}
	ack, err := q.js.Publish(q.cfg.Subject, data, opts...)
	if err != nil {
		return fmt.Errorf("natsq: publish: %w", err)
	}
	if ack.Duplicate {
		q.logger.Debug("duplicate publish suppressed", "id", id)
	}
	return nil
}

// Fetch pulls up to max messages, waiting at most FetchWait.
func (q *Queue) Fetch(ctx context.Context, max int) ([]queue.Delivery, error) {
	if max < 1 {
		max = 1
	}
	fetchCtx, cancel := context.WithTimeout(ctx, q.cfg.FetchWait)
	defer cancel()

	msgs, err := q.sub.Fetch(max, nats.Context(fetchCtx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
			return []queue.Delivery{}, nil
		}
		if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
			return nil, queue.ErrClosed
		}
		return nil, fmt.Errorf("natsq: fetch: %w", err)
	}

	deliveries := make([]queue.Delivery, 0, len(msgs))
	for _, msg := range msgs {
		attempt := 1
		if meta, err := msg.Metadata(); err == nil {
			attempt = int(meta.NumDelivered)
		}
		deliveries = append(deliveries, &delivery{msg: msg, attempt: attempt})
	}
	return deliveries, nil
}

// Close unsubscribes without deleting the durable consumer.
func (q *Queue) Close() error {
	if err := q.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
		return err
	}
	return nil
}

type delivery struct {
	msg     *nats.Msg
	attempt int
}

func (d *delivery) Data() []byte { return d.msg.Data }
func (d *delivery) Attempt() int { return d.attempt }
func (d *delivery) Ack() error   { return d.msg.Ack() }
func (d *delivery) Term() error  { return d.msg.Term() }

func (d *delivery) Nak(delay time.Duration) error {
	if delay <= 0 {
		return d.msg.Nak()
	}
	return d.msg.NakWithDelay(delay)
}
