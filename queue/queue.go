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


// Package queue defines the at-least-once work queues that carry upload
// notifications and page tasks between the dispatcher and workers.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by operations on a closed queue.
var ErrClosed = errors.New("queue closed")

// Delivery is one received message. Exactly one of Ack, Nak or Term must be
// called; a delivery that is never settled may be redelivered.
type Delivery interface {
	// Data is the message payload.
	Data() []byte
	// Attempt is 1 on first delivery and increases with each redelivery.
	Attempt() int
	// Ack removes the message.
	Ack() error
	// Nak asks for redelivery after delay.
	Nak(delay time.Duration) error
	// Term removes the message without redelivery.
	Term() error
}

// Publisher enqueues messages. Publishing the same id twice within the
// deduplication window enqueues it once.
type Publisher interface {
	Publish(ctx context.Context, id string, data []byte) error
}

// Consumer receives messages.
type Consumer interface {
	// Fetch returns up to max deliveries. It returns an empty slice when
	// nothing arrived within the implementation's wait interval.
	Fetch(ctx context.Context, max int) ([]Delivery, error)
}

// Queue is a single topic that can be both published to and consumed from.
type Queue interface {
	Publisher
	Consumer
	Close() error
}
