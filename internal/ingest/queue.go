/*
Copyright 2026 Flant JSC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package ingest

import (
	"context"
	"sync"
)

const DefaultQueueCapacity = 10000

// ItemKind tells what a queued item carries.
type ItemKind int

const (
	// ItemStdout is an events2 line.
	ItemStdout ItemKind = iota
	// ItemStderr is a line the event source wrote to stderr.
	ItemStderr
	// ItemEOF signals the end of the event stream. Err is set when the
	// source could not be launched.
	ItemEOF
	// ItemFault is a failure of the event source that does not end the stream.
	ItemFault
	// ItemShutdown stops the consumer.
	ItemShutdown
)

var itemKindNames = [...]string{
	ItemStdout:   "stdout",
	ItemStderr:   "stderr",
	ItemEOF:      "eof",
	ItemFault:    "fault",
	ItemShutdown: "shutdown",
}

func (k ItemKind) String() string {
	if k < 0 || int(k) >= len(itemKindNames) {
		return "unknown"
	}
	return itemKindNames[k]
}

type Item struct {
	Kind ItemKind
	Line string
	Err  error
}

// Queue is a bounded FIFO of items with a single consumer.
type Queue struct {
	mu       sync.Mutex
	items    []Item
	head     int
	capacity int
	// changed is closed and replaced whenever items are added or removed.
	changed chan struct{}
}

func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{
		capacity: capacity,
		changed:  make(chan struct{}),
	}
}

func (q *Queue) Cap() int { return q.capacity }

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

func (q *Queue) lenLocked() int { return len(q.items) - q.head }

func (q *Queue) notifyLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// Push appends item, waiting for free space while the queue is full.
func (q *Queue) Push(ctx context.Context, item Item) error {
	for {
		q.mu.Lock()
		if q.lenLocked() < q.capacity {
			q.items = append(q.items, item)
			q.notifyLocked()
			q.mu.Unlock()
			return nil
		}
		changed := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// PushFront puts item at the head of the queue regardless of capacity.
func (q *Queue) PushFront(item Item) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head > 0 {
		q.head--
		q.items[q.head] = item
	} else {
		q.items = append([]Item{item}, q.items...)
	}
	q.notifyLocked()
}

// Pop removes and returns the head of the queue, waiting while it is empty.
func (q *Queue) Pop(ctx context.Context) (Item, error) {
	for {
		q.mu.Lock()
		if q.lenLocked() > 0 {
			item := q.items[q.head]
			q.items[q.head] = Item{}
			q.head++
			if q.head == len(q.items) {
				q.items, q.head = q.items[:0], 0
			} else if q.head >= q.capacity {
				q.items, q.head = append([]Item(nil), q.items[q.head:]...), 0
			}
			q.notifyLocked()
			q.mu.Unlock()
			return item, nil
		}
		changed := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Item{}, ctx.Err()
		case <-changed:
		}
	}
}

// Clear drops every queued item and returns how many were dropped.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.lenLocked()
	clear(q.items)
	q.items, q.head = q.items[:0], 0
	q.notifyLocked()
	return n
}
