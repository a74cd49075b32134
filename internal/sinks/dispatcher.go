package sinks

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"
)

// Dispatcher delivers game-over payloads asynchronously so the WebSocket
// read loop never blocks on a slow sink.
type Dispatcher struct {
	client  *Client
	queue   chan *deliveryJob
	logger  *log.Logger
	wg      sync.WaitGroup
	workers int
}

type deliveryJob struct {
	payload json.RawMessage
	attempt int
}

// NewDispatcher starts the worker pool.
func NewDispatcher(client *Client, workers int) *Dispatcher {
	if workers <= 0 {
		workers = 2
	}
	d := &Dispatcher{
		client:  client,
		queue:   make(chan *deliveryJob, 256),
		logger:  log.New(log.Writer(), "[DISPATCH] ", log.LstdFlags),
		workers: workers,
	}

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	return d
}

// EmitGameOver queues a payload for delivery. Never blocks; if the queue is
// full the payload is dropped with a warning.
func (d *Dispatcher) EmitGameOver(payload json.RawMessage) {
	select {
	case d.queue <- &deliveryJob{payload: payload, attempt: 1}:
	default:
		d.logger.Printf("⚠️  Game-over queue full, dropping payload (%d bytes)", len(payload))
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for job := range d.queue {
		d.deliver(job)
	}
}

func (d *Dispatcher) deliver(job *deliveryJob) {
	err := d.client.GameOver(context.Background(), job.payload)
	if err == nil {
		d.logger.Printf("✅ Game-over delivered (attempt %d)", job.attempt)
		return
	}

	d.logger.Printf("❌ Game-over delivery failed (attempt %d): %v", job.attempt, err)

	// Retry up to 3 times with quadratic backoff
	if job.attempt < 3 {
		time.Sleep(time.Duration(job.attempt*job.attempt) * time.Second)
		job.attempt++
		select {
		case d.queue <- job:
		default:
		}
	}
}

// Shutdown drains the queue and stops the workers.
func (d *Dispatcher) Shutdown() {
	close(d.queue)
	d.wg.Wait()
}
