package engine

import (
	"fmt"
	"time"

	"github.com/medviewlabs/signal-uplink/internal/models"
)

// enqueue appends an upload id to the FIFO queue and nudges the worker.
func (e *Engine) enqueue(uploadID string) {
	e.queueMu.Lock()
	e.queue = append(e.queue, uploadID)
	e.queueMu.Unlock()

	select {
	case e.signal <- struct{}{}:
	default:
	}
}

// dequeue pops the oldest queued upload id.
func (e *Engine) dequeue() (string, bool) {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	if len(e.queue) == 0 {
		return "", false
	}
	id := e.queue[0]
	e.queue = e.queue[1:]
	return id, true
}

func (e *Engine) queueLen() int {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	return len(e.queue)
}

// ensureWorker starts the worker goroutine if none is running. Called on
// every submission, so a worker lost to an idle exit (or anything else)
// is restarted the next time work arrives.
func (e *Engine) ensureWorker() {
	e.startMu.Lock()
	defer e.startMu.Unlock()
	if e.workerRunning || e.closed {
		return
	}
	e.workerRunning = true
	go e.runWorker()
}

// runWorker drains the queue serially. It exits after WorkerIdleTimeout
// with nothing to do, or when the engine shuts down. The exit decision is
// made under startMu together with a final queue check, so a submission
// racing the exit either sees the worker still running or starts a new one.
func (e *Engine) runWorker() {
	e.log.Debug().Msg("upload worker started")
	lastActivity := time.Now()

	for {
		if e.ctx.Err() != nil {
			e.stopWorker("engine shut down")
			return
		}

		if id, ok := e.dequeue(); ok {
			e.runTask(id)
			lastActivity = time.Now()
			continue
		}

		if time.Since(lastActivity) >= e.cfg.WorkerIdleTimeout {
			e.startMu.Lock()
			if e.queueLen() == 0 {
				e.workerRunning = false
				e.startMu.Unlock()
				e.log.Debug().Msg("upload worker idle timeout, exiting")
				return
			}
			e.startMu.Unlock()
			continue
		}

		// Bounded wait: wake on submission or re-check the idle predicate
		// every WorkerWakeInterval.
		select {
		case <-e.signal:
		case <-time.After(e.cfg.WorkerWakeInterval):
		case <-e.ctx.Done():
		}
	}
}

func (e *Engine) stopWorker(reason string) {
	e.startMu.Lock()
	e.workerRunning = false
	e.startMu.Unlock()
	e.log.Debug().Str("reason", reason).Msg("upload worker stopped")
}

// runTask processes one upload to completion, converting any panic into a
// failed record. The worker itself must survive every task.
func (e *Engine) runTask(uploadID string) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("Upload failed with exception: %v", r)
			e.trk.UpdateStatus(uploadID, models.StatusFailed, msg)
			e.log.Error().Str("uploadId", uploadID).Interface("panic", r).Msg("task panicked")
		}
	}()
	e.processTask(uploadID)
}
