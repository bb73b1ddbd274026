package replication

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quillbyte/pgreplicate/internal/telemetry"
)

// keepaliveLoop forces a status update on its stream every
// StatusUpdateInterval, whether or not the caller is also calling Read, so
// the server sees steady liveness even during quiet periods. It runs on a
// caller-supplied executor: the
// stream never spins up its own goroutine pool, it only ever hands the
// executor one function to run.
type keepaliveLoop struct {
	stream  *ReplicationStream
	onError func(error)

	running atomic.Bool
	cancel  context.CancelFunc
	done    sync.WaitGroup
}

func newKeepaliveLoop(stream *ReplicationStream, onError func(error)) *keepaliveLoop {
	return &keepaliveLoop{stream: stream, onError: onError}
}

func (k *keepaliveLoop) isRunning() bool {
	return k.running.Load()
}

func (k *keepaliveLoop) start(executor func(func())) {
	if !k.running.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	k.cancel = cancel
	k.done.Add(1)

	run := func() {
		defer k.done.Done()
		k.loop(ctx)
	}

	if executor != nil {
		executor(run)
	} else {
		go run()
	}
}

func (k *keepaliveLoop) stop() {
	if !k.running.CompareAndSwap(true, false) {
		return
	}
	if k.cancel != nil {
		k.cancel()
	}
	k.done.Wait()
}

// loop is paced by a drift-compensating metronome: each tick fires
// `interval` after the *previous scheduled* tick, not after the previous
// tick finished, so a slow status update never pushes every subsequent
// tick later by the same amount.
func (k *keepaliveLoop) loop(ctx context.Context) {
	interval := k.stream.session.cfg.StatusUpdateInterval
	if interval <= 0 {
		return
	}

	next := time.Now().Add(interval)
	for {
		wait := time.Until(next)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if !k.running.Load() {
			return
		}

		spanCtx, finish := telemetry.StartSpan(context.Background(), "pgreplicate", "KeepaliveLoop.forceStatusUpdate")
		err := k.stream.forceStatusUpdate(spanCtx)
		finish(err)
		if err != nil {
			if k.onError != nil {
				k.onError(err)
			}
			return
		}

		next = next.Add(interval)
		if time.Now().After(next) {
			next = time.Now().Add(interval)
		}
	}
}
