package queue

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tiersync/tiersync/internal/core/domain"
	"github.com/tiersync/tiersync/internal/metrics"
)

const (
	defaultWorkers = 8
	channelBuffer  = 256
)

// MemberEventHandler processes one membership change.
type MemberEventHandler interface {
	HandleMemberEvent(ctx context.Context, ev domain.MemberEvent) error
}

// Dispatcher routes member events to a fixed set of workers using consistent
// hashing on the member id, so events for one member are handled in arrival
// order while different members proceed in parallel.
type Dispatcher struct {
	workers []chan domain.MemberEvent
	handler MemberEventHandler
	log     zerolog.Logger
	wg      sync.WaitGroup
	stopped chan struct{} // closed once the workers' context is done
}

// NewDispatcher creates a Dispatcher with numWorkers sharded workers.
// If numWorkers <= 0, defaultWorkers is used.
func NewDispatcher(numWorkers int, handler MemberEventHandler, log zerolog.Logger) *Dispatcher {
	if numWorkers <= 0 {
		numWorkers = defaultWorkers
	}
	d := &Dispatcher{
		workers: make([]chan domain.MemberEvent, numWorkers),
		handler: handler,
		log:     log,
		stopped: make(chan struct{}),
	}
	for i := range d.workers {
		d.workers[i] = make(chan domain.MemberEvent, channelBuffer)
	}
	return d
}

// Start launches all worker goroutines. Workers stop when ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	for i, ch := range d.workers {
		d.wg.Add(1)
		go d.runWorker(ctx, i, ch)
	}
	go func() {
		<-ctx.Done()
		close(d.stopped)
	}()
}

// Wait blocks until every worker has stopped.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Enqueue sends an event to the worker responsible for its member.
// The call is non-blocking up to channelBuffer capacity. Once the workers
// have stopped the event is dropped instead; the next sweep covers it.
func (d *Dispatcher) Enqueue(ev domain.MemberEvent) {
	idx := d.shardIndex(ev.Member.ID)
	select {
	case d.workers[idx] <- ev:
	case <-d.stopped:
		d.log.Warn().
			Str("member_id", ev.Member.ID).
			Str("event", string(ev.Kind)).
			Msg("dispatcher stopped; member event dropped")
		return
	}
	metrics.DispatchQueueDepth.WithLabelValues(strconv.Itoa(idx)).Set(float64(len(d.workers[idx])))
}

// shardIndex maps a member id deterministically to a worker index.
func (d *Dispatcher) shardIndex(memberID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(memberID))
	return int(h.Sum32() % uint32(len(d.workers)))
}

func (d *Dispatcher) runWorker(ctx context.Context, id int, ch <-chan domain.MemberEvent) {
	defer d.wg.Done()
	label := strconv.Itoa(id)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			metrics.DispatchQueueDepth.WithLabelValues(label).Set(float64(len(ch)))
			// The handler reports its own outcomes; this only records that
			// the event did not reach its target state.
			if err := d.handler.HandleMemberEvent(ctx, ev); err != nil {
				d.log.Debug().Err(err).
					Str("member_id", ev.Member.ID).
					Str("event", string(ev.Kind)).
					Int("worker_id", id).
					Msg("member event not fully applied")
			}
		}
	}
}
