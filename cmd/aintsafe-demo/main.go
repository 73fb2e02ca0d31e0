// Command aintsafe-demo is the external collaborator the primitive
// packages in this module deliberately leave out of scope: a runnable
// scenario that wires a memory bag, a nested queue, a double buffer, and an
// intrusive subscriber list together, the way a firmware main loop and its
// interrupt handlers would.
//
// It is not part of the primitives' contract (see mcas, dbuf, queue, bag,
// ilist); it exists so the project's ambient logging and configuration
// stack has somewhere to live.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/dijkstracula/aint-safe/bag"
	"github.com/dijkstracula/aint-safe/dbuf"
	"github.com/dijkstracula/aint-safe/ilist"
	"github.com/dijkstracula/aint-safe/queue"
)

// Item is the element type flowing through the queue and double buffer in
// this scenario.
type Item struct {
	Seq   uint64
	Value int
}

// subscriber is an intrusive list node tracking one attached reader
// goroutine, so the demo can drain and report them cleanly on shutdown.
type subscriber struct {
	ilist.Node
	id int
}

type config struct {
	capacity   int
	scratch    int
	readers    int
	writers    int
	iterations int
	orderName  string
	seed       int64
}

func parseFlags(args []string) (config, error) {
	fs := flag.NewFlagSet("aintsafe-demo", flag.ContinueOnError)
	cfg := config{}
	fs.IntVar(&cfg.capacity, "capacity", 8, "queue capacity")
	fs.IntVar(&cfg.scratch, "scratch", 4, "reader scratch-buffer bag capacity")
	fs.IntVar(&cfg.readers, "readers", 2, "number of reader goroutines")
	fs.IntVar(&cfg.writers, "writers", 1, "number of writer goroutines (nested-order queues assume a single producer)")
	fs.IntVar(&cfg.iterations, "iterations", 100, "items written per writer")
	fs.StringVar(&cfg.orderName, "order", "nested", "commit/release ordering discipline: nested or fcfs")
	fs.Int64Var(&cfg.seed, "seed", time.Now().UTC().UnixNano(), "PRNG seed")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if cfg.capacity <= 0 {
		return config{}, errors.Errorf("capacity must be positive, got %d", cfg.capacity)
	}
	if cfg.scratch <= 0 {
		return config{}, errors.Errorf("scratch must be positive, got %d", cfg.scratch)
	}
	if cfg.readers <= 0 || cfg.writers <= 0 {
		return config{}, errors.New("readers and writers must both be positive")
	}
	return cfg, nil
}

func (c config) order() (queue.Order, error) {
	switch c.orderName {
	case "nested":
		return queue.OrderNested, nil
	case "fcfs":
		return queue.OrderFCFS, nil
	default:
		return 0, errors.Errorf("unknown order %q: want nested or fcfs", c.orderName)
	}
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "aintsafe-demo: %+v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := parseFlags(args)
	if err != nil {
		return errors.Wrap(err, "parsing flags")
	}
	order, err := cfg.order()
	if err != nil {
		return err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return errors.Wrap(err, "building logger")
	}
	defer logger.Sync() //nolint:errcheck

	q := queue.New(make([]Item, cfg.capacity), order, order)
	scratch := bag.New(make([]Item, cfg.scratch))
	status := dbuf.New(make([]Item, 2))

	var subsHead ilist.Node
	var subsMu sync.Mutex // guards structural mutation of subsHead's region, per ilist's documented contract

	var writerWG sync.WaitGroup
	writerWG.Add(cfg.writers)
	for w := 0; w < cfg.writers; w++ {
		go func(id int) {
			defer writerWG.Done()
			rng := rand.New(rand.NewSource(cfg.seed + int64(id)))
			for i := 0; i < cfg.iterations; i++ {
				for {
					slot := q.WriteAcquire()
					if slot != nil {
						*slot = Item{Seq: uint64(i), Value: rng.Intn(1000)}
						q.WriteCommit(slot)
						break
					}
					runtime.Gosched()
				}
			}
			logger.Info("writer done", zap.Int("writer", id))
		}(w)
	}

	stop := make(chan struct{})
	var readerWG sync.WaitGroup
	readerWG.Add(cfg.readers)
	for r := 0; r < cfg.readers; r++ {
		go func(id int) {
			defer readerWG.Done()

			sub := &subscriber{id: id}
			subsMu.Lock()
			ilist.Append(&subsHead, &sub.Node)
			subsMu.Unlock()
			defer func() {
				subsMu.Lock()
				ilist.DeleteAfter(&subsHead, &sub.Node)
				subsMu.Unlock()
			}()

			for {
				select {
				case <-stop:
					return
				default:
				}
				slot := q.ReadAcquire()
				if slot == nil {
					runtime.Gosched()
					continue
				}
				item := *slot
				q.ReadRelease(slot)

				scratchSlot := scratch.Acquire()
				if scratchSlot == nil {
					// No scratch buffer free; drop this update rather than
					// block, matching the primitives' no-spin contract.
					continue
				}
				*scratchSlot = item

				w := status.WriteAcquire()
				if w != nil {
					*w = *scratchSlot
					status.WriteCommit(w)
				}
				scratch.Release(scratchSlot)

				logger.Debug("published", zap.Int("reader", id), zap.Uint64("seq", item.Seq))
			}
		}(r)
	}

	// Writers terminate on their own once they've written cfg.iterations
	// items each; readers run until every queued item has drained, then
	// shut down. This sequencing lives here, in the demo, because the
	// primitives themselves have no notion of "done" -- they only ever
	// report whether a slot was available right now.
	writerWG.Wait()
	for q.CountReadable() > 0 {
		runtime.Gosched()
	}
	close(stop)
	readerWG.Wait()

	r := status.ReadAcquire()
	var last Item
	if r != nil {
		last = *r
		status.ReadRelease(r)
	}
	logger.Info("final status", zap.Uint64("seq", last.Seq), zap.Int("value", last.Value))
	return nil
}
