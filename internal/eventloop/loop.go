// Package eventloop implements the single-threaded, event-driven dispatch
// model spec §5 requires of every LDP process: one goroutine multiplexes
// timers and readiness sources and executes all protocol logic; separate
// per-source reader/writer goroutines exist only to move bytes and never
// touch protocol state (spec §5: "exactly one goroutine per process
// executes protocol logic").
package eventloop

import (
	"container/heap"
	"context"
	"reflect"
	"time"
)

// Source is an external event fed into the loop by its own goroutine (a TCP
// reader, a UDP listener, a bus connection). The loop never calls into I/O
// directly; it only runs the Handler for events already delivered to C.
type Source struct {
	Name    string
	C       <-chan any
	Handler func(ctx context.Context, ev any)
}

// timer is an internal scheduled callback.
type timer struct {
	at    time.Time
	fn    func()
	index int
	id    uint64
}

type timerHeap []*timer

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index, h[j].index = i, j }
func (h *timerHeap) Push(x any)         { t := x.(*timer); t.index = len(*h); *h = append(*h, t) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// Loop is the single-goroutine dispatcher. Call Run from the goroutine that
// should execute all protocol logic for a process.
type Loop struct {
	sources []Source
	timers  timerHeap
	nextID  uint64

	wake chan struct{}
}

func New() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// AddSource registers an event source before Run is called.
func (l *Loop) AddSource(s Source) { l.sources = append(l.sources, s) }

// TimerHandle lets a caller cancel a scheduled timer.
type TimerHandle struct {
	t *timer
	l *Loop
}

// AfterFunc schedules fn to run on the loop goroutine after d elapses.
// fn executes inline during Run's dispatch, so it participates in the same
// single-goroutine protocol-logic guarantee as Source handlers.
func (l *Loop) AfterFunc(d time.Duration, fn func()) TimerHandle {
	l.nextID++
	t := &timer{at: time.Now().Add(d), fn: fn, id: l.nextID}
	heap.Push(&l.timers, t)
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return TimerHandle{t: t, l: l}
}

// Cancel removes a scheduled timer if it has not yet fired.
func (h TimerHandle) Cancel() {
	for i, t := range h.l.timers {
		if t.id == h.t.id {
			heap.Remove(&h.l.timers, i)
			return
		}
	}
}

// Run dispatches timers and source events until ctx is canceled, using
// reflect.Select over the registered sources since their number is dynamic
// per process (LDPE has far more sources than Parent or LDE). Run is the only place
// in a process that blocks on readiness; every Handler it calls runs
// inline, so protocol logic never runs concurrently with itself.
func (l *Loop) Run(ctx context.Context) {
	base := []reflect.SelectCase{
		{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())},
		{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(l.wake)},
	}
	for {
		cases := append([]reflect.SelectCase(nil), base...)
		var timerC <-chan time.Time
		var nextTimer *timer
		if len(l.timers) > 0 {
			nextTimer = l.timers[0]
			d := time.Until(nextTimer.at)
			if d < 0 {
				d = 0
			}
			tm := time.NewTimer(d)
			timerC = tm.C
			cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(timerC)})
		}
		for _, s := range l.sources {
			cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(s.C)})
		}

		chosen, recv, ok := reflect.Select(cases)
		switch {
		case chosen == 0: // ctx.Done()
			return
		case chosen == 1: // wake, re-evaluate timer heap
			continue
		case nextTimer != nil && chosen == 2:
			if len(l.timers) == 0 || l.timers[0] != nextTimer {
				continue // canceled or superseded while waiting
			}
			heap.Pop(&l.timers)
			nextTimer.fn()
		default:
			idx := chosen - len(cases) + len(l.sources)
			if !ok {
				continue
			}
			l.sources[idx].Handler(ctx, recv.Interface())
		}
	}
}
