// Package stop implements a pattern for shutting down a group of processes.
//
// Every long-lived component of the tracker exposes Stop() Result: the call
// returns at once and the Result delivers the errors of the shutdown.
package stop

import (
	"strings"
	"sync"
)

// Channel is used to return zero or more errors asynchronously. Call Done()
// once to pass errors to the Channel.
type Channel chan []error

// Result is a receive-only version of Channel. Call Wait() once to receive any
// returned errors.
type Result <-chan []error

// Done adds zero or more errors to the Channel and closes it, indicating the
// caller has finished stopping. It should be called exactly once.
//
// nil errors are dropped.
func (ch Channel) Done(errs ...error) {
	var nonNil []error
	for _, err := range errs {
		if err != nil {
			nonNil = append(nonNil, err)
		}
	}
	if len(nonNil) > 0 {
		ch <- nonNil
	}
	close(ch)
}

// Result converts a Channel to a Result.
func (ch Channel) Result() Result {
	return Result((chan []error)(ch))
}

// Wait blocks until Done() is called on the underlying Channel and returns any
// errors. It should be called exactly once.
func (r Result) Wait() []error {
	return <-r
}

// Err waits like Wait and folds the errors into one, prefixed by what was
// being stopped. It returns nil on a clean shutdown.
func (r Result) Err(what string) error {
	errs := r.Wait()
	if len(errs) == 0 {
		return nil
	}
	return &Error{What: what, Errs: errs}
}

// Error gathers the errors returned while stopping a component.
type Error struct {
	What string
	Errs []error
}

func (e *Error) Error() string {
	msgs := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		msgs = append(msgs, err.Error())
	}
	return "failed while stopping " + e.What + ": " + strings.Join(msgs, "; ")
}

// AlreadyStopped is a closed error channel to be used by Funcs when
// an element was already stopped.
var AlreadyStopped Result

// AlreadyStoppedFunc is a Func that returns AlreadyStopped.
var AlreadyStoppedFunc = func() Result { return AlreadyStopped }

func init() {
	closeMe := make(Channel)
	close(closeMe)
	AlreadyStopped = closeMe.Result()
}

// Stopper is an interface that allows a clean shutdown.
type Stopper interface {
	// Stop returns a channel that indicates whether the stop was
	// successful.
	//
	// The channel can either return one error or be closed.
	// Closing the channel signals a clean shutdown.
	// Stop() should return immediately and perform the actual shutdown in a
	// separate goroutine.
	Stop() Result
}

// Func is a function that can be used to provide a clean shutdown.
type Func func() Result

// Stop calls f, making a Func a Stopper.
func (f Func) Stop() Result {
	return f()
}

// Blocking adapts a blocking shutdown function into a Func that runs f in its
// own goroutine.
func Blocking(f func() error) Func {
	return func() Result {
		c := make(Channel)
		go func() {
			c.Done(f())
		}()
		return c.Result()
	}
}

// Group is a collection of Stoppers that can be stopped all at once.
type Group struct {
	mu      sync.Mutex
	members []Stopper
}

// NewGroup allocates a new Group.
func NewGroup() *Group {
	return &Group{}
}

// Add appends a Stopper to the Group.
func (g *Group) Add(s Stopper) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.members = append(g.members, s)
}

// AddFunc appends a Func to the Group.
func (g *Group) AddFunc(f Func) {
	g.Add(f)
}

// Stop stops all members of the Group concurrently.
//
// The Result carries every error returned by the members, in the order the
// members were added.
func (g *Group) Stop() Result {
	g.mu.Lock()
	members := g.members
	g.members = nil
	g.mu.Unlock()

	results := make([]Result, 0, len(members))
	for _, s := range members {
		r := s.Stop()
		if r == nil {
			panic("stop: received a nil Result from Stop")
		}
		results = append(results, r)
	}

	done := make(Channel)
	go func() {
		var errs []error
		for _, r := range results {
			errs = append(errs, r.Wait()...)
		}
		done.Done(errs...)
	}()

	return done.Result()
}

// Sequence stops the Stoppers one after the other, each only once the
// previous one is fully stopped, so that a component is stopped after
// everything using it. Errors do not interrupt the sequence.
func Sequence(stoppers ...Stopper) Result {
	done := make(Channel)
	go func() {
		var errs []error
		for _, s := range stoppers {
			errs = append(errs, s.Stop().Wait()...)
		}
		done.Done(errs...)
	}()

	return done.Result()
}
