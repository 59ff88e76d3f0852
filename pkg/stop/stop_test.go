package stop

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type stopper struct{ err error }

func (s stopper) Stop() Result {
	c := make(Channel)
	go c.Done(s.err)
	return c.Result()
}

func TestGroupCollectsErrors(t *testing.T) {
	g := NewGroup()
	g.Add(stopper{})
	g.Add(stopper{err: errors.New("a")})
	g.AddFunc(Blocking(func() error { return errors.New("b") }))
	g.AddFunc(AlreadyStoppedFunc)

	errs := g.Stop().Wait()
	require.Len(t, errs, 2)
	require.EqualError(t, errs[0], "a")
	require.EqualError(t, errs[1], "b")

	require.Empty(t, g.Stop().Wait(), "a stopped group is empty")
}

func TestGroupCleanStop(t *testing.T) {
	g := NewGroup()
	g.AddFunc(Blocking(func() error { return nil }))
	require.Nil(t, g.Stop().Err("group"))
}

func TestSequenceOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	step := func(name string, err error) Stopper {
		return Blocking(func() error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return err
		})
	}

	err := Sequence(
		step("frontend", nil),
		step("logic", errors.New("hook")),
		step("storage", errors.New("redis")),
	).Err("tracker")

	require.Equal(t, []string{"frontend", "logic", "storage"}, order)
	require.EqualError(t, err, "failed while stopping tracker: hook; redis")
}

func TestChannelResult(t *testing.T) {
	c := make(Channel)
	var r Result = c.Result()
	go c.Done(nil, errors.New("closed"), nil)
	errs := r.Wait()
	require.Len(t, errs, 1)
	require.EqualError(t, errs[0], "closed")

	c = make(Channel)
	go c.Done(nil)
	require.Empty(t, c.Result().Wait())
}
