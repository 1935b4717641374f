package backend

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dekoninglab/grandconv/post"
)

func TestSelectCPU(tst *testing.T) {
	d, err := Select(false, false)
	require.NoError(tst, err)
	defer d.Shutdown()
	require.Equal(tst, "cpu", d.Backend())
	require.Equal(tst, Double, d.Device().Precision)
}

// without GPU support compiled in, requesting a GPU falls back to the
// CPU with a warning; mandatory GPU is an error.
func TestSelectGPUFallback(tst *testing.T) {
	d, err := Select(true, false)
	require.NoError(tst, err)
	defer d.Shutdown()
	require.Equal(tst, "cpu", d.Backend())

	if !NewCUDA().Available() && !NewMetal().Available() {
		_, err = Select(true, true)
		require.Error(tst, err)
	}
}

func TestDispatcherRun(tst *testing.T) {
	t, pairs := testPairs(tst, tree3, nil)
	tensor := post.Uniform(t.NNodes(), 2, 20)

	d, err := Select(false, false)
	require.NoError(tst, err)
	defer d.Shutdown()

	result, err := d.Run(tensor, pairs)
	require.NoError(tst, err)
	require.Len(tst, result.PConvergent, len(pairs))
	require.NoError(tst, result.Check())
}

// overBudget pretends to be a tiny device: the dispatcher must return
// to the CPU instead of launching.
type overBudget struct {
	ran      bool
	shutdown bool
}

func (b *overBudget) Name() string              { return "fake" }
func (b *overBudget) Available() bool           { return true }
func (b *overBudget) Init() (DeviceInfo, error) { return DeviceInfo{WorkingSet: 1}, nil }
func (b *overBudget) Run(job *Job) error        { b.ran = true; return nil }
func (b *overBudget) Shutdown()                 { b.shutdown = true }

func TestDispatcherBudgetFallback(tst *testing.T) {
	t, pairs := testPairs(tst, tree3, nil)
	tensor := post.Uniform(t.NNodes(), 2, 20)

	fake := &overBudget{}
	info, err := fake.Init()
	require.NoError(tst, err)
	d := &Dispatcher{backend: fake, info: info}

	result, err := d.Run(tensor, pairs)
	require.NoError(tst, err)
	require.Equal(tst, "cpu", d.Backend())
	require.False(tst, fake.ran)
	require.True(tst, fake.shutdown)
	require.NoError(tst, result.Check())
}

// a backend runtime error is fatal and shuts the backend down.
type failing struct {
	shutdown bool
}

func (b *failing) Name() string              { return "fake" }
func (b *failing) Available() bool           { return true }
func (b *failing) Init() (DeviceInfo, error) { return DeviceInfo{}, nil }
func (b *failing) Run(job *Job) error {
	return &RuntimeError{Backend: "fake", Pair: 3, Site: 7, Err: errors.New("copy failed")}
}
func (b *failing) Shutdown() { b.shutdown = true }

func TestDispatcherRuntimeError(tst *testing.T) {
	t, pairs := testPairs(tst, tree3, nil)
	tensor := post.Uniform(t.NNodes(), 1, 20)

	fake := &failing{}
	d := &Dispatcher{backend: fake}

	_, err := d.Run(tensor, pairs)
	require.Error(tst, err)
	require.True(tst, fake.shutdown)

	var rerr *RuntimeError
	require.True(tst, errors.As(err, &rerr))
	require.Equal(tst, 3, rerr.Pair)
}
