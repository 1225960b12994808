package tf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/ollama/tfbind/native"
	"github.com/ollama/tfbind/native/reference"
)

func TestSessionTwoOps(t *testing.T) {
	rt, ref := newTestRuntime(t)

	g, err := rt.NewGraph()
	require.NoError(t, err)

	c := constOp(t, g, "c", [][]float32{{1, 2}, {3, 4}})
	sq := unaryOp(t, g, "Square", "sq", c.Output(0))

	s, err := NewSession(g, nil)
	require.NoError(t, err)

	out, err := s.Run(t.Context(), nil, []Output{sq.Output(0)}, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)

	if diff := cmp.Diff([]int64{2, 2}, out[0].Shape()); diff != "" {
		t.Errorf("Shape() (-want +got):\n%s", diff)
	}
	got, err := out[0].Value()
	require.NoError(t, err)
	if diff := cmp.Diff([][]float32{{1, 4}, {9, 16}}, got); diff != "" {
		t.Errorf("Value() (-want +got):\n%s", diff)
	}

	require.NoError(t, out[0].Close())
	require.NoError(t, s.Close())
	require.NoError(t, g.Close())

	if live := rt.Registry().Live(); len(live) != 0 {
		t.Errorf("lebende Handles: %v", live)
	}
	if n := ref.Live(); n != 0 {
		t.Errorf("native Objekte = %d", n)
	}
}

func TestSessionRunFailureExposesNothing(t *testing.T) {
	rt, _ := newTestRuntime(t)
	g := newTestGraph(t, rt)

	x := placeholderOp(t, g, "x", Float, ScalarShape())
	c := constOp(t, g, "c", float32(2))
	y := binaryOp(t, g, "Mul", "y", x.Output(0), c.Output(0))

	s, err := NewSession(g, nil)
	require.NoError(t, err)
	defer s.Close()

	before := rt.Registry().Len()

	out, err := s.Run(t.Context(), nil, []Output{c.Output(0), y.Output(0)}, nil)
	if out != nil {
		t.Errorf("Run = %v, erwartet nil", out)
	}
	if !errors.Is(err, &NativeError{Code: InvalidArgument}) {
		t.Fatalf("Run ohne Feed = %v, erwartet InvalidArgument", err)
	}

	if after := rt.Registry().Len(); after != before {
		t.Errorf("Registry().Len() = %d, vorher %d", after, before)
	}

	// falscher Typ im Feed
	wrong, err := NewTensor(rt, int32(1))
	require.NoError(t, err)
	defer wrong.Close()

	if _, err := s.Run(t.Context(), map[Output]*Tensor{x.Output(0): wrong}, []Output{y.Output(0)}, nil); !IsCode(err, InvalidArgument) {
		t.Errorf("Feed mit falschem Typ = %v", err)
	}
}

func TestSessionFeedsAndTargets(t *testing.T) {
	rt, _ := newTestRuntime(t)
	g := newTestGraph(t, rt)

	a := placeholderOp(t, g, "a", Int64, MakeShape(3))
	b := placeholderOp(t, g, "b", Int64, MakeShape(3))
	sum := binaryOp(t, g, "AddV2", "sum", a.Output(0), b.Output(0))
	diff := binaryOp(t, g, "Sub", "diff", a.Output(0), b.Output(0))
	noop, err := g.NewOperation("NoOp", "noop").AddControlInput(sum).Finish()
	require.NoError(t, err)

	s, err := NewSession(g, nil)
	require.NoError(t, err)
	defer s.Close()

	ta, err := NewTensor(rt, []int64{10, 20, 30})
	require.NoError(t, err)
	defer ta.Close()
	tb, err := NewTensor(rt, []int64{1, 2, 3})
	require.NoError(t, err)
	defer tb.Close()

	feeds := map[Output]*Tensor{a.Output(0): ta, b.Output(0): tb}
	out, err := s.Run(t.Context(), feeds, []Output{sum.Output(0), diff.Output(0)}, []*Operation{noop})
	require.NoError(t, err)
	defer out[0].Close()
	defer out[1].Close()

	for i, want := range [][]int64{{11, 22, 33}, {9, 18, 27}} {
		got, err := ValuesAs[int64](out[i])
		require.NoError(t, err)
		if d := cmp.Diff(want, got); d != "" {
			t.Errorf("out[%d] (-want +got):\n%s", i, d)
		}
	}

	// derselbe Tensor für beide Feeds
	same, err := s.Run(t.Context(), map[Output]*Tensor{a.Output(0): ta, b.Output(0): ta}, []Output{diff.Output(0)}, nil)
	require.NoError(t, err)
	defer same[0].Close()
	got, err := ValuesAs[int64](same[0])
	require.NoError(t, err)
	if d := cmp.Diff([]int64{0, 0, 0}, got); d != "" {
		t.Errorf("a-a (-want +got):\n%s", d)
	}

	// nur Targets
	none, err := s.Run(t.Context(), feeds, nil, []*Operation{noop})
	require.NoError(t, err)
	if len(none) != 0 {
		t.Errorf("Run nur mit Targets = %v", none)
	}
}

func TestSessionForeignGraph(t *testing.T) {
	rt, _ := newTestRuntime(t)
	g := newTestGraph(t, rt)
	other := newTestGraph(t, rt)

	constOp(t, g, "c", float32(1))
	foreign := constOp(t, other, "c", float32(1))

	s, err := NewSession(g, nil)
	require.NoError(t, err)
	defer s.Close()

	if _, err := s.Run(t.Context(), nil, []Output{foreign.Output(0)}, nil); err == nil {
		t.Error("Fetch aus fremdem Graphen sollte fehlschlagen")
	}
	if _, err := s.Run(t.Context(), nil, nil, []*Operation{foreign}); err == nil {
		t.Error("Target aus fremdem Graphen sollte fehlschlagen")
	}
}

func TestSessionConcurrentRuns(t *testing.T) {
	rt, _ := newTestRuntime(t)
	g := newTestGraph(t, rt)

	x := placeholderOp(t, g, "x", Float, MakeShape(2))
	y := unaryOp(t, g, "Square", "y", x.Output(0))

	s, err := NewSession(g, nil)
	require.NoError(t, err)
	defer s.Close()

	var eg errgroup.Group
	for i := range 16 {
		eg.Go(func() error {
			in, err := NewTensor(rt, []float32{float32(i), 2})
			if err != nil {
				return err
			}
			defer in.Close()

			out, err := s.Run(context.Background(), map[Output]*Tensor{x.Output(0): in}, []Output{y.Output(0)}, nil)
			if err != nil {
				return err
			}
			defer out[0].Close()

			got, err := ValuesAs[float32](out[0])
			if err != nil {
				return err
			}
			if want := []float32{float32(i * i), 4}; !cmp.Equal(want, got) {
				return fmt.Errorf("run %d: got %v, want %v", i, got, want)
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())
}

// blockingAPI hält SessionRun an, bis release geschlossen wird
type blockingAPI struct {
	*reference.Runtime
	started chan struct{}
	release chan struct{}
}

func (b *blockingAPI) SessionRun(s native.Handle, inputs []native.Port, values []native.Handle, outputs []native.Port, targets []native.Handle, st native.Handle) []native.Handle {
	close(b.started)
	<-b.release
	return b.Runtime.SessionRun(s, inputs, values, outputs, targets, st)
}

// failingDeleteAPI meldet für DeleteSession einen INTERNAL-Status
type failingDeleteAPI struct {
	*reference.Runtime

	mu     sync.Mutex
	failed map[native.Handle]bool
}

func (f *failingDeleteAPI) DeleteSession(h, st native.Handle) {
	f.Runtime.DeleteSession(h, st)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[st] = true
}

func (f *failingDeleteAPI) isFailed(st native.Handle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failed[st]
}

func (f *failingDeleteAPI) StatusCode(st native.Handle) native.Code {
	if f.isFailed(st) {
		return native.Internal
	}
	return f.Runtime.StatusCode(st)
}

func (f *failingDeleteAPI) StatusMessage(st native.Handle) string {
	if f.isFailed(st) {
		return "session could not be deleted"
	}
	return f.Runtime.StatusMessage(st)
}

func (f *failingDeleteAPI) DeleteStatus(st native.Handle) {
	f.mu.Lock()
	delete(f.failed, st)
	f.mu.Unlock()
	f.Runtime.DeleteStatus(st)
}

func TestSessionCloseDeleterFailure(t *testing.T) {
	var logs bytes.Buffer
	api := &failingDeleteAPI{Runtime: reference.New(), failed: make(map[native.Handle]bool)}
	rt, _ := newTestRuntime(t,
		WithAPI(api),
		WithLogger(slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))),
	)

	g, err := rt.NewGraph()
	require.NoError(t, err)
	constOp(t, g, "c", float32(1))

	s, err := NewSession(g, nil)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, g.Close())

	if n := rt.Registry().Len(); n != 0 {
		t.Errorf("Registry().Len() = %d, erwartet 0", n)
	}
	require.Contains(t, logs.String(), "native release failed")
	require.Contains(t, logs.String(), "session could not be deleted")
	require.Contains(t, logs.String(), "level=ERROR")
}

func TestSessionRunWatchdog(t *testing.T) {
	api := &blockingAPI{Runtime: reference.New(), started: make(chan struct{}), release: make(chan struct{})}
	rt, _ := newTestRuntime(t, WithAPI(api))
	g := newTestGraph(t, rt)

	c := constOp(t, g, "c", []float32{1, 2, 3})

	s, err := NewSession(g, nil)
	require.NoError(t, err)
	defer s.Close()

	baseline := api.Live()
	registered := rt.Registry().Len()

	ctx, cancel := context.WithCancel(t.Context())
	go func() {
		<-api.started
		cancel()
	}()

	out, err := s.Run(ctx, nil, []Output{c.Output(0)}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, erwartet context.Canceled", err)
	}
	if out != nil {
		t.Errorf("Run = %v, erwartet nil", out)
	}

	close(api.release)

	// die verspäteten Ausgaben werden freigegeben, nie registriert
	require.Eventually(t, func() bool { return api.Live() == baseline }, 5*time.Second, 5*time.Millisecond)
	if n := rt.Registry().Len(); n != registered {
		t.Errorf("Registry().Len() = %d, vorher %d", n, registered)
	}
}

func TestSessionRunTimeout(t *testing.T) {
	api := &blockingAPI{Runtime: reference.New(), started: make(chan struct{}), release: make(chan struct{})}
	rt, _ := newTestRuntime(t, WithAPI(api), WithRunTimeout(20*time.Millisecond))
	g := newTestGraph(t, rt)

	c := constOp(t, g, "c", float32(1))

	s, err := NewSession(g, nil)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Run(t.Context(), nil, []Output{c.Output(0)}, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run = %v, erwartet context.DeadlineExceeded", err)
	}
	close(api.release)
}

func TestSessionRunCanceledBeforeStart(t *testing.T) {
	rt, _ := newTestRuntime(t)
	g := newTestGraph(t, rt)
	c := constOp(t, g, "c", float32(1))

	s, err := NewSession(g, nil)
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	if _, err := s.Run(ctx, nil, []Output{c.Output(0)}, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, erwartet context.Canceled", err)
	}
}

func TestRunArgs(t *testing.T) {
	rt, _ := newTestRuntime(t)
	g := newTestGraph(t, rt)

	x := placeholderOp(t, g, "x", Double, ScalarShape())
	neg := unaryOp(t, g, "Neg", "neg", x.Output(0))
	sq := unaryOp(t, g, "Square", "sq", x.Output(0))

	s, err := NewSession(g, nil)
	require.NoError(t, err)
	defer s.Close()

	in, err := NewTensor(rt, 1.5)
	require.NoError(t, err)
	defer in.Close()

	args := s.NewRunArgs().AddFeed(x.Output(0), in)
	negTok := args.RequestFetch(neg, 0)
	sqTok := args.RequestFetch(sq, 0)

	if _, err := args.Fetch(negTok); err == nil {
		t.Error("Fetch vor Run sollte fehlschlagen")
	}

	require.NoError(t, args.Run(t.Context()))

	n, err := args.Fetch(negTok)
	require.NoError(t, err)
	defer n.Close()

	v, err := n.Value()
	require.NoError(t, err)
	if v != -1.5 {
		t.Errorf("neg = %v, erwartet -1.5", v)
	}

	if _, err := args.Fetch(negTok); err == nil {
		t.Error("zweites Fetch sollte fehlschlagen")
	}
	if _, err := args.Fetch(FetchToken(7)); err == nil {
		t.Error("Fetch mit unbekanntem Token sollte fehlschlagen")
	}

	// sq wird nicht abgeholt und von Close freigegeben. Ein neuer Lauf
	// ersetzt es.
	require.NoError(t, args.Run(t.Context()))
	sqt, err := args.Fetch(sqTok)
	require.NoError(t, err)
	defer sqt.Close()

	require.NoError(t, args.Close())
}

func TestSessionOptions(t *testing.T) {
	rt, ref := newTestRuntime(t)
	g := newTestGraph(t, rt)

	cfg := Config{IntraOpThreads: 4, InterOpThreads: 2, AllowSoftPlacement: true}
	s, err := NewSession(g, &SessionOptions{Config: cfg})
	require.NoError(t, err)
	defer s.Close()

	var got reference.Config
	require.NoError(t, s.g.borrow(func(h native.Handle) error {
		got = ref.SessionConfig(h)
		return nil
	}))
	want := reference.Config{IntraOpThreads: 4, InterOpThreads: 2, AllowSoftPlacement: true}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("SessionConfig (-want +got):\n%s", diff)
	}

	if _, err := NewSession(g, &SessionOptions{Target: "grpc://localhost:2222"}); !IsCode(err, InvalidArgument) {
		t.Errorf("NewSession mit Target = %v, erwartet InvalidArgument", err)
	}
}

func TestConfigMarshal(t *testing.T) {
	if b := (Config{}).Marshal(); len(b) != 0 {
		t.Errorf("leere Config = %x, erwartet keine Bytes", b)
	}

	cfg := Config{IntraOpThreads: 8, InterOpThreads: 300, AllowSoftPlacement: true, LogDevicePlacement: true}
	want := []byte{0x10, 0x08, 0x28, 0xac, 0x02, 0x38, 0x01, 0x40, 0x01}
	if diff := cmp.Diff(want, cfg.Marshal()); diff != "" {
		t.Errorf("Marshal (-want +got):\n%s", diff)
	}

	parsed, err := reference.ParseConfig(cfg.Marshal())
	require.NoError(t, err)
	if parsed.InterOpThreads != 300 || !parsed.LogDevicePlacement {
		t.Errorf("ParseConfig = %+v", parsed)
	}
}
