package tf

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ollama/tfbind/native"
	"github.com/ollama/tfbind/native/reference"
)

// newTestRuntime öffnet eine Referenz-Runtime, die am Testende ohne
// übrig gebliebene Handles geschlossen werden muss
func newTestRuntime(t *testing.T, opts ...Option) (*Runtime, *reference.Runtime) {
	t.Helper()

	ref := reference.New()
	rt, err := NewRuntime(append([]Option{
		WithAPI(ref),
		WithLogger(slog.New(slog.DiscardHandler)),
		WithStrict(false),
		WithLeakCheck(true),
		WithRunTimeout(0),
	}, opts...)...)
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := rt.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return rt, ref
}

func TestNewRuntimeNative(t *testing.T) {
	rt, err := NewRuntime(WithNative("reference"), WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)
	defer rt.Close()

	if rt.API().Name() != "reference" {
		t.Errorf("API().Name() = %q", rt.API().Name())
	}
	if rt.Version() != reference.Version {
		t.Errorf("Version() = %q, erwartet %q", rt.Version(), reference.Version)
	}

	if _, err := NewRuntime(WithNative("does-not-exist")); err == nil {
		t.Error("NewRuntime mit unbekannter Runtime sollte fehlschlagen")
	}
}

func TestRuntimeCloseReleasesLeaks(t *testing.T) {
	ref := reference.New()
	rt, err := NewRuntime(WithAPI(ref), WithLogger(slog.New(slog.DiscardHandler)), WithLeakCheck(true), WithStrict(false))
	require.NoError(t, err)

	g, err := rt.NewGraph()
	require.NoError(t, err)
	s, err := NewSession(g, &SessionOptions{})
	require.NoError(t, err)
	tensor, err := NewTensor(rt, []float32{1, 2})
	require.NoError(t, err)

	err = rt.Close()

	var leak *LeakError
	if !errors.As(err, &leak) {
		t.Fatalf("Close = %v, erwartet LeakError", err)
	}
	if !errors.Is(err, ErrLeakedHandles) {
		t.Errorf("errors.Is(err, ErrLeakedHandles) = false")
	}

	kinds := make([]Kind, len(leak.Handles))
	for i, e := range leak.Handles {
		kinds[i] = e.Kind
	}
	require.Equal(t, []Kind{KindGraph, KindSession, KindTensor}, kinds)

	if n := rt.Registry().Len(); n != 0 {
		t.Errorf("Registry().Len() = %d nach Close", n)
	}
	if n := ref.Live(); n != 0 {
		t.Errorf("native Objekte nach Close: %d", n)
	}

	// alles ist bereits freigegeben
	if err := s.Close(); !errors.Is(err, ErrDoubleRelease) {
		t.Errorf("Session.Close nach Runtime.Close = %v", err)
	}
	if err := tensor.Close(); !errors.Is(err, ErrDoubleRelease) {
		t.Errorf("Tensor.Close nach Runtime.Close = %v", err)
	}
	if _, err := rt.NewGraph(); !errors.Is(err, ErrRuntimeClosed) {
		t.Errorf("NewGraph nach Close = %v", err)
	}
	if err := rt.Close(); !errors.Is(err, ErrDoubleRelease) {
		t.Errorf("zweites Close = %v", err)
	}
}

func TestRuntimeStrict(t *testing.T) {
	rt, _ := newTestRuntime(t, WithStrict(true))

	tensor, err := NewTensor(rt, int32(7))
	require.NoError(t, err)
	require.NoError(t, tensor.Close())

	require.Panics(t, func() { tensor.Close() })
	require.Panics(t, func() { tensor.Bytes() })
}

func TestNativeErrorIs(t *testing.T) {
	err := error(&NativeError{Code: native.InvalidArgument, Message: "bad", Op: "SessionRun"})

	if !errors.Is(err, &NativeError{Code: InvalidArgument}) {
		t.Error("errors.Is mit gleichem Code sollte passen")
	}
	if errors.Is(err, &NativeError{Code: NotFound}) {
		t.Error("errors.Is mit anderem Code sollte nicht passen")
	}
	if !IsCode(err, InvalidArgument) {
		t.Error("IsCode(InvalidArgument) = false")
	}
	if got, want := err.Error(), "tf: SessionRun: INVALID_ARGUMENT: bad"; got != want {
		t.Errorf("Error() = %q, erwartet %q", got, want)
	}
}
