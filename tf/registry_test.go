package tf

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/ollama/tfbind/native"
)

func TestRegistryOrder(t *testing.T) {
	r := newRegistry()

	graph := r.register(KindGraph, native.Handle(10), 0, nil)
	sess := r.register(KindSession, native.Handle(11), graph.ID, nil)
	tensor := r.register(KindTensor, native.Handle(12), 0, nil)

	if got := sess.String(); got != "session#2" {
		t.Errorf("String() = %q", got)
	}

	ids := func() []uint64 {
		var ids []uint64
		for _, e := range r.Live() {
			ids = append(ids, e.ID)
		}
		return ids
	}
	if diff := cmp.Diff([]uint64{graph.ID, sess.ID, tensor.ID}, ids()); diff != "" {
		t.Errorf("Live() (-want +got):\n%s", diff)
	}
	if r.Children(graph.ID) != 1 {
		t.Errorf("Children(graph) = %d", r.Children(graph.ID))
	}

	if _, _, err := r.deregister(graph.ID, nil); !errors.Is(err, ErrTeardownOrder) {
		t.Errorf("deregister(graph) = %v, erwartet ErrTeardownOrder", err)
	}

	released := false
	next, deferred, err := r.deregister(graph.ID, func() { released = true })
	require.NoError(t, err)
	if !deferred || next != nil {
		t.Errorf("deregister mit onOrder: deferred=%v next=%v", deferred, next != nil)
	}

	next, _, err = r.deregister(sess.ID, nil)
	require.NoError(t, err)
	if next == nil {
		t.Fatal("letztes Kind sollte die vorgemerkte Freigabe zurückgeben")
	}
	next()
	if !released {
		t.Error("vorgemerkte Freigabe wurde nicht aufgerufen")
	}

	if _, _, err := r.deregister(sess.ID, nil); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("zweites deregister = %v, erwartet ErrNotRegistered", err)
	}

	if err := r.CheckLeaks(); !errors.Is(err, ErrLeakedHandles) {
		t.Errorf("CheckLeaks = %v", err)
	}

	if _, ok := r.Lookup(tensor.ID); !ok {
		t.Error("Lookup(tensor) = false")
	}
}

func TestGuardCollectDeferredUntilSessionClosed(t *testing.T) {
	rt, ref := newTestRuntime(t)

	g, err := rt.NewGraph()
	require.NoError(t, err)
	constOp(t, g, "c", float32(1))

	s, err := NewSession(g, nil)
	require.NoError(t, err)

	// wie im Cleanup, wenn der Graph vor der Session eingesammelt wird
	g.g.collect()
	if g.g.isReleased() {
		t.Fatal("Graph darf vor seiner Session nicht freigegeben werden")
	}

	require.NoError(t, s.Close())
	if !g.g.isReleased() {
		t.Error("Graph sollte nach dem Schließen der Session freigegeben sein")
	}

	if n := rt.Registry().Len(); n != 0 {
		t.Errorf("Registry().Len() = %d", n)
	}
	if n := ref.Live(); n != 0 {
		t.Errorf("native Objekte = %d", n)
	}
}
