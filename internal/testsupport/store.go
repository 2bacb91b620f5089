package testsupport

import (
	"context"
	"testing"

	"nmrauto/internal/config"
	"nmrauto/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// AddSample enqueues a proton measurement at holder for tests.
func AddSample(t testing.TB, store *queue.Store, name string, holder int) *queue.Sample {
	t.Helper()

	sample, err := store.AddSample(context.Background(), queue.NewSample{
		Name:     name,
		Holder:   holder,
		Kind:     queue.KindSample,
		Protocol: "1D PROTON+",
		Scans:    16,
		RepTime:  10,
		Solvent:  "CDCl3",
	})
	if err != nil {
		t.Fatalf("store.AddSample: %v", err)
	}
	return sample
}

// AddShim enqueues a shim job of the given kind at holder for tests.
func AddShim(t testing.TB, store *queue.Store, kind queue.Kind, holder int) *queue.Sample {
	t.Helper()

	sample, err := store.AddSample(context.Background(), queue.NewSample{
		Name:   string(kind),
		Holder: holder,
		Kind:   kind,
	})
	if err != nil {
		t.Fatalf("store.AddSample(%s): %v", kind, err)
	}
	return sample
}
