package testsupport

import (
	"context"
	"testing"

	"livestreamdvr/internal/config"
	"livestreamdvr/internal/vod"
)

// MustOpenStore opens a vod.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *vod.Store {
	t.Helper()

	store, err := vod.Open(cfg)
	if err != nil {
		t.Fatalf("vod.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewVOD creates and persists a VOD for tests.
func NewVOD(t testing.TB, store *vod.Store, channel, basename string, provider vod.ProviderData) *vod.VOD {
	t.Helper()

	v, err := store.Create(context.Background(), vod.CreateParams{
		ChannelID: channel,
		Basename:  basename,
		Provider:  provider,
	})
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return v
}
