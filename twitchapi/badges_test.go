package twitchapi

import (
	"context"
	"testing"

	"github.com/onnwee/banter/testutil"
)

func TestBadgeCache_LoadAndResolve(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)
	mock.MockGlobalBadges([]testutil.MockBadge{
		{SetID: "moderator", Version: "1", URL1x: "g-mod-1x", URL2x: "g-mod-2x"},
		{SetID: "subscriber", Version: "1", URL1x: "g-sub-1x", URL2x: "g-sub-2x"},
		{SetID: "subscriber", Version: "12", URL1x: "g-sub12-1x", URL2x: "g-sub12-2x"},
	})
	mock.MockChannelBadges("999", []testutil.MockBadge{
		{SetID: "subscriber", Version: "12", URL1x: "c-sub12-1x", URL2x: "c-sub12-2x"},
	})

	cache := NewBadgeCache(newTestHelix(t, mock))
	if err := cache.Load(context.Background(), "999"); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cache.Len() != 3 {
		t.Errorf("Len() = %d, want 3", cache.Len())
	}
	if id, at := cache.Loaded(); id != "999" || at.IsZero() {
		t.Errorf("Loaded() = %q, %v", id, at)
	}

	got := cache.Resolve([]string{"moderator", "subscriber/12", "vip", "subscriber"})
	if len(got) != 3 {
		t.Fatalf("Resolve() returned %d entries, want 3: %v", len(got), got)
	}
	if got["moderator"].URL1x != "g-mod-1x" {
		t.Errorf("moderator = %+v", got["moderator"])
	}
	if got["subscriber/12"].URL1x != "c-sub12-1x" {
		t.Errorf("channel badge should override global, got %+v", got["subscriber/12"])
	}
	if got["subscriber"].URL2x != "g-sub-2x" {
		t.Errorf("unversioned id should resolve as version 1, got %+v", got["subscriber"])
	}
	if _, ok := got["vip"]; ok {
		t.Error("unknown badge should be omitted")
	}
}

func TestBadgeCache_GlobalOnly(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)
	mock.MockGlobalBadges([]testutil.MockBadge{{SetID: "staff", Version: "1", URL1x: "s"}})

	cache := NewBadgeCache(newTestHelix(t, mock))
	if err := cache.Load(context.Background(), ""); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cache.Len() != 1 {
		t.Errorf("Len() = %d, want 1", cache.Len())
	}
}

func TestBadgeCache_FailedLoadKeepsContents(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)
	mock.MockGlobalBadges([]testutil.MockBadge{{SetID: "staff", Version: "1", URL1x: "s"}})
	cache := NewBadgeCache(newTestHelix(t, mock))
	if err := cache.Load(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	// No channel badge handler registered: the channel request 404s.
	if err := cache.Load(context.Background(), "123"); err == nil {
		t.Fatal("Load() should fail when channel badges are unavailable")
	}
	if cache.Len() != 1 {
		t.Errorf("Len() after failed load = %d, want 1", cache.Len())
	}
}
