package sysinfo

import (
	"context"
	"errors"
	"testing"
)

func TestPullResolvesRegisteredProvider(t *testing.T) {
	r := NewRegistry()
	r.Register("users", ProviderFunc(func(ctx context.Context) (any, error) {
		return []string{"alice", "bob"}, nil
	}))

	got, err := r.Pull(context.Background(), "users")
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	users, ok := got.([]string)
	if !ok || len(users) != 2 {
		t.Fatalf("unexpected result: %v", got)
	}
}

func TestPullUnknownProviderErrors(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Pull(context.Background(), "nope"); err == nil {
		t.Fatal("expected an error for an unregistered provider")
	}
}

func TestPullAllAggregatesEveryProvider(t *testing.T) {
	r := NewRegistry()
	r.Register("a", ProviderFunc(func(ctx context.Context) (any, error) { return 1, nil }))
	r.Register("b", ProviderFunc(func(ctx context.Context) (any, error) { return 2, nil }))

	got, err := r.Pull(context.Background(), "all")
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	out, ok := got.(map[string]any)
	if !ok || out["a"] != 1 || out["b"] != 2 {
		t.Fatalf("unexpected aggregate: %v", got)
	}
}

// An empty item string is the refresh command's default and must behave
// exactly like "all" (spec.md §4.7).
func TestPullEmptyItemDefaultsToAll(t *testing.T) {
	r := NewRegistry()
	r.Register("a", ProviderFunc(func(ctx context.Context) (any, error) { return 1, nil }))

	got, err := r.Pull(context.Background(), "")
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if _, ok := got.(map[string]any); !ok {
		t.Fatalf("expected an aggregate map, got %T", got)
	}
}

func TestPullAllPropagatesProviderError(t *testing.T) {
	r := NewRegistry()
	r.Register("broken", ProviderFunc(func(ctx context.Context) (any, error) {
		return nil, errors.New("boom")
	}))

	if _, err := r.Pull(context.Background(), "all"); err == nil {
		t.Fatal("expected the aggregate pull to surface a provider error")
	}
}

func TestNamesReturnsEveryRegisteredProvider(t *testing.T) {
	r := NewRegistry()
	r.Register("a", ProviderFunc(func(ctx context.Context) (any, error) { return nil, nil }))
	r.Register("b", ProviderFunc(func(ctx context.Context) (any, error) { return nil, nil }))

	names := r.Names()
	if len(names) != 2 {
		t.Fatalf("expected 2 names, got %v", names)
	}
}

func TestCurrentSystemMatchesKnownGOOS(t *testing.T) {
	switch CurrentSystem() {
	case "Windows", "Darwin", "Linux":
	default:
		t.Fatalf("unexpected system name %q", CurrentSystem())
	}
}
