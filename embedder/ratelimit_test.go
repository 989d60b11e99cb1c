package embedder

import (
	"context"
	"testing"
	"time"
)

func TestRateLimited_Throttles(t *testing.T) {
	e := NewRateLimited(NewHashEmbedder(WithHashDimensions(8)), 20, 1)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := e.Embed(ctx, "hello world"); err != nil {
			t.Fatalf("Embed failed: %v", err)
		}
	}

	// burst 1 at 20 rps: the second and third calls wait ~50ms each
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("expected throttling, finished in %v", elapsed)
	}
}

func TestRateLimited_RespectsContext(t *testing.T) {
	e := NewRateLimited(NewHashEmbedder(WithHashDimensions(8)), 0.001, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := e.EmbedBatch(ctx, []string{"a"}); err != nil {
		t.Fatalf("first call should use the burst token: %v", err)
	}
	if _, err := e.EmbedBatch(ctx, []string{"a"}); err == nil {
		t.Fatal("expected wait error once the bucket is empty")
	}
}

func TestRateLimited_KeepsIdentity(t *testing.T) {
	inner := NewHashEmbedder(WithHashDimensions(32))
	e := NewRateLimited(inner, 10, 2)

	if e.Version() != inner.Version() || e.Dimensions() != 32 {
		t.Errorf("wrapper must expose inner version and dimensions")
	}
	if e.Unwrap() != Embedder(inner) {
		t.Errorf("Unwrap returned %T", e.Unwrap())
	}
}
