package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestNewRedis(t *testing.T) {
	t.Parallel()

	mr := newTestMiniredis(t)

	client, err := NewRedis(context.Background(), "redis://"+mr.Addr()+"/0")
	if err != nil {
		t.Fatalf("NewRedis() error = %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	if _, err := NewRedis(context.Background(), "not a url"); err == nil {
		t.Fatal("NewRedis() expected parse error")
	}

	stopped, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	addr := stopped.Addr()
	stopped.Close()
	if _, err := NewRedis(context.Background(), "redis://"+addr); err == nil {
		t.Fatal("NewRedis() expected ping error after server shutdown")
	}
}
