package postgresql

import (
	"testing"
	"time"
)

func TestPoolOptionsWithDefaults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   PoolOptions
		want PoolOptions
	}{
		{
			name: "zero values",
			want: PoolOptions{MaxOpenConns: 25, MaxIdleConns: 5, ConnMaxLifetime: time.Hour},
		},
		{
			name: "idle clamped to open",
			in:   PoolOptions{MaxOpenConns: 4, MaxIdleConns: 10},
			want: PoolOptions{MaxOpenConns: 4, MaxIdleConns: 4, ConnMaxLifetime: time.Hour},
		},
		{
			name: "explicit values kept",
			in:   PoolOptions{MaxOpenConns: 50, MaxIdleConns: 10, ConnMaxLifetime: time.Minute},
			want: PoolOptions{MaxOpenConns: 50, MaxIdleConns: 10, ConnMaxLifetime: time.Minute},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := tt.in.withDefaults(); got != tt.want {
				t.Fatalf("withDefaults() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
