package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBounded(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name    string
		fn      func(context.Context) (int, error)
		want    int
		wantErr error
	}{
		{
			name: "returns the result",
			fn:   func(context.Context) (int, error) { return 7, nil },
			want: 7,
		},
		{
			name:    "returns the error",
			fn:      func(context.Context) (int, error) { return 0, boom },
			wantErr: boom,
		},
		{
			name: "gives up on a call that ignores its context",
			fn: func(context.Context) (int, error) {
				time.Sleep(time.Second)
				return 1, nil
			},
			wantErr: context.DeadlineExceeded,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			got, err := Bounded(context.Background(), 30*time.Millisecond, tt.fn)
			assert.Less(t, time.Since(start), 500*time.Millisecond)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Zero(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
