package main

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/cybertec-postgresql/fitlog_sync/internal/record"
	"github.com/cybertec-postgresql/fitlog_sync/internal/sync"
)

func TestRenderResult(t *testing.T) {
	tests := []struct {
		name string
		res  sync.Result
	}{
		{
			name: "success",
			res: sync.Result{
				RunID:   "run-1",
				Success: true,
				Synced:  map[record.Kind]int{record.KindWorkout: 2, record.KindLifestyle: 1},
			},
		},
		{
			name: "partial",
			res: sync.Result{
				RunID:  "run-2",
				Synced: map[record.Kind]int{record.KindWorkout: 1, record.KindLifestyle: 0},
				Conflicts: []sync.Conflict{
					{Kind: record.KindWorkout, LocalKey: 4, RemoteKey: "r4", Winner: sync.WinnerRemote},
				},
				Errors: []string{"lifestyle 7: invalid sleepQuality: 9 is outside 1..5"},
			},
		},
		{
			name: "failed",
			res: sync.Result{
				RunID:  "run-3",
				Synced: map[record.Kind]int{record.KindWorkout: 0, record.KindLifestyle: 0},
				Fatal:  fmt.Errorf("%w: dial tcp: connection refused", sync.ErrNetwork),
				Errors: []string{"no network connection: dial tcp: connection refused"},
			},
		},
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			renderResult(&buf, tt.res)
			g.Assert(t, tt.name, buf.Bytes())
		})
	}
}
