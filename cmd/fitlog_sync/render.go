package main

import (
	"fmt"
	"io"

	"github.com/cybertec-postgresql/fitlog_sync/internal/record"
	"github.com/cybertec-postgresql/fitlog_sync/internal/sync"
)

func outcome(res sync.Result) string {
	switch {
	case res.Fatal != nil:
		return "failed"
	case res.Success:
		return "ok"
	}
	return "partial"
}

// renderResult prints a one-shot run for the terminal
func renderResult(w io.Writer, res sync.Result) {
	fmt.Fprintf(w, "sync %s: %s\n", res.RunID, outcome(res))
	for _, kind := range record.Kinds {
		fmt.Fprintf(w, "  %-10s %d synced\n", kind, res.Synced[kind])
	}
	if len(res.Conflicts) > 0 {
		fmt.Fprintln(w, "conflicts:")
		for _, c := range res.Conflicts {
			fmt.Fprintf(w, "  %s %d (%s): %s won\n", c.Kind, c.LocalKey, c.RemoteKey, c.Winner)
		}
	}
	if len(res.Errors) > 0 {
		fmt.Fprintln(w, "errors:")
		for _, e := range res.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
}
