package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
)

const (
	exitOK          = 0
	exitFailed      = 1
	exitUsage       = 2
	exitInterrupted = 130
)

const usage = `usage: uploader [flags] file...
       uploader [flags] status | retry | clear | reset | help`

// Run executes the command named by args, which holds the positional
// arguments only. It returns the process exit code.
func (a *App) Run(ctx context.Context, args []string) int {
	cmd := ""
	if len(args) > 0 {
		cmd = args[0]
	}

	var err error
	switch cmd {
	case "help":
		printfFn(a.out, "%s\n", usage)
		return exitOK
	case "status":
		a.status()
		return exitOK
	case "clear":
		n := a.manager.ClearCompleted()
		printfFn(a.out, "removed %d completed job(s)\n", n)
		return exitOK
	case "reset":
		if err = a.reset(ctx); err == nil {
			return exitOK
		}
	case "retry":
		var n int
		n, err = a.manager.RetryFailed()
		if err == nil {
			printfFn(a.out, "requeued %d failed job(s)\n", n)
			err = a.upload(ctx, nil)
		}
	default:
		err = a.upload(ctx, args)
	}

	switch {
	case err == nil:
		return a.exitCode()
	case errors.Is(err, errUsage):
		printfFn(a.out, "%s\n", usage)
		return exitUsage
	case ctx.Err() != nil:
		s := a.manager.GetStats()
		printfFn(a.out, "interrupted, %d job(s) left in the queue\n", s.Pending+s.Uploading+s.Paused)
		return exitInterrupted
	default:
		printfFn(a.out, "error: %v\n", err)
		return exitFailed
	}
}

func (a *App) exitCode() int {
	s := a.manager.GetStats()
	printfFn(a.out, "%d completed, %d failed, %d cancelled\n", s.Completed, s.Failed, s.Cancelled)
	if s.Failed > 0 {
		return exitFailed
	}
	return exitOK
}

var printfFn = func(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
