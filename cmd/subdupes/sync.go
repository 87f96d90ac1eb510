package main

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/Veraticus/subdupes/internal/backend"
	"github.com/Veraticus/subdupes/internal/cli"
	"github.com/Veraticus/subdupes/internal/common"
	"github.com/Veraticus/subdupes/internal/model"
)

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Sync queued subscriptions to your account",
		Long: `Refresh the subscriptions tracked on your account, then send every
queued subscription that is not a likely duplicate. Likely duplicates are
held as conflicts for you to resolve with 'subdupes conflicts resolve'.`,
		Args: cobra.NoArgs,
		RunE: runSync,
	}
}

func runSync(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	interrupts := cli.NewInterruptHandler(out, "Unsynced subscriptions stay queued.")
	ctx := interrupts.HandleInterrupts(cmd.Context())

	progress := &syncProgress{w: out}
	a, err := openApp(ctx, progress.update)
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.svc.Sync(ctx)
	progress.finish()
	if err != nil {
		if interrupts.WasInterrupted() {
			return nil
		}
		return syncError(err)
	}

	printSummary(out, summary)
	return nil
}

// syncError explains a failed sync. Offline and signed-out failures leave the
// queue untouched.
func syncError(err error) error {
	switch {
	case errors.Is(err, common.ErrUnauthorized):
		return common.NewUserError("Not signed in to SubDupes. Saved subscriptions stay queued until the next sync.", err)
	case backend.IsOffline(err):
		return common.NewUserError("Could not reach SubDupes. Saved subscriptions stay queued until the next sync.", err)
	case errors.Is(err, common.ErrSyncInProgress):
		return common.NewUserError("Another sync is already running.", err)
	default:
		return common.NewUserError("Sync failed", err)
	}
}

// syncProgress creates its bar on the first update, once the total is known.
type syncProgress struct {
	w   io.Writer
	bar *progressbar.ProgressBar
	mu  sync.Mutex
}

func (p *syncProgress) update(done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar == nil {
		p.bar = cli.NewSyncProgress(p.w, total)
	}
	_ = p.bar.Set(done)
}

func (p *syncProgress) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

func printSummary(w io.Writer, s model.SyncSummary) {
	if s.SyncedCount == 0 && s.Conflicts == 0 && s.Failed == 0 {
		_, _ = fmt.Fprintln(w, cli.FormatSuccess("Everything is up to date."))
		return
	}
	if s.SyncedCount > 0 {
		_, _ = fmt.Fprintln(w, cli.FormatSuccess(fmt.Sprintf("Synced %d subscription(s).", s.SyncedCount)))
	}
	if s.Conflicts > 0 {
		_, _ = fmt.Fprintln(w, cli.FormatWarning(fmt.Sprintf("%d possible duplicate(s). Run 'subdupes conflicts resolve'.", s.Conflicts)))
	}
	if s.Failed > 0 {
		_, _ = fmt.Fprintln(w, cli.FormatError(fmt.Sprintf("%d subscription(s) could not be sent and stay queued.", s.Failed)))
	}
}
