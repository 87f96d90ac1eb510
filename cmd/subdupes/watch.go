package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Veraticus/subdupes/internal/background"
	"github.com/Veraticus/subdupes/internal/cli"
	"github.com/Veraticus/subdupes/internal/common"
	"github.com/Veraticus/subdupes/internal/detect"
	"github.com/Veraticus/subdupes/internal/dispatch"
	"github.com/Veraticus/subdupes/internal/model"
	"github.com/Veraticus/subdupes/internal/schedule"
	"github.com/Veraticus/subdupes/internal/service"
)

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch FILE",
		Short: "Watch a page file and prompt when a subscription appears",
		Long: `Watch an HTML file, such as one kept up to date by a browser extension
or a headless browser, and rescan it as its content changes. Scans are
debounced and throttled like they would be in the browser.

Send SIGUSR1 to scan the page immediately, even when its URL does not look
like a pricing or checkout page.`,
		Args: cobra.ExactArgs(1),
		RunE: runWatch,
	}

	cmd.Flags().String("url", "", "URL the page is loaded from (required)")
	cmd.Flags().Bool("auto-save", false, "Queue every prompted subscription without asking")
	cmd.Flags().Bool("sync", false, "Sync in the background while watching")
	_ = cmd.MarkFlagRequired("url")

	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	pageURL, _ := cmd.Flags().GetString("url")
	autoSave, _ := cmd.Flags().GetBool("auto-save")
	withSync, _ := cmd.Flags().GetBool("sync")
	out := cmd.OutOrStdout()

	interrupts := cli.NewInterruptHandler(out, "Saved subscriptions stay queued for the next sync.")
	ctx := interrupts.HandleInterrupts(cmd.Context())

	a, err := openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	scanner, err := a.scanner()
	if err != nil {
		return err
	}

	handler := &watchHandler{svc: a.svc, out: out, autoSave: autoSave}
	page := schedule.NewFilePage(args[0], pageURL)
	observer := schedule.NewFileObserver(args[0], schedule.RealClock{}, a.cfg.Scheduler.PollInterval)
	sched := schedule.New(page, observer, scanner, dispatch.New(handler), schedule.RealClock{}, a.cfg.Scheduler)
	handler.force = sched.ForceScan
	notifyForceScan(ctx, handler)

	if withSync {
		go a.svc.RunPeriodicSync(ctx, a.cfg.Sync.Interval)
	}

	_, _ = fmt.Fprintln(out, cli.FormatInfo(fmt.Sprintf("Watching %s as %s", args[0], pageURL)))
	sched.Start(ctx)
	<-ctx.Done()
	sched.Stop()

	common.LogDebug("Watch stopped", common.Fields{"interrupted": interrupts.WasInterrupted()})
	return nil
}

// watchHandler forwards messages to the background service and reports
// prompt decisions on the terminal.
type watchHandler struct {
	svc      *background.Service
	out      io.Writer
	force    func() (detect.Result, error)
	autoSave bool
}

var _ service.Handler = (*watchHandler)(nil)

func (h *watchHandler) Handle(ctx context.Context, msg service.Message) service.Response {
	if msg.Type == service.MsgScanPage && h.force != nil {
		return h.forceScan()
	}

	resp := h.svc.Handle(ctx, msg)
	if msg.Type != service.MsgSubscriptionPromptReady || !resp.Success || msg.Candidate == nil {
		return resp
	}

	c := *msg.Candidate
	switch resp.Notice {
	case dispatch.ShowPrompt.String():
		_, _ = fmt.Fprintln(h.out, cli.RenderBox(cli.DetectIcon+" Subscription detected", formatCandidate(c)))
		if !h.autoSave {
			_, _ = fmt.Fprintln(h.out, cli.FormatInfo("Run `subdupes scan --save` to track it, or `subdupes dismiss` to stop asking for this site."))
			break
		}
		saved := h.svc.Handle(ctx, service.Message{
			Type:      service.MsgSaveFromPrompt,
			Candidate: &c,
			Source:    model.SourceProactivePrompt,
		})
		if saved.Success {
			_, _ = fmt.Fprintln(h.out, cli.FormatSuccess(fmt.Sprintf("Queued %s for sync (%d pending).", c.Name, saved.Count)))
		} else {
			_, _ = fmt.Fprintln(h.out, cli.FormatError(saved.Error))
		}
	case dispatch.AlreadyTracked.String():
		if resp.Match != nil {
			_, _ = fmt.Fprintln(h.out, cli.FormatInfo(cli.TrackedIcon+" Already tracking "+resp.Match.Name))
		}
	case "price_changed":
		if resp.Match != nil {
			_, _ = fmt.Fprintln(h.out, cli.FormatWarning(fmt.Sprintf("%s now costs %s; you track it at %s.",
				resp.Match.Name,
				cli.FormatAmount(c.Amount, c.Currency),
				cli.FormatAmount(resp.Match.Amount, resp.Match.Currency))))
		}
	}
	return resp
}

// forceScan scans the page regardless of its URL. Detections reach the
// terminal through the dispatcher like any other scan.
func (h *watchHandler) forceScan() service.Response {
	result, err := h.force()
	switch {
	case errors.Is(err, common.ErrNoPriceFound):
		_, _ = fmt.Fprintln(h.out, cli.FormatWarning("Looks like a checkout page, but no price was found."))
	case err != nil:
		_, _ = fmt.Fprintln(h.out, cli.FormatError("Scan failed: "+err.Error()))
		return service.Fail(err)
	case !result.Detected:
		_, _ = fmt.Fprintln(h.out, cli.FormatInfo(fmt.Sprintf("No subscription detected (score %d).", result.Breakdown.Total())))
	}
	return service.Response{Success: true}
}
