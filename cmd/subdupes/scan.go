package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Veraticus/subdupes/internal/background"
	"github.com/Veraticus/subdupes/internal/cli"
	"github.com/Veraticus/subdupes/internal/common"
	"github.com/Veraticus/subdupes/internal/detect"
	"github.com/Veraticus/subdupes/internal/model"
	"github.com/Veraticus/subdupes/internal/service"
)

func scanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan FILE",
		Short: "Scan a saved page for a subscription",
		Long: `Score a saved HTML page for subscription signals and extract the plan,
price and billing cycle. Use - to read the page from stdin.

With --save the detected subscription is queued for the next sync.`,
		Args: cobra.ExactArgs(1),
		RunE: runScan,
	}

	cmd.Flags().String("url", "", "URL the page was loaded from (required)")
	cmd.Flags().Bool("save", false, "Queue the detected subscription for sync")
	_ = cmd.MarkFlagRequired("url")

	return cmd
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	pageURL, _ := cmd.Flags().GetString("url")
	save, _ := cmd.Flags().GetBool("save")
	out := cmd.OutOrStdout()

	a, err := openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	scanner, err := a.scanner()
	if err != nil {
		return err
	}

	snap, err := readSnapshot(cmd.InOrStdin(), args[0], pageURL)
	if err != nil {
		return err
	}

	result, err := scanner.Scan(snap)
	cli.RenderBreakdown(out, result.Breakdown, scanner.Rules())
	if errors.Is(err, common.ErrNoPriceFound) {
		_, _ = fmt.Fprintln(out, cli.FormatWarning("Looks like a checkout page, but no price was found."))
		return nil
	}
	if err != nil {
		return err
	}
	if !result.Detected {
		_, _ = fmt.Fprintln(out, cli.FormatInfo("No subscription detected."))
		return nil
	}

	return reportDetection(ctx, out, a.svc, result, save)
}

// reportDetection prints a detected candidate and optionally queues it.
// Only results above the prompt threshold count toward the prompt cooldown.
func reportDetection(ctx context.Context, out io.Writer, svc *background.Service, result detect.Result, save bool) error {
	_, _ = fmt.Fprintln(out, cli.RenderBox(cli.DetectIcon+" Subscription detected", formatCandidate(result.Candidate)))

	if result.Prompt {
		notice := svc.Handle(ctx, service.Message{Type: service.MsgSubscriptionPromptReady, Candidate: &result.Candidate})
		if notice.Match != nil {
			_, _ = fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("You already track %s at %s.",
				notice.Match.Name, cli.FormatAmount(notice.Match.Amount, notice.Match.Currency))))
		}
	}

	if !save {
		return nil
	}

	resp := svc.Handle(ctx, service.Message{
		Type:      service.MsgSaveFromPrompt,
		Candidate: &result.Candidate,
		Source:    model.SourceManual,
	})
	if !resp.Success {
		return errors.New(resp.Error)
	}
	_, _ = fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Queued for sync (%d pending).", resp.Count)))
	return nil
}

func readSnapshot(stdin io.Reader, path, pageURL string) (detect.Snapshot, error) {
	if path == "-" {
		return detect.NewSnapshot(pageURL, stdin)
	}

	f, err := os.Open(path)
	if err != nil {
		return detect.Snapshot{}, fmt.Errorf("failed to open page: %w", err)
	}
	defer func() { _ = f.Close() }()

	return detect.NewSnapshot(pageURL, f)
}

func formatCandidate(c model.SubscriptionCandidate) string {
	s := fmt.Sprintf("Name:       %s\n", c.Name)
	if c.PlanName != "" {
		s += fmt.Sprintf("Plan:       %s\n", c.PlanName)
	}
	s += fmt.Sprintf("Price:      %s / %s\n", cli.FormatAmount(c.Amount, c.Currency), c.BillingCycle)
	s += fmt.Sprintf("Site:       %s\n", c.WebsiteURL)
	s += fmt.Sprintf("Confidence: %d", c.ConfidenceScore)
	return s
}
