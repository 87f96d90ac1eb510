package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Veraticus/subdupes/internal/background"
	"github.com/Veraticus/subdupes/internal/cli"
	"github.com/Veraticus/subdupes/internal/common"
	"github.com/Veraticus/subdupes/internal/service"
)

func draftCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "draft",
		Short: "Show or clear the staged subscription draft",
		Long: `The draft holds the most recent detection, the result of merging a
conflict, or a saved text selection, ready to be reviewed before it is added
by hand.`,
	}

	save := &cobra.Command{
		Use:   "save TEXT...",
		Short: "Stage selected page text as a draft",
		Long: `Stage text selected on a web page as a draft. The draft is named after
the page title up to its first "-" or "|", and the selection is kept as notes.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runDraftSave,
	}
	save.Flags().String("url", "", "URL of the page the text was selected on (required)")
	save.Flags().String("title", "", "Title of the page")
	save.Flags().BoolP("yes", "y", false, "Replace a staged draft without asking")
	_ = save.MarkFlagRequired("url")
	cmd.AddCommand(save)

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the staged draft",
		Args:  cobra.NoArgs,
		RunE:  runDraftShow,
	}
	show.Flags().Bool("consume", false, "Clear the draft after showing it")
	cmd.AddCommand(show)

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Clear the staged draft",
		Args:  cobra.NoArgs,
		RunE:  runDraftClear,
	})

	return cmd
}

func runDraftShow(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	consume, _ := cmd.Flags().GetBool("consume")
	out := cmd.OutOrStdout()

	a, err := openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	draft, found, err := a.svc.Draft(ctx)
	if err != nil {
		return err
	}
	if !found {
		_, _ = fmt.Fprintln(out, cli.FormatInfo("No draft staged."))
		return nil
	}

	content := fmt.Sprintf("Name:    %s\n", draft.Name)
	if draft.PlanName != "" {
		content += fmt.Sprintf("Plan:    %s\n", draft.PlanName)
	}
	content += fmt.Sprintf("Price:   %s / %s\n", cli.FormatAmount(draft.Amount, draft.Currency), draft.BillingCycle)
	if draft.WebsiteURL != "" {
		content += fmt.Sprintf("Site:    %s\n", draft.WebsiteURL)
	}
	if draft.Notes != "" {
		content += fmt.Sprintf("Notes:   %s\n", draft.Notes)
	}
	content += fmt.Sprintf("Source:  %s", draft.Source)
	_, _ = fmt.Fprintln(out, cli.RenderBox("Draft", content))

	if consume {
		return consumeDraft(cmd, a)
	}
	return nil
}

func runDraftClear(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := consumeDraft(cmd, a); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Draft cleared."))
	return nil
}

func consumeDraft(cmd *cobra.Command, a *app) error {
	resp := a.svc.Handle(cmd.Context(), service.Message{Type: service.MsgDraftConsumed})
	if !resp.Success {
		return fmt.Errorf("failed to clear draft: %s", resp.Error)
	}
	return nil
}

func runDraftSave(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	pageURL, _ := cmd.Flags().GetString("url")
	title, _ := cmd.Flags().GetString("title")
	yes, _ := cmd.Flags().GetBool("yes")

	a, err := openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	return saveSelection(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), a.svc, pageURL, title, strings.Join(args, " "), yes)
}

// saveSelection stages the selection, asking before it replaces a staged draft.
func saveSelection(ctx context.Context, in io.Reader, out io.Writer, svc *background.Service, pageURL, title, selection string, yes bool) error {
	_, err := svc.SaveSelection(ctx, pageURL, title, selection, yes)
	if errors.Is(err, common.ErrDraftExists) {
		ok, confirmErr := cli.NewPrompter(in, out).Confirm(ctx, "A draft already exists. Replace it with this selection?")
		if confirmErr != nil {
			return confirmErr
		}
		if !ok {
			_, _ = fmt.Fprintln(out, cli.FormatInfo("Kept the existing draft."))
			return nil
		}
		_, err = svc.SaveSelection(ctx, pageURL, title, selection, true)
	}
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintln(out, cli.FormatSuccess("Selection saved to the draft. Run `subdupes draft show` to review it."))
	return nil
}
