package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/subdupes/internal/cli"
	"github.com/Veraticus/subdupes/internal/service"
)

func pendingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Manage subscriptions waiting to be synced",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List queued subscriptions",
		Args:  cobra.NoArgs,
		RunE:  runPendingList,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "count",
		Short: "Print the number of queued subscriptions",
		Args:  cobra.NoArgs,
		RunE:  runPendingCount,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "discard ID",
		Short: "Remove a queued subscription without syncing it",
		Args:  cobra.ExactArgs(1),
		RunE:  runPendingDiscard,
	})

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every queued subscription",
		Args:  cobra.NoArgs,
		RunE:  runPendingClear,
	}
	clearCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	cmd.AddCommand(clearCmd)

	return cmd
}

func runPendingList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	items, err := a.svc.Queue().List(ctx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("Nothing waiting to sync."))
		return nil
	}

	cli.RenderPending(cmd.OutOrStdout(), items)
	return nil
}

func runPendingCount(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	resp := a.svc.Handle(ctx, service.Message{Type: service.MsgGetPendingCount})
	if !resp.Success {
		return fmt.Errorf("failed to count pending subscriptions: %s", resp.Error)
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), resp.Count)
	return nil
}

func runPendingDiscard(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.svc.Discard(ctx, args[0]); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Discarded "+args[0]))
	return nil
}

func runPendingClear(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	yes, _ := cmd.Flags().GetBool("yes")

	a, err := openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if !yes {
		ok, err := cli.NewPrompter(cmd.InOrStdin(), cmd.OutOrStdout()).Confirm(ctx, "Discard every queued subscription?")
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}

	if err := a.svc.Queue().Clear(ctx); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Pending queue cleared."))
	return nil
}
