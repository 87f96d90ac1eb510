package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/subdupes/internal/cli"
	"github.com/Veraticus/subdupes/internal/service"
)

func visitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "visit URL",
		Short: "Record a visit and report whether the site is already tracked",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			match, ok, err := a.svc.CheckVisit(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !ok {
				_, _ = fmt.Fprintln(out, cli.FormatInfo("Not a tracked subscription."))
				return nil
			}
			msg := fmt.Sprintf("%s %s: %s / %s", cli.TrackedIcon, match.Name,
				cli.FormatAmount(match.Amount, match.Currency), match.BillingCycle)
			if !match.NextBillingDate.IsZero() {
				msg += ", renews " + match.NextBillingDate.Format("Jan 2, 2006")
			}
			_, _ = fmt.Fprintln(out, cli.FormatSuccess(msg))
			return nil
		},
	}
}

func dismissCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dismiss DOMAIN",
		Short: "Stop prompting for subscriptions on a site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			resp := a.svc.Handle(ctx, service.Message{Type: service.MsgDismissDomain, Domain: args[0]})
			if !resp.Success {
				return fmt.Errorf("failed to dismiss %s: %s", args[0], resp.Error)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Won't prompt on "+args[0]+" again."))
			return nil
		},
	}
}
