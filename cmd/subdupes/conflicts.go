package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Veraticus/subdupes/internal/cli"
	"github.com/Veraticus/subdupes/internal/common"
	"github.com/Veraticus/subdupes/internal/model"
)

func conflictsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Review subscriptions that look like ones you already track",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List open conflicts",
		Args:  cobra.NoArgs,
		RunE:  runConflictsList,
	})

	resolve := &cobra.Command{
		Use:   "resolve [PENDING_ID]",
		Short: "Resolve open conflicts",
		Long: `Resolve open conflicts interactively, or apply one action with --action.

Actions:
  keep_existing  drop the new subscription
  keep_both      create the new subscription anyway
  merge          combine both into a draft for review ('subdupes draft show')`,
		Args: cobra.MaximumNArgs(1),
		RunE: runConflictsResolve,
	}
	resolve.Flags().String("action", "", "Apply this action instead of asking (keep_existing, keep_both, merge)")
	resolve.Flags().Bool("all", false, "Apply --action to every open conflict")
	cmd.AddCommand(resolve)

	return cmd
}

func runConflictsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	conflicts, err := a.svc.Conflicts(ctx)
	if err != nil {
		return err
	}
	if len(conflicts) == 0 {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("No open conflicts."))
		return nil
	}

	cli.RenderConflicts(cmd.OutOrStdout(), conflicts)
	return nil
}

func runConflictsResolve(cmd *cobra.Command, args []string) error {
	rawAction, _ := cmd.Flags().GetString("action")
	all, _ := cmd.Flags().GetBool("all")
	out := cmd.OutOrStdout()

	var action model.ConflictAction
	if rawAction != "" {
		parsed, err := model.ParseConflictAction(rawAction)
		if err != nil {
			return fmt.Errorf("%w: %v", common.ErrInvalidAction, err)
		}
		action = parsed
		if len(args) == 0 && !all {
			return common.NewUserError("Pass a pending ID or --all with --action", nil)
		}
	}

	ctx := cmd.Context()
	a, err := openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	conflicts, err := a.svc.Conflicts(ctx)
	if err != nil {
		return err
	}
	if len(args) == 1 {
		conflicts = filterConflicts(conflicts, args[0])
		if len(conflicts) == 0 {
			return fmt.Errorf("%w: conflict for %s", common.ErrNotFound, args[0])
		}
	}
	if len(conflicts) == 0 {
		_, _ = fmt.Fprintln(out, cli.FormatInfo("No open conflicts."))
		return nil
	}

	prompter := cli.NewPrompter(cmd.InOrStdin(), out)
	resolved := 0
	for _, c := range conflicts {
		chosen := action
		if chosen == "" {
			picked, skipped, err := prompter.ChooseAction(ctx, c)
			if errors.Is(err, cli.ErrInputTerminated) || errors.Is(err, cli.ErrInputCancelled) {
				break
			}
			if err != nil {
				return err
			}
			if skipped {
				continue
			}
			chosen = picked
		}

		res, err := a.svc.ResolveConflict(ctx, c.Pending.ID, chosen)
		if err != nil {
			_, _ = fmt.Fprintln(out, cli.FormatError(fmt.Sprintf("%s: %v", c.Pending.Name, err)))
			continue
		}
		resolved++
		printResolution(out, c, res)
	}

	_, _ = fmt.Fprintln(out, cli.FormatInfo(fmt.Sprintf("Resolved %d of %d conflict(s).", resolved, len(conflicts))))
	return nil
}

func filterConflicts(conflicts []model.Conflict, pendingID string) []model.Conflict {
	for _, c := range conflicts {
		if c.Pending.ID == pendingID {
			return []model.Conflict{c}
		}
	}
	return nil
}

func printResolution(w io.Writer, c model.Conflict, res model.Resolution) {
	switch res.Action {
	case model.ActionKeepExisting:
		_, _ = fmt.Fprintln(w, cli.FormatSuccess("Kept "+c.Existing.Name+", dropped the new entry."))
	case model.ActionKeepBoth:
		name := c.Pending.Name
		if res.Created != nil {
			name = res.Created.Name
		}
		_, _ = fmt.Fprintln(w, cli.FormatSuccess("Created "+name+" alongside "+c.Existing.Name+"."))
	case model.ActionMerge:
		_, _ = fmt.Fprintln(w, cli.FormatSuccess("Merged draft staged. Review it with 'subdupes draft show'."))
	}
}
