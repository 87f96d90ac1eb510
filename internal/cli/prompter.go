package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Veraticus/subdupes/internal/common"
	"github.com/Veraticus/subdupes/internal/model"
)

// ErrInputTerminated is returned when the input stream ends before a valid
// answer was given.
var ErrInputTerminated = errors.New("input terminated")

// Prompter asks the user how to settle duplicate conflicts.
type Prompter struct {
	writer io.Writer
	reader *NonBlockingReader
}

// NewPrompter creates a prompter reading answers from reader.
func NewPrompter(reader io.Reader, writer io.Writer) *Prompter {
	if reader == nil {
		reader = os.Stdin
	}
	if writer == nil {
		writer = os.Stdout
	}
	return &Prompter{
		reader: NewNonBlockingReader(reader),
		writer: writer,
	}
}

// ChooseAction shows c and asks for a resolution. skipped is true when the
// user chose to leave the conflict open.
func (p *Prompter) ChooseAction(ctx context.Context, c model.Conflict) (action model.ConflictAction, skipped bool, err error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	if _, err := fmt.Fprintln(p.writer, RenderBox(ConflictIcon+" Possible duplicate", FormatConflict(c))); err != nil {
		return "", false, fmt.Errorf("failed to write conflict: %w", err)
	}

	options := []string{
		FormatPrompt("Options:"),
		"  [K] Keep existing, drop the new one",
		"  [B] Keep both",
		"  [M] Merge into a draft for review",
		"  [S] Skip for now",
		"",
	}
	if _, err := fmt.Fprintln(p.writer, strings.Join(options, "\n")); err != nil {
		return "", false, fmt.Errorf("failed to write options: %w", err)
	}

	choice, err := p.promptChoice(ctx, "Choice", []string{"k", "b", "m", "s"})
	if err != nil {
		return "", false, err
	}

	switch choice {
	case "k":
		return model.ActionKeepExisting, false, nil
	case "b":
		return model.ActionKeepBoth, false, nil
	case "m":
		return model.ActionMerge, false, nil
	default:
		return "", true, nil
	}
}

// Confirm asks a yes/no question. Anything other than y or yes is a no.
func (p *Prompter) Confirm(ctx context.Context, question string) (bool, error) {
	if _, err := fmt.Fprintf(p.writer, "%s [y/N] ", FormatPrompt(question)); err != nil {
		return false, fmt.Errorf("failed to write question: %w", err)
	}
	answer, err := p.reader.ReadLine(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func (p *Prompter) promptChoice(ctx context.Context, prompt string, validChoices []string) (string, error) {
	for {
		if _, err := fmt.Fprintf(p.writer, "%s ", FormatPrompt(prompt)); err != nil {
			return "", fmt.Errorf("failed to write prompt: %w", err)
		}

		input, err := p.reader.ReadLine(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", ErrInputTerminated
			}
			return "", err
		}

		choice := strings.ToLower(input)
		for _, valid := range validChoices {
			if choice == valid {
				return choice, nil
			}
		}

		if _, err := fmt.Fprintln(p.writer, FormatError("Invalid choice. Please try again.")); err != nil {
			common.LogWarn(err, "failed to write error message", nil)
		}
	}
}

// FormatConflict renders both sides of a conflict for display.
func FormatConflict(c model.Conflict) string {
	var b strings.Builder
	pending, existing := c.Pending, c.Existing

	fmt.Fprintf(&b, "%s %s\n", BoldStyle.Render("New:"), pending.Name)
	if pending.PlanName != "" {
		fmt.Fprintf(&b, "  Plan:     %s\n", pending.PlanName)
	}
	fmt.Fprintf(&b, "  Price:    %s / %s\n", FormatAmount(pending.Amount, pending.Currency), pending.BillingCycle)
	if pending.WebsiteURL != "" {
		fmt.Fprintf(&b, "  Site:     %s\n", pending.WebsiteURL)
	}

	fmt.Fprintf(&b, "\n%s %s\n", BoldStyle.Render("Tracked:"), existing.Name)
	if existing.PlanName != "" {
		fmt.Fprintf(&b, "  Plan:     %s\n", existing.PlanName)
	}
	fmt.Fprintf(&b, "  Price:    %s / %s\n", FormatAmount(existing.Amount, existing.Currency), existing.BillingCycle)
	if existing.WebsiteURL != "" {
		fmt.Fprintf(&b, "  Site:     %s\n", existing.WebsiteURL)
	}
	if !existing.NextBillingDate.IsZero() {
		fmt.Fprintf(&b, "  Renews:   %s\n", existing.NextBillingDate.Format("Jan 2, 2006"))
	}

	fmt.Fprint(&b, SubtleStyle.Render("Detected "+c.DetectedAt.Local().Format("Jan 2 15:04")))
	return b.String()
}
