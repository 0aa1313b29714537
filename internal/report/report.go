// Package report renders the index, order and merge outcomes for the terminal.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/joe/modmerge/internal/indexer"
	"github.com/joe/modmerge/internal/merger"
	"github.com/joe/modmerge/internal/overwrite"
	errs "github.com/joe/modmerge/pkg/errors"
)

// FormatDuration formats duration into human-readable format (e.g., "2m 30s").
func FormatDuration(duration time.Duration) string {
	if duration < time.Second {
		return duration.Round(time.Millisecond).String()
	}

	duration = duration.Round(time.Second)
	hours := duration / time.Hour
	duration %= time.Hour
	minutes := duration / time.Minute
	duration %= time.Minute
	seconds := duration / time.Second

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}

	return fmt.Sprintf("%ds", seconds)
}

// FormatBytes formats bytes into human-readable format (e.g., "1.5 MB").
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// Index renders the size of an indexed tree.
func Index(tree indexer.DirectoryTree, root string, elapsed time.Duration) string {
	return fmt.Sprintf("%s %d archives under %s %s",
		HeaderStyle().Render("Indexed"),
		len(tree),
		root,
		DimStyle().Render("("+FormatDuration(elapsed)+")"),
	)
}

// Plan renders the overwrite order, grouped by contributor count. Each target lists
// its contributors by mod name, lowest priority first, and only targets with more
// than one contributor are expanded.
func Plan(order overwrite.Order, modsRoot string) string {
	var builder strings.Builder

	groups := order.Groups()
	if len(groups) == 0 {
		builder.WriteString(DimStyle().Render("No archives found under " + modsRoot))
		builder.WriteString("\n")

		return builder.String()
	}

	for _, group := range groups {
		fmt.Fprintf(&builder, "%s\n", HeaderStyle().Render(
			fmt.Sprintf("%d contributor(s): %d target(s)", group.Contributors, len(group.Stems))))

		if group.Contributors < 2 { //nolint:mnd // one contributor needs no merge
			fmt.Fprintf(&builder, "  %s\n", DimStyle().Render(strings.Join(group.Stems, ", ")))
			continue
		}

		for _, stem := range group.Stems {
			fmt.Fprintf(&builder, "  %s%s\n", Bullet, stem)

			contributors := order[stem]
			for i, file := range contributors {
				line := fmt.Sprintf("    %d. %s", i, overwrite.ModName(modsRoot, file))
				if i == len(contributors)-1 {
					line += " " + SuccessStyle().Render(WinnerMark)
				}

				builder.WriteString(line + "\n")
			}
		}
	}

	return builder.String()
}

// Summary renders the outcome of a merge run.
func Summary(result *merger.Result) string {
	var lines []string

	headline := fmt.Sprintf("Merged %d of %d target(s) in %s",
		result.Installed(), len(result.Targets), FormatDuration(result.Elapsed))
	lines = append(lines, HeaderStyle().Render(headline), "")

	for _, target := range result.Targets {
		lines = append(lines, targetLines(target)...)
	}

	return BoxStyle().Render(strings.Join(lines, "\n"))
}

func targetLines(target merger.TargetResult) []string {
	switch {
	case target.Installed():
		line := fmt.Sprintf("%s %s → %s", SuccessStyle().Render("✓"), target.Stem, target.Output)
		detail := fmt.Sprintf("    %s unpacked, %d file(s) relocated", FormatBytes(target.Copied), target.Relocated)

		if target.RelocateFailures > 0 {
			detail += fmt.Sprintf(", %d failed", target.RelocateFailures)
		}

		if len(target.Overridden) > 0 {
			detail += fmt.Sprintf(", %d overridden", len(target.Overridden))
		}

		return []string{line, DimStyle().Render(detail)}
	case target.Skipped:
		reason := "skipped"
		if target.Err != nil {
			reason = target.Err.Error()
		}

		return []string{fmt.Sprintf("%s %s: %s", WarningStyle().Render("-"), target.Stem, reason)}
	default:
		lines := []string{fmt.Sprintf("%s %s: %v", ErrorStyle().Render("✗"), target.Stem, target.Err)}

		if suggestions := errs.FormatSuggestions(target.Err); suggestions != "" {
			lines = append(lines, DimStyle().Render(suggestions))
		}

		return lines
	}
}

// Progress writes one line per merge event.
type Progress struct {
	w io.Writer
}

// NewProgress returns a Progress writing to w.
func NewProgress(w io.Writer) *Progress {
	return &Progress{w: w}
}

// Emit implements merger.EventEmitter.
func (p *Progress) Emit(event merger.Event) {
	var line string

	switch e := event.(type) {
	case merger.MergeStarted:
		line = HeaderStyle().Render(fmt.Sprintf("Merging %d target(s)", e.Targets))
	case merger.TargetStarted:
		line = fmt.Sprintf("%s %s (%d contributors)", DimStyle().Render("…"), e.Stem, e.Contributors)
	case merger.TargetUnpacked:
		line = fmt.Sprintf("%s %s: unpacked %s", DimStyle().Render("…"), e.Stem, FormatBytes(e.Bytes))
	case merger.TargetDiffed:
		line = fmt.Sprintf("%s %s: %d changed file(s)", DimStyle().Render("…"), e.Stem, e.Files)
	case merger.TargetInstalled:
		line = fmt.Sprintf("%s %s", SuccessStyle().Render("✓"), e.Stem)
	case merger.TargetFailed:
		line = fmt.Sprintf("%s %s: %v", ErrorStyle().Render("✗"), e.Stem, e.Err)
	default:
		return
	}

	_, _ = fmt.Fprintln(p.w, line)
}
