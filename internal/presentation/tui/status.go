package tui

import (
	"fmt"
	"slices"
	"strings"

	"github.com/aretw0/weft/pkg/domain"
)

// Status is everything the status view shows.
type Status struct {
	LedgerID      string
	Epoch         domain.Epoch
	Pending       []domain.Interaction
	Domains       []domain.DomainSnapshot
	External      []string
	Commits       []domain.Commit
	Completions   map[string]uint64
	RecentCommits int
}

// StatusMarkdown renders s as a markdown document. Only the last RecentCommits commits are
// listed (all when zero).
func StatusMarkdown(s Status) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Ledger `%s`\n\n", s.LedgerID)
	fmt.Fprintf(&sb, "Epoch **%d**, phase **%s**, block %d", s.Epoch.Number, s.Epoch.Phase, s.Epoch.IndexBlock)
	if s.Epoch.CanRelease {
		sb.WriteString(" (release open)")
	}
	sb.WriteString("\n\n")

	if len(s.External) > 0 {
		fmt.Fprintf(&sb, "> External orderers are authoritative: %s\n\n", strings.Join(s.External, ", "))
	}

	sb.WriteString("## Pending\n\n")
	if len(s.Pending) == 0 {
		sb.WriteString("_Nothing pending._\n\n")
	} else {
		sb.WriteString("| # | Instance | Task | Sender | Receiver |\n|---|---|---|---|---|\n")
		for _, i := range s.Pending {
			fmt.Fprintf(&sb, "| %d | %d | %s | %s | %s |\n", i.Index, i.InstanceID, i.TaskName, i.Sender, i.Receiver)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Domains\n\n")
	if len(s.Domains) == 0 {
		sb.WriteString("_No domains._\n\n")
	} else {
		sb.WriteString("| Domain | Status | Pending | Orderers | Votes | Conflicts |\n|---|---|---|---|---|---|\n")
		for _, d := range s.Domains {
			fmt.Fprintf(&sb, "| %d | %s | %s | %s | %d/%d | %d |\n",
				d.ID, d.Status, indices(d.Pending), strings.Join(d.Orderers, ", "), len(d.Votes), len(d.Orderers), d.Conflicts)
		}
		sb.WriteString("\n")
	}

	commits := s.Commits
	if s.RecentCommits > 0 && len(commits) > s.RecentCommits {
		commits = commits[len(commits)-s.RecentCommits:]
	}
	sb.WriteString("## Commits\n\n")
	if len(commits) == 0 {
		sb.WriteString("_No commits yet._\n\n")
	} else {
		sb.WriteString("| Epoch | Domain | Order | How |\n|---|---|---|---|\n")
		for _, c := range commits {
			how := "voted"
			if c.Released {
				how = "released"
			}
			fmt.Fprintf(&sb, "| %d | %d | %s | %s |\n", c.Epoch, c.Domain, indices(c.Order), how)
		}
		sb.WriteString("\n")
	}

	if len(s.Completions) > 0 {
		sb.WriteString("## Completions\n\n")
		tasks := make([]string, 0, len(s.Completions))
		for t := range s.Completions {
			tasks = append(tasks, t)
		}
		slices.Sort(tasks)
		for _, t := range tasks {
			fmt.Fprintf(&sb, "- %s: %d\n", t, s.Completions[t])
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func indices(idx []uint64) string {
	if len(idx) == 0 {
		return "-"
	}
	parts := make([]string, len(idx))
	for n, i := range idx {
		parts[n] = fmt.Sprint(i)
	}
	return strings.Join(parts, " → ")
}
