package cli

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/aretw0/weft"
	"github.com/aretw0/weft/internal/presentation/graph"
	"github.com/aretw0/weft/internal/presentation/tui"
	"github.com/aretw0/weft/pkg/domain"
)

// BuildStatus collects the status view of the engine's ledger. Only the last recent
// commits are listed (all when zero).
func BuildStatus(ctx context.Context, eng *weft.Engine, recent int) (tui.Status, error) {
	snap, err := eng.Snapshot(ctx)
	if err != nil {
		return tui.Status{}, err
	}
	domains, err := eng.Domains(ctx)
	if err != nil {
		return tui.Status{}, err
	}
	external, err := eng.ExternalOrderers(ctx, snap.Epoch.Number)
	if err != nil {
		return tui.Status{}, err
	}

	indices, err := eng.Pending(ctx)
	if err != nil {
		return tui.Status{}, err
	}
	pending, err := interactions(ctx, eng, indices)
	if err != nil {
		return tui.Status{}, err
	}

	ep, err := eng.Epoch(ctx)
	if err != nil {
		return tui.Status{}, err
	}

	return tui.Status{
		LedgerID:      eng.LedgerID(),
		Epoch:         ep,
		Pending:       pending,
		Domains:       domains,
		External:      external,
		Commits:       snap.Committed,
		Completions:   snap.Completions,
		RecentCommits: recent,
	}, nil
}

// RenderStatus writes the status as markdown through render.
func RenderStatus(w io.Writer, s tui.Status, render func(string) (string, error)) error {
	out, err := render(tui.StatusMarkdown(s))
	if err != nil {
		return fmt.Errorf("rendering status: %w", err)
	}
	_, err = fmt.Fprint(w, out)
	return err
}

// Graph renders the current domains as a Mermaid flowchart, marking committed
// interactions and domains that saw conflicts.
func Graph(ctx context.Context, eng *weft.Engine) (string, error) {
	domains, err := eng.Domains(ctx)
	if err != nil {
		return "", err
	}

	var (
		indices []uint64
		overlay graph.Overlay
	)
	for _, d := range domains {
		indices = append(indices, d.Pending...)
		indices = append(indices, d.Ordered...)
		overlay.Committed = append(overlay.Committed, d.Ordered...)
		if d.Conflicts > 0 {
			overlay.Conflicted = append(overlay.Conflicted, d.ID)
		}
	}
	slices.Sort(indices)

	list, err := interactions(ctx, eng, slices.Compact(indices))
	if err != nil {
		return "", err
	}
	return graph.GenerateMermaid(domains, list, &overlay), nil
}

func interactions(ctx context.Context, eng *weft.Engine, indices []uint64) ([]domain.Interaction, error) {
	out := make([]domain.Interaction, 0, len(indices))
	for _, idx := range indices {
		i, err := eng.Interaction(ctx, idx)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, nil
}
