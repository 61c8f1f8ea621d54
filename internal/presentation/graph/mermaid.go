package graph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/aretw0/weft/pkg/domain"
)

// Overlay highlights interactions on the graph.
type Overlay struct {
	// Committed interactions are drawn as finished.
	Committed []uint64

	// Conflicted domains are drawn with a warning border.
	Conflicted []domain.DomainID
}

// GenerateMermaid produces a Mermaid flowchart of the conflict domains:
// one subgraph per domain, participants as nodes and each interaction as an edge from
// sender to receiver labelled with its index and task. Participants that appear in more
// than one domain (possible across epochs) are drawn once, in the first domain.
func GenerateMermaid(domains []domain.DomainSnapshot, interactions []domain.Interaction, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph LR\n")

	byIndex := make(map[uint64]domain.Interaction, len(interactions))
	for _, i := range interactions {
		byIndex[i.Index] = i
	}

	drawn := make(map[string]bool)
	for _, d := range domains {
		fmt.Fprintf(&sb, "    subgraph D%d[\"domain %d (%s)\"]\n", d.ID, d.ID, d.Status)
		for _, addr := range d.Orderers {
			id := sanitizeMermaidID(addr)
			if drawn[id] {
				continue
			}
			drawn[id] = true
			fmt.Fprintf(&sb, "        %s([\"%s\"])\n", id, addr)
		}
		sb.WriteString("    end\n")
	}

	var edge int
	var committedEdges []int
	for _, d := range domains {
		members := slices.Concat(d.Ordered, d.Pending)
		for _, idx := range members {
			i, ok := byIndex[idx]
			if !ok {
				continue
			}
			label := strings.ReplaceAll(fmt.Sprintf("#%d %s/%d", i.Index, i.TaskName, i.InstanceID), "\"", "'")
			fmt.Fprintf(&sb, "    %s -- \"%s\" --> %s\n", sanitizeMermaidID(i.Sender), label, sanitizeMermaidID(i.Receiver))
			if overlay != nil && slices.Contains(overlay.Committed, idx) {
				committedEdges = append(committedEdges, edge)
			}
			edge++
		}
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		sb.WriteString("    classDef conflicted stroke:#d32f2f,stroke-width:3px,color:#000;\n")
		for _, id := range overlay.Conflicted {
			fmt.Fprintf(&sb, "    class D%d conflicted;\n", id)
		}
		for _, n := range committedEdges {
			fmt.Fprintf(&sb, "    linkStyle %d stroke:#2e7d32,stroke-width:3px;\n", n)
		}
	}

	return sb.String()
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return "p_" + s
}
