package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Signature computes a stable hash over executor ids, edges, and
// edge-group kinds, used to guard checkpoint resume: a workflow whose
// signature differs from a loaded checkpoint's has "changed" and
// resume must refuse it (spec.md §3, §4.4).
//
// The hash is order-independent over executors and edge groups so
// that reordering independent (commuting) builder calls does not
// change it, while remaining sensitive to any executor id, edge
// endpoint, or group kind difference.
func (g *Graph) Signature() string {
	var lines []string

	ids := make([]string, 0, len(g.Executors))
	for id := range g.Executors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		lines = append(lines, "executor:"+id)
	}

	for _, grp := range g.EdgeGroups {
		lines = append(lines, groupSignatureLine(grp))
	}

	lines = append(lines, "start:"+g.StartID)

	sort.Strings(lines)
	h := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(h[:])
}

func groupSignatureLine(g EdgeGroup) string {
	var b strings.Builder
	b.WriteString("group:")
	b.WriteString(g.Kind.String())
	b.WriteString(":")

	switch g.Kind {
	case KindSingle:
		b.WriteString(g.Edge.SourceID)
		b.WriteString("->")
		b.WriteString(g.Edge.TargetID)
	case KindFanOut:
		b.WriteString(g.FanOutSource)
		b.WriteString("->[")
		targets := append([]string{}, g.FanOutTargets...)
		sort.Strings(targets)
		b.WriteString(strings.Join(targets, ","))
		b.WriteString("]")
		if len(g.FanOutConditions) > 0 {
			gated := make([]string, 0, len(g.FanOutConditions))
			for target := range g.FanOutConditions {
				gated = append(gated, target)
			}
			sort.Strings(gated)
			b.WriteString(":gated=")
			b.WriteString(strings.Join(gated, ","))
		}
	case KindFanIn:
		sources := append([]string{}, g.FanInSources...)
		// FanIn source declaration order is semantically meaningful
		// (it determines aggregate ordering), so it is NOT sorted here.
		b.WriteString(strings.Join(sources, ","))
		b.WriteString("->")
		b.WriteString(g.FanInTarget)
	case KindSwitchCase:
		b.WriteString(g.SwitchSource)
		b.WriteString("->cases:")
		for _, c := range g.SwitchCases {
			b.WriteString(c.Target)
			b.WriteString(";")
		}
		b.WriteString("default:")
		b.WriteString(g.SwitchDefault)
	}
	return b.String()
}
