package graph

import (
	"sort"

	"github.com/samber/lo"

	"github.com/524D/compareMS2/internal/service"
)

// optional returns nil for an empty string.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// sessionToGraphQL converts a session snapshot to a GraphQL Session.
func sessionToGraphQL(s service.SessionSnapshot) *Session {
	quality := make([]SampleQuality, 0, len(s.Quality))
	for sample, v := range s.Quality {
		quality = append(quality, SampleQuality{Sample: sample, Value: v})
	}
	sort.Slice(quality, func(i, j int) bool { return quality[i].Sample < quality[j].Sample })

	return &Session{
		ID:          s.ID,
		Kind:        s.Kind,
		Status:      string(s.Status),
		MgfDir:      s.Options.MgfDir,
		Samples:     lo.Ternary(s.Samples == nil, []string{}, s.Samples),
		Row:         s.Row,
		Completed:   s.Completed,
		Failed:      s.Failed,
		Total:       s.Total,
		Fraction:    s.Fraction(),
		Activity:    optional(s.Activity),
		Newick:      optional(s.Newick),
		Topology:    optional(s.Topology),
		Labels:      lo.Ternary(s.Labels == nil, []string{}, s.Labels),
		Quality:     quality,
		Species:     speciesToGraphQL(s.Species),
		Error:       optional(s.Error),
		StartedAt:   s.StartedAt,
		CompletedAt: s.CompletedAt,
	}
}

func speciesToGraphQL(d []service.SpeciesDistance) []SpeciesDistance {
	return lo.Map(d, func(sd service.SpeciesDistance, _ int) SpeciesDistance {
		return SpeciesDistance{
			Species:    sd.Species,
			Distance:   sd.Distance,
			Similarity: sd.Similarity,
			Samples:    sd.Samples,
		}
	})
}

// eventToGraphQL converts a session event to a GraphQL SessionEvent.
func eventToGraphQL(ev service.Event) *SessionEvent {
	out := &SessionEvent{
		Type:      string(ev.Type),
		SessionID: ev.SessionID,
		Time:      ev.Time,
		Message:   optional(ev.Message),
		Stderr:    ev.Stderr,
		Status:    optional(string(ev.Status)),
		Species:   speciesToGraphQL(ev.Species),
	}
	if p := ev.Progress; p != nil {
		out.Progress = &Progress{
			Completed: p.Completed,
			Failed:    p.Failed,
			Total:     p.Total,
			Row:       p.Row,
			Fraction:  p.Fraction,
		}
	}
	if ev.Tree != nil {
		out.Newick = optional(ev.Tree.Newick)
	}
	return out
}
