// Package qualification derives master-course progress from the competency
// pairs a user has been awarded.
package qualification

import (
	"context"
	"fmt"
	"sort"

	"github.com/p-n-ai/cab-academy/internal/docstore"
	"github.com/p-n-ai/cab-academy/internal/lms"
)

// Progress is a user's standing against one master course.
type Progress struct {
	Master      lms.MasterCourse `json:"master"`
	Achieved    int              `json:"achieved"`
	Required    int              `json:"required"`
	Percent     float64          `json:"percent"`
	IsCompleted bool             `json:"isCompleted"`
	Missing     []string         `json:"missing,omitempty"`
}

// Calculate scores every master course against held pairs. Courses with
// nothing achieved are dropped and the rest are sorted by Percent, highest
// first. A course requiring no competencies scores 0 and is never completed.
func Calculate(held map[string]bool, masters []lms.MasterCourse) []Progress {
	var out []Progress
	for _, m := range masters {
		p := Progress{Master: m, Required: len(m.RequiredCompetencies)}
		for _, c := range m.RequiredCompetencies {
			if held[c.Pair()] {
				p.Achieved++
			} else {
				p.Missing = append(p.Missing, c.Pair())
			}
		}
		if p.Achieved == 0 {
			continue
		}
		p.Percent = float64(p.Achieved) / float64(p.Required) * 100
		p.IsCompleted = p.Achieved == p.Required
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Percent > out[j].Percent })
	return out
}

// HeldPairs collects the pair strings of achievements.
func HeldPairs(achievements []lms.UserAchievement) map[string]bool {
	held := make(map[string]bool, len(achievements))
	for _, a := range achievements {
		held[a.Pair] = true
	}
	return held
}

// Service loads the inputs of Calculate from the store.
type Service struct {
	store docstore.Store
}

// NewService creates a Service on store.
func NewService(store docstore.Store) *Service {
	return &Service{store: store}
}

// Achievements returns every achievement awarded to userID.
func (s *Service) Achievements(ctx context.Context, userID string) ([]lms.UserAchievement, error) {
	docs, err := s.store.Query(ctx, docstore.SubCollection(lms.CollUsers, userID, lms.CollAchievements))
	if err != nil {
		return nil, fmt.Errorf("list achievements: %w", err)
	}
	return docstore.DecodeAll[lms.UserAchievement](docs)
}

// Progress returns userID's progress across every master course.
func (s *Service) Progress(ctx context.Context, userID string) ([]Progress, error) {
	achievements, err := s.Achievements(ctx, userID)
	if err != nil {
		return nil, err
	}
	docs, err := s.store.Query(ctx, lms.CollMasters)
	if err != nil {
		return nil, fmt.Errorf("list master courses: %w", err)
	}
	masters, err := docstore.DecodeAll[lms.MasterCourse](docs)
	if err != nil {
		return nil, err
	}
	return Calculate(HeldPairs(achievements), masters), nil
}
