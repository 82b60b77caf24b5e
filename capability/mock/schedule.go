package mock

import (
	"context"
	"time"

	"github.com/companionkit/elio/core"
)

// Slot is one entry in the companion's weekly schedule.
type Slot struct {
	StartHour int // inclusive, 0-23
	EndHour   int // exclusive; may wrap past midnight
	Activity  string
	Location  string
}

// Schedule is an ActivityProvider backed by a per-weekday slot table.
// Lookup is purely a function of the supplied timestamp, so replays are
// deterministic.
type Schedule struct {
	days map[time.Weekday][]Slot
}

// NewSchedule creates a provider from a weekday slot table. Passing nil
// uses a default everyday routine.
func NewSchedule(days map[time.Weekday][]Slot) *Schedule {
	if days == nil {
		days = defaultWeek()
	}
	return &Schedule{days: days}
}

func (s *Schedule) CurrentActivity(ctx context.Context, at time.Time) (core.ActivityDescriptor, error) {
	hour := at.Hour()
	for _, slot := range s.days[at.Weekday()] {
		if inSlot(hour, slot) {
			return core.ActivityDescriptor{
				Activity:  slot.Activity,
				Location:  slot.Location,
				StartedAt: time.Date(at.Year(), at.Month(), at.Day(), slot.StartHour, 0, 0, 0, at.Location()),
			}, nil
		}
	}
	return core.ActivityDescriptor{Activity: "relaxing at home", StartedAt: at}, nil
}

func inSlot(hour int, slot Slot) bool {
	if slot.StartHour <= slot.EndHour {
		return hour >= slot.StartHour && hour < slot.EndHour
	}
	// Wraps past midnight.
	return hour >= slot.StartHour || hour < slot.EndHour
}

func defaultWeek() map[time.Weekday][]Slot {
	daily := []Slot{
		{StartHour: 22, EndHour: 7, Activity: "sleeping"},
		{StartHour: 7, EndHour: 9, Activity: "having breakfast and reading", Location: "home"},
		{StartHour: 9, EndHour: 13, Activity: "working on a painting", Location: "the studio"},
		{StartHour: 13, EndHour: 14, Activity: "out for lunch"},
		{StartHour: 14, EndHour: 18, Activity: "sketching at the park"},
		{StartHour: 18, EndHour: 22, Activity: "cooking dinner and listening to music", Location: "home"},
	}
	week := make(map[time.Weekday][]Slot, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		week[d] = daily
	}
	return week
}
