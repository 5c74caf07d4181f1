package booking

import (
	"time"
)

// buildAvailability lays out slots 1..capacity for one day. booked holds the
// slot numbers of active bookings; numbers past capacity are ignored. Slots
// that have already started are returned with Bookable false.
func buildAvailability(s *Schedule, date time.Time, booked []int, now time.Time, loc *time.Location) SlotAvailability {
	out := SlotAvailability{
		DoctorID: s.DoctorID,
		BranchID: s.BranchID,
		Date:     date.Format(DateLayout),
		Slots:    []SlotInfo{},
	}
	id := s.ID
	out.ScheduleID = &id
	out.SlotMinutes = s.SlotMinutes

	if s.Blocked {
		out.Blocked = true
		out.Reason = s.BlockReason
		if out.Reason == "" {
			out.Reason = "doctor unavailable"
		}
		return out
	}

	capacity := s.Capacity()
	out.Capacity = capacity

	taken := make(map[int]bool, len(booked))
	for _, n := range booked {
		taken[n] = true
	}

	length := time.Duration(s.SlotMinutes) * time.Minute
	for n := 1; n <= capacity; n++ {
		start := s.SlotStart(date, n, loc)
		info := SlotInfo{
			Number:   n,
			Status:   SlotAvailable,
			StartsAt: start,
			EndsAt:   start.Add(length),
			Bookable: start.After(now),
		}
		if taken[n] {
			info.Status = SlotBooked
			info.Bookable = false
		}
		out.Slots = append(out.Slots, info)
	}
	return out
}

// ParseDate reads a YYYY-MM-DD appointment date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return civilDate(t), nil
}
