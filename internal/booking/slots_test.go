package booking

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleCapacity(t *testing.T) {
	s := Schedule{StartMinute: 540, EndMinute: 720, SlotMinutes: 15}
	assert.Equal(t, 12, s.Capacity())

	s.MaxPatients = 8
	assert.Equal(t, 8, s.Capacity())

	s.EndMinute = 547
	assert.Equal(t, 0, s.Capacity())

	s = Schedule{StartMinute: 540, EndMinute: 720, SlotMinutes: 15, Blocked: true}
	assert.Equal(t, 0, s.Capacity())
}

func TestBuildAvailabilityPastSlotsNotBookable(t *testing.T) {
	s := &Schedule{ID: uuid.New(), StartMinute: 540, EndMinute: 600, SlotMinutes: 20}
	date := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 3, 9, 9, 30, 0, 0, time.UTC)

	avail := buildAvailability(s, date, []int{3, 9}, now, time.UTC)
	require.Len(t, avail.Slots, 3)

	assert.False(t, avail.Slots[0].Bookable)
	assert.Equal(t, SlotAvailable, avail.Slots[0].Status)
	assert.False(t, avail.Slots[1].Bookable)
	assert.Equal(t, SlotBooked, avail.Slots[2].Status)
	assert.Equal(t, time.Date(2026, 3, 9, 9, 40, 0, 0, time.UTC), avail.Slots[2].StartsAt)
	assert.Equal(t, time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC), avail.Slots[2].EndsAt)
}

func TestBuildAvailabilityUsesClinicZone(t *testing.T) {
	colombo := time.FixedZone("IST", 5*3600+1800)
	s := &Schedule{ID: uuid.New(), StartMinute: 540, EndMinute: 570, SlotMinutes: 15}
	date := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

	avail := buildAvailability(s, date, nil, date.AddDate(0, 0, -1), colombo)
	require.Len(t, avail.Slots, 2)
	assert.Equal(t, time.Date(2026, 3, 9, 3, 30, 0, 0, time.UTC), avail.Slots[0].StartsAt.UTC())
	assert.True(t, avail.Slots[0].Bookable)
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2026-03-09")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), d)

	_, err = ParseDate("09/03/2026")
	assert.Error(t, err)
}
