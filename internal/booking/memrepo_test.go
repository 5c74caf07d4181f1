package booking

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memRepo is an in-memory Repository. Transactions run one at a time and are
// rolled back by restoring a copy of the tables.
type memRepo struct {
	mu   sync.Mutex
	txMu sync.Mutex
	now  func() time.Time

	doctors   map[uuid.UUID]Doctor
	patients  map[uuid.UUID]Patient
	schedules []Schedule
	bookings  map[uuid.UUID]Booking
	events    []memEvent

	// failAppend makes AppendEvent fail for the given event type.
	failAppend string
}

type memEvent struct {
	Type        string
	AggregateID uuid.UUID
	Payload     json.RawMessage
}

func newMemRepo(now func() time.Time) *memRepo {
	return &memRepo{
		now:      now,
		doctors:  map[uuid.UUID]Doctor{},
		patients: map[uuid.UUID]Patient{},
		bookings: map[uuid.UUID]Booking{},
	}
}

func (r *memRepo) GetDoctor(_ context.Context, id uuid.UUID) (*Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (r *memRepo) GetPatient(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (r *memRepo) FindSchedule(_ context.Context, doctorID uuid.UUID, date time.Time) (*Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	date = civilDate(date)
	var weekly *Schedule
	for i := range r.schedules {
		s := r.schedules[i]
		if s.DoctorID != doctorID {
			continue
		}
		if s.Date != nil && civilDate(*s.Date).Equal(date) {
			return &s, nil
		}
		if s.Date == nil && s.DayOfWeek != nil && *s.DayOfWeek == int(date.Weekday()) && weekly == nil {
			weekly = &s
		}
	}
	if weekly == nil {
		return nil, ErrScheduleNotFound
	}
	return weekly, nil
}

func (r *memRepo) BookedSlots(_ context.Context, doctorID uuid.UUID, date time.Time) ([]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeSlots(doctorID, date), nil
}

func (r *memRepo) activeSlots(doctorID uuid.UUID, date time.Time) []int {
	var slots []int
	for _, b := range r.bookings {
		if b.DoctorID == doctorID && b.AppointmentDate.Equal(civilDate(date)) && b.Active() {
			slots = append(slots, b.SlotNumber)
		}
	}
	sort.Ints(slots)
	return slots
}

func (r *memRepo) GetBooking(_ context.Context, id uuid.UUID) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	return &b, nil
}

func (r *memRepo) ListBookings(_ context.Context, f Filter) ([]Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Booking{}
	for _, b := range r.bookings {
		if f.DoctorID != nil && b.DoctorID != *f.DoctorID {
			continue
		}
		if f.Status != nil && b.Status != *f.Status {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenNumber < out[j].TokenNumber })
	if f.Offset < len(out) {
		out = out[f.Offset:]
	} else {
		out = out[:0]
	}
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *memRepo) FindByPaymentOrder(_ context.Context, orderID string) ([]Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byOrder(orderID), nil
}

func (r *memRepo) byOrder(orderID string) []Booking {
	out := []Booking{}
	for _, b := range r.bookings {
		if b.PaymentOrderID != nil && *b.PaymentOrderID == orderID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SlotNumber < out[j].SlotNumber })
	return out
}

func (r *memRepo) InTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.Lock()
	saved := make(map[uuid.UUID]Booking, len(r.bookings))
	for k, v := range r.bookings {
		saved[k] = v
	}
	savedEvents := len(r.events)
	r.mu.Unlock()

	if err := fn(ctx, &memTx{r: r}); err != nil {
		r.mu.Lock()
		r.bookings = saved
		r.events = r.events[:savedEvents]
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *memRepo) eventsOfType(eventType string) []memEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []memEvent
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (r *memRepo) put(b Booking) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bookings[b.ID] = b
}

type memTx struct {
	r *memRepo
}

func (t *memTx) LockDoctorDay(context.Context, uuid.UUID, time.Time) error { return nil }

func (t *memTx) GetBookingForUpdate(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return t.r.GetBooking(ctx, id)
}

func (t *memTx) FindByPaymentOrderForUpdate(ctx context.Context, orderID string) ([]Booking, error) {
	return t.r.FindByPaymentOrder(ctx, orderID)
}

func (t *memTx) SlotTaken(_ context.Context, doctorID uuid.UUID, date time.Time, slot int) (bool, error) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	for _, n := range t.r.activeSlots(doctorID, date) {
		if n == slot {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) NextTokenNumber(_ context.Context, doctorID uuid.UUID, date time.Time) (int, error) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	max := 0
	for _, b := range t.r.bookings {
		if b.DoctorID == doctorID && b.AppointmentDate.Equal(civilDate(date)) && b.TokenNumber > max {
			max = b.TokenNumber
		}
	}
	return max + 1, nil
}

func (t *memTx) InsertBooking(_ context.Context, b *Booking) error {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	for _, n := range t.r.activeSlots(b.DoctorID, b.AppointmentDate) {
		if n == b.SlotNumber {
			return ErrSlotConflict
		}
	}
	b.AppointmentDate = civilDate(b.AppointmentDate)
	b.CreatedAt = t.r.now()
	b.UpdatedAt = b.CreatedAt
	t.r.bookings[b.ID] = *b
	return nil
}

func (t *memTx) UpdateBooking(_ context.Context, b *Booking) error {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	if _, ok := t.r.bookings[b.ID]; !ok {
		return ErrBookingNotFound
	}
	b.UpdatedAt = t.r.now()
	t.r.bookings[b.ID] = *b
	return nil
}

func (t *memTx) ExpireStalePending(_ context.Context, cutoff time.Time) ([]Booking, error) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	out := []Booking{}
	for id, b := range t.r.bookings {
		if b.Status == StatusPendingPayment && b.PaymentStatus == PaymentPending && b.CreatedAt.Before(cutoff) {
			reason := "payment not completed in time"
			b.Status = StatusCancelled
			b.PaymentStatus = PaymentExpired
			b.CancelReason = &reason
			t.r.bookings[id] = b
			out = append(out, b)
		}
	}
	return out, nil
}

func (t *memTx) AppendEvent(_ context.Context, eventType string, aggregateID uuid.UUID, payload any) error {
	if t.r.failAppend == eventType {
		return errAppendFailed
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	t.r.events = append(t.r.events, memEvent{Type: eventType, AggregateID: aggregateID, Payload: data})
	return nil
}
