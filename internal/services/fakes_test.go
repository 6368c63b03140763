package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/tripmarket/booking-core/internal/config"
	"github.com/tripmarket/booking-core/internal/models"
)

// ============================================================================
// IN-MEMORY STORE
// ============================================================================

// memDB backs every store fake. Transactions are serialized by txMu, which
// plays the part of the vehicle-day and row locks, and roll back by
// restoring a snapshot.
type memDB struct {
	mu   sync.Mutex
	txMu sync.Mutex

	bookings map[uuid.UUID]models.Booking
	payments map[uuid.UUID]models.Payment
	methods  map[uuid.UUID]models.SavedPaymentMethod
	events   []models.BookingEvent
	audits   []models.PaymentAudit
	vehicles map[uuid.UUID]models.Vehicle
	profiles map[uuid.UUID]models.UserProfile

	// failCommit is returned by the next transaction that would commit
	failCommit error
	// onTx runs at the start of the next transaction
	onTx func()
	// rowLocks records the FOR UPDATE reads in order
	rowLocks []string
}

func newMemDB() *memDB {
	return &memDB{
		bookings: make(map[uuid.UUID]models.Booking),
		payments: make(map[uuid.UUID]models.Payment),
		methods:  make(map[uuid.UUID]models.SavedPaymentMethod),
		vehicles: make(map[uuid.UUID]models.Vehicle),
		profiles: make(map[uuid.UUID]models.UserProfile),
	}
}

func (db *memDB) lockRow(table string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.rowLocks = append(db.rowLocks, table)
}

func (db *memDB) takeRowLocks() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	locks := db.rowLocks
	db.rowLocks = nil
	return locks
}

type memSnapshot struct {
	bookings map[uuid.UUID]models.Booking
	payments map[uuid.UUID]models.Payment
	methods  map[uuid.UUID]models.SavedPaymentMethod
	events   []models.BookingEvent
	audits   []models.PaymentAudit
}

func (db *memDB) snapshot() memSnapshot {
	db.mu.Lock()
	defer db.mu.Unlock()
	s := memSnapshot{
		bookings: make(map[uuid.UUID]models.Booking, len(db.bookings)),
		payments: make(map[uuid.UUID]models.Payment, len(db.payments)),
		methods:  make(map[uuid.UUID]models.SavedPaymentMethod, len(db.methods)),
		events:   append([]models.BookingEvent(nil), db.events...),
		audits:   append([]models.PaymentAudit(nil), db.audits...),
	}
	for k, v := range db.bookings {
		s.bookings[k] = v
	}
	for k, v := range db.payments {
		s.payments[k] = v
	}
	for k, v := range db.methods {
		s.methods[k] = v
	}
	return s
}

func (db *memDB) restore(s memSnapshot) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.bookings, db.payments, db.methods = s.bookings, s.payments, s.methods
	db.events, db.audits = s.events, s.audits
}

func (db *memDB) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	db.txMu.Lock()
	defer db.txMu.Unlock()

	db.mu.Lock()
	hook := db.onTx
	db.onTx = nil
	db.mu.Unlock()
	if hook != nil {
		hook()
	}

	snap := db.snapshot()
	if err := fn(ctx); err != nil {
		db.restore(snap)
		return err
	}

	db.mu.Lock()
	commitErr := db.failCommit
	db.failCommit = nil
	db.mu.Unlock()
	if commitErr != nil {
		db.restore(snap)
		return commitErr
	}
	return nil
}

func (db *memDB) booking(id uuid.UUID) models.Booking {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.bookings[id]
}

func (db *memDB) paymentFor(bookingID uuid.UUID) models.Payment {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, p := range db.payments {
		if p.BookingID == bookingID {
			return p
		}
	}
	return models.Payment{}
}

func (db *memDB) eventTypes(bookingID uuid.UUID) []models.BookingEventType {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []models.BookingEventType
	for _, e := range db.events {
		if e.BookingID == bookingID {
			out = append(out, e.EventType)
		}
	}
	return out
}

func (db *memDB) auditTypes() []models.PaymentEventType {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]models.PaymentEventType, 0, len(db.audits))
	for _, a := range db.audits {
		out = append(out, a.EventType)
	}
	return out
}

// ---------------------------------------------------------------------------

type memBookings struct{ db *memDB }

func (s memBookings) LockVehicleDay(context.Context, uuid.UUID, models.Date) error { return nil }

func (s memBookings) HasBlockingBooking(_ context.Context, vehicleID uuid.UUID, date models.Date) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.blocking(vehicleID, date), nil
}

func (s memBookings) blocking(vehicleID uuid.UUID, date models.Date) bool {
	for _, b := range s.db.bookings {
		if b.VehicleID == vehicleID && b.TripDate.Equal(date.Time) && b.Status.BlocksVehicle() {
			return true
		}
	}
	return false
}

func (s memBookings) Insert(_ context.Context, b *models.Booking) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	// partial unique index on (vehicle_id, trip_date) for active bookings
	if b.Status.BlocksVehicle() && s.blocking(b.VehicleID, b.TripDate) {
		return models.NewConflictError("vehicle is already booked on %s", b.TripDate)
	}
	s.db.bookings[b.ID] = *b
	return nil
}

func (s memBookings) GetByID(_ context.Context, id uuid.UUID) (*models.Booking, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	b, ok := s.db.bookings[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (s memBookings) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	s.db.lockRow("booking")
	return s.GetByID(ctx, id)
}

func (s memBookings) UpdateStatus(_ context.Context, change models.StatusChange) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	b, ok := s.db.bookings[change.BookingID]
	if !ok || b.Status != change.From {
		return false, nil
	}
	applyStatus(&b, change.To, change.At)
	if change.CancellationReason != nil {
		b.CancellationReason = change.CancellationReason
	}
	if change.CancellationFee != nil {
		b.CancellationFee = change.CancellationFee
	}
	s.db.bookings[b.ID] = b
	return true, nil
}

func (s memBookings) List(_ context.Context, filter models.BookingFilter) ([]models.Booking, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []models.Booking
	for _, b := range s.db.bookings {
		if filter.TouristID != nil && b.TouristID != *filter.TouristID {
			continue
		}
		if filter.DriverID != nil && b.DriverID != *filter.DriverID {
			continue
		}
		if filter.Status != nil && b.Status != *filter.Status {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// ---------------------------------------------------------------------------

type memPayments struct {
	db *memDB
	// markAttemptedErr fails MarkAttempted
	markAttemptedErr error
}

func (s *memPayments) Insert(_ context.Context, p *models.Payment) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, existing := range s.db.payments {
		if existing.BookingID == p.BookingID {
			return models.NewConflictError("booking already has a payment")
		}
	}
	s.db.payments[p.ID] = *p
	return nil
}

func (s *memPayments) GetByBookingID(_ context.Context, bookingID uuid.UUID) (*models.Payment, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, p := range s.db.payments {
		if p.BookingID == bookingID {
			return &p, nil
		}
	}
	return nil, nil
}

func (s *memPayments) GetByBookingIDForUpdate(ctx context.Context, bookingID uuid.UUID) (*models.Payment, error) {
	s.db.lockRow("payment")
	return s.GetByBookingID(ctx, bookingID)
}

func (s *memPayments) update(id uuid.UUID, fn func(p *models.Payment) bool) bool {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, ok := s.db.payments[id]
	if !ok || !fn(&p) {
		return false
	}
	s.db.payments[id] = p
	return true
}

func (s *memPayments) MarkAttempted(_ context.Context, id uuid.UUID, method string, reference *string, at time.Time) error {
	if s.markAttemptedErr != nil {
		return s.markAttemptedErr
	}
	s.update(id, func(p *models.Payment) bool {
		if p.Status == models.PaymentStatusCompleted {
			return false
		}
		p.Status = models.PaymentStatusPending
		p.AttemptedAt = &at
		p.Method = method
		p.GatewayReference = reference
		p.ErrorMessage = nil
		p.UpdatedAt = at
		return true
	})
	return nil
}

func (s *memPayments) MarkCompleted(_ context.Context, st models.Settlement) (bool, error) {
	return s.update(st.PaymentID, func(p *models.Payment) bool {
		if p.Status == models.PaymentStatusCompleted {
			return false
		}
		txID := st.TransactionID
		at := st.ProcessedAt
		p.Status = models.PaymentStatusCompleted
		p.TransactionID = &txID
		p.ProcessedAt = &at
		p.ErrorMessage = nil
		p.NeedsReconciliation = false
		return true
	}), nil
}

func (s *memPayments) MarkFailed(_ context.Context, id uuid.UUID, message string, at time.Time) error {
	s.update(id, func(p *models.Payment) bool {
		if p.Status == models.PaymentStatusCompleted {
			return false
		}
		p.Status = models.PaymentStatusFailed
		p.ErrorMessage = &message
		p.ProcessedAt = &at
		p.NeedsReconciliation = false
		return true
	})
	return nil
}

func (s *memPayments) FlagForReconciliation(_ context.Context, id uuid.UUID, _ time.Time) error {
	s.update(id, func(p *models.Payment) bool {
		p.NeedsReconciliation = true
		return true
	})
	return nil
}

func (s *memPayments) ClearAttempt(_ context.Context, id uuid.UUID, _ time.Time) error {
	s.update(id, func(p *models.Payment) bool {
		if p.Status != models.PaymentStatusPending {
			return false
		}
		p.AttemptedAt = nil
		p.NeedsReconciliation = false
		return true
	})
	return nil
}

func (s *memPayments) SetRefundDue(_ context.Context, id uuid.UUID, amount models.Money, _ time.Time) error {
	s.update(id, func(p *models.Payment) bool {
		p.RefundAmount = &amount
		return true
	})
	return nil
}

func (s *memPayments) ListForReconciliation(_ context.Context, staleBefore time.Time, limit int) ([]models.Payment, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []models.Payment
	for _, p := range s.db.payments {
		stale := p.Status == models.PaymentStatusPending && p.AttemptedAt != nil && p.AttemptedAt.Before(staleBefore)
		if p.NeedsReconciliation || stale {
			out = append(out, p)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------

type memMethods struct{ db *memDB }

func (s memMethods) ListByTourist(_ context.Context, touristID uuid.UUID) ([]models.SavedPaymentMethod, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []models.SavedPaymentMethod
	for _, m := range s.db.methods {
		if m.TouristID == touristID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s memMethods) Insert(_ context.Context, m *models.SavedPaymentMethod) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, existing := range s.db.methods {
		if existing.TouristID == m.TouristID && existing.Last4 == m.Last4 &&
			existing.ExpiryMonth == m.ExpiryMonth && existing.ExpiryYear == m.ExpiryYear {
			return false, nil
		}
	}
	hasDefault := false
	for _, existing := range s.db.methods {
		if existing.TouristID == m.TouristID && existing.IsDefault {
			hasDefault = true
		}
	}
	m.IsDefault = !hasDefault
	s.db.methods[m.ID] = *m
	return true, nil
}

func (s memMethods) SetDefault(_ context.Context, touristID, id uuid.UUID) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	target, ok := s.db.methods[id]
	if !ok || target.TouristID != touristID {
		return false, nil
	}
	for k, m := range s.db.methods {
		if m.TouristID == touristID {
			m.IsDefault = k == id
			s.db.methods[k] = m
		}
	}
	return true, nil
}

func (s memMethods) Delete(_ context.Context, touristID, id uuid.UUID) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	target, ok := s.db.methods[id]
	if !ok || target.TouristID != touristID {
		return false, nil
	}
	delete(s.db.methods, id)
	if target.IsDefault {
		var newest *models.SavedPaymentMethod
		for _, m := range s.db.methods {
			if m.TouristID == touristID && (newest == nil || m.CreatedAt.After(newest.CreatedAt)) {
				m := m
				newest = &m
			}
		}
		if newest != nil {
			newest.IsDefault = true
			s.db.methods[newest.ID] = *newest
		}
	}
	return true, nil
}

// ---------------------------------------------------------------------------

type memOutbox struct{ db *memDB }

func (s memOutbox) Create(_ context.Context, e *models.BookingEvent) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.events = append(s.db.events, *e)
	return nil
}

type memAudits struct{ db *memDB }

func (s memAudits) Log(_ context.Context, a *models.PaymentAudit) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.audits = append(s.db.audits, *a)
	return nil
}

type memReference struct{ db *memDB }

func (s memReference) GetVehicle(_ context.Context, id uuid.UUID) (*models.Vehicle, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	v, ok := s.db.vehicles[id]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (s memReference) FindAvailableVehicles(_ context.Context, date models.Date, passengers int) ([]models.Vehicle, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []models.Vehicle
	for _, v := range s.db.vehicles {
		if v.Capacity < passengers || (memBookings{db: s.db}).blocking(v.ID, date) {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (s memReference) GetUserProfile(_ context.Context, id uuid.UUID) (*models.UserProfile, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, ok := s.db.profiles[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// ============================================================================
// COLLABORATORS
// ============================================================================

type notification struct {
	kind    string
	booking models.Booking
	from    models.BookingStatus
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *recordingNotifier) record(kind string, b *models.Booking, from models.BookingStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{kind: kind, booking: *b, from: from})
}

func (n *recordingNotifier) BookingCreated(_ context.Context, b *models.Booking) {
	n.record("created", b, "")
}

func (n *recordingNotifier) BookingStatusChanged(_ context.Context, b *models.Booking, from models.BookingStatus) {
	n.record("status_changed", b, from)
}

func (n *recordingNotifier) PaymentCompleted(_ context.Context, b *models.Booking, _ *models.Payment) {
	n.record("payment_completed", b, "")
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.kind)
	}
	return out
}

// fakeGateway answers charges from a script and counts calls
type fakeGateway struct {
	mu       sync.Mutex
	charges  int
	statuses int

	chargeResult *ChargeResult
	chargeErr    error
	status       *ChargeStatus
	statusErr    error
	// onCharge runs inside Charge, before it returns
	onCharge func()
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) Charge(_ context.Context, _ ChargeRequest) (*ChargeResult, error) {
	g.mu.Lock()
	g.charges++
	hook := g.onCharge
	g.mu.Unlock()
	if hook != nil {
		hook()
	}
	if g.chargeErr != nil {
		return nil, g.chargeErr
	}
	if g.chargeResult != nil {
		return g.chargeResult, nil
	}
	return &ChargeResult{TransactionID: "txn_" + uuid.NewString()[:8]}, nil
}

func (g *fakeGateway) Status(_ context.Context, _ StatusQuery) (*ChargeStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses++
	if g.statusErr != nil {
		return nil, g.statusErr
	}
	if g.status == nil {
		return &ChargeStatus{Outcome: ChargeNotFound}, nil
	}
	return g.status, nil
}

func (g *fakeGateway) chargeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.charges
}

// ============================================================================
// FIXTURE
// ============================================================================

var errCommit = errors.New("commit failed: connection reset")

// fixture wires the booking and payment services over one memDB. now is
// 2030-06-01 08:00 UTC.
type fixture struct {
	db       *memDB
	payments *memPayments
	gateway  *fakeGateway
	locker   *LocalLocker
	notifier *recordingNotifier
	logger   *logrus.Logger

	bookingSvc *BookingService
	paymentSvc *PaymentService
	now        time.Time

	touristID uuid.UUID
	driverID  uuid.UUID
	vehicle   models.Vehicle
}

func newFixture() *fixture {
	logger, _ := test.NewNullLogger()
	db := newMemDB()
	f := &fixture{
		db:        db,
		payments:  &memPayments{db: db},
		gateway:   &fakeGateway{},
		locker:    NewLocalLocker(),
		notifier:  &recordingNotifier{},
		logger:    logger,
		now:       time.Date(2030, 6, 1, 8, 0, 0, 0, time.UTC),
		touristID: uuid.New(),
		driverID:  uuid.New(),
	}
	f.vehicle = models.Vehicle{
		ID:          uuid.New(),
		DriverID:    f.driverID,
		Model:       "Toyota KDH",
		Capacity:    4,
		PricePerDay: models.MustParseMoney("100.00"),
	}
	db.vehicles[f.vehicle.ID] = f.vehicle

	bookings := memBookings{db: db}
	reference := memReference{db: db}
	availability := NewAvailabilityService(bookings, reference, logger)

	f.bookingSvc = NewBookingService(db, bookings, f.payments, memOutbox{db: db}, memAudits{db: db},
		reference, availability, DefaultCancellationPolicy(time.UTC), f.notifier, logger)
	f.bookingSvc.now = f.clock

	cfg := &config.PaymentConfig{
		Currency:       "USD",
		GatewayTimeout: time.Second,
		LockTTL:        time.Minute,
	}
	f.paymentSvc = NewPaymentService(db, bookings, f.payments, memMethods{db: db}, memOutbox{db: db},
		memAudits{db: db}, f.gateway, f.locker, f.notifier, cfg, logger)
	f.paymentSvc.now = f.clock

	return f
}

func (f *fixture) clock() time.Time { return f.now }

func (f *fixture) tourist() models.Actor {
	return models.Actor{UserID: f.touristID, Role: models.RoleTourist}
}

func (f *fixture) driver() models.Actor {
	return models.Actor{UserID: f.driverID, Role: models.RoleDriver}
}

func (f *fixture) admin() models.Actor {
	return models.Actor{UserID: uuid.New(), Role: models.RoleAdmin}
}

func (f *fixture) bookingRequest(date string) *models.CreateBookingRequest {
	amount := models.MustParseMoney("100.00")
	return &models.CreateBookingRequest{
		VehicleID:      f.vehicle.ID.String(),
		TripDate:       date,
		TripTime:       "09:00",
		PickupLocation: "Colombo Fort",
		Passengers:     2,
		TotalAmount:    &amount,
	}
}

// book creates a pending booking for the fixture tourist
func (f *fixture) book(date string) uuid.UUID {
	res, err := f.bookingSvc.Create(context.Background(), f.touristID, f.bookingRequest(date))
	if err != nil {
		panic(err)
	}
	return res.BookingID
}

func cardPayment(bookingID uuid.UUID, number string) *models.ProcessPaymentRequest {
	return &models.ProcessPaymentRequest{
		BookingID: bookingID.String(),
		Method:    models.PaymentMethodCard,
		CardDetails: &models.CardDetails{
			Number:      number,
			CardType:    "visa",
			ExpiryMonth: 12,
			ExpiryYear:  2032,
		},
	}
}
