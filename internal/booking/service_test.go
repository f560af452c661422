package booking

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/parqhub/parqcore/internal/escrow"
	"github.com/parqhub/parqcore/internal/noshow"
	"github.com/parqhub/parqcore/pkg/ledger"
)

type memLedgerStore struct {
	accountIDs   map[string]string
	transactions []ledger.Transaction
	nextID       int
}

func newMemLedgerStore() *memLedgerStore {
	return &memLedgerStore{accountIDs: map[string]string{}}
}

func (store *memLedgerStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return fn(ctx, store)
}

func (store *memLedgerStore) GetOrCreateAccountID(ctx context.Context, ownerID ledger.OwnerID) (string, error) {
	accountID, exists := store.accountIDs[ownerID.String()]
	if !exists {
		accountID = fmt.Sprintf("acct-%d", len(store.accountIDs)+1)
		store.accountIDs[ownerID.String()] = accountID
	}
	return accountID, nil
}

func (store *memLedgerStore) InsertTransaction(ctx context.Context, transaction ledger.Transaction) (string, error) {
	store.nextID++
	transaction.TransactionID = fmt.Sprintf("txn-%d", store.nextID)
	store.transactions = append(store.transactions, transaction)
	return transaction.TransactionID, nil
}

func (store *memLedgerStore) ListCompleted(ctx context.Context, accountID string) ([]ledger.Transaction, error) {
	var completed []ledger.Transaction
	for _, transaction := range store.transactions {
		if transaction.AccountID == accountID && transaction.Status == ledger.StatusCompleted {
			completed = append(completed, transaction)
		}
	}
	return completed, nil
}

func (store *memLedgerStore) ListTransactions(ctx context.Context, accountID string, beforeUnixUTC int64, limit int) ([]ledger.Transaction, error) {
	var listed []ledger.Transaction
	for _, transaction := range store.transactions {
		if transaction.AccountID != accountID {
			continue
		}
		listed = append(listed, transaction)
		if limit > 0 && len(listed) == limit {
			break
		}
	}
	return listed, nil
}

type memEscrowStore struct {
	accounts map[string]escrow.Account

	createError error
	updateError error
}

func newMemEscrowStore() *memEscrowStore {
	return &memEscrowStore{accounts: map[string]escrow.Account{}}
}

func (store *memEscrowStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore escrow.Store) error) error {
	return fn(ctx, store)
}

func (store *memEscrowStore) CreateAccount(ctx context.Context, account escrow.Account) error {
	if store.createError != nil {
		return store.createError
	}
	if _, exists := store.accounts[account.BookingID]; exists {
		return escrow.ErrAccountExists
	}
	store.accounts[account.BookingID] = account
	return nil
}

func (store *memEscrowStore) GetAccount(ctx context.Context, bookingID string) (escrow.Account, error) {
	account, exists := store.accounts[bookingID]
	if !exists {
		return escrow.Account{}, escrow.ErrAccountNotFound
	}
	return account, nil
}

func (store *memEscrowStore) UpdateFromHeld(ctx context.Context, account escrow.Account) error {
	if store.updateError != nil {
		return store.updateError
	}
	stored, exists := store.accounts[account.BookingID]
	if !exists {
		return escrow.ErrAccountNotFound
	}
	if stored.Status != escrow.StatusHeld {
		return escrow.ErrInvalidStateTransition
	}
	store.accounts[account.BookingID] = account
	return nil
}

type memBookingStore struct {
	records     map[string]Record
	noShowCount map[string]int
}

func newMemBookingStore() *memBookingStore {
	return &memBookingStore{records: map[string]Record{}, noShowCount: map[string]int{}}
}

func (store *memBookingStore) CreateBooking(ctx context.Context, record Record) error {
	if _, exists := store.records[record.BookingID]; exists {
		return fmt.Errorf("%w: duplicate booking", ErrInvalidInput)
	}
	store.records[record.BookingID] = record
	return nil
}

func (store *memBookingStore) GetBooking(ctx context.Context, bookingID string) (Record, error) {
	record, exists := store.records[bookingID]
	if !exists {
		return Record{}, ErrBookingNotFound
	}
	return record, nil
}

func (store *memBookingStore) UpdateStatus(ctx context.Context, bookingID string, from noshow.BookingStatus, to noshow.BookingStatus) error {
	record, exists := store.records[bookingID]
	if !exists || record.Status != from {
		return ErrInvalidStatusTransition
	}
	record.Status = to
	store.records[bookingID] = record
	return nil
}

func (store *memBookingStore) UpdateArrivalDeadline(ctx context.Context, bookingID string, deadline time.Time) error {
	record, exists := store.records[bookingID]
	if !exists {
		return ErrBookingNotFound
	}
	record.ArrivalDeadline = deadline
	store.records[bookingID] = record
	return nil
}

func (store *memBookingStore) SetApproachZone(ctx context.Context, bookingID string, atUnixUTC int64) error {
	if _, exists := store.records[bookingID]; !exists {
		return ErrBookingNotFound
	}
	return nil
}

func (store *memBookingStore) CountNoShows(ctx context.Context, driverID string) (int, error) {
	return store.noShowCount[driverID], nil
}

type recorderNotifier struct {
	released []string
	refunded []string
	noShows  []string
}

func (notifier *recorderNotifier) NotifyEscrowReleased(_ context.Context, bookingID string) {
	notifier.released = append(notifier.released, bookingID)
}

func (notifier *recorderNotifier) NotifyEscrowRefunded(_ context.Context, bookingID string, _ int64) {
	notifier.refunded = append(notifier.refunded, bookingID)
}

func (notifier *recorderNotifier) NotifyNoShow(_ context.Context, bookingID string, _ int64, _ int64) {
	notifier.noShows = append(notifier.noShows, bookingID)
}

type fixture struct {
	service      *Service
	ledger       *ledger.Service
	ledgerStore  *memLedgerStore
	escrowStore  *memEscrowStore
	bookingStore *memBookingStore
	notifier     *recorderNotifier
}

func newFixture(test *testing.T) *fixture {
	test.Helper()
	ledgerStore := newMemLedgerStore()
	ledgerService, err := ledger.NewService(ledgerStore, func() int64 { return 1700000000 })
	if err != nil {
		test.Fatalf("ledger service: %v", err)
	}
	escrowStore := newMemEscrowStore()
	escrowService, err := escrow.NewService(escrowStore, func() int64 { return 1700000000 })
	if err != nil {
		test.Fatalf("escrow service: %v", err)
	}
	bookingStore := newMemBookingStore()
	notifier := &recorderNotifier{}
	service, err := NewService(
		bookingStore,
		ledgerService,
		escrowService,
		NewTieredPolicy(bookingStore),
		zap.NewNop(),
		func() time.Time { return time.Unix(1700000000, 0).UTC() },
		WithNotifier(notifier),
	)
	if err != nil {
		test.Fatalf("booking service: %v", err)
	}
	return &fixture{
		service:      service,
		ledger:       ledgerService,
		ledgerStore:  ledgerStore,
		escrowStore:  escrowStore,
		bookingStore: bookingStore,
		notifier:     notifier,
	}
}

func (f *fixture) seedDriver(test *testing.T, driverID string, amount int64) {
	test.Helper()
	ownerID, err := ledger.NewOwnerID(driverID)
	if err != nil {
		test.Fatalf("owner id: %v", err)
	}
	bookingID, err := ledger.NewBookingID("topup")
	if err != nil {
		test.Fatalf("booking id: %v", err)
	}
	metadata, err := ledger.NewMetadataJSON("")
	if err != nil {
		test.Fatalf("metadata: %v", err)
	}
	if _, err := f.ledger.Credit(context.Background(), ownerID, ledger.AmountCents(amount), bookingID, "wallet top-up", metadata); err != nil {
		test.Fatalf("seed credit: %v", err)
	}
}

func (f *fixture) summary(test *testing.T, owner string) ledger.Summary {
	test.Helper()
	ownerID, err := ledger.NewOwnerID(owner)
	if err != nil {
		test.Fatalf("owner id: %v", err)
	}
	summary, err := f.ledger.Summary(context.Background(), ownerID)
	if err != nil {
		test.Fatalf("summary: %v", err)
	}
	return summary
}

func standardQuote() PricingQuote {
	return PricingQuote{
		TotalCents: 66000,
		PayeeShare: escrow.PayeeShare{
			BaseCents:  50000,
			BonusCents: 2800,
			TotalCents: 52800,
		},
		PlatformShare: escrow.PlatformShare{
			DynamicCutCents:  8000,
			ServiceFeeCents:  3000,
			PlatformFeeCents: 2200,
			TotalCents:       13200,
		},
	}
}

func createBooking(test *testing.T, f *fixture, bookingID string) Record {
	test.Helper()
	record, err := f.service.Create(context.Background(), CreateInput{
		BookingID:       bookingID,
		DriverID:        "driver-1",
		HostID:          "host-1",
		SpaceID:         "space-9",
		Quote:           standardQuote(),
		ArrivalDeadline: time.Unix(1700003600, 0).UTC(),
	})
	if err != nil {
		test.Fatalf("create booking: %v", err)
	}
	return record
}

func TestCreateAuthorizesHoldAndOpensEscrow(test *testing.T) {
	test.Parallel()
	f := newFixture(test)
	f.seedDriver(test, "driver-1", 100000)

	record := createBooking(test, f, "booking-1")

	if record.Status != noshow.BookingArrivalPending {
		test.Fatalf("status = %s, want %s", record.Status, noshow.BookingArrivalPending)
	}
	if record.HoldRef == "" {
		test.Fatal("expected a hold reference")
	}

	driver := f.summary(test, "driver-1")
	if driver.BalanceCents != 100000 {
		test.Fatalf("driver balance = %d, want 100000", driver.BalanceCents)
	}
	if driver.HeldCents != 66000 {
		test.Fatalf("driver held = %d, want 66000", driver.HeldCents)
	}
	if driver.AvailableCents != 34000 {
		test.Fatalf("driver available = %d, want 34000", driver.AvailableCents)
	}

	custody := f.escrowStore.accounts["booking-1"]
	if custody.Status != escrow.StatusHeld {
		test.Fatalf("escrow status = %s, want %s", custody.Status, escrow.StatusHeld)
	}
	if custody.PaymentTransactionID != record.HoldRef {
		test.Fatalf("escrow payment txn = %s, want hold ref %s", custody.PaymentTransactionID, record.HoldRef)
	}
}

func TestCreateRejectsInsufficientFunds(test *testing.T) {
	test.Parallel()
	f := newFixture(test)
	f.seedDriver(test, "driver-1", 10000)

	_, err := f.service.Create(context.Background(), CreateInput{
		DriverID:        "driver-1",
		HostID:          "host-1",
		Quote:           standardQuote(),
		ArrivalDeadline: time.Unix(1700003600, 0).UTC(),
	})
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		test.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if len(f.bookingStore.records) != 0 {
		test.Fatal("no booking should exist after a failed hold")
	}
}

func TestCheckoutSettlesHoldAndPaysBeneficiaries(test *testing.T) {
	test.Parallel()
	f := newFixture(test)
	f.seedDriver(test, "driver-1", 100000)
	createBooking(test, f, "booking-1")

	if err := f.service.Checkout(context.Background(), "booking-1"); err != nil {
		test.Fatalf("checkout: %v", err)
	}

	driver := f.summary(test, "driver-1")
	if driver.BalanceCents != 34000 {
		test.Fatalf("driver balance = %d, want 34000", driver.BalanceCents)
	}
	if driver.HeldCents != 0 {
		test.Fatalf("driver held = %d, want 0", driver.HeldCents)
	}

	host := f.summary(test, "host-1")
	if host.BalanceCents != 52800 {
		test.Fatalf("host balance = %d, want 52800", host.BalanceCents)
	}
	platform := f.summary(test, "platform")
	if platform.BalanceCents != 13200 {
		test.Fatalf("platform balance = %d, want 13200", platform.BalanceCents)
	}

	custody := f.escrowStore.accounts["booking-1"]
	if custody.Status != escrow.StatusReleased {
		test.Fatalf("escrow status = %s, want %s", custody.Status, escrow.StatusReleased)
	}
	if custody.PayeeTransferID == "" || custody.PlatformTransferID == "" {
		test.Fatal("release must record both transfer ids")
	}

	record := f.bookingStore.records["booking-1"]
	if record.Status != noshow.BookingCompleted {
		test.Fatalf("booking status = %s, want %s", record.Status, noshow.BookingCompleted)
	}
	if len(f.notifier.released) != 1 || f.notifier.released[0] != "booking-1" {
		test.Fatalf("released notifications = %v", f.notifier.released)
	}
}

func TestCheckoutCollectsOvertimeBeyondHold(test *testing.T) {
	test.Parallel()
	f := newFixture(test)
	f.seedDriver(test, "driver-1", 100000)
	createBooking(test, f, "booking-1")

	if err := f.service.RecordOvertime(context.Background(), "booking-1", 10000, "45 minutes over"); err != nil {
		test.Fatalf("record overtime: %v", err)
	}
	if err := f.service.Checkout(context.Background(), "booking-1"); err != nil {
		test.Fatalf("checkout: %v", err)
	}

	// 66000 captured from the hold plus a 10000 direct debit
	driver := f.summary(test, "driver-1")
	if driver.BalanceCents != 24000 {
		test.Fatalf("driver balance = %d, want 24000", driver.BalanceCents)
	}
	host := f.summary(test, "host-1")
	if host.BalanceCents != 62800 {
		test.Fatalf("host balance = %d, want 62800", host.BalanceCents)
	}

	custody := f.escrowStore.accounts["booking-1"]
	if custody.TotalCents != 76000 {
		test.Fatalf("escrow total = %d, want 76000", custody.TotalCents)
	}
	if custody.PayeeShare.OvertimeCents != 10000 {
		test.Fatalf("overtime bucket = %d, want 10000", custody.PayeeShare.OvertimeCents)
	}
}

func TestCancelReleasesHoldUntouched(test *testing.T) {
	test.Parallel()
	f := newFixture(test)
	f.seedDriver(test, "driver-1", 100000)
	createBooking(test, f, "booking-1")

	if err := f.service.Cancel(context.Background(), "booking-1", "driver cancelled", "driver-1"); err != nil {
		test.Fatalf("cancel: %v", err)
	}

	driver := f.summary(test, "driver-1")
	if driver.BalanceCents != 100000 {
		test.Fatalf("driver balance = %d, want 100000", driver.BalanceCents)
	}
	if driver.HeldCents != 0 {
		test.Fatalf("driver held = %d, want 0", driver.HeldCents)
	}

	custody := f.escrowStore.accounts["booking-1"]
	if custody.Status != escrow.StatusRefunded {
		test.Fatalf("escrow status = %s, want %s", custody.Status, escrow.StatusRefunded)
	}
	if custody.Refund == nil || custody.Refund.AmountCents != 66000 {
		test.Fatalf("refund info = %+v, want full 66000", custody.Refund)
	}
	record := f.bookingStore.records["booking-1"]
	if record.Status != noshow.BookingCancelled {
		test.Fatalf("booking status = %s, want %s", record.Status, noshow.BookingCancelled)
	}
	if len(f.notifier.refunded) != 1 {
		test.Fatalf("refund notifications = %v", f.notifier.refunded)
	}
}

func TestHandleNoShowFirstViolationRefundsEighty(test *testing.T) {
	test.Parallel()
	f := newFixture(test)
	f.seedDriver(test, "driver-1", 100000)
	createBooking(test, f, "booking-1")

	evaluated := noshow.Booking{BookingID: "booking-1", Status: noshow.BookingArrivalPending}
	if err := f.service.HandleNoShow(context.Background(), evaluated, 30); err != nil {
		test.Fatalf("handle no-show: %v", err)
	}

	// 80% of 66000 released back, the 13200 remainder captured as penalty
	driver := f.summary(test, "driver-1")
	if driver.BalanceCents != 86800 {
		test.Fatalf("driver balance = %d, want 86800", driver.BalanceCents)
	}
	if driver.HeldCents != 0 {
		test.Fatalf("driver held = %d, want 0", driver.HeldCents)
	}
	host := f.summary(test, "host-1")
	if host.BalanceCents != 13200 {
		test.Fatalf("host balance = %d, want 13200", host.BalanceCents)
	}

	custody := f.escrowStore.accounts["booking-1"]
	if custody.Status != escrow.StatusRefunded {
		test.Fatalf("escrow status = %s, want %s", custody.Status, escrow.StatusRefunded)
	}
	if custody.Refund == nil || custody.Refund.AmountCents != 52800 {
		test.Fatalf("refund info = %+v, want 52800", custody.Refund)
	}
	record := f.bookingStore.records["booking-1"]
	if record.Status != noshow.BookingNoShow {
		test.Fatalf("booking status = %s, want %s", record.Status, noshow.BookingNoShow)
	}
	if len(f.notifier.noShows) != 1 {
		test.Fatalf("no-show notifications = %v", f.notifier.noShows)
	}
}

func TestHandleNoShowRepeatOffenderForfeitsEverything(test *testing.T) {
	test.Parallel()
	f := newFixture(test)
	f.seedDriver(test, "driver-1", 100000)
	f.bookingStore.noShowCount["driver-1"] = 3
	createBooking(test, f, "booking-1")

	evaluated := noshow.Booking{BookingID: "booking-1", Status: noshow.BookingArrivalPending}
	if err := f.service.HandleNoShow(context.Background(), evaluated, 90); err != nil {
		test.Fatalf("handle no-show: %v", err)
	}

	driver := f.summary(test, "driver-1")
	if driver.BalanceCents != 34000 {
		test.Fatalf("driver balance = %d, want 34000", driver.BalanceCents)
	}
	host := f.summary(test, "host-1")
	if host.BalanceCents != 66000 {
		test.Fatalf("host balance = %d, want 66000", host.BalanceCents)
	}
	custody := f.escrowStore.accounts["booking-1"]
	if custody.Refund == nil || custody.Refund.AmountCents != 0 {
		test.Fatalf("refund info = %+v, want zero refund", custody.Refund)
	}
}

func TestMarkParkedTransitionsStatus(test *testing.T) {
	test.Parallel()
	f := newFixture(test)
	f.seedDriver(test, "driver-1", 100000)
	createBooking(test, f, "booking-1")

	if err := f.service.MarkParked(context.Background(), "booking-1"); err != nil {
		test.Fatalf("mark parked: %v", err)
	}
	record := f.bookingStore.records["booking-1"]
	if record.Status != noshow.BookingParked {
		test.Fatalf("booking status = %s, want %s", record.Status, noshow.BookingParked)
	}

	if err := f.service.MarkParked(context.Background(), "booking-1"); !errors.Is(err, ErrInvalidStatusTransition) {
		test.Fatalf("second mark parked err = %v, want ErrInvalidStatusTransition", err)
	}
}

func TestExtendArrivalWindowMovesDeadline(test *testing.T) {
	test.Parallel()
	f := newFixture(test)
	f.seedDriver(test, "driver-1", 100000)
	createBooking(test, f, "booking-1")

	newDeadline := time.Unix(1700007200, 0).UTC()
	if err := f.service.ExtendArrivalWindow(context.Background(), "booking-1", newDeadline, "heavy traffic"); err != nil {
		test.Fatalf("extend arrival window: %v", err)
	}
	record := f.bookingStore.records["booking-1"]
	if !record.ArrivalDeadline.Equal(newDeadline) {
		test.Fatalf("deadline = %s, want %s", record.ArrivalDeadline, newDeadline)
	}
}

func TestCreateBadSplitHoldsNothing(test *testing.T) {
	test.Parallel()
	f := newFixture(test)
	f.seedDriver(test, "driver-1", 100000)

	quote := standardQuote()
	quote.PlatformShare.TotalCents += 100
	_, err := f.service.Create(context.Background(), CreateInput{
		BookingID:       "booking-1",
		DriverID:        "driver-1",
		HostID:          "host-1",
		Quote:           quote,
		ArrivalDeadline: time.Unix(1700003600, 0).UTC(),
	})
	if !errors.Is(err, escrow.ErrSplitMismatch) {
		test.Fatalf("err = %v, want ErrSplitMismatch", err)
	}

	driver := f.summary(test, "driver-1")
	if driver.HeldCents != 0 {
		test.Fatalf("driver held = %d, want 0 after rejected quote", driver.HeldCents)
	}
	if driver.AvailableCents != 100000 {
		test.Fatalf("driver available = %d, want 100000", driver.AvailableCents)
	}
	if len(f.bookingStore.records) != 0 {
		test.Fatal("no booking row should exist after a rejected quote")
	}
}

func TestCreateDuplicateBookingHoldsNothing(test *testing.T) {
	test.Parallel()
	f := newFixture(test)
	f.seedDriver(test, "driver-1", 200000)
	createBooking(test, f, "booking-1")

	_, err := f.service.Create(context.Background(), CreateInput{
		BookingID:       "booking-1",
		DriverID:        "driver-1",
		HostID:          "host-1",
		Quote:           standardQuote(),
		ArrivalDeadline: time.Unix(1700003600, 0).UTC(),
	})
	if !errors.Is(err, ErrInvalidInput) {
		test.Fatalf("err = %v, want ErrInvalidInput", err)
	}

	// only the first booking's hold remains
	driver := f.summary(test, "driver-1")
	if driver.HeldCents != 66000 {
		test.Fatalf("driver held = %d, want 66000", driver.HeldCents)
	}
}

func TestCreateEscrowFailureReleasesHold(test *testing.T) {
	test.Parallel()
	f := newFixture(test)
	f.seedDriver(test, "driver-1", 100000)
	f.escrowStore.createError = errors.New("escrow store outage")

	_, err := f.service.Create(context.Background(), CreateInput{
		BookingID:       "booking-1",
		DriverID:        "driver-1",
		HostID:          "host-1",
		Quote:           standardQuote(),
		ArrivalDeadline: time.Unix(1700003600, 0).UTC(),
	})
	if err == nil {
		test.Fatal("create should surface the escrow failure")
	}

	driver := f.summary(test, "driver-1")
	if driver.HeldCents != 0 {
		test.Fatalf("driver held = %d, want 0 after compensation", driver.HeldCents)
	}
	if driver.AvailableCents != 100000 {
		test.Fatalf("driver available = %d, want 100000", driver.AvailableCents)
	}
	record := f.bookingStore.records["booking-1"]
	if record.Status != noshow.BookingCancelled {
		test.Fatalf("orphaned booking status = %s, want %s", record.Status, noshow.BookingCancelled)
	}
}

func TestHandleNoShowRetriesAfterEscrowOutage(test *testing.T) {
	test.Parallel()
	f := newFixture(test)
	f.seedDriver(test, "driver-1", 100000)
	createBooking(test, f, "booking-1")

	evaluated := noshow.Booking{BookingID: "booking-1", Status: noshow.BookingArrivalPending}
	f.escrowStore.updateError = errors.New("transient store outage")
	if err := f.service.HandleNoShow(context.Background(), evaluated, 30); err == nil {
		test.Fatal("first attempt should surface the escrow failure")
	}

	// the booking must stay arrival_pending so the sweep can retry it
	record := f.bookingStore.records["booking-1"]
	if record.Status != noshow.BookingArrivalPending {
		test.Fatalf("booking status = %s, want %s after failed attempt", record.Status, noshow.BookingArrivalPending)
	}

	f.escrowStore.updateError = nil
	if err := f.service.HandleNoShow(context.Background(), evaluated, 30); err != nil {
		test.Fatalf("retry: %v", err)
	}

	// the retry must not double-apply the ledger movements
	driver := f.summary(test, "driver-1")
	if driver.BalanceCents != 86800 {
		test.Fatalf("driver balance = %d, want 86800", driver.BalanceCents)
	}
	if driver.HeldCents != 0 {
		test.Fatalf("driver held = %d, want 0", driver.HeldCents)
	}
	host := f.summary(test, "host-1")
	if host.BalanceCents != 13200 {
		test.Fatalf("host balance = %d, want 13200", host.BalanceCents)
	}
	custody := f.escrowStore.accounts["booking-1"]
	if custody.Status != escrow.StatusRefunded {
		test.Fatalf("escrow status = %s, want %s", custody.Status, escrow.StatusRefunded)
	}
	record = f.bookingStore.records["booking-1"]
	if record.Status != noshow.BookingNoShow {
		test.Fatalf("booking status = %s, want %s", record.Status, noshow.BookingNoShow)
	}

	// a re-entry after full settlement is a no-op
	if err := f.service.HandleNoShow(context.Background(), evaluated, 30); err != nil {
		test.Fatalf("re-entry: %v", err)
	}
	driver = f.summary(test, "driver-1")
	if driver.BalanceCents != 86800 {
		test.Fatalf("driver balance after re-entry = %d, want 86800", driver.BalanceCents)
	}
}

func TestCheckoutRetriesAfterEscrowOutage(test *testing.T) {
	test.Parallel()
	f := newFixture(test)
	f.seedDriver(test, "driver-1", 100000)
	createBooking(test, f, "booking-1")

	f.escrowStore.updateError = errors.New("transient store outage")
	if err := f.service.Checkout(context.Background(), "booking-1"); err == nil {
		test.Fatal("first attempt should surface the escrow failure")
	}

	// the ledger settlement committed atomically before the escrow failed
	driver := f.summary(test, "driver-1")
	if driver.BalanceCents != 34000 {
		test.Fatalf("driver balance = %d, want 34000", driver.BalanceCents)
	}
	host := f.summary(test, "host-1")
	if host.BalanceCents != 52800 {
		test.Fatalf("host balance = %d, want 52800", host.BalanceCents)
	}

	f.escrowStore.updateError = nil
	if err := f.service.Checkout(context.Background(), "booking-1"); err != nil {
		test.Fatalf("retry: %v", err)
	}

	// the retry records the release without capturing or crediting again
	driver = f.summary(test, "driver-1")
	if driver.BalanceCents != 34000 {
		test.Fatalf("driver balance after retry = %d, want 34000", driver.BalanceCents)
	}
	host = f.summary(test, "host-1")
	if host.BalanceCents != 52800 {
		test.Fatalf("host balance after retry = %d, want 52800", host.BalanceCents)
	}
	custody := f.escrowStore.accounts["booking-1"]
	if custody.Status != escrow.StatusReleased {
		test.Fatalf("escrow status = %s, want %s", custody.Status, escrow.StatusReleased)
	}
	record := f.bookingStore.records["booking-1"]
	if record.Status != noshow.BookingCompleted {
		test.Fatalf("booking status = %s, want %s", record.Status, noshow.BookingCompleted)
	}

	// a second checkout after completion is a no-op
	if err := f.service.Checkout(context.Background(), "booking-1"); err != nil {
		test.Fatalf("re-entry: %v", err)
	}
}

func TestTieredPolicyPercentages(test *testing.T) {
	test.Parallel()
	store := newMemBookingStore()
	policy := NewTieredPolicy(store)

	for _, testCase := range []struct {
		name        string
		priorCount  int
		wantPercent int
	}{
		{name: "first violation", priorCount: 0, wantPercent: 80},
		{name: "second violation", priorCount: 1, wantPercent: 50},
		{name: "repeat offender", priorCount: 2, wantPercent: 0},
	} {
		test.Run(testCase.name, func(test *testing.T) {
			store.noShowCount["driver-1"] = testCase.priorCount
			percent, err := policy.RefundPercent(context.Background(), "driver-1", 15)
			if err != nil {
				test.Fatalf("refund percent: %v", err)
			}
			if percent != testCase.wantPercent {
				test.Fatalf("percent = %d, want %d", percent, testCase.wantPercent)
			}
		})
	}
}
