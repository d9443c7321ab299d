package transaction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/payflowhq/payflow/internal/application/dtos"
	"github.com/payflowhq/payflow/internal/application/ports"
	"github.com/payflowhq/payflow/internal/domain/entities"
	domainErrors "github.com/payflowhq/payflow/internal/domain/errors"
	domainevents "github.com/payflowhq/payflow/internal/domain/events"
	"github.com/payflowhq/payflow/internal/domain/valueobjects"
)

// Mock Repositories
type mockTransactionRepo struct {
	saveFunc                 func(ctx context.Context, tx *entities.Transaction) error
	findByIDFunc             func(ctx context.Context, id uuid.UUID) (*entities.Transaction, error)
	findByIdempotencyKeyFunc func(ctx context.Context, key string) (*entities.Transaction, error)
	findByCustomerIDFunc     func(ctx context.Context, customerID string, filter ports.TransactionFilter) ([]*entities.Transaction, error)
	countByStatusFunc        func(ctx context.Context) (map[entities.TransactionStatus]int, error)
	findScheduledRetriesFunc func(ctx context.Context) ([]*entities.Transaction, error)
	sumAmountsSinceFunc      func(ctx context.Context, customerID string, currency valueobjects.Currency, since time.Time) (valueobjects.Money, error)
}

func (m *mockTransactionRepo) Save(ctx context.Context, tx *entities.Transaction) error {
	if m.saveFunc != nil {
		return m.saveFunc(ctx, tx)
	}
	return nil
}

func (m *mockTransactionRepo) FindByID(ctx context.Context, id uuid.UUID) (*entities.Transaction, error) {
	if m.findByIDFunc != nil {
		return m.findByIDFunc(ctx, id)
	}
	return nil, domainErrors.ErrTransactionNotFound
}

func (m *mockTransactionRepo) FindByIdempotencyKey(ctx context.Context, key string) (*entities.Transaction, error) {
	if m.findByIdempotencyKeyFunc != nil {
		return m.findByIdempotencyKeyFunc(ctx, key)
	}
	return nil, domainErrors.ErrTransactionNotFound
}

func (m *mockTransactionRepo) FindByCustomerID(ctx context.Context, customerID string, filter ports.TransactionFilter) ([]*entities.Transaction, error) {
	if m.findByCustomerIDFunc != nil {
		return m.findByCustomerIDFunc(ctx, customerID, filter)
	}
	return nil, nil
}

func (m *mockTransactionRepo) CountByStatus(ctx context.Context) (map[entities.TransactionStatus]int, error) {
	if m.countByStatusFunc != nil {
		return m.countByStatusFunc(ctx)
	}
	return map[entities.TransactionStatus]int{}, nil
}

func (m *mockTransactionRepo) FindScheduledRetries(ctx context.Context) ([]*entities.Transaction, error) {
	if m.findScheduledRetriesFunc != nil {
		return m.findScheduledRetriesFunc(ctx)
	}
	return nil, nil
}

func (m *mockTransactionRepo) SumAmountsSince(ctx context.Context, customerID string, currency valueobjects.Currency, since time.Time) (valueobjects.Money, error) {
	if m.sumAmountsSinceFunc != nil {
		return m.sumAmountsSinceFunc(ctx, customerID, currency, since)
	}
	return valueobjects.Zero(currency), nil
}

// Mock Payment Provider
type mockProvider struct {
	name        string
	processFunc func(ctx context.Context, req ports.ProviderRequest) (*ports.ProviderResult, error)
	healthFunc  func(ctx context.Context) error
}

func (m *mockProvider) Name() string {
	if m.name != "" {
		return m.name
	}
	return "mockpay"
}

func (m *mockProvider) Process(ctx context.Context, req ports.ProviderRequest) (*ports.ProviderResult, error) {
	if m.processFunc != nil {
		return m.processFunc(ctx, req)
	}
	return &ports.ProviderResult{ProviderReference: "mockpay-ref"}, nil
}

func (m *mockProvider) HealthCheck(ctx context.Context) error {
	if m.healthFunc != nil {
		return m.healthFunc(ctx)
	}
	return nil
}

// Mock Record Locker
type mockLocker struct {
	acquireFunc func(ctx context.Context, key string, ttl time.Duration) (string, error)
	releaseFunc func(ctx context.Context, key, token string) (bool, error)
	purgeFunc   func(ctx context.Context) (int64, error)
}

func (m *mockLocker) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if m.acquireFunc != nil {
		return m.acquireFunc(ctx, key, ttl)
	}
	return "test-token", nil
}

func (m *mockLocker) ReleaseLock(ctx context.Context, key, token string) (bool, error) {
	if m.releaseFunc != nil {
		return m.releaseFunc(ctx, key, token)
	}
	return true, nil
}

func (m *mockLocker) PurgeExpired(ctx context.Context) (int64, error) {
	if m.purgeFunc != nil {
		return m.purgeFunc(ctx)
	}
	return 0, nil
}

// Mock Unit of Work
type mockUnitOfWork struct {
	executeFunc func(ctx context.Context, fn func(context.Context) error) error
}

func (m *mockUnitOfWork) Execute(ctx context.Context, fn func(context.Context) error) error {
	if m.executeFunc != nil {
		return m.executeFunc(ctx, fn)
	}
	return fn(ctx)
}

func (m *mockUnitOfWork) ExecuteWithResult(ctx context.Context, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	return fn(ctx)
}

// Mock Failure Routing
type mockRetryScheduler struct {
	scheduleRetryFunc func(ctx context.Context, tx *entities.Transaction, txErr *domainErrors.TransactionError) (*entities.Transaction, error)
}

func (m *mockRetryScheduler) ScheduleRetry(ctx context.Context, tx *entities.Transaction, txErr *domainErrors.TransactionError) (*entities.Transaction, error) {
	if m.scheduleRetryFunc != nil {
		return m.scheduleRetryFunc(ctx, tx, txErr)
	}
	return tx, nil
}

type mockRecoveryRouter struct {
	initiateRecoveryFunc func(ctx context.Context, tx *entities.Transaction, txErr *domainErrors.TransactionError) error
	moveToDeadLetterFunc func(ctx context.Context, tx *entities.Transaction, txErr *domainErrors.TransactionError) error
}

func (m *mockRecoveryRouter) InitiateRecovery(ctx context.Context, tx *entities.Transaction, txErr *domainErrors.TransactionError) error {
	if m.initiateRecoveryFunc != nil {
		return m.initiateRecoveryFunc(ctx, tx, txErr)
	}
	return nil
}

func (m *mockRecoveryRouter) MoveToDeadLetter(ctx context.Context, tx *entities.Transaction, txErr *domainErrors.TransactionError) error {
	if m.moveToDeadLetterFunc != nil {
		return m.moveToDeadLetterFunc(ctx, tx, txErr)
	}
	return nil
}

// newBeginUseCaseForTest wires a BeginTransactionUseCase with disabled limits
// and a recording emitter. Pass nil for any collaborator to get the default
// mock.
func newBeginUseCaseForTest(
	repo *mockTransactionRepo,
	provider *mockProvider,
	locker *mockLocker,
	retry *mockRetryScheduler,
	recovery *mockRecoveryRouter,
) (*BeginTransactionUseCase, *recordingEventStore) {
	if repo == nil {
		repo = &mockTransactionRepo{}
	}
	if provider == nil {
		provider = &mockProvider{}
	}
	if locker == nil {
		locker = &mockLocker{}
	}
	if retry == nil {
		retry = &mockRetryScheduler{}
	}
	if recovery == nil {
		recovery = &mockRecoveryRouter{}
	}
	logger := newTestLogger()
	emitter, store := newTestEmitter()
	uc := NewBeginTransactionUseCase(
		repo,
		provider,
		locker,
		NewLimitsChecker(repo, "", "", logger),
		retry,
		recovery,
		&mockUnitOfWork{},
		emitter,
		30*time.Second,
		logger,
	)
	return uc, store
}

// validBeginCommand returns a command that passes all validation.
func validBeginCommand() dtos.BeginTransactionCommand {
	return dtos.BeginTransactionCommand{
		Type:            "PAYMENT",
		Amount:          "100.50",
		Currency:        "USD",
		CustomerID:      "cust-001",
		PaymentMethodID: "pm-001",
		IdempotencyKey:  uuid.New().String(),
	}
}

// TestBeginTransactionUseCase_Payment_Success covers the happy path: PENDING
// is persisted, the provider settles the attempt, the transaction completes.
func TestBeginTransactionUseCase_Payment_Success(t *testing.T) {
	// Arrange
	ctx := context.Background()

	var statuses []entities.TransactionStatus
	var savedTransaction *entities.Transaction
	repo := &mockTransactionRepo{
		saveFunc: func(ctx context.Context, tx *entities.Transaction) error {
			statuses = append(statuses, tx.Status())
			savedTransaction = tx
			return nil
		},
	}

	provider := &mockProvider{
		processFunc: func(ctx context.Context, req ports.ProviderRequest) (*ports.ProviderResult, error) {
			return &ports.ProviderResult{
				ProviderReference: "psp-12345",
				Details:           map[string]interface{}{"rail": "cards"},
			}, nil
		},
	}

	var released bool
	locker := &mockLocker{
		releaseFunc: func(ctx context.Context, key, token string) (bool, error) {
			released = true
			return true, nil
		},
	}

	uc, store := newBeginUseCaseForTest(repo, provider, locker, nil, nil)
	cmd := validBeginCommand()

	// Act
	result, err := uc.Execute(ctx, cmd)

	// Assert
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result == nil {
		t.Fatal("Expected result, got nil")
	}
	if result.Replayed {
		t.Error("Expected Replayed = false for a fresh begin")
	}
	if result.Transaction.Status != string(entities.TransactionStatusCompleted) {
		t.Errorf("Expected status = %s, got %s", entities.TransactionStatusCompleted, result.Transaction.Status)
	}

	// The persisted status history walks the full lifecycle.
	want := []entities.TransactionStatus{
		entities.TransactionStatusPending,
		entities.TransactionStatusProcessing,
		entities.TransactionStatusCompleted,
	}
	if len(statuses) != len(want) {
		t.Fatalf("Expected %d saves, got %d (%v)", len(want), len(statuses), statuses)
	}
	for i, status := range want {
		if statuses[i] != status {
			t.Errorf("Save %d: expected status %s, got %s", i, status, statuses[i])
		}
	}

	// Provider response lands in the metadata.
	if savedTransaction.Metadata()["providerReference"] != "psp-12345" {
		t.Errorf("Expected providerReference metadata, got %v", savedTransaction.Metadata())
	}
	if savedTransaction.Metadata()["rail"] != "cards" {
		t.Errorf("Expected provider details merged into metadata, got %v", savedTransaction.Metadata())
	}

	if !released {
		t.Error("Expected the record lock to be released")
	}

	store.AssertEventCount(t, domainevents.EventTypeTransactionCreated, 1)
	store.AssertEventCount(t, domainevents.EventTypeTransactionCompleted, 1)
	store.AssertNotEmitted(t, domainevents.EventTypeTransactionFailed)

	created := store.DataOf(t, domainevents.EventTypeTransactionCreated)
	if created["transactionId"] != result.Transaction.ID {
		t.Errorf("Expected created event for %s, got %v", result.Transaction.ID, created["transactionId"])
	}
	if created["amount"] != "100.50" || created["currency"] != "USD" {
		t.Errorf("Expected created event to carry amount and currency, got %v", created)
	}
}

// TestBeginTransactionUseCase_IdempotentReplay covers a repeated Begin with
// the same key and body: the stored transaction comes back, nothing runs.
func TestBeginTransactionUseCase_IdempotentReplay(t *testing.T) {
	// Arrange
	ctx := context.Background()
	cmd := validBeginCommand()

	existing, err := entities.NewTransaction(
		entities.TransactionTypePayment,
		mustMoney(t, cmd.Amount, cmd.Currency),
		cmd.CustomerID,
		cmd.PaymentMethodID,
		cmd.IdempotencyKey,
		nil,
	)
	if err != nil {
		t.Fatalf("Failed to build existing transaction: %v", err)
	}

	var saves int
	repo := &mockTransactionRepo{
		findByIdempotencyKeyFunc: func(ctx context.Context, key string) (*entities.Transaction, error) {
			return existing, nil
		},
		saveFunc: func(ctx context.Context, tx *entities.Transaction) error {
			saves++
			return nil
		},
	}

	var providerCalled bool
	provider := &mockProvider{
		processFunc: func(ctx context.Context, req ports.ProviderRequest) (*ports.ProviderResult, error) {
			providerCalled = true
			return &ports.ProviderResult{}, nil
		},
	}

	uc, store := newBeginUseCaseForTest(repo, provider, nil, nil, nil)

	// Act
	result, err := uc.Execute(ctx, cmd)

	// Assert
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !result.Replayed {
		t.Error("Expected Replayed = true")
	}
	if result.Transaction.ID != existing.ID().String() {
		t.Errorf("Expected the stored transaction, got %s", result.Transaction.ID)
	}
	if saves != 0 {
		t.Errorf("Expected no saves on replay, got %d", saves)
	}
	if providerCalled {
		t.Error("Expected no provider call on replay")
	}
	if n := len(store.EventTypes()); n != 0 {
		t.Errorf("Expected no events on replay, got %v", store.EventTypes())
	}
}

// TestBeginTransactionUseCase_IdempotencyKeyConflict covers key reuse with a
// different request body.
func TestBeginTransactionUseCase_IdempotencyKeyConflict(t *testing.T) {
	// Arrange
	ctx := context.Background()
	cmd := validBeginCommand()

	existing, err := entities.NewTransaction(
		entities.TransactionTypePayment,
		mustMoney(t, "999.99", cmd.Currency),
		cmd.CustomerID,
		cmd.PaymentMethodID,
		cmd.IdempotencyKey,
		nil,
	)
	if err != nil {
		t.Fatalf("Failed to build existing transaction: %v", err)
	}

	repo := &mockTransactionRepo{
		findByIdempotencyKeyFunc: func(ctx context.Context, key string) (*entities.Transaction, error) {
			return existing, nil
		},
	}

	uc, store := newBeginUseCaseForTest(repo, nil, nil, nil, nil)

	// Act
	result, err := uc.Execute(ctx, cmd)

	// Assert
	if err == nil {
		t.Fatal("Expected conflict error, got nil")
	}
	if result != nil {
		t.Errorf("Expected nil result, got %+v", result)
	}
	if !errors.Is(err, domainErrors.ErrIdempotencyKeyConflict) {
		t.Errorf("Expected ErrIdempotencyKeyConflict, got: %v", err)
	}
	var txErr *domainErrors.TransactionError
	if !errors.As(err, &txErr) {
		t.Fatalf("Expected *TransactionError, got %T", err)
	}
	if txErr.Code != domainErrors.CodeIdempotencyConflict {
		t.Errorf("Expected code %s, got %s", domainErrors.CodeIdempotencyConflict, txErr.Code)
	}
	if n := len(store.EventTypes()); n != 0 {
		t.Errorf("Expected no events on conflict, got %v", store.EventTypes())
	}
}

// TestBeginTransactionUseCase_SingleLimitBreached verifies nothing is
// persisted when the per-transaction cap rejects the amount.
func TestBeginTransactionUseCase_SingleLimitBreached(t *testing.T) {
	// Arrange
	ctx := context.Background()

	var saves int
	repo := &mockTransactionRepo{
		saveFunc: func(ctx context.Context, tx *entities.Transaction) error {
			saves++
			return nil
		},
	}

	logger := newTestLogger()
	emitter, store := newTestEmitter()
	uc := NewBeginTransactionUseCase(
		repo,
		&mockProvider{},
		&mockLocker{},
		NewLimitsChecker(repo, "1000.00", "", logger),
		&mockRetryScheduler{},
		&mockRecoveryRouter{},
		&mockUnitOfWork{},
		emitter,
		30*time.Second,
		logger,
	)

	cmd := validBeginCommand()
	cmd.Amount = "5000.00"

	// Act
	result, err := uc.Execute(ctx, cmd)

	// Assert
	if err == nil {
		t.Fatal("Expected limit error, got nil")
	}
	if result != nil {
		t.Errorf("Expected nil result, got %+v", result)
	}
	var txErr *domainErrors.TransactionError
	if !errors.As(err, &txErr) {
		t.Fatalf("Expected *TransactionError, got %T", err)
	}
	if txErr.Code != domainErrors.CodeLimitExceeded {
		t.Errorf("Expected code %s, got %s", domainErrors.CodeLimitExceeded, txErr.Code)
	}
	if txErr.Retryable || txErr.Recoverable {
		t.Error("Expected a terminal error, got retryable/recoverable flags set")
	}
	if txErr.Details["scope"] != "single" {
		t.Errorf("Expected scope = single, got %v", txErr.Details["scope"])
	}
	if saves != 0 {
		t.Errorf("Expected nothing persisted, got %d saves", saves)
	}
	if n := len(store.EventTypes()); n != 0 {
		t.Errorf("Expected no events, got %v", store.EventTypes())
	}
}

// TestBeginTransactionUseCase_DailyLimitBreached verifies the rolling 24h cap
// counts prior volume.
func TestBeginTransactionUseCase_DailyLimitBreached(t *testing.T) {
	// Arrange
	ctx := context.Background()

	repo := &mockTransactionRepo{
		sumAmountsSinceFunc: func(ctx context.Context, customerID string, currency valueobjects.Currency, since time.Time) (valueobjects.Money, error) {
			return mustMoney(t, "9900.00", "USD"), nil
		},
	}

	logger := newTestLogger()
	emitter, _ := newTestEmitter()
	uc := NewBeginTransactionUseCase(
		repo,
		&mockProvider{},
		&mockLocker{},
		NewLimitsChecker(repo, "", "10000.00", logger),
		&mockRetryScheduler{},
		&mockRecoveryRouter{},
		&mockUnitOfWork{},
		emitter,
		30*time.Second,
		logger,
	)

	cmd := validBeginCommand()
	cmd.Amount = "200.00"

	// Act
	_, err := uc.Execute(ctx, cmd)

	// Assert
	if err == nil {
		t.Fatal("Expected daily limit error, got nil")
	}
	var txErr *domainErrors.TransactionError
	if !errors.As(err, &txErr) {
		t.Fatalf("Expected *TransactionError, got %T", err)
	}
	if txErr.Details["scope"] != "daily" {
		t.Errorf("Expected scope = daily, got %v", txErr.Details["scope"])
	}
}

// TestBeginTransactionUseCase_RetryableFailureSchedulesRetry verifies a
// communication fault lands in the retry path, not recovery or the DLQ.
func TestBeginTransactionUseCase_RetryableFailureSchedulesRetry(t *testing.T) {
	// Arrange
	ctx := context.Background()

	provider := &mockProvider{
		processFunc: func(ctx context.Context, req ports.ProviderRequest) (*ports.ProviderResult, error) {
			return nil, domainErrors.NewProviderCommunicationError("PROVIDER_TIMEOUT", "gateway timed out")
		},
	}

	var scheduled *entities.Transaction
	var scheduledErr *domainErrors.TransactionError
	retry := &mockRetryScheduler{
		scheduleRetryFunc: func(ctx context.Context, tx *entities.Transaction, txErr *domainErrors.TransactionError) (*entities.Transaction, error) {
			scheduled = tx
			scheduledErr = txErr
			return tx, nil
		},
	}

	var recoveryCalled, dlqCalled bool
	recovery := &mockRecoveryRouter{
		initiateRecoveryFunc: func(ctx context.Context, tx *entities.Transaction, txErr *domainErrors.TransactionError) error {
			recoveryCalled = true
			return nil
		},
		moveToDeadLetterFunc: func(ctx context.Context, tx *entities.Transaction, txErr *domainErrors.TransactionError) error {
			dlqCalled = true
			return nil
		},
	}

	uc, store := newBeginUseCaseForTest(nil, provider, nil, retry, recovery)

	// Act
	result, err := uc.Execute(ctx, validBeginCommand())

	// Assert
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result.Transaction.Status != string(entities.TransactionStatusFailed) {
		t.Errorf("Expected status = FAILED, got %s", result.Transaction.Status)
	}
	if scheduled == nil {
		t.Fatal("Expected ScheduleRetry to be called")
	}
	if scheduledErr.Code != "PROVIDER_TIMEOUT" {
		t.Errorf("Expected the provider error to reach the scheduler, got %s", scheduledErr.Code)
	}
	if recoveryCalled || dlqCalled {
		t.Error("Expected retry routing only, recovery/DLQ were called")
	}

	store.AssertEmitted(t, domainevents.EventTypeTransactionFailed)
	failed := store.DataOf(t, domainevents.EventTypeTransactionFailed)
	if failed["retryable"] != true {
		t.Errorf("Expected retryable = true in failed event, got %v", failed["retryable"])
	}
	if result.Transaction.Error == nil {
		t.Fatal("Expected error on the transaction DTO")
	}
	if result.Transaction.Error.Code != "PROVIDER_TIMEOUT" {
		t.Errorf("Expected PROVIDER_TIMEOUT on the DTO, got %s", result.Transaction.Error.Code)
	}
}

// TestBeginTransactionUseCase_RecoverableDeclineStartsRecovery verifies a
// soft decline goes to the recovery manager.
func TestBeginTransactionUseCase_RecoverableDeclineStartsRecovery(t *testing.T) {
	// Arrange
	ctx := context.Background()

	provider := &mockProvider{
		processFunc: func(ctx context.Context, req ports.ProviderRequest) (*ports.ProviderResult, error) {
			return nil, domainErrors.NewProviderDeclinedError("INSUFFICIENT_FUNDS", "insufficient funds", true)
		},
	}

	var retryCalled bool
	retry := &mockRetryScheduler{
		scheduleRetryFunc: func(ctx context.Context, tx *entities.Transaction, txErr *domainErrors.TransactionError) (*entities.Transaction, error) {
			retryCalled = true
			return tx, nil
		},
	}

	var recovered *entities.Transaction
	var dlqCalled bool
	recovery := &mockRecoveryRouter{
		initiateRecoveryFunc: func(ctx context.Context, tx *entities.Transaction, txErr *domainErrors.TransactionError) error {
			recovered = tx
			return nil
		},
		moveToDeadLetterFunc: func(ctx context.Context, tx *entities.Transaction, txErr *domainErrors.TransactionError) error {
			dlqCalled = true
			return nil
		},
	}

	uc, _ := newBeginUseCaseForTest(nil, provider, nil, retry, recovery)

	// Act
	result, err := uc.Execute(ctx, validBeginCommand())

	// Assert
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if recovered == nil {
		t.Fatal("Expected InitiateRecovery to be called")
	}
	if retryCalled || dlqCalled {
		t.Error("Expected recovery routing only")
	}
	if result.Transaction.Status != string(entities.TransactionStatusFailed) {
		t.Errorf("Expected status = FAILED, got %s", result.Transaction.Status)
	}
}

// TestBeginTransactionUseCase_HardDeclineMovesToDeadLetter verifies a hard
// decline skips retry and recovery.
func TestBeginTransactionUseCase_HardDeclineMovesToDeadLetter(t *testing.T) {
	// Arrange
	ctx := context.Background()

	provider := &mockProvider{
		processFunc: func(ctx context.Context, req ports.ProviderRequest) (*ports.ProviderResult, error) {
			return nil, domainErrors.NewProviderDeclinedError("DO_NOT_HONOR", "do not honor", false)
		},
	}

	var retryCalled, recoveryCalled bool
	retry := &mockRetryScheduler{
		scheduleRetryFunc: func(ctx context.Context, tx *entities.Transaction, txErr *domainErrors.TransactionError) (*entities.Transaction, error) {
			retryCalled = true
			return tx, nil
		},
	}

	var deadLettered *domainErrors.TransactionError
	recovery := &mockRecoveryRouter{
		initiateRecoveryFunc: func(ctx context.Context, tx *entities.Transaction, txErr *domainErrors.TransactionError) error {
			recoveryCalled = true
			return nil
		},
		moveToDeadLetterFunc: func(ctx context.Context, tx *entities.Transaction, txErr *domainErrors.TransactionError) error {
			deadLettered = txErr
			return nil
		},
	}

	uc, _ := newBeginUseCaseForTest(nil, provider, nil, retry, recovery)

	// Act
	_, err := uc.Execute(ctx, validBeginCommand())

	// Assert
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if deadLettered == nil {
		t.Fatal("Expected MoveToDeadLetter to be called")
	}
	if deadLettered.Code != "DO_NOT_HONOR" {
		t.Errorf("Expected DO_NOT_HONOR, got %s", deadLettered.Code)
	}
	if retryCalled || recoveryCalled {
		t.Error("Expected dead-letter routing only")
	}
}

// TestBeginTransactionUseCase_DuplicateInsertReplaysWinner covers two Begins
// racing past the idempotency lookup: the loser of the insert race replays
// the winner's transaction.
func TestBeginTransactionUseCase_DuplicateInsertReplaysWinner(t *testing.T) {
	// Arrange
	ctx := context.Background()
	cmd := validBeginCommand()

	winner, err := entities.NewTransaction(
		entities.TransactionTypePayment,
		mustMoney(t, cmd.Amount, cmd.Currency),
		cmd.CustomerID,
		cmd.PaymentMethodID,
		cmd.IdempotencyKey,
		nil,
	)
	if err != nil {
		t.Fatalf("Failed to build winner transaction: %v", err)
	}

	var lookups int
	repo := &mockTransactionRepo{
		findByIdempotencyKeyFunc: func(ctx context.Context, key string) (*entities.Transaction, error) {
			lookups++
			if lookups == 1 {
				// First lookup: the winner has not committed yet.
				return nil, domainErrors.ErrTransactionNotFound
			}
			return winner, nil
		},
		saveFunc: func(ctx context.Context, tx *entities.Transaction) error {
			return domainErrors.ErrDuplicateTransaction
		},
	}

	var providerCalled bool
	provider := &mockProvider{
		processFunc: func(ctx context.Context, req ports.ProviderRequest) (*ports.ProviderResult, error) {
			providerCalled = true
			return &ports.ProviderResult{}, nil
		},
	}

	uc, _ := newBeginUseCaseForTest(repo, provider, nil, nil, nil)

	// Act
	result, err := uc.Execute(ctx, cmd)

	// Assert
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !result.Replayed {
		t.Error("Expected Replayed = true after losing the insert race")
	}
	if result.Transaction.ID != winner.ID().String() {
		t.Errorf("Expected the winner's transaction, got %s", result.Transaction.ID)
	}
	if providerCalled {
		t.Error("Expected no provider call for the losing begin")
	}
}

// TestBeginTransactionUseCase_InvalidCurrency rejects unknown currency codes
// before touching the repository.
func TestBeginTransactionUseCase_InvalidCurrency(t *testing.T) {
	// Arrange
	ctx := context.Background()

	var lookups int
	repo := &mockTransactionRepo{
		findByIdempotencyKeyFunc: func(ctx context.Context, key string) (*entities.Transaction, error) {
			lookups++
			return nil, domainErrors.ErrTransactionNotFound
		},
	}
	uc, _ := newBeginUseCaseForTest(repo, nil, nil, nil, nil)

	cmd := validBeginCommand()
	cmd.Currency = "DOGE"

	// Act
	_, err := uc.Execute(ctx, cmd)

	// Assert
	if err == nil {
		t.Fatal("Expected validation error, got nil")
	}
	var valErr domainErrors.ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("Expected ValidationError, got %T: %v", err, err)
	}
	if valErr.Field != "currency" {
		t.Errorf("Expected field = currency, got %s", valErr.Field)
	}
	if lookups != 0 {
		t.Error("Expected no repository access on validation failure")
	}
}

// TestBeginTransactionUseCase_NegativeAmount rejects non-positive amounts.
func TestBeginTransactionUseCase_NegativeAmount(t *testing.T) {
	// Arrange
	ctx := context.Background()
	uc, _ := newBeginUseCaseForTest(nil, nil, nil, nil, nil)

	cmd := validBeginCommand()
	cmd.Amount = "-5.00"

	// Act
	_, err := uc.Execute(ctx, cmd)

	// Assert
	if err == nil {
		t.Fatal("Expected validation error, got nil")
	}
	var valErr domainErrors.ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("Expected ValidationError, got %T: %v", err, err)
	}
	if valErr.Field != "amount" {
		t.Errorf("Expected field = amount, got %s", valErr.Field)
	}
}

// TestBeginTransactionUseCase_ShortIdempotencyKey rejects keys below the
// minimum length.
func TestBeginTransactionUseCase_ShortIdempotencyKey(t *testing.T) {
	// Arrange
	ctx := context.Background()
	uc, store := newBeginUseCaseForTest(nil, nil, nil, nil, nil)

	cmd := validBeginCommand()
	cmd.IdempotencyKey = "short"

	// Act
	_, err := uc.Execute(ctx, cmd)

	// Assert
	if err == nil {
		t.Fatal("Expected validation error, got nil")
	}
	if n := len(store.EventTypes()); n != 0 {
		t.Errorf("Expected no events, got %v", store.EventTypes())
	}
}

// TestBeginTransactionUseCase_LockBusy covers a contended record lock: the
// attempt errors out and the transaction stays in PENDING for the operator.
func TestBeginTransactionUseCase_LockBusy(t *testing.T) {
	// Arrange
	ctx := context.Background()

	var lastStatus entities.TransactionStatus
	repo := &mockTransactionRepo{
		saveFunc: func(ctx context.Context, tx *entities.Transaction) error {
			lastStatus = tx.Status()
			return nil
		},
	}
	locker := &mockLocker{
		acquireFunc: func(ctx context.Context, key string, ttl time.Duration) (string, error) {
			return "", domainErrors.ErrLockNotAcquired
		},
	}

	var providerCalled bool
	provider := &mockProvider{
		processFunc: func(ctx context.Context, req ports.ProviderRequest) (*ports.ProviderResult, error) {
			providerCalled = true
			return &ports.ProviderResult{}, nil
		},
	}

	uc, _ := newBeginUseCaseForTest(repo, provider, locker, nil, nil)

	// Act
	result, err := uc.Execute(ctx, validBeginCommand())

	// Assert
	if err == nil {
		t.Fatal("Expected lock error, got nil")
	}
	if result != nil {
		t.Errorf("Expected nil result, got %+v", result)
	}
	if !errors.Is(err, domainErrors.ErrLockNotAcquired) {
		t.Errorf("Expected ErrLockNotAcquired, got: %v", err)
	}
	if providerCalled {
		t.Error("Expected no provider call without the lock")
	}
	if lastStatus != entities.TransactionStatusPending {
		t.Errorf("Expected transaction left in PENDING, got %s", lastStatus)
	}
}
