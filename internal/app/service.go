/**
 * @description
 * This file contains the transfer orchestrator. `TransferService` validates a
 * transfer against the account-service (and optionally the customer-service),
 * records it in the ledger and drives the record to exactly one terminal status.
 *
 * Key features:
 * - Validation steps run cheapest first and leave no durable trace on failure.
 * - Once the PENDING record exists, the transfer always ends COMPLETED or FAILED
 *   and exactly one terminal event is published.
 * - Compensation runs on a context detached from the caller's cancellation.
 *
 * @dependencies
 * - github.com/google/uuid: Transaction identifiers.
 * - golang.org/x/sync/errgroup: Concurrent account validation.
 * - go.opentelemetry.io/otel: Spans around the orchestration.
 * - internal/domain, internal/store: Domain models and the ledger.
 * - pkg/accountclient, pkg/customerclient: Gateway payloads and error kinds.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/transfer-service/internal/domain"
	"github.com/transfa/transfer-service/internal/store"
	"github.com/transfa/transfer-service/pkg/accountclient"
	"github.com/transfa/transfer-service/pkg/customerclient"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const defaultCompensationTimeout = 15 * time.Second

// AccountGateway is the account-service contract used by the orchestrator.
type AccountGateway interface {
	FetchAccount(ctx context.Context, accountID string, credential string) (*accountclient.Account, error)
	CheckBalance(ctx context.Context, accountID string, amount decimal.Decimal, credential string) (*accountclient.BalanceValidation, error)
}

// CustomerGateway is the customer-service contract used by the optional
// ownership stage.
type CustomerGateway interface {
	ValidateCustomer(ctx context.Context, customerID string, credential string) (bool, error)
}

// EventNotifier publishes terminal transaction events.
type EventNotifier interface {
	PublishTransactionCompleted(ctx context.Context, event domain.TransactionEvent) error
	PublishTransactionFailed(ctx context.Context, event domain.TransactionEvent) error
}

// TransferOptions toggles optional orchestration behaviour.
type TransferOptions struct {
	ParallelAccountValidation bool
	ValidateCustomerOwnership bool
	CompensationTimeout       time.Duration
}

// TransferService orchestrates money transfers between two accounts.
type TransferService struct {
	ledger    store.Ledger
	accounts  AccountGateway
	customers CustomerGateway
	notifier  EventNotifier
	observer  TransferObserver
	opts      TransferOptions
	tracer    trace.Tracer

	newID func() string
	now   func() time.Time
}

// NewTransferService creates a new orchestrator. customers may be nil when the
// ownership stage is disabled.
func NewTransferService(ledger store.Ledger, accounts AccountGateway, customers CustomerGateway, notifier EventNotifier, opts TransferOptions) *TransferService {
	if opts.CompensationTimeout <= 0 {
		opts.CompensationTimeout = defaultCompensationTimeout
	}
	if opts.ValidateCustomerOwnership && customers == nil {
		log.Println("level=warn component=transfer msg=\"customer ownership validation requested without a customer gateway; stage disabled\"")
		opts.ValidateCustomerOwnership = false
	}
	return &TransferService{
		ledger:    ledger,
		accounts:  accounts,
		customers: customers,
		notifier:  notifier,
		observer:  NoopTransferObserver{},
		opts:      opts,
		tracer:    otel.Tracer("transfer-service/app"),
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

// SetObserver installs the collaborator notified after each terminal outcome.
func (s *TransferService) SetObserver(observer TransferObserver) {
	if observer == nil {
		observer = NoopTransferObserver{}
	}
	s.observer = observer
}

// commitStage marks how far the durable part of a transfer got.
type commitStage int

const (
	stageCreate commitStage = iota
	stageComplete
)

func (s commitStage) String() string {
	if s == stageCreate {
		return "create"
	}
	return "complete"
}

type commitOutcome struct {
	stage commitStage
	err   error
}

// ProcessTransfer validates req and moves the amount from the source to the
// target account. Every rejection matches domain.ErrInvalidTransaction; those
// caused by an unreachable dependency also match domain.ErrDependencyUnavailable.
func (s *TransferService) ProcessTransfer(ctx context.Context, req domain.TransferRequest, credential string) (*domain.TransactionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "transfer.ProcessTransfer")
	defer span.End()

	source := strings.TrimSpace(req.SourceAccountID)
	target := strings.TrimSpace(req.TargetAccountID)
	log.Printf("level=info component=transfer msg=\"processing transfer\" source=%s target=%s amount=%s", source, target, req.Amount.String())

	// 1. Structural validation.
	if terr := req.Validate(); terr != nil {
		return nil, s.reject(ctx, span, "", terr)
	}

	// 2. Identifier, generated before any remote call so every event can carry it.
	transactionID := s.newID()
	span.SetAttributes(
		attribute.String("transaction.id", transactionID),
		attribute.String("transaction.source_account", source),
		attribute.String("transaction.target_account", target),
	)

	// 3-4. Both accounts must exist and be ACTIVE.
	sourceAccount, terr := s.validateAccounts(ctx, source, target, credential)
	if terr != nil {
		return nil, s.reject(ctx, span, transactionID, terr)
	}

	if s.opts.ValidateCustomerOwnership {
		if terr := s.validateCustomerOwnership(ctx, sourceAccount, credential); terr != nil {
			return nil, s.reject(ctx, span, transactionID, terr)
		}
	}

	// 5. Balance check on the source account.
	if terr := s.validateSufficientBalance(ctx, source, req.Amount, credential); terr != nil {
		return nil, s.reject(ctx, span, transactionID, terr)
	}

	// 6-8. Durable part. The caller's cancellation no longer applies.
	record := domain.NewTransaction(transactionID, req, s.now())
	outcome := s.commit(ctx, record)
	if outcome.err != nil {
		err := s.compensate(ctx, record, outcome)
		span.RecordError(outcome.err)
		span.SetStatus(codes.Error, string(domain.ReasonTransferFailed))
		return nil, err
	}

	s.observer.TransferCompleted(ctx, *record)
	log.Printf("level=info component=transfer msg=\"transfer completed\" transaction_id=%s", transactionID)

	response := record.ToResponse()
	return &response, nil
}

func (s *TransferService) reject(ctx context.Context, span trace.Span, transactionID string, terr *domain.TransferError) error {
	log.Printf("level=info component=transfer msg=\"transfer rejected\" transaction_id=%s reason=%s dependency=%t err=%q",
		transactionID, terr.Reason, terr.DependencyUnavailable(), terr.Error())
	span.SetStatus(codes.Error, string(terr.Reason))
	s.observer.TransferRejected(ctx, terr.Reason)
	return terr
}

func (s *TransferService) validateAccounts(ctx context.Context, source, target, credential string) (*accountclient.Account, *domain.TransferError) {
	if !s.opts.ParallelAccountValidation {
		sourceAccount, terr := s.validateAccount(ctx, source, credential)
		if terr != nil {
			return nil, terr
		}
		if _, terr := s.validateAccount(ctx, target, credential); terr != nil {
			return nil, terr
		}
		return sourceAccount, nil
	}

	// Neither lookup cancels the other so the source failure, when there is
	// one, is always the one reported.
	var (
		g                    errgroup.Group
		sourceAccount        *accountclient.Account
		sourceErr, targetErr *domain.TransferError
	)
	g.Go(func() error {
		sourceAccount, sourceErr = s.validateAccount(ctx, source, credential)
		return nil
	})
	g.Go(func() error {
		_, targetErr = s.validateAccount(ctx, target, credential)
		return nil
	})
	_ = g.Wait()

	if sourceErr != nil {
		return nil, sourceErr
	}
	if targetErr != nil {
		return nil, targetErr
	}
	return sourceAccount, nil
}

func (s *TransferService) validateAccount(ctx context.Context, accountID, credential string) (*accountclient.Account, *domain.TransferError) {
	message := "Account validation failed for: " + accountID

	account, err := s.accounts.FetchAccount(ctx, accountID, credential)
	if err != nil {
		return nil, gatewayFailure(domain.ReasonAccountValidationFailed, message, err)
	}
	if account == nil || !account.IsActive() {
		return nil, domain.InvalidWithCause(domain.ReasonAccountValidationFailed, message,
			domain.Invalid(domain.ReasonAccountNotActive, "Account is not active: "+accountID))
	}
	return account, nil
}

func (s *TransferService) validateCustomerOwnership(ctx context.Context, account *accountclient.Account, credential string) *domain.TransferError {
	customerID := strings.TrimSpace(account.CustomerID.String())
	if customerID == "" {
		return domain.Invalid(domain.ReasonCustomerValidationFailed, "Source account has no owning customer")
	}

	valid, err := s.customers.ValidateCustomer(ctx, customerID, credential)
	if err != nil {
		return gatewayFailure(domain.ReasonCustomerValidationFailed, "Customer ownership validation failed", err)
	}
	if !valid {
		return domain.Invalid(domain.ReasonCustomerValidationFailed, "Source account doesn't belong to customer: "+customerID)
	}
	return nil
}

func (s *TransferService) validateSufficientBalance(ctx context.Context, accountID string, amount decimal.Decimal, credential string) *domain.TransferError {
	validation, err := s.accounts.CheckBalance(ctx, accountID, amount, credential)
	if err != nil {
		return gatewayFailure(domain.ReasonBalanceValidationFailed, "Balance validation failed for account: "+accountID, err)
	}
	if validation == nil || !validation.Sufficient() {
		return domain.Invalid(domain.ReasonInsufficientFunds, "Insufficient funds in account: "+accountID)
	}
	return nil
}

func gatewayFailure(reason domain.Reason, message string, err error) *domain.TransferError {
	if isDependencyFailure(err) {
		return domain.DependencyFailure(reason, message, err)
	}
	return domain.InvalidWithCause(reason, message, err)
}

func isDependencyFailure(err error) bool {
	return errors.Is(err, accountclient.ErrUnavailable) ||
		errors.Is(err, customerclient.ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

// commit creates the PENDING record and completes it. A panic inside the ledger
// is reported as a failed outcome of the stage it happened in. The whole durable
// section, create included, runs detached from the caller.
func (s *TransferService) commit(ctx context.Context, record *domain.Transaction) commitOutcome {
	durableCtx, cancel := s.detached(ctx)
	defer cancel()

	if outcome := s.persist(durableCtx, record); outcome.err != nil {
		return outcome
	}

	s.publishCompleted(durableCtx, record)
	return commitOutcome{stage: stageComplete}
}

func (s *TransferService) persist(ctx context.Context, record *domain.Transaction) (outcome commitOutcome) {
	stage := stageCreate
	defer func() {
		if r := recover(); r != nil {
			outcome = commitOutcome{stage: stage, err: fmt.Errorf("ledger panic: %v", r)}
		}
	}()

	if err := s.ledger.CreateTransaction(ctx, record); err != nil {
		return commitOutcome{stage: stageCreate, err: err}
	}

	stage = stageComplete
	if err := s.ledger.UpdateTransactionStatus(ctx, record.TransactionID, domain.StatusCompleted); err != nil {
		return commitOutcome{stage: stageComplete, err: err}
	}
	if err := record.Transition(domain.StatusCompleted); err != nil {
		return commitOutcome{stage: stageComplete, err: err}
	}
	return commitOutcome{stage: stageComplete}
}

// publishCompleted runs after COMPLETED is durable; nothing here may turn the
// transfer into a failure.
func (s *TransferService) publishCompleted(ctx context.Context, record *domain.Transaction) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("level=error component=transfer msg=\"completed event publish panicked\" transaction_id=%s panic=%v", record.TransactionID, r)
		}
	}()

	if err := s.notifier.PublishTransactionCompleted(ctx, record.ToEvent("")); err != nil {
		log.Printf("level=warn component=transfer msg=\"completed event publish failed\" transaction_id=%s err=%v", record.TransactionID, err)
	}
}

// compensate marks the record FAILED, publishes the failed event and returns the
// transfer-failed rejection. Neither the status write nor the publish can
// replace the original cause.
func (s *TransferService) compensate(ctx context.Context, record *domain.Transaction, outcome commitOutcome) error {
	cause := outcome.err
	log.Printf("level=error component=transfer msg=\"transfer failed; compensating\" transaction_id=%s stage=%s err=%v", record.TransactionID, outcome.stage, cause)

	compensationCtx, cancel := s.detached(ctx)
	defer cancel()

	record.Status = domain.StatusFailed

	// A conflicting id belongs to another record. Any other create error may
	// still have written our row, so the FAILED write is attempted.
	if !(outcome.stage == stageCreate && errors.Is(cause, store.ErrTransactionConflict)) {
		s.markFailed(compensationCtx, record.TransactionID)
	}

	s.publishFailed(compensationCtx, record, cause)

	s.observer.TransferFailed(ctx, *record, domain.ReasonTransferFailed)
	return domain.InvalidWithCause(domain.ReasonTransferFailed, "Transaction failed: "+cause.Error(), cause)
}

func (s *TransferService) markFailed(ctx context.Context, transactionID string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("level=error component=transfer msg=\"failed status write panicked\" transaction_id=%s panic=%v", transactionID, r)
		}
	}()

	err := s.ledger.UpdateTransactionStatus(ctx, transactionID, domain.StatusFailed)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrTransactionNotFound):
		log.Printf("level=info component=transfer msg=\"no record written before failure\" transaction_id=%s", transactionID)
	default:
		log.Printf("level=error component=transfer msg=\"failed status write failed\" transaction_id=%s err=%v", transactionID, err)
	}
}

func (s *TransferService) publishFailed(ctx context.Context, record *domain.Transaction, cause error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("level=error component=transfer msg=\"failed event publish panicked\" transaction_id=%s panic=%v", record.TransactionID, r)
		}
	}()

	if err := s.notifier.PublishTransactionFailed(ctx, record.ToEvent(cause.Error())); err != nil {
		log.Printf("level=warn component=transfer msg=\"failed event publish failed\" transaction_id=%s err=%v", record.TransactionID, err)
	}
}

func (s *TransferService) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.opts.CompensationTimeout)
}
