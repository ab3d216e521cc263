package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"loaner-backend/internal/domain"
	"loaner-backend/internal/logger"
	"loaner-backend/internal/repository"
)

type ledgerService struct {
	tx repository.TxManager
}

func NewLedgerService(tx repository.TxManager) LedgerService {
	return &ledgerService{tx: tx}
}

func newTransactionID() string {
	return "TXN-" + uuid.NewString()
}

func (s *ledgerService) CreateFee(ctx context.Context, in domain.CreateFeeInput) (*domain.Fee, error) {
	var fee *domain.Fee
	err := s.tx.WithTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		var err error
		fee, err = createFee(ctx, r, in, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return fee, nil
}

func (s *ledgerService) AddPayment(ctx context.Context, in domain.PaymentInput) (*domain.Payment, error) {
	var p *domain.Payment
	err := s.tx.WithTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		var err error
		p, err = addPayment(ctx, r, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *ledgerService) ReplaceInsuranceFee(ctx context.Context, in domain.ReplaceInsuranceFeeInput) (*domain.Fee, error) {
	var fee *domain.Fee
	err := s.tx.WithTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		var err error
		fee, err = replaceInsuranceFee(ctx, r, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return fee, nil
}

func (s *ledgerService) ArchiveInsurancePayments(ctx context.Context, personID, originatingAssetTag, reason string) (int, error) {
	var n int
	err := s.tx.WithTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		var err error
		n, err = archiveInsurancePayments(ctx, r, personID, originatingAssetTag, reason, time.Now())
		return err
	})
	return n, err
}

func (s *ledgerService) ListAvailableCredits(ctx context.Context, personID string) ([]domain.Credit, error) {
	var credits []domain.Credit
	err := s.tx.WithTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		payments, err := r.Payments.ListCredits(ctx, personID)
		if err != nil {
			return err
		}
		credits = make([]domain.Credit, 0, len(payments))
		for _, p := range payments {
			credits = append(credits, domain.CreditFromPayment(p))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return credits, nil
}

func (s *ledgerService) ApplyCredit(ctx context.Context, feeID int32, creditTransactionID string, processedBy int32) (*domain.Payment, error) {
	var p *domain.Payment
	err := s.tx.WithTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		var err error
		p, err = applyCredit(ctx, r, feeID, creditTransactionID, processedBy, time.Now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *ledgerService) DeletePayment(ctx context.Context, paymentID int32) (*domain.Fee, error) {
	var fee *domain.Fee
	err := s.tx.WithTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		p, err := r.Payments.GetForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if err := r.Payments.Delete(ctx, paymentID); err != nil {
			return err
		}
		logger.Warn("Payment deleted", "payment_id", p.ID, "transaction_id", p.TransactionID, "amount_cents", p.AmountCents)
		if p.FeeID == nil {
			return nil
		}
		fee, err = recomputeBalance(ctx, r, *p.FeeID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return fee, nil
}

func (s *ledgerService) ArchivePaymentAsCredit(ctx context.Context, paymentID int32, reason string) (*domain.Credit, error) {
	var credit *domain.Credit
	err := s.tx.WithTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		var err error
		credit, err = archivePayment(ctx, r, paymentID, reason, time.Now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return credit, nil
}

func (s *ledgerService) GetFee(ctx context.Context, id int32) (*domain.Fee, error) {
	var fee *domain.Fee
	err := s.tx.WithTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		var err error
		fee, err = r.Fees.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return fee, nil
}

func (s *ledgerService) ListFees(ctx context.Context, personID string) ([]domain.Fee, error) {
	var fees []domain.Fee
	err := s.tx.WithTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		var err error
		fees, err = r.Fees.ListByPerson(ctx, personID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return fees, nil
}

func (s *ledgerService) Summary(ctx context.Context, personID string) (*domain.FeeSummary, error) {
	sum := &domain.FeeSummary{PersonID: personID}
	err := s.tx.WithTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		fees, err := r.Fees.ListByPerson(ctx, personID)
		if err != nil {
			return err
		}
		for _, f := range fees {
			if f.SupersededBy == nil && f.BalanceCents > 0 {
				sum.OwedCents += f.BalanceCents
				sum.OpenFees++
			}
		}
		credits, err := r.Payments.ListCredits(ctx, personID)
		if err != nil {
			return err
		}
		for _, c := range credits {
			sum.CreditCents += c.AmountCents
		}
		sum.AvailableCredits = len(credits)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sum, nil
}

// ReconcileBalances rewrites every stored balance that drifted from
// amount minus active payments and returns the number corrected. Fees whose
// payments exceed their amount cannot be repaired automatically and are
// only reported.
func (s *ledgerService) ReconcileBalances(ctx context.Context) (int, error) {
	logger.EnterMethod("ledgerService.ReconcileBalances")
	corrected := 0
	err := s.tx.WithTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		fees, err := r.Fees.ListAll(ctx)
		if err != nil {
			return err
		}
		for _, f := range fees {
			want := f.AmountCents - domain.PaidCents(f.Payments)
			if want == f.BalanceCents {
				continue
			}
			if want < 0 {
				logger.Error("Fee overpaid", "fee_id", f.ID, "person_id", f.PersonID, "amount_cents", f.AmountCents, "paid_cents", domain.PaidCents(f.Payments))
				continue
			}
			logger.Warn("Fee balance drifted", "fee_id", f.ID, "stored_cents", f.BalanceCents, "expected_cents", want)
			if err := r.Fees.SetBalance(ctx, f.ID, want); err != nil {
				return err
			}
			corrected++
		}
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError("ledgerService.ReconcileBalances", err)
		return 0, err
	}
	logger.ExitMethod("ledgerService.ReconcileBalances", "corrected", corrected)
	return corrected, nil
}

// The helpers below run inside a caller's transaction so orchestrator steps
// can combine several ledger operations into one commit.

func recomputeBalance(ctx context.Context, r repository.Repositories, feeID int32) (*domain.Fee, error) {
	fee, err := r.Fees.GetByID(ctx, feeID)
	if err != nil {
		return nil, err
	}
	paid := domain.PaidCents(fee.Payments)
	if paid > fee.AmountCents {
		return nil, fmt.Errorf("%w: fee %d amount %d, paid %d", domain.ErrBalanceInvariant, fee.ID, fee.AmountCents, paid)
	}
	balance := fee.AmountCents - paid
	if balance != fee.BalanceCents {
		if err := r.Fees.SetBalance(ctx, fee.ID, balance); err != nil {
			return nil, err
		}
		fee.BalanceCents = balance
	}
	return fee, nil
}

func createFee(ctx context.Context, r repository.Repositories, in domain.CreateFeeInput, key *domain.IdempotencyKey) (*domain.Fee, error) {
	if in.AmountCents <= 0 {
		return nil, fmt.Errorf("%w: fee amount %d", domain.ErrInvalidAmount, in.AmountCents)
	}
	if in.Description == "" {
		return nil, fmt.Errorf("%w: fee description is required", domain.ErrInvalidInput)
	}
	var keyStr *string
	if key != nil {
		if err := key.Validate(); err != nil {
			return nil, err
		}
		existing, err := r.Fees.GetByIdempotencyKey(ctx, key.String())
		if err == nil {
			return existing, nil
		}
		if !domain.IsNotFound(err) {
			return nil, err
		}
		keyStr = key.Ptr()
	}
	if _, err := r.People.GetByID(ctx, in.PersonID); err != nil {
		return nil, err
	}

	fee := &domain.Fee{
		PersonID:       in.PersonID,
		AmountCents:    in.AmountCents,
		BalanceCents:   in.AmountCents,
		Description:    in.Description,
		MaintenanceID:  in.MaintenanceID,
		CheckoutID:     in.CheckoutID,
		IdempotencyKey: keyStr,
		CreatedBy:      in.CreatedBy,
	}
	if err := r.Fees.Create(ctx, fee); err != nil {
		return nil, err
	}
	return fee, nil
}

func addPayment(ctx context.Context, r repository.Repositories, in domain.PaymentInput) (*domain.Payment, error) {
	if in.AmountCents <= 0 {
		return nil, fmt.Errorf("%w: payment amount %d", domain.ErrInvalidAmount, in.AmountCents)
	}
	var keyStr *string
	if in.IdempotencyKey != nil {
		if err := in.IdempotencyKey.Validate(); err != nil {
			return nil, err
		}
		existing, err := r.Payments.GetByIdempotencyKey(ctx, in.IdempotencyKey.String())
		if err == nil {
			return existing, nil
		}
		if !domain.IsNotFound(err) {
			return nil, err
		}
		keyStr = in.IdempotencyKey.Ptr()
	}

	fee, err := r.Fees.GetForUpdate(ctx, in.FeeID)
	if err != nil {
		return nil, err
	}
	balance := fee.AmountCents - domain.PaidCents(fee.Payments)
	if in.AmountCents > balance {
		return nil, fmt.Errorf("%w: payment %d exceeds balance %d of fee %d", domain.ErrOverpaymentRejected, in.AmountCents, balance, fee.ID)
	}

	p := &domain.Payment{
		FeeID:          &fee.ID,
		PersonID:       fee.PersonID,
		AmountCents:    in.AmountCents,
		Method:         in.Method,
		Notes:          in.Notes,
		TransactionID:  newTransactionID(),
		FeeDescription: fee.Description,
		IdempotencyKey: keyStr,
		ProcessedBy:    in.ProcessedBy,
	}
	if err := r.Payments.Create(ctx, p); err != nil {
		return nil, err
	}
	if _, err := recomputeBalance(ctx, r, fee.ID); err != nil {
		return nil, err
	}
	return p, nil
}

// replaceInsuranceFee leaves the person with exactly one active fee of the
// given kind. Payments on a fee being replaced move to the new fee; the old
// fee is zeroed and points at its replacement.
func replaceInsuranceFee(ctx context.Context, r repository.Repositories, in domain.ReplaceInsuranceFeeInput) (*domain.Fee, error) {
	if in.AmountCents <= 0 {
		return nil, fmt.Errorf("%w: insurance fee amount %d", domain.ErrInvalidAmount, in.AmountCents)
	}
	if err := in.IdempotencyKey.Validate(); err != nil {
		return nil, err
	}
	existing, err := r.Fees.GetByIdempotencyKey(ctx, in.IdempotencyKey.String())
	if err == nil {
		return existing, nil
	}
	if !domain.IsNotFound(err) {
		return nil, err
	}
	if _, err := r.People.GetByID(ctx, in.PersonID); err != nil {
		return nil, err
	}

	description := in.Description
	if description == "" {
		description = domain.FeeDescriptionInsurance
	}
	active, err := r.Fees.ListActiveByDescription(ctx, in.PersonID, description)
	if err != nil {
		return nil, err
	}
	var carried int32
	for _, f := range active {
		carried += domain.PaidCents(f.Payments)
	}
	if carried > in.AmountCents {
		return nil, fmt.Errorf("%w: %d already paid exceeds new fee %d", domain.ErrOverpaymentRejected, carried, in.AmountCents)
	}
	for _, f := range active {
		if err := r.Fees.UpdateAmounts(ctx, f.ID, 0, 0); err != nil {
			return nil, err
		}
	}

	fee := &domain.Fee{
		PersonID:       in.PersonID,
		AmountCents:    in.AmountCents,
		BalanceCents:   in.AmountCents,
		Description:    description,
		CheckoutID:     in.LinkedCheckoutID,
		IdempotencyKey: in.IdempotencyKey.Ptr(),
		CreatedBy:      in.ProcessedBy,
	}
	if err := r.Fees.Create(ctx, fee); err != nil {
		return nil, err
	}
	for _, f := range active {
		if err := r.Payments.Relink(ctx, f.ID, fee.ID); err != nil {
			return nil, err
		}
		if err := r.Fees.MarkSuperseded(ctx, f.ID, fee.ID); err != nil {
			return nil, err
		}
		logger.Info("Insurance fee superseded", "person_id", in.PersonID, "old_fee_id", f.ID, "new_fee_id", fee.ID)
	}
	return recomputeBalance(ctx, r, fee.ID)
}

func archiveInsurancePayments(ctx context.Context, r repository.Repositories, personID, assetTag, reason string, at time.Time) (int, error) {
	fees, err := r.Fees.ListActiveByDescription(ctx, personID, domain.FeeDescriptionInsurance)
	if err != nil {
		return 0, err
	}
	archived := 0
	for _, f := range fees {
		for _, p := range f.Payments {
			if p.State() != domain.PaymentStateActive {
				continue
			}
			ok, err := r.Payments.Archive(ctx, p.ID, assetTag, reason, at)
			if err != nil {
				return 0, err
			}
			if ok {
				archived++
			}
		}
		if err := r.Fees.UpdateAmounts(ctx, f.ID, 0, 0); err != nil {
			return 0, err
		}
	}
	return archived, nil
}

func applyCredit(ctx context.Context, r repository.Repositories, feeID int32, transactionID string, processedBy int32, at time.Time) (*domain.Payment, error) {
	fee, err := r.Fees.GetForUpdate(ctx, feeID)
	if err != nil {
		return nil, err
	}
	credit, err := r.Payments.GetCreditForUpdate(ctx, transactionID)
	if domain.IsNotFound(err) {
		return nil, classifyMissingCredit(ctx, r, transactionID)
	}
	if err != nil {
		return nil, err
	}
	if credit.PersonID != fee.PersonID {
		return nil, fmt.Errorf("%w: credit %s belongs to another person", domain.ErrCreditKindMismatch, transactionID)
	}
	if credit.FeeDescription != fee.Description {
		return nil, fmt.Errorf("%w: credit %s is for %q, fee %d is %q", domain.ErrCreditKindMismatch, transactionID, credit.FeeDescription, fee.ID, fee.Description)
	}
	balance := fee.AmountCents - domain.PaidCents(fee.Payments)
	if credit.AmountCents > balance {
		return nil, fmt.Errorf("%w: credit %d exceeds balance %d of fee %d", domain.ErrOverpaymentRejected, credit.AmountCents, balance, fee.ID)
	}

	ok, err := r.Payments.MarkApplied(ctx, credit.ID, fee.ID, at)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrCreditAlreadyApplied, transactionID)
	}

	p := &domain.Payment{
		FeeID:            &fee.ID,
		PersonID:         fee.PersonID,
		AmountCents:      credit.AmountCents,
		Method:           credit.Method,
		Notes:            credit.Notes,
		TransactionID:    credit.TransactionID,
		OriginalFeeID:    credit.OriginalFeeID,
		OriginalAssetTag: credit.OriginalAssetTag,
		FeeDescription:   fee.Description,
		ProcessedBy:      processedBy,
	}
	if err := r.Payments.Create(ctx, p); err != nil {
		return nil, err
	}
	if _, err := recomputeBalance(ctx, r, fee.ID); err != nil {
		return nil, err
	}
	return p, nil
}

// classifyMissingCredit tells a consumed credit apart from one that never
// existed.
func classifyMissingCredit(ctx context.Context, r repository.Repositories, transactionID string) error {
	rows, err := r.Payments.ListByTransactionID(ctx, transactionID)
	if err != nil {
		return err
	}
	for _, p := range rows {
		if p.State() == domain.PaymentStateConsumed {
			return fmt.Errorf("%w: %s", domain.ErrCreditAlreadyApplied, transactionID)
		}
	}
	return fmt.Errorf("%w: %s", domain.ErrCreditNotFound, transactionID)
}

// archivePayment is the manual single-payment entry into the credit state.
func archivePayment(ctx context.Context, r repository.Repositories, paymentID int32, reason string, at time.Time) (*domain.Credit, error) {
	p, err := r.Payments.GetForUpdate(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	switch p.State() {
	case domain.PaymentStateCredit:
		return nil, fmt.Errorf("%w: payment %d", domain.ErrPaymentAlreadyArchived, p.ID)
	case domain.PaymentStateConsumed:
		return nil, fmt.Errorf("%w: payment %d", domain.ErrPaymentAlreadyApplied, p.ID)
	}

	feeID := *p.FeeID
	fee, err := r.Fees.GetForUpdate(ctx, feeID)
	if err != nil {
		return nil, err
	}
	assetTag := p.OriginalAssetTag
	if fee.CheckoutID != nil {
		if rec, err := r.Checkouts.GetByID(ctx, *fee.CheckoutID); err == nil {
			if d, err := r.Devices.GetByID(ctx, rec.DeviceID); err == nil {
				assetTag = d.AssetTag
			}
		}
	}
	if reason == "" {
		reason = "manual archival"
	}
	ok, err := r.Payments.Archive(ctx, p.ID, assetTag, reason, at)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: payment %d", domain.ErrPaymentAlreadyArchived, p.ID)
	}
	if _, err := recomputeBalance(ctx, r, feeID); err != nil {
		return nil, err
	}

	archived, err := r.Payments.GetByID(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	credit := domain.CreditFromPayment(*archived)
	return &credit, nil
}
