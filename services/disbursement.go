package services

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/saif727/reward-token-relay/ledger"
	"github.com/saif727/reward-token-relay/metrics"
	"github.com/saif727/reward-token-relay/models"
)

// DefaultConfirmTimeout bounds the wait for block inclusion.
const DefaultConfirmTimeout = 90 * time.Second

var ten = big.NewInt(10)

// DisbursementService converts points into token transfers from the
// custodial wallet. Submissions go through a single worker so the
// balance check and the transfer never interleave across requests.
// Transfers that outlive the confirmation timeout stay reserved against
// the balance until their confirmation settles.
type DisbursementService struct {
	Ledger         ledger.Ledger
	ConfirmTimeout time.Duration
	Log            *logrus.Entry

	jobs chan *job

	mu       sync.Mutex
	reserved *big.Int
}

type job struct {
	ctx    context.Context
	req    models.DisbursementRequest
	result chan jobResult
}

type jobResult struct {
	res *models.TransactionResult
	err error
}

// NewDisbursementService creates a new DisbursementService instance.
// Run must be started before Disburse is called.
func NewDisbursementService(l ledger.Ledger, confirmTimeout time.Duration, log *logrus.Entry) *DisbursementService {
	if confirmTimeout <= 0 {
		confirmTimeout = DefaultConfirmTimeout
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &DisbursementService{
		Ledger:         l,
		ConfirmTimeout: confirmTimeout,
		Log:            log,
		jobs:           make(chan *job),
		reserved:       new(big.Int),
	}
}

// Reserved returns the total amount, in base units, of submitted transfers
// still awaiting confirmation after their request timed out.
func (s *DisbursementService) Reserved() *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.reserved)
}

func (s *DisbursementService) reserve(amount *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reserved.Add(s.reserved, amount)
}

func (s *DisbursementService) release(amount *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reserved.Sub(s.reserved, amount)
}

// settle keeps waiting for a timed-out transfer and releases its
// reservation once the ledger reports an outcome or ctx ends.
func (s *DisbursementService) settle(ctx context.Context, pending ledger.PendingTransfer, amount *big.Int, log *logrus.Entry) {
	defer s.release(amount)

	block, err := pending.Wait(ctx)
	switch {
	case err == nil:
		log.WithField("block", block).Info("late transfer confirmed")
	case ctx.Err() != nil:
		log.Warn("stopped waiting for late transfer")
	default:
		log.WithError(err).Error("late transfer failed")
	}
}

// Run executes queued disbursements one at a time until ctx is done.
func (s *DisbursementService) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.jobs:
			if err := j.ctx.Err(); err != nil {
				// The caller gave up while queued; nothing was sent.
				j.result <- jobResult{err: err}
				continue
			}
			res, err := s.execute(ctx, j.req)
			j.result <- jobResult{res: res, err: err}
		}
	}
}

// Disburse queues req and waits for the outcome. If ctx ends before the
// job starts no ledger call is made. Once started, the job runs to completion
// even if ctx ends, and the result is dropped.
func (s *DisbursementService) Disburse(ctx context.Context, req models.DisbursementRequest) (*models.TransactionResult, error) {
	j := &job{ctx: ctx, req: req, result: make(chan jobResult, 1)}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case s.jobs <- j:
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-j.result:
		return r.res, r.err
	}
}

// ScaleAmount returns points * 10^decimals.
func ScaleAmount(points *big.Int, decimals uint8) *big.Int {
	scale := new(big.Int).Exp(ten, big.NewInt(int64(decimals)), nil)
	return new(big.Int).Mul(points, scale)
}

func (s *DisbursementService) execute(ctx context.Context, req models.DisbursementRequest) (res *models.TransactionResult, err error) {
	start := time.Now()
	log := s.Log.WithFields(logrus.Fields{
		"recipient": req.Recipient,
		"points":    req.Points.String(),
	})
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = string(KindOf(err))
		}
		metrics.RecordDisbursement(outcome, time.Since(start))
	}()

	decimals, err := s.Ledger.Decimals(ctx)
	if err != nil {
		return nil, ledgerError("failed to fetch token decimals", "", err)
	}
	amount := ScaleAmount(req.Points, decimals)

	balance, err := s.Ledger.TokenBalance(ctx)
	if err != nil {
		return nil, ledgerError("failed to fetch token balance", "", err)
	}
	reserved := s.Reserved()
	available := new(big.Int).Sub(balance, reserved)
	if available.Cmp(amount) < 0 {
		log.WithFields(logrus.Fields{
			"balance":  balance.String(),
			"reserved": reserved.String(),
			"amount":   amount.String(),
		}).Warn("insufficient token balance")
		return nil, &Error{Kind: KindInsufficientBalance, Message: "insufficient token balance"}
	}

	pending, err := s.Ledger.Transfer(ctx, req.Recipient, amount)
	if err != nil {
		return nil, ledgerError("failed to submit transfer", "", err)
	}
	hash := pending.Hash()
	log = log.WithField("tx_hash", hash)
	log.WithField("amount", amount.String()).Info("transfer submitted")

	waitCtx, cancel := context.WithTimeout(ctx, s.ConfirmTimeout)
	defer cancel()
	block, err := pending.Wait(waitCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.WithField("timeout", s.ConfirmTimeout).Error("confirmation timed out")
			s.reserve(amount)
			go s.settle(ctx, pending, amount, log)
			return nil, &Error{
				Kind:    KindConfirmationTimeout,
				Message: "transaction not confirmed in time; it may still be mined",
				TxHash:  hash,
				Err:     err,
			}
		}
		log.WithError(err).Error("transfer failed")
		return nil, ledgerError("transfer failed", hash, err)
	}

	log.WithField("block", block).Info("transfer confirmed")
	return &models.TransactionResult{TransactionHash: hash, BlockNumber: block}, nil
}

func ledgerError(msg, hash string, err error) *Error {
	return &Error{
		Kind:    KindLedger,
		Message: msg,
		Reason:  ledger.ReasonCode(err),
		TxHash:  hash,
		Err:     err,
	}
}
