package services

import (
	"context"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/saif727/reward-token-relay/ledger"
	"github.com/saif727/reward-token-relay/metrics"
	"github.com/saif727/reward-token-relay/models"
)

// DefaultReportInterval is how often the wallet is sampled.
const DefaultReportInterval = 5 * time.Minute

// BalanceReporter periodically logs the wallet state and publishes it as
// gauges. It shares the ledger with the request path but never blocks it.
type BalanceReporter struct {
	Ledger   ledger.Ledger
	Interval time.Duration
	Log      *logrus.Entry
}

// NewBalanceReporter creates a new BalanceReporter instance
func NewBalanceReporter(l ledger.Ledger, interval time.Duration, log *logrus.Entry) *BalanceReporter {
	if interval <= 0 {
		interval = DefaultReportInterval
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &BalanceReporter{Ledger: l, Interval: interval, Log: log}
}

// Run reports once immediately and then every Interval until ctx is done.
func (r *BalanceReporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	r.ReportOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ReportOnce(ctx)
		}
	}
}

// ReportOnce samples the wallet. Failures are logged and swallowed.
func (r *BalanceReporter) ReportOnce(ctx context.Context) {
	state, err := r.snapshot(ctx)
	if err != nil {
		r.Log.WithError(err).Warn("wallet balance check failed")
		return
	}

	native := toUnits(state.NativeBalance, state.NativeDecimals)
	token := toUnits(state.TokenBalance, state.Decimals)
	metrics.ObserveWallet(native.InexactFloat64(), token.InexactFloat64(), state.Decimals)

	r.Log.WithFields(logrus.Fields{
		"address":        r.Ledger.Address(),
		"native_balance": native.String(),
		"token_balance":  token.String(),
		"token_decimals": state.Decimals,
	}).Info("wallet balance")
}

func (r *BalanceReporter) snapshot(ctx context.Context) (*models.WalletState, error) {
	native, err := r.Ledger.NativeBalance(ctx)
	if err != nil {
		return nil, err
	}
	token, err := r.Ledger.TokenBalance(ctx)
	if err != nil {
		return nil, err
	}
	decimals, err := r.Ledger.Decimals(ctx)
	if err != nil {
		return nil, err
	}
	return &models.WalletState{
		NativeBalance:  native,
		TokenBalance:   token,
		Decimals:       decimals,
		NativeDecimals: r.Ledger.NativeDecimals(),
	}, nil
}

func toUnits(v *big.Int, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(v, -int32(decimals))
}
