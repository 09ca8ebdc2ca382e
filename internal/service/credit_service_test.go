package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/maheshrc27/crosspost-scheduler/internal/apperr"
	"github.com/maheshrc27/crosspost-scheduler/internal/metrics"
	"github.com/maheshrc27/crosspost-scheduler/internal/service"
	"github.com/maheshrc27/crosspost-scheduler/internal/testutil"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const unitPrice = 1.2

func TestReconcileTopUp(t *testing.T) {
	ledger := testutil.NewLedger(map[int64]float64{1: 10})
	m := metrics.NewRegistry(prometheus.NewRegistry())
	svc := service.NewCreditService(ledger, &testutil.Generator{Produced: 3}, unitPrice, m)

	out, err := svc.Reconcile(context.Background(), 1, service.GenerationRequest{Prompt: "launch", Variants: 1})
	require.NoError(t, err)

	assert.Equal(t, 1.2, out.Estimated)
	assert.Equal(t, 3.6, out.Charged)
	assert.Equal(t, []float64{1.2, 2.4}, ledger.Holds)
	assert.Empty(t, ledger.Refunds)
	assert.InDelta(t, 6.4, ledger.Balances[1], 1e-9)
	assert.InDelta(t, 6.4, out.Available, 1e-9)
	assert.Len(t, out.Variants, 3)
	assert.NotEmpty(t, out.OperationID)
	assert.InDelta(t, 3.6, promtest.ToFloat64(m.CreditsCharged), 1e-9)
}

func TestReconcileTopUpDeclinedRefundsEstimate(t *testing.T) {
	ledger := testutil.NewLedger(map[int64]float64{1: 2})
	svc := service.NewCreditService(ledger, &testutil.Generator{Produced: 3}, unitPrice, nil)

	_, err := svc.Reconcile(context.Background(), 1, service.GenerationRequest{Prompt: "launch", Variants: 1})

	var insufficient *apperr.CreditInsufficientError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, 3.6, insufficient.CreditsRequired)
	assert.Equal(t, 2.0, insufficient.CreditsAvailable)
	assert.Equal(t, []float64{1.2}, ledger.Refunds)
	assert.Equal(t, 2.0, ledger.Balances[1])
}

func TestReconcileRefundsUnusedVariants(t *testing.T) {
	ledger := testutil.NewLedger(map[int64]float64{1: 10})
	svc := service.NewCreditService(ledger, &testutil.Generator{Produced: 2}, unitPrice, nil)

	out, err := svc.Reconcile(context.Background(), 1, service.GenerationRequest{Prompt: "launch", Variants: 4})
	require.NoError(t, err)

	assert.Equal(t, 4.8, out.Estimated)
	assert.Equal(t, 2.4, out.Charged)
	assert.Equal(t, []float64{2.4}, ledger.Refunds)
	assert.InDelta(t, 7.6, ledger.Balances[1], 1e-9)
	assert.InDelta(t, 7.6, out.Available, 1e-9)
}

func TestReconcileExactEstimateTouchesNothingElse(t *testing.T) {
	ledger := testutil.NewLedger(map[int64]float64{1: 10})
	svc := service.NewCreditService(ledger, &testutil.Generator{Produced: 2}, unitPrice, nil)

	out, err := svc.Reconcile(context.Background(), 1, service.GenerationRequest{Prompt: "launch", Variants: 2})
	require.NoError(t, err)
	assert.Equal(t, []float64{2.4}, ledger.Holds)
	assert.Empty(t, ledger.Refunds)
	assert.Equal(t, 2.4, out.Charged)
}

func TestReconcileInsufficientForEstimate(t *testing.T) {
	ledger := testutil.NewLedger(map[int64]float64{1: 1})
	gen := &testutil.Generator{Produced: 1}
	svc := service.NewCreditService(ledger, gen, unitPrice, nil)

	_, err := svc.Reconcile(context.Background(), 1, service.GenerationRequest{Prompt: "launch", Variants: 1})

	var insufficient *apperr.CreditInsufficientError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, 1.2, insufficient.CreditsRequired)
	assert.Equal(t, 1.0, insufficient.CreditsAvailable)
	assert.Zero(t, gen.Calls)
}

func TestReconcileGenerationFailureRefunds(t *testing.T) {
	ledger := testutil.NewLedger(map[int64]float64{1: 5})
	svc := service.NewCreditService(ledger, &testutil.Generator{Err: errors.New("model overloaded")}, unitPrice, nil)

	_, err := svc.Reconcile(context.Background(), 1, service.GenerationRequest{Prompt: "launch", Variants: 2})
	require.Error(t, err)
	assert.Equal(t, []float64{2.4}, ledger.Refunds)
	assert.Equal(t, 5.0, ledger.Balances[1])
}

func TestReconcileRejectsNonPositiveVariants(t *testing.T) {
	svc := service.NewCreditService(testutil.NewLedger(nil), &testutil.Generator{}, unitPrice, nil)
	_, err := svc.Reconcile(context.Background(), 1, service.GenerationRequest{Prompt: "x"})
	assert.True(t, apperr.IsValidation(err))
}
