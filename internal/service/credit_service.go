package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"
	"github.com/maheshrc27/crosspost-scheduler/internal/apperr"
	"github.com/maheshrc27/crosspost-scheduler/internal/metrics"
	"github.com/maheshrc27/crosspost-scheduler/internal/repository"
)

// GenerationOutcome is the result of a reconciled generation. Charged is what
// the user finally paid, Available the balance after reconciliation.
type GenerationOutcome struct {
	OperationID string
	Variants    []string
	Estimated   float64
	Charged     float64
	Available   float64
}

type CreditService interface {
	Reconcile(ctx context.Context, userID int64, req GenerationRequest) (*GenerationOutcome, error)
	Balance(ctx context.Context, userID int64) (float64, error)
}

type creditService struct {
	ledger    repository.CreditRepository
	generator Generator
	unitPrice float64
	metrics   *metrics.Registry
}

func NewCreditService(ledger repository.CreditRepository, generator Generator, unitPrice float64, m *metrics.Registry) CreditService {
	return &creditService{ledger: ledger, generator: generator, unitPrice: unitPrice, metrics: m}
}

// Reconcile holds the estimated cost, runs the generation and then settles
// the hold against what was actually produced.
func (s *creditService) Reconcile(ctx context.Context, userID int64, req GenerationRequest) (*GenerationOutcome, error) {
	if req.Variants <= 0 {
		return nil, apperr.Invalid("variants", "must be positive")
	}

	opID := uuid.NewString()
	estimate := roundCredits(s.unitPrice * float64(req.Variants))

	hold, err := s.ledger.Hold(ctx, userID, opID, estimate)
	if err != nil {
		return nil, fmt.Errorf("hold credits: %w", err)
	}
	if !hold.OK {
		s.count("insufficient")
		return nil, &apperr.CreditInsufficientError{CreditsRequired: estimate, CreditsAvailable: hold.Available}
	}

	result, err := s.generator.Generate(ctx, req)
	if err != nil {
		s.refund(ctx, userID, estimate, opID, "generation failed")
		s.count("generation_failed")
		return nil, fmt.Errorf("generate: %w", err)
	}

	actual := roundCredits(s.unitPrice * float64(len(result.Variants)))
	available := hold.Available

	switch delta := roundCredits(actual - estimate); {
	case delta > 0:
		top, err := s.ledger.Hold(ctx, userID, opID, delta)
		if err != nil {
			s.refund(ctx, userID, estimate, opID, "top-up failed")
			return nil, fmt.Errorf("hold top-up: %w", err)
		}
		if !top.OK {
			s.refund(ctx, userID, estimate, opID, "top-up declined")
			s.count("insufficient")
			return nil, &apperr.CreditInsufficientError{
				CreditsRequired:  actual,
				CreditsAvailable: roundCredits(top.Available + estimate),
			}
		}
		available = top.Available
	case delta < 0:
		if err := s.ledger.Refund(ctx, userID, -delta, opID, "unused variants"); err != nil {
			return nil, fmt.Errorf("refund difference: %w", err)
		}
		available = roundCredits(available - delta)
	}

	s.count("settled")
	if s.metrics != nil {
		s.metrics.CreditsCharged.Add(actual)
	}

	return &GenerationOutcome{
		OperationID: opID,
		Variants:    result.Variants,
		Estimated:   estimate,
		Charged:     actual,
		Available:   available,
	}, nil
}

func (s *creditService) Balance(ctx context.Context, userID int64) (float64, error) {
	return s.ledger.Balance(ctx, userID)
}

// refund is best effort on an already failing path.
func (s *creditService) refund(ctx context.Context, userID int64, amount float64, opID, reason string) {
	if err := s.ledger.Refund(ctx, userID, amount, opID, reason); err != nil {
		slog.Error("credit refund failed", "user_id", userID, "operation_id", opID, "amount", amount, "error", err)
	}
}

func (s *creditService) count(outcome string) {
	if s.metrics != nil {
		s.metrics.CreditReconciliations.WithLabelValues(outcome).Inc()
	}
}

func roundCredits(v float64) float64 {
	return math.Round(v*100) / 100
}
