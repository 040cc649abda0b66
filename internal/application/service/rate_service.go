package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/money"
)

// RateService stores exchange rates and serves them as a money.RateLookup.
// A missing direct pair falls back to the inverse of the reverse pair.
type RateService interface {
	money.RateLookup
	SetRate(ctx context.Context, from, to string, rate decimal.Decimal) (*entity.ExchangeRate, error)
}

type rateServiceImpl struct {
	rates  port.ExchangeRateRepository
	logger Logger
}

// NewRateService creates a new RateService
func NewRateService(rates port.ExchangeRateRepository, logger Logger) RateService {
	return &rateServiceImpl{rates: rates, logger: logger}
}

func (s *rateServiceImpl) SetRate(ctx context.Context, from, to string, rate decimal.Decimal) (*entity.ExchangeRate, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if !money.ValidCurrency(from) || !money.ValidCurrency(to) {
		return nil, fmt.Errorf("%w: %w: %s/%s", ErrValidation, money.ErrInvalidCurrency, from, to)
	}
	if from == to {
		return nil, fmt.Errorf("%w: rate needs two different currencies", ErrValidation)
	}
	if !rate.IsPositive() {
		return nil, fmt.Errorf("%w: rate must be positive", ErrValidation)
	}

	r := &entity.ExchangeRate{From: from, To: to, Rate: rate, UpdatedAt: time.Now().UTC()}
	if err := s.rates.Upsert(ctx, r); err != nil {
		s.logger.Error("Failed to store exchange rate", "error", err, "from", from, "to", to)
		return nil, err
	}
	s.logger.Info("Exchange rate stored", "from", from, "to", to, "rate", rate.String())
	return r, nil
}

func (s *rateServiceImpl) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	direct, err := s.rates.Get(ctx, from, to)
	if err != nil {
		return decimal.Zero, err
	}
	if direct != nil {
		return direct.Rate, nil
	}

	reverse, err := s.rates.Get(ctx, to, from)
	if err != nil {
		return decimal.Zero, err
	}
	if reverse != nil && reverse.Rate.IsPositive() {
		return decimal.NewFromInt(1).DivRound(reverse.Rate, 10), nil
	}
	return decimal.Zero, fmt.Errorf("%w: %s->%s", money.ErrRateUnavailable, from, to)
}
