package calculator

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/spf13/cast"

	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/pkg/types"
)

// Kinds of the built-in calculators.
const (
	KindCompoundInterest = "compound-interest"
	KindSimpleInterest   = "simple-interest"
	KindSavingsGoal      = "savings-goal"
)

// Input limits.
const (
	MaxPrincipal      = 10_000_000.0
	MaxAnnualRate     = 20.0
	MinYears          = 1
	MaxYears          = 50
	MaxMonthlyPayment = 50_000.0
)

var periodsPerYear = map[string]int{
	"monthly":   12,
	"quarterly": 4,
	"yearly":    1,
}

type interestInput struct {
	principal      float64
	monthlyPayment float64
	annualRate     float64 // percent
	years          int
	frequency      string
}

// ============================================================================
// Input coercion
// ============================================================================

func number(input types.Payload, field string, required bool) (float64, error) {
	raw, ok := input[field]
	if !ok || raw == nil {
		if required {
			return 0, fmt.Errorf("%w: %s is required", types.ErrValidation, field)
		}
		return 0, nil
	}
	if _, isBool := raw.(bool); isBool {
		return 0, fmt.Errorf("%w: %s must be a number", types.ErrValidation, field)
	}
	v, err := cast.ToFloat64E(raw)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s must be a number", types.ErrValidation, field)
	}
	return v, nil
}

func wholeYears(input types.Payload) (int, error) {
	v, err := number(input, "years", true)
	if err != nil {
		return 0, err
	}
	if v != math.Trunc(v) {
		return 0, fmt.Errorf("%w: years must be a whole number", types.ErrValidation)
	}
	years := int(v)
	if years < MinYears || years > MaxYears {
		return 0, fmt.Errorf("%w: years must be between %d and %d", types.ErrValidation, MinYears, MaxYears)
	}
	return years, nil
}

// rate reads annual_rate, falling back to its short alias "rate".
func rate(input types.Payload) (float64, error) {
	field := "annual_rate"
	if _, ok := input[field]; !ok {
		if _, alias := input["rate"]; alias {
			field = "rate"
		}
	}
	r, err := number(input, field, true)
	if err != nil {
		return 0, err
	}
	if r <= 0 || r > MaxAnnualRate {
		return 0, fmt.Errorf("%w: annual_rate must be in (0, %g]", types.ErrValidation, MaxAnnualRate)
	}
	return r, nil
}

func parseInterestInput(input types.Payload) (interestInput, error) {
	var in interestInput
	var errs []error

	p, err := number(input, "principal", true)
	if err == nil && (p <= 0 || p > MaxPrincipal) {
		err = fmt.Errorf("%w: principal must be in (0, %.0f]", types.ErrValidation, MaxPrincipal)
	}
	errs = append(errs, err)
	in.principal = p

	m, err := number(input, "monthly_payment", false)
	if err == nil && (m < 0 || m > MaxMonthlyPayment) {
		err = fmt.Errorf("%w: monthly_payment must be in [0, %.0f]", types.ErrValidation, MaxMonthlyPayment)
	}
	errs = append(errs, err)
	in.monthlyPayment = m

	in.annualRate, err = rate(input)
	errs = append(errs, err)

	in.years, err = wholeYears(input)
	errs = append(errs, err)

	in.frequency = "monthly"
	if raw, ok := input["compound_frequency"]; ok && raw != nil {
		f, castErr := cast.ToStringE(raw)
		if _, known := periodsPerYear[f]; castErr != nil || !known {
			errs = append(errs, fmt.Errorf("%w: compound_frequency must be monthly, quarterly or yearly", types.ErrValidation))
		} else {
			in.frequency = f
		}
	}

	return in, errors.Join(errs...)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ============================================================================
// Compound interest
// ============================================================================

// CompoundInterest returns the compound interest calculator. Monthly
// compounding adds the payment before each period's interest; quarterly and
// yearly compounding add twelve payments at the end of each year.
func CompoundInterest() Calculator {
	return Calculator{
		Kind:       KindCompoundInterest,
		Complexity: Complex,
		Validate: func(input types.Payload) error {
			_, err := parseInterestInput(input)
			return err
		},
		Compute: computeCompound,
	}
}

func computeCompound(ctx context.Context, input types.Payload) (types.Payload, error) {
	in, err := parseInterestInput(input)
	if err != nil {
		return nil, err
	}

	periods := periodsPerYear[in.frequency]
	ratePerPeriod := in.annualRate / 100 / float64(periods)

	current := in.principal
	contributions := in.principal
	breakdown := make([]interface{}, 0, in.years)

	for year := 1; year <= in.years; year++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := current
		var yearContrib, yearInterest float64

		for p := 0; p < periods; p++ {
			if in.frequency == "monthly" && in.monthlyPayment > 0 {
				current += in.monthlyPayment
				yearContrib += in.monthlyPayment
				contributions += in.monthlyPayment
			}
			interest := current * ratePerPeriod
			current += interest
			yearInterest += interest
		}
		if in.frequency != "monthly" && in.monthlyPayment > 0 {
			annual := in.monthlyPayment * 12
			current += annual
			yearContrib += annual
			contributions += annual
		}

		var growth float64
		if start > 0 {
			growth = (current - start) / start * 100
		}
		breakdown = append(breakdown, map[string]interface{}{
			"year":          year,
			"start_amount":  round2(start),
			"contributions": round2(yearContrib),
			"interest":      round2(yearInterest),
			"end_amount":    round2(current),
			"growth_rate":   round2(growth),
		})
	}

	if math.IsInf(current, 0) || math.IsNaN(current) {
		return nil, fmt.Errorf("%w: result overflow", types.ErrCalculation)
	}

	var annualReturn float64
	if contributions > 0 {
		annualReturn = (math.Pow(current/contributions, 1/float64(in.years)) - 1) * 100
	}

	return types.Payload{
		"final_amount":        round2(current),
		"total_contributions": round2(contributions),
		"total_interest":      round2(current - contributions),
		"annual_return":       round2(annualReturn),
		"compound_frequency":  in.frequency,
		"yearly_breakdown":    breakdown,
	}, nil
}

// ============================================================================
// Simple interest
// ============================================================================

// SimpleInterest returns principal * rate * years without compounding.
func SimpleInterest() Calculator {
	validate := func(input types.Payload) error {
		p, err := number(input, "principal", true)
		if err == nil && (p <= 0 || p > MaxPrincipal) {
			err = fmt.Errorf("%w: principal must be in (0, %.0f]", types.ErrValidation, MaxPrincipal)
		}
		_, rErr := rate(input)
		_, yErr := wholeYears(input)
		return errors.Join(err, rErr, yErr)
	}
	return Calculator{
		Kind:       KindSimpleInterest,
		Complexity: Simple,
		Validate:   validate,
		Compute: func(_ context.Context, input types.Payload) (types.Payload, error) {
			p, _ := number(input, "principal", true)
			r, _ := rate(input)
			years, _ := wholeYears(input)

			interest := p * r / 100 * float64(years)
			return types.Payload{
				"final_amount":   round2(p + interest),
				"total_interest": round2(interest),
			}, nil
		},
	}
}

// ============================================================================
// Savings goal
// ============================================================================

// SavingsGoal returns the monthly payment needed to reach target after years
// with monthly compounding and no starting capital.
func SavingsGoal() Calculator {
	validate := func(input types.Payload) error {
		target, err := number(input, "target", true)
		if err == nil && (target <= 0 || target > MaxPrincipal) {
			err = fmt.Errorf("%w: target must be in (0, %.0f]", types.ErrValidation, MaxPrincipal)
		}
		_, rErr := rate(input)
		_, yErr := wholeYears(input)
		return errors.Join(err, rErr, yErr)
	}
	return Calculator{
		Kind:       KindSavingsGoal,
		Complexity: Simple,
		Validate:   validate,
		Compute: func(_ context.Context, input types.Payload) (types.Payload, error) {
			target, _ := number(input, "target", true)
			r, _ := rate(input)
			years, _ := wholeYears(input)

			i := r / 100 / 12
			n := float64(years * 12)
			// annuity due: payment at the start of each month
			factor := (math.Pow(1+i, n) - 1) / i * (1 + i)
			if factor <= 0 || math.IsInf(factor, 0) {
				return nil, fmt.Errorf("%w: degenerate annuity factor", types.ErrCalculation)
			}
			payment := target / factor
			return types.Payload{
				"monthly_payment":     round2(payment),
				"total_contributions": round2(payment * n),
				"total_interest":      round2(target - payment*n),
			}, nil
		},
	}
}
