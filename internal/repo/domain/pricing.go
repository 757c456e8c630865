package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DayCountBasis 计息基准（年化天数分母）
type DayCountBasis int

const (
	Basis360 DayCountBasis = 360
	Basis365 DayCountBasis = 365
)

// Valid 基准只允许 360 或 365
func (b DayCountBasis) Valid() bool {
	return b == Basis360 || b == Basis365
}

func (b DayCountBasis) Decimal() decimal.Decimal {
	return decimal.NewFromInt(int64(b))
}

// Tenor 计算期限天数：起息日不计息、到期日计息，即自然日差。
// 到期日不晚于起息日视为校验错误，不再静默截断为 0。
func Tenor(issueDate, maturityDate time.Time) (int, error) {
	issue := TruncateToDay(issueDate)
	maturity := TruncateToDay(maturityDate)
	if !maturity.After(issue) {
		return 0, NewValidationError("maturity_date", "maturity date must be after issue date")
	}
	return int(maturity.Sub(issue).Hours() / 24), nil
}

// Interest 单利计息：principal * rate * tenor / basis
func Interest(principal, rate decimal.Decimal, tenorDays int, basis DayCountBasis) decimal.Decimal {
	if !basis.Valid() {
		return decimal.Zero
	}
	return principal.Mul(rate).
		Mul(decimal.NewFromInt(int64(tenorDays))).
		Div(basis.Decimal())
}

// MaturityValue 到期本息：principal + interest
func MaturityValue(principal, rate decimal.Decimal, tenorDays int, basis DayCountBasis) decimal.Decimal {
	return principal.Add(Interest(principal, rate, tenorDays, basis))
}

// DailyAccrual 单日计息切片（tenor=1）：principal * rate / basis
func DailyAccrual(principal, rate decimal.Decimal, basis DayCountBasis) decimal.Decimal {
	return Interest(principal, rate, 1, basis)
}

// ValidateTerms 校验交易财务条款，任何写入之前调用
func ValidateTerms(rate decimal.Decimal, issueDate, maturityDate time.Time, basis DayCountBasis) error {
	if rate.IsNegative() {
		return NewValidationError("rate", "rate must not be negative")
	}
	if !basis.Valid() {
		return NewValidationError("day_count_basis", "day count basis must be 360 or 365")
	}
	if _, err := Tenor(issueDate, maturityDate); err != nil {
		return err
	}
	return nil
}

// TruncateToDay 归一化为 UTC 零点。日期型业务字段（计息日、起息日、
// 估值日）落库前统一经此归一化，按日等值比较才成立。
func TruncateToDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
