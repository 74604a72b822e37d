package withdrawal

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestFeeSchedule_UsesPercentageAboveMinimum(t *testing.T) {
	f := FeeSchedule{Rate: decimal.NewFromFloat(0.001), MinFee: decimal.NewFromInt(1)}
	fee := f.Fee(decimal.NewFromInt(10000))
	if !fee.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected fee 10, got %s", fee)
	}
}

func TestFeeSchedule_FloorsAtMinimum(t *testing.T) {
	f := FeeSchedule{Rate: decimal.NewFromFloat(0.001), MinFee: decimal.NewFromInt(1)}
	fee := f.Fee(decimal.NewFromInt(10))
	if !fee.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected fee floored to 1, got %s", fee)
	}
}
