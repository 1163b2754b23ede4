package vault

import (
	"errors"
	"math/big"
	"testing"
)

var (
	testScale = pow10Big(12) // 6-decimal collateral
	testPrice = mustBigInt("1100000000000000000")
)

func TestCollateralToIssued(t *testing.T) {
	// 1100 units of 6-decimal collateral at 1.10 -> 1000 issued
	collateral := big.NewInt(1_100_000_000)
	issued, err := collateralToIssued(collateral, testScale, testPrice)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	want := mustBigInt("1000000000000000000000")
	if issued.Cmp(want) != 0 {
		t.Fatalf("got %s want %s", issued, want)
	}
}

func TestIssuedToCollateralInverse(t *testing.T) {
	issued := mustBigInt("1000000000000000000000")
	collateral, err := issuedToCollateral(issued, testScale, testPrice)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if collateral.Cmp(big.NewInt(1_100_000_000)) != 0 {
		t.Fatalf("got %s want 1100000000", collateral)
	}
}

func TestConversionZeroPrice(t *testing.T) {
	if _, err := collateralToIssued(big.NewInt(1), testScale, big.NewInt(0)); !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("expected division-by-zero rejection, got %v", err)
	}
	if _, err := issuedToCollateral(big.NewInt(1), testScale, nil); !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("expected division-by-zero rejection, got %v", err)
	}
}

func TestFeeAmount(t *testing.T) {
	cases := []struct {
		name   string
		amount string
		bps    uint64
		want   string
	}{
		{"ten bps", "1000000000000000000000", 10, "1000000000000000000"},
		{"zero bps", "1000000000000000000000", 0, "0"},
		{"rounds half up", "10001", 5000, "5001"},
		{"max fee", "10000", MaxFeeBps, "500"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := feeAmount(mustBigInt(tc.amount), tc.bps)
			if got.Cmp(mustBigInt(tc.want)) != 0 {
				t.Fatalf("got %s want %s", got, tc.want)
			}
		})
	}
}

func TestDivHalfUp(t *testing.T) {
	cases := []struct {
		name string
		a    int64
		b    int64
		want int64
	}{
		{"exact half rounds up", 5, 2, 3},
		{"below half stays down", 1, 3, 0},
		{"odd divisor above half", 2, 3, 1},
		{"odd divisor exact", 6, 3, 2},
		{"large odd divisor below half", 3, 7, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := divHalfUp(big.NewInt(tc.a), big.NewInt(tc.b))
			if err != nil {
				t.Fatalf("div: %v", err)
			}
			if got.Cmp(big.NewInt(tc.want)) != 0 {
				t.Fatalf("%d/%d should round to %d, got %s", tc.a, tc.b, tc.want, got)
			}
		})
	}
	if _, err := divHalfUp(big.NewInt(5), big.NewInt(0)); !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("expected division-by-zero rejection, got %v", err)
	}
}

func TestParamsCeilings(t *testing.T) {
	if _, err := NewParams(MaxFeeBps+100, 0, 0); !errors.Is(err, ErrFeeAboveCeiling) {
		t.Fatalf("expected fee ceiling rejection, got %v", err)
	}
	if _, err := NewParams(0, MaxFeeBps+1, 0); !errors.Is(err, ErrFeeAboveCeiling) {
		t.Fatalf("expected fee ceiling rejection, got %v", err)
	}
	if _, err := NewParams(0, 0, 9000); err == nil {
		t.Fatalf("expected sub-parity ratio rejection")
	}
	params, err := NewParams(MaxFeeBps, MaxFeeBps, 0)
	if err != nil {
		t.Fatalf("params at ceiling rejected: %v", err)
	}
	if params.MinCollateralRatioBps != 10_000 {
		t.Fatalf("expected default full-backing ratio, got %d", params.MinCollateralRatioBps)
	}
}
