package threshold

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/controlledtrade/substance-compliance-backend/internal/domain/trade"
	"github.com/controlledtrade/substance-compliance-backend/internal/domain/values"
)

func monthlyThreshold(limit string) *Threshold {
	return &Threshold{
		ID:             uuid.New(),
		Name:           "EPH monthly",
		SubstanceCode:  "EPH",
		Limit:          values.MustGramsFromString(limit),
		Period:         PeriodMonthly,
		WarningPercent: 80,
		AllowOverride:  true,
	}
}

func TestAppliesTo(t *testing.T) {
	holder := trade.Holder{CustomerAccount: "CUST-0042", Category: trade.CategoryWholesaler}

	licenceTypes := []string{"WDA"}

	tests := []struct {
		name   string
		mutate func(*Threshold)
		want   bool
	}{
		{"substance-only scope matches", func(th *Threshold) {}, true},
		{"different substance", func(th *Threshold) { th.SubstanceCode = "PSE" }, false},
		{"matching customer account", func(th *Threshold) { th.CustomerAccount = "CUST-0042" }, true},
		{"other customer account", func(th *Threshold) { th.CustomerAccount = "CUST-0099" }, false},
		{"matching category", func(th *Threshold) { th.CustomerCategory = trade.CategoryWholesaler }, true},
		{"other category", func(th *Threshold) { th.CustomerCategory = trade.CategoryPharmacy }, false},
		{"matching licence type", func(th *Threshold) { th.LicenceTypeID = "WDA" }, true},
		{"licence type not in play", func(th *Threshold) { th.LicenceTypeID = "GDP" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th := monthlyThreshold("1000")
			tt.mutate(th)
			assert.Equal(t, tt.want, th.AppliesTo("EPH", holder, licenceTypes))
		})
	}

	t.Run("licence-type scope never binds without coverage types", func(t *testing.T) {
		th := monthlyThreshold("1000")
		th.LicenceTypeID = "WDA"
		assert.False(t, th.AppliesTo("EPH", holder, nil))
	})
}

func TestBucketKey(t *testing.T) {
	th := monthlyThreshold("1000")
	asOf := time.Date(2026, 3, 10, 15, 45, 0, 0, time.UTC)

	t.Run("period embedded in the key", func(t *testing.T) {
		th.Period = PeriodDaily
		assert.True(t, strings.HasSuffix(th.BucketKey("CUST-0042", asOf), ":2026-03-10"))

		th.Period = PeriodMonthly
		assert.True(t, strings.HasSuffix(th.BucketKey("CUST-0042", asOf), ":2026-03"))

		th.Period = PeriodYearly
		assert.True(t, strings.HasSuffix(th.BucketKey("CUST-0042", asOf), ":2026"))
	})

	t.Run("rollover changes the key instead of resetting a counter", func(t *testing.T) {
		th.Period = PeriodMonthly
		march := th.BucketKey("CUST-0042", asOf)
		april := th.BucketKey("CUST-0042", asOf.AddDate(0, 1, 0))
		assert.NotEqual(t, march, april)
	})

	t.Run("day boundary derived in UTC", func(t *testing.T) {
		th.Period = PeriodDaily
		// 23:30 UTC-2 on March 10 is 01:30 UTC on March 11.
		local := time.FixedZone("UTC-2", -2*3600)
		key := th.BucketKey("CUST-0042", time.Date(2026, 3, 10, 23, 30, 0, 0, local))
		assert.True(t, strings.HasSuffix(key, ":2026-03-11"))
	})

	t.Run("per-transaction keys never collide", func(t *testing.T) {
		th.Period = PeriodPerTransaction
		assert.NotEqual(t, th.BucketKey("CUST-0042", asOf), th.BucketKey("CUST-0042", asOf))
	})
}

func TestWarningFloor(t *testing.T) {
	th := monthlyThreshold("1000")
	assert.True(t, th.WarningFloor().Equal(values.MustGramsFromString("800")))

	th.WarningPercent = 0
	assert.True(t, th.WarningFloor().Equal(th.Limit))
}

func TestOverrideCeiling(t *testing.T) {
	th := monthlyThreshold("1000")
	th.MaxOverridePercent = decimal.NewFromInt(20)
	assert.True(t, th.OverrideCeiling().Equal(values.MustGramsFromString("1200")))

	th.AllowOverride = false
	assert.True(t, th.OverrideCeiling().Equal(th.Limit))
}

func TestSelectAuthoritative(t *testing.T) {
	base := monthlyThreshold("1000")
	categoryScoped := monthlyThreshold("800")
	categoryScoped.CustomerCategory = trade.CategoryWholesaler
	customerScoped := monthlyThreshold("1500")
	customerScoped.CustomerAccount = "CUST-0042"

	t.Run("most specific scope wins even with a higher limit", func(t *testing.T) {
		selected := SelectAuthoritative([]*Threshold{base, categoryScoped, customerScoped})
		require.Len(t, selected, 1)
		assert.Equal(t, customerScoped.ID, selected[0].ID)
	})

	t.Run("category beats licence type beats substance-only", func(t *testing.T) {
		typeScoped := monthlyThreshold("900")
		typeScoped.LicenceTypeID = "WDA"

		selected := SelectAuthoritative([]*Threshold{base, typeScoped})
		require.Len(t, selected, 1)
		assert.Equal(t, typeScoped.ID, selected[0].ID)

		selected = SelectAuthoritative([]*Threshold{base, typeScoped, categoryScoped})
		require.Len(t, selected, 1)
		assert.Equal(t, categoryScoped.ID, selected[0].ID)
	})

	t.Run("equal specificity resolves to the lowest limit", func(t *testing.T) {
		strict := monthlyThreshold("500")
		selected := SelectAuthoritative([]*Threshold{base, strict})
		require.Len(t, selected, 1)
		assert.Equal(t, strict.ID, selected[0].ID)
	})

	t.Run("different period types all remain in force", func(t *testing.T) {
		daily := monthlyThreshold("100")
		daily.Period = PeriodDaily
		perTx := monthlyThreshold("50")
		perTx.Period = PeriodPerTransaction

		selected := SelectAuthoritative([]*Threshold{base, daily, perTx})
		require.Len(t, selected, 3)
		assert.Equal(t, PeriodPerTransaction, selected[0].Period)
		assert.Equal(t, PeriodDaily, selected[1].Period)
		assert.Equal(t, PeriodMonthly, selected[2].Period)
	})

	t.Run("empty input selects nothing", func(t *testing.T) {
		assert.Empty(t, SelectAuthoritative(nil))
	})
}

func TestParsePeriodType(t *testing.T) {
	for _, p := range []PeriodType{PeriodPerTransaction, PeriodDaily, PeriodMonthly, PeriodYearly} {
		parsed, err := ParsePeriodType(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, parsed)
	}
	_, err := ParsePeriodType("weekly")
	assert.Error(t, err)
}
