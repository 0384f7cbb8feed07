package validation

import (
	"context"
	goerrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/controlledtrade/substance-compliance-backend/internal/domain/trade"
	"github.com/controlledtrade/substance-compliance-backend/internal/domain/values"
)

type stubCorridors struct {
	permitted map[string]bool
	err       error

	lastCategory trade.CustomerCategory
}

func (s *stubCorridors) Permitted(_ context.Context, origin, destination values.Country, category trade.CustomerCategory) (bool, error) {
	s.lastCategory = category
	if s.err != nil {
		return false, s.err
	}
	return s.permitted[origin.Code()+"-"+destination.Code()], nil
}

func mustCountry(t *testing.T, code string) values.Country {
	t.Helper()
	c, err := values.NewCountry(code)
	require.NoError(t, err)
	return c
}

func crossBorderTx(t *testing.T, direction trade.Direction, origin, destination string) *trade.Transaction {
	t.Helper()
	tx := trade.NewTransaction("SO-100234", matchHolder(), trade.TypeOrder, direction,
		time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	if origin != "" {
		tx.Origin = mustCountry(t, origin)
	}
	if destination != "" {
		tx.Destination = mustCountry(t, destination)
	}
	return tx
}

func TestCrossBorderPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("internal with matching countries passes", func(t *testing.T) {
		p := NewCrossBorderPolicy(&stubCorridors{}, zaptest.NewLogger(t))
		v, err := p.Validate(ctx, crossBorderTx(t, trade.DirectionInternal, "NL", "NL"))
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("internal with differing countries is a mismatch", func(t *testing.T) {
		p := NewCrossBorderPolicy(&stubCorridors{}, zaptest.NewLogger(t))
		v, err := p.Validate(ctx, crossBorderTx(t, trade.DirectionInternal, "NL", "DE"))
		require.NoError(t, err)
		require.NotNil(t, v)
		assert.Equal(t, trade.CodeOriginDestinationMismatch, v.Code)
		assert.Equal(t, trade.SeverityError, v.Severity)
		assert.False(t, v.CanOverride)
	})

	t.Run("outbound missing origin", func(t *testing.T) {
		p := NewCrossBorderPolicy(&stubCorridors{}, zaptest.NewLogger(t))
		v, err := p.Validate(ctx, crossBorderTx(t, trade.DirectionOutbound, "", "DE"))
		require.NoError(t, err)
		require.NotNil(t, v)
		assert.Equal(t, trade.CodeMissingOriginCountry, v.Code)
	})

	t.Run("inbound missing destination", func(t *testing.T) {
		p := NewCrossBorderPolicy(&stubCorridors{}, zaptest.NewLogger(t))
		v, err := p.Validate(ctx, crossBorderTx(t, trade.DirectionInbound, "DE", ""))
		require.NoError(t, err)
		require.NotNil(t, v)
		assert.Equal(t, trade.CodeMissingDestinationCountry, v.Code)
	})

	t.Run("permitted corridor passes and forwards the category", func(t *testing.T) {
		corridors := &stubCorridors{permitted: map[string]bool{"NL-DE": true}}
		p := NewCrossBorderPolicy(corridors, zaptest.NewLogger(t))
		v, err := p.Validate(ctx, crossBorderTx(t, trade.DirectionOutbound, "NL", "DE"))
		require.NoError(t, err)
		assert.Nil(t, v)
		assert.Equal(t, trade.CategoryWholesaler, corridors.lastCategory)
	})

	t.Run("unpermitted corridor is a non-overridable error", func(t *testing.T) {
		p := NewCrossBorderPolicy(&stubCorridors{}, zaptest.NewLogger(t))
		v, err := p.Validate(ctx, crossBorderTx(t, trade.DirectionOutbound, "NL", "XK"))
		require.NoError(t, err)
		require.NotNil(t, v)
		assert.Equal(t, trade.CodeCorridorNotPermitted, v.Code)
		assert.Equal(t, trade.SeverityError, v.Severity)
		assert.False(t, v.CanOverride)
	})

	t.Run("repository failure propagates", func(t *testing.T) {
		repoErr := goerrors.New("permit registry unavailable")
		p := NewCrossBorderPolicy(&stubCorridors{err: repoErr}, zaptest.NewLogger(t))
		_, err := p.Validate(ctx, crossBorderTx(t, trade.DirectionOutbound, "NL", "DE"))
		assert.ErrorIs(t, err, repoErr)
	})
}
