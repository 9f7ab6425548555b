package jobs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"martingalian/internal/database"
	"martingalian/internal/num"
)

func planJobForAccount(account *database.Account) *computePlanJob {
	return &computePlanJob{
		deps:  &Deps{},
		scope: &positionScope{account: account},
	}
}

func TestPositionMarginFallsBackToFixedNotional(t *testing.T) {
	j := planJobForAccount(&database.Account{
		ID:                  3,
		NotionalPerPosition: num.MustParse("75"),
	})

	margin, err := j.positionMargin(context.Background())
	require.NoError(t, err)
	assert.True(t, margin.Equal(num.MustParse("75")))
}

func TestPositionMarginRequiresSomeSizing(t *testing.T) {
	j := planJobForAccount(&database.Account{ID: 3})

	_, err := j.positionMargin(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindInvalidInput, Classify(err).Kind)
}
