package tx

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithTx(t *testing.T) {
	ctx := context.Background()

	t.Run("nil transaction leaves context untouched", func(t *testing.T) {
		got := WithTx(ctx, nil)
		_, ok := From(got)
		assert.False(t, ok)
	})

	t.Run("stored transaction is returned", func(t *testing.T) {
		sqlTx := &sql.Tx{}
		got, ok := From(WithTx(ctx, sqlTx))
		assert.True(t, ok)
		assert.Same(t, sqlTx, got)
	})
}

func TestRun_ReusesAmbientTransaction(t *testing.T) {
	sqlTx := &sql.Tx{}
	ctx := WithTx(context.Background(), sqlTx)

	called := false
	err := Run(ctx, nil, func(inner context.Context) error {
		called = true
		got, ok := From(inner)
		assert.True(t, ok)
		assert.Same(t, sqlTx, got)
		return nil
	})

	assert.NoError(t, err)
	assert.True(t, called)
}
