package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOrderID(t *testing.T) {
	id := NewOrderID()

	assert.True(t, strings.HasPrefix(id.String(), "ORD-"))
	assert.Len(t, id.String(), len("ORD-")+8)
	assert.Equal(t, strings.ToUpper(id.String()), id.String())

	assert.NotEqual(t, id, NewOrderID())
}

func TestNewID(t *testing.T) {
	id, err := NewID("some-id")
	require.NoError(t, err)
	assert.Equal(t, ID("some-id"), id)

	_, err = NewID("")
	assert.Error(t, err)
}

func TestMoney_Mul(t *testing.T) {
	price := NewMoney(120000, "USD")
	total := price.Mul(3)

	assert.Equal(t, int64(360000), total.Amount)
	assert.Equal(t, "USD", total.Currency)
}

func TestMoney_Add(t *testing.T) {
	a := NewMoney(1000, "USD")
	b := NewMoney(500, "USD")

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), sum.Amount)

	_, err = a.Add(NewMoney(500, "EUR"))
	assert.Error(t, err)
}

func TestMoney_String(t *testing.T) {
	assert.Equal(t, "1200.00 USD", NewMoney(120000, "USD").String())
	assert.Equal(t, "0.05 USD", NewMoney(5, "USD").String())
}

func TestMoney_Predicates(t *testing.T) {
	assert.True(t, NewMoney(0, "USD").IsZero())
	assert.False(t, NewMoney(1, "USD").IsZero())
	assert.True(t, NewMoney(1, "USD").IsPositive())
	assert.False(t, NewMoney(-1, "USD").IsPositive())
}
