package redis

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/cart"
)

func TestEncodeItems(t *testing.T) {
	data := encodeItems([]cart.LineItem{
		{ProductID: "A", Name: "Alpha", UnitPrice: decimal.RequireFromString("450.50"), Quantity: 2},
		{ProductID: "B", Name: "Beta", UnitPrice: decimal.NewFromInt(10), Quantity: 1, Image: "b.png"},
	})

	assert.JSONEq(t, `[
		{"product_id":"A","name":"Alpha","unit_price":"450.5","quantity":2},
		{"product_id":"B","name":"Beta","unit_price":"10","quantity":1,"image":"b.png"}
	]`, string(data))
}

func TestDecodeItems(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []cart.LineItem
		wantErr bool
	}{
		{
			name:  "StringPrice",
			input: `[{"product_id":"A","name":"Alpha","unit_price":"0.10","quantity":3,"image":"a.png"}]`,
			want: []cart.LineItem{
				{ProductID: "A", Name: "Alpha", UnitPrice: decimal.RequireFromString("0.10"), Quantity: 3, Image: "a.png"},
			},
		},
		{
			name:  "NumberPrice",
			input: `[{"product_id":"A","name":"Alpha","unit_price":12.75,"quantity":1}]`,
			want: []cart.LineItem{
				{ProductID: "A", Name: "Alpha", UnitPrice: decimal.RequireFromString("12.75"), Quantity: 1},
			},
		},
		{
			name:  "UnknownFieldSkipped",
			input: `[{"product_id":"A","extra":[1,2],"unit_price":"1","quantity":1}]`,
			want: []cart.LineItem{
				{ProductID: "A", UnitPrice: decimal.NewFromInt(1), Quantity: 1},
			},
		},
		{name: "Empty", input: `[]`},
		{name: "BadPrice", input: `[{"unit_price":true}]`, wantErr: true},
		{name: "NotArray", input: `{"product_id":"A"}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeItems([]byte(tt.input))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Len(t, got, len(tt.want))
			for i := range tt.want {
				assert.Equal(t, tt.want[i].ProductID, got[i].ProductID)
				assert.Equal(t, tt.want[i].Name, got[i].Name)
				assert.True(t, tt.want[i].UnitPrice.Equal(got[i].UnitPrice), "unit price %s", got[i].UnitPrice)
				assert.Equal(t, tt.want[i].Quantity, got[i].Quantity)
				assert.Equal(t, tt.want[i].Image, got[i].Image)
			}
		})
	}
}

func TestItemsRoundTrip(t *testing.T) {
	in := []cart.LineItem{
		{ProductID: "A", Name: "Alpha \"quoted\"", UnitPrice: decimal.RequireFromString("19.99"), Quantity: 5},
	}
	got, err := decodeItems(encodeItems(in))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, in[0].Name, got[0].Name)
	assert.True(t, in[0].UnitPrice.Equal(got[0].UnitPrice))
}
