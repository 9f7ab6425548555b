package num

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "integer", input: "42", want: "42"},
		{name: "fraction", input: "0.00012345", want: "0.00012345"},
		{name: "negative", input: "-1.5", want: "-1.5"},
		{name: "garbage", input: "abc", wantErr: true},
		{name: "empty", input: "", wantErr: true},
		{name: "double dot", input: "1.2.3", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidDecimal)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestParsePositive(t *testing.T) {
	_, err := ParsePositive("0")
	require.ErrorIs(t, err, ErrInvalidDecimal)

	_, err = ParsePositive("-3")
	require.ErrorIs(t, err, ErrInvalidDecimal)

	d, err := ParsePositive("0.001")
	require.NoError(t, err)
	assert.Equal(t, "0.001", d.String())
}

func TestDivScale(t *testing.T) {
	a := MustParse("1")
	b := MustParse("3")

	got, err := DivScale(a, b, 4)
	require.NoError(t, err)
	assert.Equal(t, "0.3333", got.String())

	_, err = Div(a, decimal.Zero)
	require.ErrorIs(t, err, ErrInvalidDecimal)
}

func TestFormatPrice(t *testing.T) {
	f, err := NewSymbolFormatter("0.01", 2, 3)
	require.NoError(t, err)

	tests := []struct {
		name  string
		price string
		want  string
	}{
		{name: "already on grid", price: "98.00", want: "98"},
		{name: "rounds up at half", price: "99.025", want: "99.03"},
		{name: "rounds down below half", price: "99.0249", want: "99.02"},
		{name: "wap profit price", price: "99.0218773333333333", want: "99.02"},
		{name: "negative half away from zero", price: "-1.005", want: "-1.01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := f.FormatPrice(MustParse(tt.price))
			assert.True(t, got.Equal(MustParse(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestFormatQuantityTruncates(t *testing.T) {
	f, err := NewSymbolFormatter("0.01", 2, 3)
	require.NoError(t, err)

	// Quantities must never round up: 0.15625 contracts is 0.156, not 0.157.
	tests := []struct{ raw, want string }{
		{"0.15625", "0.156"},
		{"0.3125", "0.312"},
		{"0.9999", "0.999"},
		{"0.0004", "0"},
	}
	for _, tt := range tests {
		got := f.FormatQuantity(MustParse(tt.raw))
		assert.True(t, got.Equal(MustParse(tt.want)), "got %s want %s", got, tt.want)
	}
}

func TestNewSymbolFormatterRejectsBadInput(t *testing.T) {
	_, err := NewSymbolFormatter("not-a-tick", 2, 3)
	require.ErrorIs(t, err, ErrInvalidDecimal)

	_, err = NewSymbolFormatter("0.01", -1, 3)
	require.ErrorIs(t, err, ErrInvalidDecimal)
}

func TestPercent(t *testing.T) {
	assert.True(t, Percent(MustParse("2")).Equal(MustParse("0.02")))
	assert.True(t, Percent(MustParse("0.36")).Equal(MustParse("0.0036")))
}
