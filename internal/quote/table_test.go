package quote

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegion(t *testing.T) {
	table := DefaultTable()
	tests := []struct {
		in   string
		want string
	}{
		{"Tokyo", "Tokyo"},
		{"  tokyo ", "Tokyo"},
		{"東京都", "Tokyo"},
		{"東京", "Tokyo"},
		{"大阪府", "Osaka"},
		{"愛知県", "Aichi"},
		{"北海道", "Hokkaido"},
		{"Ｆｕｋｕｏｋａ", "Fukuoka"},
		{"Kyoto", "Kyoto"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, table.Region(tt.in))
		})
	}
}

func TestClass(t *testing.T) {
	table := DefaultTable()

	assert.Equal(t, 0, table.Class("Tokyo", "東京都"))
	assert.Equal(t, 1, table.Class("Tokyo", "Aichi"))
	assert.Equal(t, 2, table.Class("Tokyo", "Hokkaido"))
	assert.Equal(t, 0, table.Class("Aichi", "Osaka"))
	assert.Equal(t, 1, table.Class("Fukuoka", "Tokyo"), "matrix is directional")
	assert.Equal(t, 1, table.Class("Hokkaido", "Aichi"), "matrix is directional")
	assert.Equal(t, 1, table.Class("Okinawa", "Kyoto"), "missing pair")
}

func TestBucketFor(t *testing.T) {
	table := DefaultTable()

	b, err := table.BucketFor(60)
	require.NoError(t, err)
	assert.Equal(t, 60, b.MaxSize)

	b, err = table.BucketFor(1)
	require.NoError(t, err)
	assert.Equal(t, 60, b.MaxSize)

	b, err = table.BucketFor(170)
	require.NoError(t, err)
	assert.Equal(t, 170, b.MaxSize)

	_, err = table.BucketFor(171)
	var oor *OutOfRangeError
	assert.ErrorAs(t, err, &oor)
	assert.Equal(t, 170, table.MaxSize())
}

func TestAddonAndKindLookups(t *testing.T) {
	table := DefaultTable()

	assert.Equal(t, 400, table.Addon("1").Fee)
	assert.Equal(t, 250, table.Addon("３").Fee)

	unknown := table.Addon("9")
	assert.Zero(t, unknown.Fee)
	assert.Equal(t, "9", unknown.Label)

	assert.Equal(t, "letter", table.KindLabel("2"))
	assert.Equal(t, "bicycle", table.KindLabel("bicycle"))
	assert.Equal(t, []string{"0", "1", "2", "3"}, table.AddonCodes())
	assert.Equal(t, []string{"1", "2", "3", "4"}, table.KindCodes())
}
