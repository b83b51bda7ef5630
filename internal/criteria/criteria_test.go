package criteria

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge_CityOnlyClearsState(t *testing.T) {
	prior := SearchCriteria{City: String("Dallas"), State: String("Texas"), MinBedrooms: Int(2)}

	got := prior.Merge(SearchCriteria{City: String("Austin")})

	require.NotNil(t, got.City)
	assert.Equal(t, "Austin", *got.City)
	assert.Nil(t, got.State)
	require.NotNil(t, got.MinBedrooms)
	assert.Equal(t, 2, *got.MinBedrooms)
}

func TestMerge_StateOnlyClearsCity(t *testing.T) {
	prior := SearchCriteria{City: String("Austin"), State: String("Texas")}

	got := prior.Merge(SearchCriteria{State: String("Ohio")})

	assert.Nil(t, got.City)
	require.NotNil(t, got.State)
	assert.Equal(t, "Ohio", *got.State)
}

func TestMerge_CityAndStateOverwriteTogether(t *testing.T) {
	prior := SearchCriteria{City: String("Austin"), State: String("Texas")}

	got := prior.Merge(SearchCriteria{City: String("Columbus"), State: String("Ohio")})

	assert.Equal(t, "Columbus", *got.City)
	assert.Equal(t, "Ohio", *got.State)
}

func TestMerge_FieldsOverwriteIndividually(t *testing.T) {
	prior := SearchCriteria{MinBedrooms: Int(2), MinBathrooms: Int(1), MaxPrice: Float(400000)}

	got := prior.Merge(SearchCriteria{MinBedrooms: Int(3), MinPrice: Float(100000)})

	assert.Equal(t, 3, *got.MinBedrooms)
	assert.Equal(t, 1, *got.MinBathrooms)
	assert.Equal(t, 100000.0, *got.MinPrice)
	assert.Equal(t, 400000.0, *got.MaxPrice)
}

func TestMerge_DoesNotAliasInputs(t *testing.T) {
	prior := SearchCriteria{City: String("Austin")}
	update := SearchCriteria{MinBedrooms: Int(3)}

	got := prior.Merge(update)
	*got.City = "Boston"
	*got.MinBedrooms = 9

	assert.Equal(t, "Austin", *prior.City)
	assert.Equal(t, 3, *update.MinBedrooms)
}

func TestMerge_EmptyUpdateIsIdentity(t *testing.T) {
	cases := []SearchCriteria{
		{},
		{City: String("Austin"), State: String("TX")},
		{MinBedrooms: Int(3), MinBathrooms: Int(2), MinPrice: Float(1), MaxPrice: Float(500000)},
	}
	for _, c := range cases {
		want, err := json.Marshal(c)
		require.NoError(t, err)

		got, err := json.Marshal(c.Merge(SearchCriteria{}))
		require.NoError(t, err)

		assert.JSONEq(t, string(want), string(got))
	}
}

func TestParse_Aliases(t *testing.T) {
	c, err := Parse([]byte(`{"city":"Austin","state":null,"min_bedroom":3,"bathrooms":2,"max_price":500000}`))
	require.NoError(t, err)

	assert.Equal(t, "Austin", *c.City)
	assert.Nil(t, c.State)
	assert.Equal(t, 3, *c.MinBedrooms)
	assert.Equal(t, 2, *c.MinBathrooms)
	assert.Equal(t, 500000.0, *c.MaxPrice)
	assert.Nil(t, c.MinPrice)
}

func TestParse_BlankStringsAreAbsent(t *testing.T) {
	c, err := Parse([]byte(`{"city":"  ","state":""}`))
	require.NoError(t, err)
	assert.True(t, c.IsZero())
}

func TestParse_NumericStrings(t *testing.T) {
	c, err := Parse([]byte(`{"min_bedrooms":"3","min_bathrooms":" 2 ","min_price":"","max_price":"$500,000"}`))
	require.NoError(t, err)

	require.NotNil(t, c.MinBedrooms)
	assert.Equal(t, 3, *c.MinBedrooms)
	require.NotNil(t, c.MinBathrooms)
	assert.Equal(t, 2, *c.MinBathrooms)
	assert.Nil(t, c.MinPrice)
	require.NotNil(t, c.MaxPrice)
	assert.Equal(t, 500000.0, *c.MaxPrice)
}

func TestParse_NonNumericStringRejected(t *testing.T) {
	_, err := Parse([]byte(`{"min_bedrooms":"three"}`))
	assert.Error(t, err)
}

func TestParse_RejectsInvertedPriceRange(t *testing.T) {
	_, err := Parse([]byte(`{"min_price":500000,"max_price":100}`))
	assert.Error(t, err)
}

func TestParse_InvalidJSON(t *testing.T) {
	_, err := Parse([]byte(`{"city":`))
	assert.Error(t, err)
}

func TestLines(t *testing.T) {
	c := SearchCriteria{City: String("Austin"), MinBedrooms: Int(3), MaxPrice: Float(500000)}
	assert.Equal(t, []string{"City: Austin", "Min bedrooms: 3", "Max price: $500,000"}, c.Lines())
	assert.Equal(t, "(no criteria)", SearchCriteria{}.String())
}

func TestFormatPrice(t *testing.T) {
	tests := map[float64]string{
		0:        "$0",
		999:      "$999",
		1000:     "$1,000",
		525000:   "$525,000",
		12345678: "$12,345,678",
	}
	for in, want := range tests {
		if got := FormatPrice(in); got != want {
			t.Errorf("FormatPrice(%v) = %q, want %q", in, got, want)
		}
	}
}
