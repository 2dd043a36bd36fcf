package timestamp

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	want := time.Date(2023, 3, 15, 12, 34, 56, 0, time.UTC)

	tests := []struct {
		name  string
		input any
		want  time.Time
	}{
		{name: "epoch int", input: 1678885200, want: time.Unix(1678885200, 0).UTC()},
		{name: "epoch int64", input: int64(1678885200), want: time.Unix(1678885200, 0).UTC()},
		{name: "epoch float", input: 1678885200.5, want: time.Unix(1678885200, 500000000).UTC()},
		{name: "epoch json number", input: json.Number("1678885200"), want: time.Unix(1678885200, 0).UTC()},
		{name: "epoch string", input: "1678885200", want: time.Unix(1678885200, 0).UTC()},
		{name: "epoch exponent", input: "1.6788852e9", want: time.Unix(1678885200, 0).UTC()},
		{name: "iso naive", input: "2023-03-15T12:34:56", want: want},
		{name: "iso utc", input: "2023-03-15T12:34:56Z", want: want},
		{name: "iso offset", input: "2023-03-15T14:34:56+02:00", want: want},
		{name: "iso fractional", input: "2023-03-15T12:34:56.250", want: want.Add(250 * time.Millisecond)},
		{name: "named zone stripped", input: "2023-03-15T12:34:56 MESZ", want: want},
		{name: "named zone CET", input: "2023-03-15T12:34:56 CET", want: want},
		{name: "space separated", input: "2023-03-15 12:34:56", want: want},
		{name: "slash separated", input: "2023/03/15 12:34:56", want: want},
		{name: "dot separated", input: "15.03.2023 12:34:56", want: want},
		{name: "surrounding whitespace", input: "  2023-03-15 12:34:56 ", want: want},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s got %s", tt.want, got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	inputs := []any{
		"",
		"   ",
		"invalid-timestamp",
		"2023-13-45T99:99:99",
		"15/03/2023",
		"0x10",
		"0x1p30",
		"NaN",
		"1e30",
		"-1e30",
		json.Number("1e30"),
		1e30,
		int64(1) << 62,
		nil,
		true,
		[]string{"2023-03-15"},
	}

	for _, in := range inputs {
		_, err := Parse(in)
		require.Error(t, err, "input %#v", in)
		assert.ErrorIs(t, err, ErrUnparseable)
	}
}

func TestEpoch(t *testing.T) {
	got, err := Epoch("2023-03-15 12:00:00")
	require.NoError(t, err)
	assert.Equal(t, int64(1678881600), got)

	got, err = Epoch(1678881600.9)
	require.NoError(t, err)
	assert.Equal(t, int64(1678881600), got)

	_, err = Epoch("nope")
	assert.ErrorIs(t, err, ErrUnparseable)
}

func TestStripZoneNameKeepsNonZoneSuffix(t *testing.T) {
	assert.Equal(t, "2023-03-15 12:34:56", stripZoneName("2023-03-15 12:34:56"))
	assert.Equal(t, "2023-03-15T12:34:56", stripZoneName("2023-03-15T12:34:56 CEST"))
	assert.Equal(t, "a b", stripZoneName("a b"))
}
