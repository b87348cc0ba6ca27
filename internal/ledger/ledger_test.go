package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkin/internal/payload"
)

func TestCSVRoundTrip(t *testing.T) {
	l := New(BaseColumns())
	l.Append(Row{
		Record:    payload.Record{Name: "Asha Rao", IDType: "Passport", IDNumber: "P1234567", PassType: "28 Oct 24"},
		Timestamp: "2024-10-28 09:15:00",
	})
	l.Append(Row{
		Record:    payload.Record{Name: "Ben Ong", IDType: "National ID", IDNumber: "S111", PassType: "Plenary Session - 29 Oct 24"},
		Timestamp: "2024-10-28 09:16:30",
	})

	data, err := l.EncodeCSV()
	require.NoError(t, err)

	got, err := DecodeCSV(data)
	require.NoError(t, err)
	assert.Equal(t, l.Columns, got.Columns)
	assert.Equal(t, l.Rows, got.Rows)
}

func TestDecodeCSV_PadsShortRows(t *testing.T) {
	data := []byte("Name,ID Type,ID Number,Pass Type,Timestamp\nAsha Rao,Passport,P1234567\n")
	l, err := DecodeCSV(data)
	require.NoError(t, err)
	require.Len(t, l.Rows, 1)
	assert.Equal(t, []string{"Asha Rao", "Passport", "P1234567", "", ""}, l.Rows[0])
}

func TestDecodeCSV_MissingHeader(t *testing.T) {
	_, err := DecodeCSV(nil)
	assert.Error(t, err)
}

func TestAppend_UnionsMissingColumns(t *testing.T) {
	// Ledger written by the base-schema variant, new scan carries contact
	// info: the header grows and old rows are read back padded.
	l := New(BaseColumns())
	l.Append(Row{
		Record:    payload.Record{Name: "Asha Rao", IDType: "Passport", IDNumber: "P1234567", PassType: "28 Oct 24"},
		Timestamp: "2024-10-28 09:15:00",
	})
	l.Append(Row{
		Record: payload.Record{
			Name: "Ben Ong", IDType: "Passport", IDNumber: "P222", PassType: "28 Oct 24",
			Email: "ben@example.com", Phone: "+6591112222",
		},
		Timestamp: "2024-10-28 09:20:00",
	})

	assert.Equal(t, []string{ColName, ColIDType, ColIDNumber, ColPassType, ColTimestamp, ColEmail, ColPhone}, l.Columns)

	data, err := l.EncodeCSV()
	require.NoError(t, err)
	got, err := DecodeCSV(data)
	require.NoError(t, err)
	assert.Equal(t, "", got.cell(got.Rows[0], ColEmail))
	assert.Equal(t, "ben@example.com", got.cell(got.Rows[1], ColEmail))
	assert.Equal(t, "+6591112222", got.cell(got.Rows[1], ColPhone))
}

func TestContains_ExactMatchOnly(t *testing.T) {
	l := New(BaseColumns())
	l.Append(Row{
		Record:    payload.Record{Name: "Asha Rao", IDType: "Passport", IDNumber: "P1234567", PassType: "28 Oct 24"},
		Timestamp: "2024-10-28 09:15:00",
	})

	assert.True(t, l.Contains(Key{Name: "Asha Rao", IDNumber: "P1234567", PassType: "28 Oct 24"}))
	// Case-sensitive on every key field.
	assert.False(t, l.Contains(Key{Name: "asha rao", IDNumber: "P1234567", PassType: "28 Oct 24"}))
	// Same attendee, different session: not a duplicate.
	assert.False(t, l.Contains(Key{Name: "Asha Rao", IDNumber: "P1234567", PassType: "Plenary Session - 29 Oct 24"}))
}

func TestUnparseableRowsPassThrough(t *testing.T) {
	// A row with garbage cells survives decode, append, encode untouched.
	data := []byte("Name,ID Type,ID Number,Pass Type,Timestamp\n,,???,not-a-pass,\n")
	l, err := DecodeCSV(data)
	require.NoError(t, err)

	l.Append(Row{
		Record:    payload.Record{Name: "Asha Rao", IDType: "Passport", IDNumber: "P1234567", PassType: "28 Oct 24"},
		Timestamp: "2024-10-28 09:15:00",
	})
	out, err := l.EncodeCSV()
	require.NoError(t, err)

	got, err := DecodeCSV(out)
	require.NoError(t, err)
	require.Equal(t, 2, got.Len())
	assert.Equal(t, []string{"", "", "???", "not-a-pass", ""}, got.Rows[0])
}
