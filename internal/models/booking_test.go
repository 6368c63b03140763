package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookingStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from BookingStatus
		to   BookingStatus
		want bool
	}{
		{BookingStatusPending, BookingStatusConfirmed, true},
		{BookingStatusPending, BookingStatusCancelled, true},
		{BookingStatusPending, BookingStatusCompleted, false},
		{BookingStatusConfirmed, BookingStatusCompleted, true},
		{BookingStatusConfirmed, BookingStatusCancelled, true},
		{BookingStatusConfirmed, BookingStatusPending, false},
		{BookingStatusCompleted, BookingStatusCancelled, false},
		{BookingStatusCancelled, BookingStatusPending, false},
		{BookingStatusCancelled, BookingStatusConfirmed, false},
		{BookingStatus("bogus"), BookingStatusConfirmed, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s to %s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestBookingStatus_Predicates(t *testing.T) {
	assert.True(t, BookingStatusCompleted.IsTerminal())
	assert.True(t, BookingStatusCancelled.IsTerminal())
	assert.False(t, BookingStatusPending.IsTerminal())

	assert.True(t, BookingStatusPending.BlocksVehicle())
	assert.True(t, BookingStatusConfirmed.BlocksVehicle())
	assert.False(t, BookingStatusCancelled.BlocksVehicle())
	assert.False(t, BookingStatusCompleted.BlocksVehicle())
}

func TestParseBookingStatus(t *testing.T) {
	s, err := ParseBookingStatus(" Confirmed ")
	require.NoError(t, err)
	assert.Equal(t, BookingStatusConfirmed, s)

	_, err = ParseBookingStatus("refunded")
	assert.Error(t, err)
}

func TestDate(t *testing.T) {
	t.Run("Parse and format", func(t *testing.T) {
		d, err := ParseDate("2026-11-01")
		require.NoError(t, err)
		assert.Equal(t, "2026-11-01", d.String())

		_, err = ParseDate("01/11/2026")
		assert.Error(t, err)
	})

	t.Run("Scan timestamp from DATE column", func(t *testing.T) {
		var d Date
		require.NoError(t, d.Scan("2026-11-01T00:00:00Z"))
		assert.Equal(t, "2026-11-01", d.String())

		loc := time.FixedZone("LK", 5*3600+1800)
		require.NoError(t, d.Scan(time.Date(2026, 12, 24, 0, 0, 0, 0, loc)))
		assert.Equal(t, "2026-12-24", d.String())
	})

	t.Run("JSON", func(t *testing.T) {
		var req struct {
			TripDate Date `json:"trip_date"`
		}
		require.NoError(t, json.Unmarshal([]byte(`{"trip_date":"2026-11-01"}`), &req))
		assert.Equal(t, "2026-11-01", req.TripDate.String())
		assert.Error(t, json.Unmarshal([]byte(`{"trip_date":"tomorrow"}`), &req))
	})
}

func TestValidTripTime(t *testing.T) {
	for _, ok := range []string{"00:00", "08:30", "23:59"} {
		assert.True(t, ValidTripTime(ok), ok)
	}
	for _, bad := range []string{"24:00", "8:30", "08:60", "0830", ""} {
		assert.False(t, ValidTripTime(bad), bad)
	}
}

func TestBooking_TripStart(t *testing.T) {
	loc := time.FixedZone("LK", 5*3600+1800)
	b := &Booking{TripDate: MustParseDate("2026-11-01"), TripTime: "08:30"}

	start, err := b.TripStart(loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 11, 1, 3, 0, 0, 0, time.UTC), start.UTC())

	b.TripTime = "bad"
	_, err = b.TripStart(loc)
	assert.Error(t, err)
}

func TestItinerary(t *testing.T) {
	var empty Itinerary
	v, err := empty.Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)

	var it Itinerary
	require.NoError(t, it.Scan([]byte(`[{"name":"Sigiriya"},{"name":"Kandy","notes":"temple"}]`)))
	require.Len(t, it, 2)
	assert.Equal(t, "Kandy", it[1].Name)
	assert.Equal(t, "temple", it[1].Notes)
}

func TestMoney(t *testing.T) {
	t.Run("Parse", func(t *testing.T) {
		tests := []struct {
			in   string
			want Money
			ok   bool
		}{
			{"150", 15000, true},
			{"150.5", 15050, true},
			{"150.05", 15005, true},
			{"0.99", 99, true},
			{"-20.00", -2000, true},
			{"9999999999.99", 999999999999, true},
			{"10000000000", 0, false},
			{"4611686018427387904.50", 0, false},
			{"1.234", 0, false},
			{"1.", 0, false},
			{"1.+5", 0, false},
			{"abc", 0, false},
			{"", 0, false},
		}
		for _, tt := range tests {
			got, err := ParseMoney(tt.in)
			if !tt.ok {
				assert.Error(t, err, tt.in)
				continue
			}
			require.NoError(t, err, tt.in)
			assert.Equal(t, tt.want, got, tt.in)
		}
	})

	t.Run("String", func(t *testing.T) {
		assert.Equal(t, "50.00", MustParseMoney("50").String())
		assert.Equal(t, "0.05", Money(5).String())
		assert.Equal(t, "-1.50", Money(-150).String())
	})

	t.Run("Scan", func(t *testing.T) {
		var m Money
		require.NoError(t, m.Scan([]byte("20.00")))
		assert.Equal(t, Money(2000), m)
		require.NoError(t, m.Scan(int64(7)))
		assert.Equal(t, Money(700), m)
		require.NoError(t, m.Scan(12.5))
		assert.Equal(t, Money(1250), m)
	})

	t.Run("JSON accepts numbers and strings", func(t *testing.T) {
		var req struct {
			Amount Money `json:"amount"`
		}
		require.NoError(t, json.Unmarshal([]byte(`{"amount":150.5}`), &req))
		assert.Equal(t, Money(15050), req.Amount)
		require.NoError(t, json.Unmarshal([]byte(`{"amount":"99.99"}`), &req))
		assert.Equal(t, Money(9999), req.Amount)

		out, err := json.Marshal(req)
		require.NoError(t, err)
		assert.JSONEq(t, `{"amount":99.99}`, string(out))
	})
}

func TestAppError(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("confirm booking: %w", NewStorageUnavailableError(cause))

	assert.Equal(t, KindStorageUnavailable, KindOf(err))
	assert.True(t, IsKind(err, KindStorageUnavailable))
	assert.ErrorIs(t, err, cause)

	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
	assert.True(t, IsKind(NewInvalidTransitionError(BookingStatusCancelled, BookingStatusConfirmed), KindInvalidTransition))
}
