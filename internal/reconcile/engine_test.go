package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bnbpools/poolctl/internal/domain"
)

var now = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func flags(open, stop, cancelled, closed bool) *domain.PoolFlags {
	return &domain.PoolFlags{
		IsOpen:        open,
		EmergencyStop: stop,
		Cancelled:     cancelled,
		IsClosed:      closed,
		ReadAt:        now,
	}
}

func predWithBid(bid time.Time) domain.Prediction {
	return domain.Prediction{
		ID:          "p1",
		Status:      domain.StatusActive,
		PoolAddress: "0xabc",
		ClosingDate: bid.Add(-24 * time.Hour),
		ClosingBid:  bid,
	}
}

func TestCanonical_CancelledDominatesEverything(t *testing.T) {
	// cancelled=true must win over every combination of the other flags.
	for _, open := range []bool{false, true} {
		for _, stop := range []bool{false, true} {
			for _, closed := range []bool{false, true} {
				got := Canonical(flags(open, stop, true, closed), predWithBid(now.Add(time.Hour)), now)
				assert.Equal(t, domain.DisplayCancelled, got,
					"open=%v stop=%v closed=%v", open, stop, closed)
			}
		}
	}
}

func TestCanonical_Precedence(t *testing.T) {
	p := predWithBid(now.Add(time.Hour))

	cases := []struct {
		name string
		f    *domain.PoolFlags
		want domain.DisplayStatus
	}{
		{"closed beats stop and open", flags(true, true, false, true), domain.DisplayClosed},
		{"stop beats open", flags(true, true, false, false), domain.DisplayPaused},
		{"open", flags(true, false, false, false), domain.DisplayActive},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Canonical(tc.f, p, now), tc.name)
	}
}

func TestCanonical_TimeGate(t *testing.T) {
	// Not open, not paused/closed/cancelled: the resolution cutoff decides.
	f := flags(false, false, false, false)

	beforeBid := predWithBid(now.Add(time.Minute))
	assert.Equal(t, domain.DisplayActive, Canonical(f, beforeBid, now))

	afterBid := predWithBid(now.Add(-time.Minute))
	assert.Equal(t, domain.DisplayResolved, Canonical(f, afterBid, now))
}

func TestCanonical_CacheFallback(t *testing.T) {
	cases := []struct {
		cached domain.PredictionStatus
		want   domain.DisplayStatus
	}{
		{domain.StatusPending, domain.DisplayPending},
		{domain.StatusActive, domain.DisplayActive},
		{domain.StatusPaused, domain.DisplayPaused},
		{domain.StatusResolved, domain.DisplayResolved},
		{domain.StatusCancelled, domain.DisplayCancelled},
	}
	for _, tc := range cases {
		p := domain.Prediction{Status: tc.cached}
		assert.Equal(t, tc.want, Canonical(nil, p, now), "cached %s", tc.cached)
	}
}

func TestDisplayStatus_CacheRoundTrip(t *testing.T) {
	// CHIUSA maps onto in_pausa; everything else is 1:1.
	assert.Equal(t, domain.StatusPaused, domain.DisplayClosed.CacheStatus())
	assert.Equal(t, domain.StatusActive, domain.DisplayActive.CacheStatus())
	assert.Equal(t, domain.StatusCancelled, domain.DisplayCancelled.CacheStatus())
	assert.Equal(t, domain.StatusResolved, domain.DisplayResolved.CacheStatus())
	assert.Equal(t, domain.StatusPaused, domain.DisplayPaused.CacheStatus())
	assert.Equal(t, domain.StatusPending, domain.DisplayPending.CacheStatus())
}
