package party

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unipool/internal/config"
)

func reminderConfig() config.ReminderConfig {
	return config.ReminderConfig{TickSeconds: 30, Lead: 10 * time.Minute, Width: time.Minute}
}

func TestRemindDeparturesPushesOncePerMember(t *testing.T) {
	f := newFixture(1, 2)
	req := createRequest()
	// Departure lands inside (now+10m, now+11m].
	req.DepartureAt = fixedNow.Add(10*time.Minute + 30*time.Second)
	p, err := f.svc.Create(context.Background(), req, 1)
	require.NoError(t, err)
	_, err = f.svc.Join(context.Background(), p.ID, 2)
	require.NoError(t, err)

	f.svc.remindDepartures(context.Background(), reminderConfig())

	require.Len(t, f.notify.pushes, 2)
	for _, push := range f.notify.pushes {
		assert.Equal(t, "DEPARTURE_REMINDER", push.eventType)
	}
	assert.True(t, f.store.mustGet(t, p.ID).ReminderSent)

	// A second sweep finds no candidates.
	f.svc.remindDepartures(context.Background(), reminderConfig())
	assert.Len(t, f.notify.pushes, 2)
}

func TestRemindDeparturesSkipsOutsideWindow(t *testing.T) {
	f := newFixture(1)
	for _, offset := range []time.Duration{5 * time.Minute, 30 * time.Minute} {
		req := createRequest()
		req.DepartureAt = fixedNow.Add(offset)
		_, err := f.svc.Create(context.Background(), req, 1)
		require.NoError(t, err)
	}

	f.svc.remindDepartures(context.Background(), reminderConfig())
	assert.Empty(t, f.notify.pushes)
}
