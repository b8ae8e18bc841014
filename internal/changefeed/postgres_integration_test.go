//go:build integration

package changefeed_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/practice-dashboard/internal/changefeed"
	"github.com/hackgods/practice-dashboard/internal/db/testhelper"
	"github.com/hackgods/practice-dashboard/internal/logging"
	"github.com/hackgods/practice-dashboard/internal/practice"
)

func TestPgFeed_TriggerNotifiesPerPractitioner(t *testing.T) {
	pool := testhelper.SetupTestDB(t)
	ctx := context.Background()

	mine, other := uuid.New(), uuid.New()
	_, err := pool.Exec(ctx, `INSERT INTO practitioners (id, name) VALUES ($1, 'Mine'), ($2, 'Other')`, mine, other)
	require.NoError(t, err)

	feed := changefeed.NewPgFeed(pool, logging.Discard())
	t.Cleanup(func() { _ = feed.Close() })
	sub, err := feed.Subscribe(ctx, changefeed.TopicAppointments, mine)
	require.NoError(t, err)
	defer sub.Close()

	insert := `INSERT INTO appointments (id, practitioner_id, patient_id, appointment_date, appointment_time)
	           VALUES ($1, $2, $3, '2025-03-14', '09:05')`
	_, err = pool.Exec(ctx, insert, uuid.New(), other, uuid.New())
	require.NoError(t, err)
	apptID := uuid.New()
	_, err = pool.Exec(ctx, insert, apptID, mine, uuid.New())
	require.NoError(t, err)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, changefeed.EventInsert, ev.Type)
		var appt practice.Appointment
		require.NoError(t, json.Unmarshal(ev.Record, &appt))
		assert.Equal(t, apptID, appt.ID)
		assert.Equal(t, mine, appt.PractitionerID)
		assert.Equal(t, "2025-03-14", appt.Date)
		assert.Equal(t, "09:05", appt.Time)
		assert.Equal(t, practice.StatusPending, appt.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("no notification received")
	}

	_, err = pool.Exec(ctx, `UPDATE appointments SET status = 'confirmed' WHERE id = $1`, apptID)
	require.NoError(t, err)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, changefeed.EventUpdate, ev.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("no update notification received")
	}
}

func TestPgFeed_CloseEndsSubscription(t *testing.T) {
	pool := testhelper.SetupTestDB(t)
	feed := changefeed.NewPgFeed(pool, logging.Discard())
	t.Cleanup(func() { _ = feed.Close() })

	sub, err := feed.Subscribe(context.Background(), changefeed.TopicReviews, uuid.New())
	require.NoError(t, err)

	require.NoError(t, sub.Close())

	_, open := <-sub.Events()
	assert.False(t, open)
}

func TestPgFeed_SharesOneListenConnection(t *testing.T) {
	pool := testhelper.SetupTestDB(t)
	ctx := context.Background()

	feed := changefeed.NewPgFeed(pool, logging.Discard())
	t.Cleanup(func() { _ = feed.Close() })

	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	subs := make(map[uuid.UUID][]changefeed.Subscription)
	for _, id := range ids {
		_, err := pool.Exec(ctx, `INSERT INTO practitioners (id, name) VALUES ($1, 'Dr. Shared')`, id)
		require.NoError(t, err)
		for _, topic := range []changefeed.Topic{changefeed.TopicAppointments, changefeed.TopicReviews} {
			sub, err := feed.Subscribe(ctx, topic, id)
			require.NoError(t, err)
			subs[id] = append(subs[id], sub)
		}
	}

	pattern := make([]string, len(ids))
	for i, id := range ids {
		pattern[i] = id.String()
	}
	var listeners int
	require.NoError(t, pool.QueryRow(ctx, `
		SELECT count(*) FROM pg_stat_activity
		WHERE query LIKE 'LISTEN %' AND query ~ $1
	`, strings.Join(pattern, "|")).Scan(&listeners))
	assert.Equal(t, 1, listeners, "all channels must share one backend")

	// Dropping one practitioner's subscriptions leaves the others live.
	for _, sub := range subs[ids[0]] {
		require.NoError(t, sub.Close())
		_, open := <-sub.Events()
		assert.False(t, open)
	}

	_, err := pool.Exec(ctx, `
		INSERT INTO doctor_reviews (id, practitioner_id, rating, status)
		VALUES ($1, $2, 5, 'approved')
	`, uuid.New(), ids[1])
	require.NoError(t, err)

	select {
	case ev := <-subs[ids[1]][1].Events():
		assert.Equal(t, changefeed.EventInsert, ev.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("no review notification received")
	}

	require.NoError(t, feed.Close())
	for _, sub := range subs[ids[2]] {
		_, open := <-sub.Events()
		assert.False(t, open)
	}

	_, err = feed.Subscribe(ctx, changefeed.TopicReviews, ids[2])
	assert.ErrorIs(t, err, changefeed.ErrClosed)
}
