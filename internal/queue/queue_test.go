package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/tinymail/internal/domain"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func setupQueue(t *testing.T) (*RedisQueue, *clock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	clk := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	q := NewRedisQueue(client, "test")
	q.now = clk.now
	return q, clk, mr
}

func task(id string) *domain.DispatchTask {
	return &domain.DispatchTask{ID: id, ContactID: "c-" + id, Subject: "hi", HTMLTemplate: "<p>x</p>"}
}

func TestEnqueueClaimAck(t *testing.T) {
	q, clk, _ := setupQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, task("t1"), clk.now()))

	c, err := q.Claim(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "t1", c.Task.ID)
	assert.Equal(t, "c-t1", c.Task.ContactID)
	assert.Equal(t, 1, c.Deliveries)

	d, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, Depth{InFlight: 1}, d)

	require.NoError(t, q.Ack(ctx, "t1"))
	d, err = q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, Depth{}, d)

	_, err = q.Claim(ctx, time.Minute)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestDelayedTaskWaitsForPromotion(t *testing.T) {
	q, clk, _ := setupQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, task("later"), clk.now().Add(time.Hour)))

	_, err := q.Claim(ctx, time.Minute)
	assert.ErrorIs(t, err, ErrEmpty)

	n, err := q.Promote(ctx, clk.now().Add(59*time.Minute), 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = q.Promote(ctx, clk.now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	c, err := q.Claim(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "later", c.Task.ID)
}

func TestRescheduleStoresUpdatedTask(t *testing.T) {
	q, clk, _ := setupQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, task("t1"), clk.now()))
	c, err := q.Claim(ctx, time.Minute)
	require.NoError(t, err)

	c.Task.MailID = "mail-1"
	c.Task.Deferrals++
	require.NoError(t, q.Reschedule(ctx, &c.Task, clk.now().Add(time.Hour)))

	d, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, Depth{Delayed: 1}, d)

	_, err = q.Promote(ctx, clk.now().Add(time.Hour), 10)
	require.NoError(t, err)
	again, err := q.Claim(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "mail-1", again.Task.MailID)
	assert.Equal(t, 1, again.Task.Deferrals)
	assert.Equal(t, 1, again.Deliveries, "a clean reschedule resets the delivery count")
}

func TestRecoverExpiredLeases(t *testing.T) {
	q, clk, _ := setupQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, task("t1"), clk.now()))
	_, err := q.Claim(ctx, time.Minute)
	require.NoError(t, err)

	requeued, dead, err := q.Recover(ctx, clk.now().Add(30*time.Second), 3)
	require.NoError(t, err)
	assert.Zero(t, requeued+dead, "lease still valid")

	requeued, dead, err = q.Recover(ctx, clk.now().Add(2*time.Minute), 3)
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)
	assert.Zero(t, dead)

	c, err := q.Claim(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Deliveries)
}

func TestRecoverDeadLettersExhaustedTasks(t *testing.T) {
	q, clk, _ := setupQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, task("t1"), clk.now()))
	for i := 0; i < 2; i++ {
		_, err := q.Claim(ctx, time.Minute)
		require.NoError(t, err)
		clk.advance(2 * time.Minute)
		_, _, err = q.Recover(ctx, clk.now(), 2)
		require.NoError(t, err)
	}

	d, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, Depth{Dead: 1}, d)

	require.NoError(t, q.Delete(ctx, "t1"))
	d, err = q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, Depth{}, d)
}

func TestDeleteCancelsQueuedAndInFlight(t *testing.T) {
	q, clk, _ := setupQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, task("queued"), clk.now()))
	require.NoError(t, q.Enqueue(ctx, task("deferred"), clk.now().Add(time.Hour)))

	require.NoError(t, q.Delete(ctx, "deferred"))
	assert.ErrorIs(t, q.Delete(ctx, "deferred"), ErrNotFound)

	c, err := q.Claim(ctx, time.Minute)
	require.NoError(t, err)
	require.NoError(t, q.Delete(ctx, c.Task.ID))
	assert.ErrorIs(t, q.Reschedule(ctx, &c.Task, clk.now()), ErrNotFound)

	d, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, Depth{}, d)
}

func TestClaimSkipsDeletedReadyIDs(t *testing.T) {
	q, clk, mr := setupQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, task("t1"), clk.now()))
	require.NoError(t, q.Enqueue(ctx, task("t2"), clk.now()))
	mr.HDel(q.tasks, "t1")

	c, err := q.Claim(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "t2", c.Task.ID)
}

func TestEnqueueRequiresID(t *testing.T) {
	q, clk, _ := setupQueue(t)
	assert.Error(t, q.Enqueue(context.Background(), &domain.DispatchTask{}, clk.now()))
}
