package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/threadworks/erp_backend/config"
	"github.com/threadworks/erp_backend/models"
)

type fakePublisher struct {
	mu       sync.Mutex
	fail     error
	messages []config.LedgerEventMessage
}

func (p *fakePublisher) Publish(_ context.Context, msg config.LedgerEventMessage) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	if p.fail != nil {
		return "", p.fail
	}
	return fmt.Sprintf("msg-%d", len(p.messages)), nil
}

func (p *fakePublisher) setFail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = err
}

func (p *fakePublisher) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

func outboxStatus(t *testing.T, ctx context.Context, entryId string) models.LedgerOutboxStatus {
	t.Helper()
	statuses, err := models.GetLedgerOutboxStatus(ctx, models.SourceDocManual, 0)
	require.NoError(t, err)
	for _, s := range statuses {
		if s.EntryId == entryId {
			return s
		}
	}
	t.Fatalf("no outbox row for %s", entryId)
	return models.LedgerOutboxStatus{}
}

func TestDispatcherPublishesPendingEvents(t *testing.T) {
	e, f := newTestEngine(t, "tenant-outbox")
	cloth := f.Material(t, "Cloth")
	first := receiveRM(t, e, f.Ctx, cloth.ID, f.Main.ID, "10", "5", 1)
	receiveRM(t, e, f.Ctx, cloth.ID, f.Main.ID, "5", "5", 2)

	pub := &fakePublisher{}
	d := NewOutboxDispatcher(e.DB, quietLogger(), pub)
	sent, err := d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	require.Equal(t, 2, pub.calls())

	msg := pub.messages[0]
	assert.Equal(t, "tenant-outbox", msg.TenantId)
	assert.Equal(t, first.EntryId, msg.EntryId)
	assert.Equal(t, string(models.LedgerRawMaterial), msg.Ledger)
	assert.Equal(t, string(models.MovementReceipt), msg.MovementKind)
	assert.NotEmpty(t, msg.Payload)

	status := outboxStatus(t, f.Ctx, first.EntryId)
	assert.Equal(t, models.OutboxPublishStatusSent, status.PublishStatus)
	assert.Equal(t, 1, status.PublishAttempts)
	assert.NotNil(t, status.PublishedAt)

	// nothing left to claim
	sent, err = d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Equal(t, 2, pub.calls())

	counts, err := models.CountLedgerOutboxByStatus(f.Ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[models.OutboxPublishStatusSent])
}

func TestDispatcherBacksOffAfterFailure(t *testing.T) {
	e, f := newTestEngine(t, "tenant-outbox")
	cloth := f.Material(t, "Cloth")
	res := receiveRM(t, e, f.Ctx, cloth.ID, f.Main.ID, "10", "5", 1)

	pub := &fakePublisher{fail: errors.New("broker unavailable")}
	d := NewOutboxDispatcher(e.DB, quietLogger(), pub)
	d.InitialBackoff = time.Hour

	sent, err := d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)

	status := outboxStatus(t, f.Ctx, res.EntryId)
	assert.Equal(t, models.OutboxPublishStatusFailed, status.PublishStatus)
	require.NotNil(t, status.LastPublishError)
	assert.Equal(t, "broker unavailable", *status.LastPublishError)
	require.NotNil(t, status.NextAttemptAt)
	assert.True(t, status.NextAttemptAt.After(time.Now().Add(30*time.Minute)))

	// not due yet
	_, err = d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, pub.calls())

	_, err = models.ReplayLedgerOutbox(f.Ctx, res.EntryId)
	require.NoError(t, err)
	pub.setFail(nil)
	time.Sleep(10 * time.Millisecond)

	sent, err = d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, models.OutboxPublishStatusSent, outboxStatus(t, f.Ctx, res.EntryId).PublishStatus)
}

func TestDispatcherMovesExhaustedEventsToDead(t *testing.T) {
	e, f := newTestEngine(t, "tenant-outbox")
	cloth := f.Material(t, "Cloth")
	res := receiveRM(t, e, f.Ctx, cloth.ID, f.Main.ID, "10", "5", 1)

	pub := &fakePublisher{fail: errors.New("rejected")}
	d := NewOutboxDispatcher(e.DB, quietLogger(), pub)
	d.MaxAttempts = 1

	_, err := d.DispatchOnce(context.Background())
	require.NoError(t, err)
	status := outboxStatus(t, f.Ctx, res.EntryId)
	assert.Equal(t, models.OutboxPublishStatusDead, status.PublishStatus)
	assert.Nil(t, status.NextAttemptAt)

	replayed, err := models.ReplayLedgerOutbox(f.Ctx, res.EntryId)
	require.NoError(t, err)
	assert.Equal(t, models.OutboxPublishStatusFailed, replayed.PublishStatus)
	assert.Zero(t, replayed.PublishAttempts)

	pub.setFail(nil)
	time.Sleep(10 * time.Millisecond)
	sent, err := d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	_, err = models.ReplayLedgerOutbox(f.Ctx, res.EntryId)
	var state *models.InvalidDocumentStateError
	require.True(t, errors.As(err, &state), "got %v", err)
	assert.Equal(t, models.OutboxPublishStatusSent, state.Status)

	_, err = models.ReplayLedgerOutbox(f.Ctx, "no-such-entry")
	assert.ErrorIs(t, err, models.ErrRecordNotFound)
}

func TestBackoffDoublesUpToCap(t *testing.T) {
	d := NewOutboxDispatcher(nil, nil, nil)
	d.InitialBackoff = time.Second
	d.MaxBackoff = 5 * time.Second
	assert.Equal(t, time.Second, d.backoff(1))
	assert.Equal(t, 2*time.Second, d.backoff(2))
	assert.Equal(t, 4*time.Second, d.backoff(3))
	assert.Equal(t, 5*time.Second, d.backoff(4))

	sent, err := d.DispatchOnce(context.Background())
	assert.NoError(t, err)
	assert.Zero(t, sent)
}
