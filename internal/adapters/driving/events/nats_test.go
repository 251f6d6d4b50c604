package events

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
)

type fakeMessage struct {
	data    []byte
	settled string
}

func (m *fakeMessage) Payload() []byte { return m.data }
func (m *fakeMessage) Ack() error      { m.settled = "ack"; return nil }
func (m *fakeMessage) Nak() error      { m.settled = "nak"; return nil }
func (m *fakeMessage) Term() error     { m.settled = "term"; return nil }

type fakeChanges struct {
	err    error
	events []domain.LifecycleEvent
}

func (f *fakeChanges) HandleLifecycle(ctx context.Context, event domain.LifecycleEvent) (bool, error) {
	f.events = append(f.events, event)
	return f.err == nil, f.err
}

func (f *fakeChanges) Route(ctx context.Context, record domain.Record, kind domain.ChangeKind, synchronous bool) bool {
	return false
}

func (f *fakeChanges) ProcessUpsert(ctx context.Context, task *domain.Task) error { return nil }
func (f *fakeChanges) ProcessDelete(ctx context.Context, task *domain.Task) error { return nil }

func TestNewSubscriber_Defaults(t *testing.T) {
	s := NewSubscriber(Config{URL: "nats://localhost:4222"}, &fakeChanges{})

	assert.Equal(t, DefaultStream, s.cfg.Stream)
	assert.Equal(t, DefaultSubject, s.cfg.Subject)
	assert.Equal(t, DefaultQueue, s.cfg.Queue)
	assert.Equal(t, 64, s.cfg.MaxAckPending)
}

func TestSubscriber_Handle(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		err     error
		want    string
		handled int
	}{
		{
			name:    "routed event is acked",
			payload: `{"record_id":12,"record_type":"Page","lifecycle":"publish"}`,
			want:    "ack",
			handled: 1,
		},
		{
			name:    "undecodable payload is terminated",
			payload: `not json`,
			want:    "term",
		},
		{
			name:    "invalid event is terminated",
			payload: `{"record_id":0,"record_type":"Page","lifecycle":"publish"}`,
			err:     fmt.Errorf("%w: record_id must be positive", domain.ErrInvalidInput),
			want:    "term",
			handled: 1,
		},
		{
			name:    "unknown record type is terminated",
			payload: `{"record_id":3,"record_type":"Ghost","lifecycle":"write"}`,
			err:     domain.ErrUnknownRecordType,
			want:    "term",
			handled: 1,
		},
		{
			name:    "transient failure is redelivered",
			payload: `{"record_id":3,"record_type":"Page","lifecycle":"write"}`,
			err:     errors.New("queue unavailable"),
			want:    "nak",
			handled: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changes := &fakeChanges{err: tt.err}
			s := NewSubscriber(Config{}, changes)
			msg := &fakeMessage{data: []byte(tt.payload)}

			s.Handle(context.Background(), msg)

			assert.Equal(t, tt.want, msg.settled)
			assert.Len(t, changes.events, tt.handled)
		})
	}
}

func TestSubscriber_HandleDecodesEvent(t *testing.T) {
	changes := &fakeChanges{}
	s := NewSubscriber(Config{}, changes)

	s.Handle(context.Background(), &fakeMessage{
		data: []byte(`{"record_id":5,"record_type":"BlogPost","lifecycle":"unpublish","synchronous":true}`),
	})

	assert.Equal(t, []domain.LifecycleEvent{{
		RecordID:    5,
		RecordType:  "BlogPost",
		Lifecycle:   domain.LifecycleUnpublish,
		Synchronous: true,
	}}, changes.events)
}

func TestSubscriber_StartRequiresConnect(t *testing.T) {
	s := NewSubscriber(Config{}, &fakeChanges{})
	assert.Error(t, s.Start())
	assert.ErrorIs(t, s.Ping(context.Background()), domain.ErrServiceUnavailable)
	assert.NoError(t, s.Close())
}
