package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/ppiankov/vigia/internal/model"
)

type fakeProducer struct {
	records []*kgo.Record
	err     error
	closed  bool
}

func (f *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	var out kgo.ProduceResults
	for _, r := range rs {
		f.records = append(f.records, r)
		out = append(out, kgo.ProduceResult{Record: r, Err: f.err})
	}
	return out
}

func (f *fakeProducer) Close() { f.closed = true }

type failing struct{ calls int }

func (f *failing) Publish(context.Context, model.Transition) error {
	f.calls++
	return errors.New("unavailable")
}
func (f *failing) Close() error { return nil }

var transition = model.Transition{
	CycleID:    "c-1",
	TaxpayerID: "CAL080328S18",
	From:       "",
	To:         model.RiskHigh,
	Score:      80,
	At:         time.Date(2025, 3, 14, 7, 30, 0, 0, time.UTC),
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogPublisher(slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, p.Publish(context.Background(), transition))
	out := buf.String()
	assert.Contains(t, out, "rfc=CAL080328S18")
	assert.Contains(t, out, "from=NEW")
	assert.Contains(t, out, "to=HIGH")
}

func TestKafkaPublisher(t *testing.T) {
	fake := &fakeProducer{}
	p := &KafkaPublisher{client: fake, topic: "vigia.risk-transitions"}

	require.NoError(t, p.Publish(context.Background(), transition))
	require.Len(t, fake.records, 1)
	assert.Equal(t, "CAL080328S18", string(fake.records[0].Key))
	assert.Equal(t, "vigia.risk-transitions", fake.records[0].Topic)

	var decoded model.Transition
	require.NoError(t, json.Unmarshal(fake.records[0].Value, &decoded))
	assert.Equal(t, model.RiskHigh, decoded.To)

	fake.err = errors.New("broker down")
	assert.ErrorContains(t, p.Publish(context.Background(), transition), "broker down")

	require.NoError(t, p.Close())
	assert.True(t, fake.closed)
}

func TestMulti_PublishesToAll(t *testing.T) {
	f1, f2 := &failing{}, &failing{}
	var buf bytes.Buffer
	m := Multi{f1, NewLogPublisher(slog.New(slog.NewTextHandler(&buf, nil))), f2}

	err := m.Publish(context.Background(), transition)
	require.Error(t, err)
	assert.Equal(t, 1, f1.calls)
	assert.Equal(t, 1, f2.calls)
	assert.Contains(t, buf.String(), "risk level changed")
	assert.NoError(t, m.Close())
}

func TestNew_LogOnlyWithoutBrokers(t *testing.T) {
	p, err := New(model.AlertConfig{}, nil)
	require.NoError(t, err)
	assert.Len(t, p.(Multi), 1)
}
