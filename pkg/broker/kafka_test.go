package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/uhyunpark/zklite/pkg/app/core"
	"github.com/uhyunpark/zklite/pkg/app/core/events"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaSinkPublish(t *testing.T) {
	w := &fakeWriter{}
	sink := newKafkaSink(w, "zklite.events", nil)

	owner := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	records := []events.Record{
		{Seq: 7, Event: events.NewOrder{OrderID: 3, Owner: owner, PairID: 2, Side: core.Buy, Price: core.U(5), Amount: core.U(100)}},
		{Seq: 8, Event: events.OrderClosed{OrderID: 3, Owner: owner, PairID: 2, Reason: core.Cancelled}},
	}
	require.NoError(t, sink.Publish(context.Background(), records))
	require.Len(t, w.msgs, 2)

	first := w.msgs[0]
	require.Equal(t, "pair:2", string(first.Key))
	require.Equal(t, "type", first.Headers[0].Key)
	require.Equal(t, "NewOrder", string(first.Headers[0].Value))
	require.Equal(t, "7", string(first.Headers[1].Value))

	var env events.Envelope
	require.NoError(t, json.Unmarshal(first.Value, &env))
	require.Equal(t, uint64(7), env.Seq)
	require.Equal(t, events.KindNewOrder, env.Type)
	require.Equal(t, "pair:2", string(w.msgs[1].Key))
}

func TestKafkaSinkWriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	sink := newKafkaSink(w, "zklite.events", nil)

	err := sink.Publish(context.Background(), []events.Record{{Seq: 1, Event: events.NewPairConfig{PairID: 1}}})
	require.ErrorIs(t, err, w.err)
	require.NoError(t, sink.Publish(context.Background(), nil))
}
