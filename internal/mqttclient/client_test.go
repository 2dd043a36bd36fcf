package mqttclient

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triplog/tracker-server/internal/mqttbroker"
)

type message struct {
	topic   string
	payload string
}

func TestClientReceivesAndPublishes(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	broker := mqttbroker.New(logger)
	_, err := broker.Start("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = broker.Stop() })

	url := "tcp://" + broker.Addr().String()
	got := make(chan message, 64)

	c, err := Connect(Options{BrokerURL: url, ClientID: "triplog-test", Filter: "trackers/+/fixes"},
		func(_ context.Context, topic string, payload []byte) {
			got <- message{topic: topic, payload: string(payload)}
		}, logger)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	// The subscription is made from the connect callback.
	require.Eventually(t, func() bool {
		return broker.Publish("trackers/warmup/fixes", []byte("warmup")) == nil && len(got) > 0
	}, 5*time.Second, 50*time.Millisecond)

	watcher := mqtt.NewClient(mqtt.NewClientOptions().AddBroker(url).SetClientID("watcher").SetProtocolVersion(4))
	tok := watcher.Connect()
	require.True(t, tok.WaitTimeout(5*time.Second))
	require.NoError(t, tok.Error())
	t.Cleanup(func() { watcher.Disconnect(100) })

	points := make(chan message, 1)
	sub := watcher.Subscribe("trackers/+/points", 0, func(_ mqtt.Client, m mqtt.Message) {
		points <- message{topic: m.Topic(), payload: string(m.Payload())}
	})
	require.True(t, sub.WaitTimeout(5*time.Second))
	require.NoError(t, sub.Error())

	require.NoError(t, broker.Publish("trackers/vehicle_01/fixes", []byte(`{"lat":1,"lon":2}`)))
	deadline := time.After(5 * time.Second)
	for received := false; !received; {
		select {
		case m := <-got:
			if m.topic == "trackers/warmup/fixes" {
				continue
			}
			assert.Equal(t, "trackers/vehicle_01/fixes", m.topic)
			assert.Equal(t, `{"lat":1,"lon":2}`, m.payload)
			received = true
		case <-deadline:
			t.Fatal("client did not receive fix")
		}
	}

	require.NoError(t, c.Publish("trackers/vehicle_01/points", []byte(`{"id":"vehicle_01"}`)))
	select {
	case m := <-points:
		assert.Equal(t, "trackers/vehicle_01/points", m.topic)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not receive point")
	}
}

func TestConnectFailure(t *testing.T) {
	_, err := Connect(Options{BrokerURL: "tcp://127.0.0.1:1", Filter: "x", Timeout: time.Second}, func(context.Context, string, []byte) {}, nil)
	assert.Error(t, err)
}
