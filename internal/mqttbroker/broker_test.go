package mqttbroker

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{filter: "trackers/v1/fixes", topic: "trackers/v1/fixes", want: true},
		{filter: "trackers/v1/fixes", topic: "trackers/v2/fixes", want: false},
		{filter: "trackers/+/fixes", topic: "trackers/v2/fixes", want: true},
		{filter: "trackers/+/fixes", topic: "trackers/v2/points", want: false},
		{filter: "trackers/+/fixes", topic: "trackers/v2/fixes/extra", want: false},
		{filter: "trackers/+", topic: "trackers", want: false},
		{filter: "trackers/#", topic: "trackers", want: true},
		{filter: "trackers/#", topic: "trackers/v1/points", want: true},
		{filter: "#", topic: "anything/at/all", want: true},
		{filter: "#", topic: "$SYS/broker", want: false},
		{filter: "+/broker", topic: "$SYS/broker", want: false},
		{filter: "$SYS/#", topic: "$SYS/broker", want: true},
		{filter: "trackers/+/+", topic: "trackers//fixes", want: true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Match(tt.filter, tt.topic), "%s vs %s", tt.filter, tt.topic)
	}
}

func TestValidFilter(t *testing.T) {
	for _, f := range []string{"a", "a/+/b", "a/#", "#", "+", "+/+"} {
		assert.True(t, ValidFilter(f), f)
	}
	for _, f := range []string{"", "a/#/b", "a#", "a/b+", "a/+b/c"} {
		assert.False(t, ValidFilter(f), f)
	}
	assert.True(t, ValidTopic("trackers/v1/points"))
	assert.False(t, ValidTopic("trackers/+/points"))
	assert.False(t, ValidTopic(""))
}

func TestEncodeRemainingLength(t *testing.T) {
	assert.Equal(t, []byte{0x00}, encodeRemainingLength(0))
	assert.Equal(t, []byte{0x7F}, encodeRemainingLength(127))
	assert.Equal(t, []byte{0x80, 0x01}, encodeRemainingLength(128))
	assert.Equal(t, []byte{0xFF, 0x7F}, encodeRemainingLength(16383))
	assert.Equal(t, []byte{0x80, 0x80, 0x01}, encodeRemainingLength(16384))
}

func startBroker(t *testing.T) *Broker {
	t.Helper()

	b := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := b.Start("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Stop() })
	return b
}

func connect(t *testing.T, b *Broker, clientID string) mqtt.Client {
	t.Helper()

	opts := mqtt.NewClientOptions().
		AddBroker("tcp://" + b.Addr().String()).
		SetClientID(clientID).
		SetProtocolVersion(4).
		SetAutoReconnect(false).
		SetConnectTimeout(5 * time.Second)
	client := mqtt.NewClient(opts)

	token := client.Connect()
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())
	t.Cleanup(func() { client.Disconnect(100) })
	return client
}

func TestBrokerDeliversToHandlerAndSubscribers(t *testing.T) {
	b := startBroker(t)

	received := make(chan PublishMessage, 4)
	b.SetPublishHandler(func(_ context.Context, msg PublishMessage) {
		received <- msg
	})

	subscriber := connect(t, b, "dashboard")
	forwarded := make(chan mqtt.Message, 4)
	token := subscriber.Subscribe("trackers/+/fixes", 0, func(_ mqtt.Client, m mqtt.Message) {
		forwarded <- m
	})
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())

	tracker := connect(t, b, "vehicle_01")
	pub := tracker.Publish("trackers/vehicle_01/fixes", 1, false, []byte(`{"lat":52.5,"lon":13.4}`))
	require.True(t, pub.WaitTimeout(5*time.Second))
	require.NoError(t, pub.Error())

	select {
	case msg := <-received:
		assert.Equal(t, "vehicle_01", msg.ClientID)
		assert.Equal(t, "trackers/vehicle_01/fixes", msg.Topic)
		assert.JSONEq(t, `{"lat":52.5,"lon":13.4}`, string(msg.Payload))
		assert.Equal(t, byte(1), msg.QoS)
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not receive publish")
	}

	select {
	case m := <-forwarded:
		assert.Equal(t, "trackers/vehicle_01/fixes", m.Topic())
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber did not receive forwarded publish")
	}

	assert.Equal(t, 2, b.Clients())
}

func TestBrokerPublish(t *testing.T) {
	b := startBroker(t)

	subscriber := connect(t, b, "dashboard")
	got := make(chan mqtt.Message, 4)
	token := subscriber.Subscribe("trackers/#", 0, func(_ mqtt.Client, m mqtt.Message) {
		got <- m
	})
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())

	require.NoError(t, b.Publish("trackers/vehicle_01/points", []byte(`{"id":"vehicle_01"}`)))
	assert.Error(t, b.Publish("trackers/+/points", nil))

	select {
	case m := <-got:
		assert.Equal(t, "trackers/vehicle_01/points", m.Topic())
		assert.Equal(t, `{"id":"vehicle_01"}`, string(m.Payload()))
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber did not receive broker publish")
	}

	unsub := subscriber.Unsubscribe("trackers/#")
	require.True(t, unsub.WaitTimeout(5*time.Second))
	require.NoError(t, unsub.Error())

	require.NoError(t, b.Publish("trackers/vehicle_01/points", []byte(`{}`)))
	select {
	case m := <-got:
		t.Fatalf("unexpected delivery after unsubscribe: %s", m.Topic())
	case <-time.After(200 * time.Millisecond):
	}
}

func TestBrokerHandlerPanicDoesNotKillConnection(t *testing.T) {
	b := startBroker(t)

	calls := make(chan struct{}, 4)
	b.SetPublishHandler(func(_ context.Context, msg PublishMessage) {
		calls <- struct{}{}
		if string(msg.Payload) == "boom" {
			panic("boom")
		}
	})

	tracker := connect(t, b, "vehicle_01")
	for _, payload := range []string{"boom", "ok"} {
		tok := tracker.Publish("trackers/vehicle_01/fixes", 1, false, []byte(payload))
		require.True(t, tok.WaitTimeout(5*time.Second))
		require.NoError(t, tok.Error())
	}

	for i := 0; i < 2; i++ {
		select {
		case <-calls:
		case <-time.After(5 * time.Second):
			t.Fatal("handler not invoked")
		}
	}
}

func TestBrokerStopIsIdempotent(t *testing.T) {
	b := New(nil)
	errCh, err := b.Start("127.0.0.1:0")
	require.NoError(t, err)
	require.NotNil(t, b.Addr())

	require.NoError(t, b.Stop())
	require.NoError(t, b.Stop())

	select {
	case err, ok := <-errCh:
		assert.False(t, ok)
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("accept loop did not terminate")
	}
	assert.Nil(t, b.Addr())
}
