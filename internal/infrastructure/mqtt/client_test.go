package mqtt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-cbus/internal/infrastructure/config"
)

// Most tests need a Mosquitto broker at 127.0.0.1:1883 (docker-compose
// provides one) and skip themselves when it is absent. Topic builder and
// zero-value tests run everywhere.

func testConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: clientID,
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// connectTest dials the broker, skipping when nothing listens, and hooks
// Close into cleanup.
func connectTest(t *testing.T, clientID string) *Client {
	t.Helper()

	cfg := testConfig(clientID)
	addr := fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port)
	conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
	if err != nil {
		t.Skipf("no MQTT broker at %s: %v", addr, err)
	}
	conn.Close()

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestConnect(t *testing.T) {
	client := connectTest(t, "cbusgate-test-connect")

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
}

func TestConnect_NothingListening(t *testing.T) {
	cfg := testConfig("cbusgate-test-refused")
	cfg.Broker.Port = 19999

	_, err := Connect(cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestClose(t *testing.T) {
	client := connectTest(t, "cbusgate-test-close")

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
}

func TestZeroValueClient(t *testing.T) {
	client := &Client{}

	if err := client.Close(); err != nil {
		t.Errorf("Close() on zero-value client error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true on zero-value client")
	}
}

func TestHealthCheck(t *testing.T) {
	client := connectTest(t, "cbusgate-test-health")

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() error = nil with cancelled context")
	}
}

func TestHealthCheck_AfterClose(t *testing.T) {
	client := connectTest(t, "cbusgate-test-health-closed")
	client.Close()

	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestPublishVariants(t *testing.T) {
	client := connectTest(t, "cbusgate-test-publish")

	cmdTopic := Topics{}.BridgeCommand("cbus", "HOME-254-56-6")
	stateTopic := Topics{}.BridgeState("cbus", "HOME-254-56-6")

	if err := client.Publish(cmdTopic, []byte(`{"command":"set_level","parameters":{"level":128}}`), 1, false); err != nil {
		t.Errorf("Publish() error = %v", err)
	}
	if err := client.PublishString(cmdTopic, `{"command":"on"}`, 1, false); err != nil {
		t.Errorf("PublishString() error = %v", err)
	}
	if err := client.PublishRetained(stateTopic, []byte(`{"level":255,"on":true}`)); err != nil {
		t.Errorf("PublishRetained() error = %v", err)
	}
	if err := client.Publish(stateTopic, nil, 1, true); err != nil {
		t.Errorf("Publish() nil payload error = %v", err)
	}
}

func TestPublishValidation(t *testing.T) {
	client := connectTest(t, "cbusgate-test-pub-validate")

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"qos too high", "graylogic/state/cbus/HOME-254-56-6", []byte("x"), 3, ErrInvalidQoS},
		{"oversize payload", "graylogic/state/cbus/HOME-254-56-6", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPublish_AfterClose(t *testing.T) {
	client := connectTest(t, "cbusgate-test-pub-closed")
	client.Close()

	err := client.Publish(Topics{}.BridgeHealth("cbus"), []byte("{}"), 1, false)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
}

func TestSubscribeTracking(t *testing.T) {
	client := connectTest(t, "cbusgate-test-sub")

	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d on fresh client, want 0", client.SubscriptionCount())
	}

	handler := func(string, []byte) error { return nil }
	topics := []string{
		Topics{}.BridgeCommands("cbus"),
		Topics{}.AllBridgeStates(),
		Topics{}.AllBridgeHealth(),
	}
	for _, topic := range topics {
		if err := client.Subscribe(topic, 1, handler); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topic, err)
		}
	}

	if got := client.SubscriptionCount(); got != len(topics) {
		t.Errorf("SubscriptionCount() = %d, want %d", got, len(topics))
	}
	for _, topic := range topics {
		if !client.HasSubscription(topic) {
			t.Errorf("HasSubscription(%s) = false", topic)
		}
	}
	if client.HasSubscription("graylogic/never/subscribed") {
		t.Error("HasSubscription() = true for unknown topic")
	}

	if err := client.Unsubscribe(topics[0]); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	if client.HasSubscription(topics[0]) {
		t.Error("HasSubscription() = true after Unsubscribe()")
	}
	if got := client.SubscriptionCount(); got != len(topics)-1 {
		t.Errorf("SubscriptionCount() = %d after unsubscribe, want %d", got, len(topics)-1)
	}
}

func TestSubscribeValidation(t *testing.T) {
	client := connectTest(t, "cbusgate-test-sub-validate")

	handler := func(string, []byte) error { return nil }

	if err := client.Subscribe("", 1, handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty) error = %v, want ErrInvalidTopic", err)
	}
	if err := client.Subscribe("graylogic/state/+/+", 3, handler); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos=3) error = %v, want ErrInvalidQoS", err)
	}
	if err := client.Subscribe("graylogic/state/+/+", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v, want ErrSubscribeFailed", err)
	}
	if err := client.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(empty) error = %v, want ErrInvalidTopic", err)
	}
}

func TestSubscribe_AfterClose(t *testing.T) {
	client := connectTest(t, "cbusgate-test-sub-closed")
	client.Close()

	handler := func(string, []byte) error { return nil }
	if err := client.Subscribe(Topics{}.AllBridgeStates(), 1, handler); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
	if err := client.Unsubscribe(Topics{}.AllBridgeStates()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() error = %v, want ErrNotConnected", err)
	}
}

func TestStateRoundtrip(t *testing.T) {
	pub := connectTest(t, "cbusgate-test-rt-pub")
	sub := connectTest(t, "cbusgate-test-rt-sub")

	topic := Topics{}.BridgeState("cbus", "HOME-254-56-6")
	payload := `{"level":128,"on":true,"source":"event_stream"}`
	received := make(chan string, 1)

	err := sub.Subscribe(topic, 1, func(_ string, p []byte) error {
		received <- string(p)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	time.Sleep(100 * time.Millisecond) // let the subscription settle

	if err := pub.PublishString(topic, payload, 1, false); err != nil {
		t.Fatalf("PublishString() error = %v", err)
	}

	select {
	case got := <-received:
		if got != payload {
			t.Errorf("received %q, want %q", got, payload)
		}
	case <-time.After(5 * time.Second):
		t.Error("timeout waiting for state message")
	}
}

// The gateway subscribes to graylogic/command/cbus/+ and parses the group
// address from the concrete topic, so the wildcard must deliver every
// per-group command with its full topic.
func TestCommandWildcardDelivery(t *testing.T) {
	pub := connectTest(t, "cbusgate-test-wild-pub")
	sub := connectTest(t, "cbusgate-test-wild-sub")

	var mu sync.Mutex
	seen := make(map[string]bool)

	err := sub.Subscribe(Topics{}.BridgeCommands("cbus"), 1, func(topic string, _ []byte) error {
		mu.Lock()
		seen[topic] = true
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	groups := []string{"HOME-254-56-1", "HOME-254-56-2", "HOME-254-56-3"}
	for _, addr := range groups {
		topic := Topics{}.BridgeCommand("cbus", addr)
		if err := pub.PublishString(topic, `{"command":"on"}`, 1, false); err != nil {
			t.Fatalf("PublishString(%s) error = %v", topic, err)
		}
	}

	time.Sleep(500 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, addr := range groups {
		topic := Topics{}.BridgeCommand("cbus", addr)
		if !seen[topic] {
			t.Errorf("no delivery for %s", topic)
		}
	}
}

// A handler error must not take down the paho delivery goroutine; later
// messages still arrive.
func TestHandlerErrorDoesNotStopDelivery(t *testing.T) {
	client := connectTest(t, "cbusgate-test-handler-err")

	topic := Topics{}.BridgeCommand("cbus", "HOME-254-56-99")
	calls := make(chan struct{}, 2)

	err := client.Subscribe(topic, 1, func(string, []byte) error {
		calls <- struct{}{}
		return errors.New("bad command payload")
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	for i := 0; i < 2; i++ {
		if err := client.PublishString(topic, "not json", 1, false); err != nil {
			t.Fatalf("PublishString() error = %v", err)
		}
	}

	for i := 0; i < 2; i++ {
		select {
		case <-calls:
		case <-time.After(2 * time.Second):
			t.Fatalf("handler call %d never arrived", i+1)
		}
	}
}

func TestConnectionCallbacks(t *testing.T) {
	client := connectTest(t, "cbusgate-test-callbacks")

	// Setting callbacks after Connect must not race paho's async handlers.
	// On-connect may or may not fire here; its real job is reconnects.
	connected := make(chan struct{}, 1)
	client.SetOnConnect(func() {
		select {
		case connected <- struct{}{}:
		default:
		}
	})
	client.SetOnDisconnect(func(error) {})

	select {
	case <-connected:
	case <-time.After(50 * time.Millisecond):
	}

	// Graceful close does not trigger the disconnect handler.
	client.Close()
}

func TestTopicBuilders(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{Topics{}.BridgeState("cbus", "HOME-254-56-6"), "graylogic/state/cbus/HOME-254-56-6"},
		{Topics{}.BridgeCommand("cbus", "HOME-254-56-6"), "graylogic/command/cbus/HOME-254-56-6"},
		{Topics{}.BridgeAck("cbus", "HOME-254-56-6"), "graylogic/ack/cbus/HOME-254-56-6"},
		{Topics{}.BridgeHealth("cbus"), "graylogic/health/cbus"},
		{Topics{}.BridgeDiscovery("cbus"), "graylogic/discovery/cbus"},
		{Topics{}.SystemStatus(), "graylogic/system/status"},
		{Topics{}.BridgeCommands("cbus"), "graylogic/command/cbus/+"},
		{Topics{}.AllBridgeStates(), "graylogic/state/+/+"},
		{Topics{}.AllBridgeHealth(), "graylogic/health/+"},
		{Topics{}.AllTopics(), "graylogic/#"},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("topic = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestEncodeStatus(t *testing.T) {
	payload := encodeStatus("cbusgate-core", "offline", "unexpected_disconnect")

	for _, want := range []string{`"status":"offline"`, `"client_id":"cbusgate-core"`, `"reason":"unexpected_disconnect"`} {
		if !strings.Contains(payload, want) {
			t.Errorf("encodeStatus() = %s, missing %s", payload, want)
		}
	}

	online := encodeStatus("cbusgate-core", "online", "")
	if strings.Contains(online, `"reason"`) {
		t.Errorf("encodeStatus() online payload carries empty reason: %s", online)
	}
}
