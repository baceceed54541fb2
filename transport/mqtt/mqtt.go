// Package mqtt provides an MQTT transport for reaching a microapp bridge
// through a broker.
//
// Command payloads are published base64-encoded to
// "{prefix}/{bridgeID}/request" and responses arrive on
// "{prefix}/{bridgeID}/response". A transport in the bridge role swaps the
// two, so a bridge process can serve hosts over the same broker.
package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/kabili207/microapp-go/transport"
)

// Compile-time interface check.
var _ transport.Transport = (*Transport)(nil)

const (
	// DefaultTopicPrefix is the default MQTT topic prefix for bridge traffic.
	DefaultTopicPrefix = "microapp"

	requestSuffix  = "request"
	responseSuffix = "response"
)

// Role selects which side of the request/response topic pair a transport is.
type Role int

const (
	// RoleHost publishes requests and receives responses.
	RoleHost Role = iota
	// RoleBridge receives requests and publishes responses.
	RoleBridge
)

// Config holds the configuration for an MQTT transport.
type Config struct {
	// Broker is the MQTT broker URL (e.g., "tcp://broker.example.com:1883").
	Broker string
	// Username for MQTT authentication. Leave empty if not required.
	Username string
	// Password for MQTT authentication. Leave empty if not required.
	Password string
	// UseTLS enables TLS for the MQTT connection.
	UseTLS bool
	// ClientID is the MQTT client identifier. If empty, a random one is generated.
	ClientID string
	// TopicPrefix is the MQTT topic prefix (default: "microapp").
	TopicPrefix string
	// BridgeID identifies the bridge (e.g., "desk-bridge").
	BridgeID string
	// Role selects the publish and subscribe topics. Defaults to RoleHost.
	Role Role
	// QoS is the MQTT quality of service for publish and subscribe.
	QoS byte
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Transport implements transport.Transport over MQTT.
type Transport struct {
	cfg          Config
	client       paho.Client
	log          *slog.Logger
	mu           sync.RWMutex
	connected    bool
	frameHandler transport.FrameHandler
	stateHandler transport.StateHandler
}

// New creates a new MQTT transport with the given configuration.
func New(cfg Config) *Transport {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Transport{
		cfg: cfg,
		log: cfg.Logger.WithGroup("mqtt"),
	}
}

// Start connects to the MQTT broker and begins listening for frames.
func (t *Transport) Start(ctx context.Context) error {
	if t.cfg.Broker == "" {
		return errors.New("broker URL is required")
	}
	if t.cfg.BridgeID == "" {
		return errors.New("bridge ID is required")
	}

	clientID := t.cfg.ClientID
	if clientID == "" {
		clientID = "microapp-" + randomString(16)
	}

	opts := paho.NewClientOptions().
		AddBroker(t.cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(2 * time.Minute).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetCleanSession(true).
		SetOrderMatters(true).
		SetOnConnectHandler(t.onConnected).
		SetConnectionLostHandler(t.onConnectionLost).
		SetReconnectingHandler(t.onReconnecting)

	if t.cfg.Username != "" {
		opts.SetUsername(t.cfg.Username)
	}
	if t.cfg.Password != "" {
		opts.SetPassword(t.cfg.Password)
	}
	if t.cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})
	}

	t.client = paho.NewClient(opts)

	t.log.Debug("connecting to MQTT broker", "broker", t.cfg.Broker, "client_id", clientID)

	token := t.client.Connect()
	if !waitToken(ctx, token, 30*time.Second) {
		return errors.New("connection timeout")
	}
	if token.Error() != nil {
		return fmt.Errorf("connecting to broker: %w", token.Error())
	}

	return nil
}

// Stop gracefully disconnects from the MQTT broker.
func (t *Transport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil {
		t.client.Disconnect(1000)
		t.connected = false
	}
	return nil
}

// IsConnected returns true if the transport is connected to the broker.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected && t.client != nil && t.client.IsConnected()
}

// SetFrameHandler sets the callback for incoming frame payloads.
func (t *Transport) SetFrameHandler(fn transport.FrameHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frameHandler = fn
}

// SetStateHandler sets the callback for transport state changes.
func (t *Transport) SetStateHandler(fn transport.StateHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateHandler = fn
}

// SendFrame publishes payload to the outgoing topic.
func (t *Transport) SendFrame(payload []byte) error {
	if !t.IsConnected() {
		return transport.ErrNotConnected
	}

	token := t.client.Publish(t.publishTopic(), t.cfg.QoS, false, encodePayload(payload))
	if !token.WaitTimeout(10 * time.Second) {
		return errors.New("timeout publishing to MQTT")
	}
	return token.Error()
}

// topic returns "{prefix}/{bridgeID}/{suffix}".
func (t *Transport) topic(suffix string) string {
	return t.cfg.TopicPrefix + "/" + t.cfg.BridgeID + "/" + suffix
}

func (t *Transport) publishTopic() string {
	if t.cfg.Role == RoleBridge {
		return t.topic(responseSuffix)
	}
	return t.topic(requestSuffix)
}

func (t *Transport) subscribeTopic() string {
	if t.cfg.Role == RoleBridge {
		return t.topic(requestSuffix)
	}
	return t.topic(responseSuffix)
}

func (t *Transport) subscribe() {
	topic := t.subscribeTopic()
	t.client.Subscribe(topic, t.cfg.QoS, t.handleMessage)
	t.log.Debug("subscribed to bridge topic", "topic", topic)
}

func (t *Transport) handleMessage(_ paho.Client, message paho.Message) {
	t.dispatch(message.Payload())
}

func (t *Transport) dispatch(raw []byte) {
	t.mu.RLock()
	handler := t.frameHandler
	t.mu.RUnlock()

	if handler == nil {
		return
	}

	payload, err := decodePayload(raw)
	if err != nil {
		t.log.Debug("failed to decode base64 payload", "error", err)
		return
	}

	handler(payload, transport.FrameSourceMQTT)
}

func encodePayload(payload []byte) string {
	return base64.StdEncoding.EncodeToString(payload)
}

func decodePayload(raw []byte) ([]byte, error) {
	return base64.StdEncoding.DecodeString(string(raw))
}

// waitToken waits for token until timeout or ctx is done.
func waitToken(ctx context.Context, token paho.Token, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (t *Transport) onConnected(_ paho.Client) {
	t.mu.Lock()
	t.connected = true
	handler := t.stateHandler
	t.mu.Unlock()

	t.subscribe()
	t.log.Info("connected to MQTT broker", "broker", t.cfg.Broker)

	if handler != nil {
		handler(t, transport.EventConnected)
	}
}

func (t *Transport) onConnectionLost(_ paho.Client, err error) {
	t.mu.Lock()
	t.connected = false
	handler := t.stateHandler
	t.mu.Unlock()

	t.log.Error("MQTT connection lost", "error", err)

	if handler != nil {
		handler(t, transport.EventDisconnected)
	}
}

func (t *Transport) onReconnecting(_ paho.Client, _ *paho.ClientOptions) {
	t.mu.RLock()
	handler := t.stateHandler
	t.mu.RUnlock()

	t.log.Info("reconnecting to MQTT broker")

	if handler != nil {
		handler(t, transport.EventReconnecting)
	}
}

func randomString(n int) string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return string(b)
}
