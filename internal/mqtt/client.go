package mqtt

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"maps"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/jkaberg/sensor-stream/internal/config"
)

// Topics are the per-device MQTT topics.
type Topics struct {
	Base         string
	Readings     string
	ConfigSet    string
	Status       string
	Availability string
}

// TopicsFor returns the topics rooted at sensor_stream/<deviceID>.
func TopicsFor(deviceID string) Topics {
	base := BuildCleanTopic("sensor_stream", deviceID)
	return Topics{
		Base:         base,
		Readings:     base + "/readings",
		ConfigSet:    base + "/config/set",
		Status:       base + "/status",
		Availability: base + "/availability",
	}
}

// Handler receives the topic and payload of an incoming message.
type Handler func(topic string, payload []byte)

// Client wraps the MQTT client with additional functionality
type Client struct {
	client mqtt.Client
	topics Topics
	logger *logrus.Logger

	// The session is clean, so the broker forgets subscriptions on every
	// disconnect; subs are replayed after each reconnect.
	mu        sync.Mutex
	subs      map[string]Handler
	connected atomic.Bool
}

func newClient(topics Topics, logger *logrus.Logger) *Client {
	return &Client{
		topics: topics,
		logger: logger,
		subs:   make(map[string]Handler),
	}
}

// NewClient creates a new MQTT client with support for both WebSocket and standard MQTT protocols
func NewClient(mqttURL, deviceID string, logger *logrus.Logger) (*Client, error) {
	// Parse the MQTT URL
	parsedURL, err := url.Parse(mqttURL)
	if err != nil {
		return nil, fmt.Errorf("invalid MQTT URL: %w", err)
	}

	// Generate client ID
	clientID := fmt.Sprintf("sensor-stream-%s", deviceID)
	topics := TopicsFor(deviceID)

	// Configure MQTT client options
	opts := mqtt.NewClientOptions()

	// Handle different protocol schemes
	var brokerURL string
	switch parsedURL.Scheme {
	case "ws":
		// WebSocket MQTT - use URL as-is
		brokerURL = mqttURL
		logger.Debug("Using WebSocket MQTT connection")
	case "wss":
		brokerURL = mqttURL
		logger.Debug("Using secure WebSocket MQTT connection")
		opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: true})
	case "mqtt":
		// Standard MQTT - convert to tcp://
		brokerURL = strings.Replace(mqttURL, "mqtt://", "tcp://", 1)
		logger.Debug("Using standard MQTT connection (TCP)")
	case "mqtts":
		// Secure MQTT - convert to ssl://
		brokerURL = strings.Replace(mqttURL, "mqtts://", "ssl://", 1)
		logger.Debug("Using secure MQTT connection (SSL/TLS)")
		// Disable certificate verification to support self-signed certs
		opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: true})
	default:
		return nil, fmt.Errorf("unsupported protocol scheme: %s (supported: ws, wss, mqtt, mqtts)", parsedURL.Scheme)
	}

	opts.AddBroker(brokerURL)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(1 * time.Second)
	opts.SetConnectTimeout(config.MQTTTimeout)
	opts.SetMaxReconnectInterval(10 * time.Second)
	opts.SetWill(topics.Availability, "offline", 1, true)

	// Set credentials if provided in URL
	if parsedURL.User != nil {
		username := parsedURL.User.Username()
		password, _ := parsedURL.User.Password()
		opts.SetUsername(username)
		opts.SetPassword(password)
	}

	// Set connection handlers
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		logger.WithError(err).Warn("MQTT connection lost")
	})

	opts.SetReconnectingHandler(func(client mqtt.Client, opts *mqtt.ClientOptions) {
		logger.Debug("MQTT reconnecting...")
	})

	c := newClient(topics, logger)
	opts.SetOnConnectHandler(func(mqtt.Client) { c.onConnect() })

	// Create client
	c.client = mqtt.NewClient(opts)

	// Connect to broker
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	logger.WithFields(logrus.Fields{
		"broker":    cleanURL(mqttURL),
		"protocol":  parsedURL.Scheme,
		"client_id": clientID,
	}).Info("MQTT client connected")

	return c, nil
}

// onConnect runs on every successful connection. paho calls it on its own
// goroutine, so blocking on subscribe tokens here is fine.
func (c *Client) onConnect() {
	if !c.connected.Swap(true) {
		c.logger.Debug("MQTT connected")
		return
	}
	c.logger.Info("MQTT reconnected")
	c.resubscribe()
}

func (c *Client) resubscribe() {
	c.mu.Lock()
	subs := maps.Clone(c.subs)
	c.mu.Unlock()

	for topic, handler := range subs {
		if err := c.subscribe(topic, handler); err != nil {
			c.logger.WithError(err).WithField("topic", topic).Error("Failed to restore MQTT subscription")
			continue
		}
		c.logger.WithField("topic", topic).Debug("Restored MQTT subscription")
	}
}

// Publish publishes a message to the specified topic
func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	qos := byte(1) // At least once delivery
	token := c.client.Publish(topic, qos, retained, payload)

	// Avoid potential deadlocks: wait for completion with a timeout instead of indefinitely.
	if !token.WaitTimeout(config.MQTTTimeout) {
		return fmt.Errorf("publish to topic %s timed out after %s", topic, config.MQTTTimeout)
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}

	c.logger.WithFields(logrus.Fields{
		"topic":    topic,
		"size":     len(payload),
		"retained": retained,
	}).Debug("Published MQTT message")

	return nil
}

// Subscribe subscribes to a topic with a message handler and keeps the
// subscription across reconnects. Handlers run on the paho client goroutine
// and must not block.
func (c *Client) Subscribe(topic string, handler Handler) error {
	if err := c.subscribe(topic, handler); err != nil {
		return err
	}

	c.mu.Lock()
	c.subs[topic] = handler
	c.mu.Unlock()

	c.logger.WithField("topic", topic).Debug("Subscribed to MQTT topic")
	return nil
}

func (c *Client) subscribe(topic string, handler Handler) error {
	qos := byte(1)
	token := c.client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})

	// Prevent indefinite blocking on slow or lost connections.
	if !token.WaitTimeout(config.MQTTTimeout) {
		return fmt.Errorf("subscribe to topic %s timed out after %s", topic, config.MQTTTimeout)
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, token.Error())
	}
	return nil
}

// IsConnected returns true if the client is connected
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Disconnect disconnects the client
func (c *Client) Disconnect(quiesce uint) {
	c.client.Disconnect(quiesce)
	c.logger.Debug("MQTT client disconnected")
}

// cleanURL removes credentials from URL for logging
func cleanURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	if parsed.User != nil {
		parsed.User = url.UserPassword("***", "***")
	}

	return parsed.String()
}

// Topics returns the topics for this device
func (c *Client) Topics() Topics {
	return c.topics
}

// PublishAvailability publishes device availability status
func (c *Client) PublishAvailability(online bool) error {
	status := "offline"
	if online {
		status = "online"
	}

	return c.Publish(c.topics.Availability, []byte(status), true)
}

// BuildCleanTopic ensures topic follows MQTT standards
func BuildCleanTopic(parts ...string) string {
	var cleanParts []string
	for _, part := range parts {
		// Replace invalid characters
		clean := strings.ReplaceAll(part, " ", "_")
		clean = strings.ReplaceAll(clean, "+", "plus")
		clean = strings.ReplaceAll(clean, "#", "hash")
		clean = strings.ToLower(clean)
		cleanParts = append(cleanParts, clean)
	}
	return strings.Join(cleanParts, "/")
}
