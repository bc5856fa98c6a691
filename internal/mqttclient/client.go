// Package mqttclient publishes per-user domain events so clients can react to
// new transcripts instead of polling.
package mqttclient

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/snarg/voicenotes/internal/metrics"
)

// publishTimeout bounds how long PublishEvent waits for the broker ack.
const publishTimeout = 5 * time.Second

type Client struct {
	conn      mqtt.Client
	prefix    string
	connected atomic.Bool
	log       zerolog.Logger
}

type Options struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	Log         zerolog.Logger
}

// Event is the JSON envelope published for every domain event.
type Event struct {
	Type      string         `json:"type"`
	UserID    int64          `json:"user_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

func Connect(opts Options) (*Client, error) {
	c := &Client{
		prefix: strings.Trim(opts.TopicPrefix, "/"),
		log:    opts.Log,
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	c.conn = mqtt.NewClient(clientOpts)
	token := c.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Client) onConnect(_ mqtt.Client) {
	c.connected.Store(true)
	c.log.Info().Str("prefix", c.prefix).Msg("mqtt connected")
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.connected.Store(false)
	c.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

// PublishEvent sends an event to <prefix>/users/<userID>/transcripts.
// Failures are logged, never returned.
func (c *Client) PublishEvent(eventType string, userID int64, payload map[string]any) {
	body, err := json.Marshal(Event{
		Type:      eventType,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
		Data:      payload,
	})
	if err != nil {
		c.log.Error().Err(err).Str("event", eventType).Msg("mqtt event marshal failed")
		return
	}

	topic := Topic(c.prefix, userID)
	token := c.conn.Publish(topic, 1, false, body)
	if !token.WaitTimeout(publishTimeout) {
		c.log.Warn().Str("topic", topic).Msg("mqtt publish timed out")
		return
	}
	if err := token.Error(); err != nil {
		c.log.Warn().Err(err).Str("topic", topic).Msg("mqtt publish failed")
		return
	}
	metrics.EventsPublishedTotal.WithLabelValues(eventType).Inc()
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

func (c *Client) Close() {
	c.log.Info().Msg("disconnecting mqtt client")
	c.conn.Disconnect(1000)
}

// Topic returns the per-user transcript topic.
func Topic(prefix string, userID int64) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return fmt.Sprintf("users/%d/transcripts", userID)
	}
	return fmt.Sprintf("%s/users/%d/transcripts", prefix, userID)
}
