// Package mqttclient wraps a paho MQTT connection that re-subscribes on
// every reconnect.
package mqttclient

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

type MessageHandler func(topic string, payload []byte)

type Client struct {
	conn      mqtt.Client
	topics    []string
	connected atomic.Bool
	log       zerolog.Logger
	handler   atomic.Pointer[MessageHandler]
}

type Options struct {
	BrokerURL string
	ClientID  string
	// Topics is a comma-separated list of subscription filters. Empty
	// subscribes to nothing; the client can still publish.
	Topics   string
	Username string
	Password string
	// Handler receives every message. It can also be set later with
	// SetMessageHandler, but messages arriving before then are dropped.
	Handler MessageHandler
	Log     zerolog.Logger
}

const publishTimeout = 10 * time.Second

func Connect(opts Options) (*Client, error) {
	c := &Client{
		topics: parseTopics(opts.Topics),
		log:    opts.Log.With().Str("component", "mqtt").Logger(),
	}
	if opts.Handler != nil {
		c.SetMessageHandler(opts.Handler)
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost).
		SetDefaultPublishHandler(c.onMessage)

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

func (c *Client) SetMessageHandler(h MessageHandler) {
	c.handler.Store(&h)
}

func (c *Client) onConnect(client mqtt.Client) {
	c.connected.Store(true)
	if len(c.topics) == 0 {
		c.log.Info().Msg("mqtt connected")
		return
	}
	c.log.Info().Strs("topics", c.topics).Msg("mqtt connected, subscribing")

	filters := make(map[string]byte, len(c.topics))
	for _, t := range c.topics {
		filters[t] = 1
	}
	token := client.SubscribeMultiple(filters, nil)
	token.Wait()
	if err := token.Error(); err != nil {
		c.log.Error().Err(err).Msg("mqtt subscribe failed")
	}
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.connected.Store(false)
	c.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

func (c *Client) onMessage(_ mqtt.Client, msg mqtt.Message) {
	if h := c.handler.Load(); h != nil {
		(*h)(msg.Topic(), msg.Payload())
		return
	}
	c.log.Debug().
		Str("topic", msg.Topic()).
		Int("payload_size", len(msg.Payload())).
		Msg("mqtt message dropped, no handler")
}

// Publish sends payload at QoS 1 and waits for the broker ack.
func (c *Client) Publish(topic string, payload []byte) error {
	token := c.conn.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return errors.New("mqtt publish timed out")
	}
	return token.Error()
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

func (c *Client) Close() {
	c.log.Info().Msg("disconnecting mqtt client")
	c.conn.Disconnect(1000)
}

func parseTopics(raw string) []string {
	var topics []string
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			topics = append(topics, t)
		}
	}
	return topics
}
