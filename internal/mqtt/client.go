// Package mqtt is the remote telemetry transport: MQTT over mutually authenticated TLS,
// compatible with AWS IoT Core device endpoints.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// QoS used for every publish (at least once)
const QoS = 1

// ClientConfig holds MQTT client configuration
type ClientConfig struct {
	Endpoint       string
	Port           int
	ClientID       string
	RootCA         string // path to CA bundle
	Certificate    string // path to client certificate
	PrivateKey     string // path to client private key
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
}

// BrokerURL returns the TLS broker address
func (c ClientConfig) BrokerURL() string {
	return fmt.Sprintf("ssl://%s:%d", c.Endpoint, c.Port)
}

// Client manages the MQTT connection and publishes payloads
type Client struct {
	client mqtt.Client
	config ClientConfig
	logger *slog.Logger
}

// NewTLSConfig loads the CA bundle and client key pair from disk
func NewTLSConfig(rootCA, certificate, privateKey string) (*tls.Config, error) {
	caPEM, err := os.ReadFile(rootCA)
	if err != nil {
		return nil, fmt.Errorf("failed to read root CA %s: %w", rootCA, err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("no certificates found in root CA %s", rootCA)
	}

	cert, err := tls.LoadX509KeyPair(certificate, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load client key pair: %w", err)
	}

	return &tls.Config{
		RootCAs:      pool,
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// NewClient builds the TLS configuration and starts connecting. When the broker
// does not answer within ConnectTimeout the client keeps retrying in the
// background and NewClient returns without error; IsConnected reports the state.
func NewClient(config ClientConfig, logger *slog.Logger) (*Client, error) {
	if config.Port == 0 {
		config.Port = 8883
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	if config.KeepAlive <= 0 {
		config.KeepAlive = 60 * time.Second
	}

	tlsConfig, err := NewTLSConfig(config.RootCA, config.Certificate, config.PrivateKey)
	if err != nil {
		return nil, err
	}

	c := &Client{config: config, logger: logger}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.BrokerURL())
	opts.SetClientID(config.ClientID)
	opts.SetTLSConfig(tlsConfig)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(c.onReconnecting)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetConnectTimeout(config.ConnectTimeout)
	opts.SetKeepAlive(config.KeepAlive)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOrderMatters(false)

	c.client = mqtt.NewClient(opts)

	token := c.client.Connect()
	if !token.WaitTimeout(config.ConnectTimeout) {
		logger.Warn("MQTT broker not reachable yet, retrying in background",
			slog.String("broker", config.BrokerURL()),
			slog.Duration("timeout", config.ConnectTimeout),
		)
		return c, nil
	}

	if err := token.Error(); err != nil {
		c.client.Disconnect(0)
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", config.BrokerURL(), err)
	}

	return c, nil
}

// Publish sends payload to topic at QoS 1 and waits for the acknowledgement
// or for ctx to end
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	token := c.client.Publish(topic, QoS, false, payload)

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to publish to %s: %w", topic, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish to %s not acknowledged: %w", topic, ctx.Err())
	}
}

// IsConnected returns whether the client is currently connected
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Close disconnects from the broker
func (c *Client) Close() {
	c.client.Disconnect(250)
	c.logger.Info("MQTT client disconnected", slog.String("broker", c.config.BrokerURL()))
}

func (c *Client) onConnect(mqtt.Client) {
	c.logger.Info("MQTT connection established",
		slog.String("broker", c.config.BrokerURL()),
		slog.String("client_id", c.config.ClientID),
	)
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.logger.Warn("MQTT connection lost",
		slog.String("broker", c.config.BrokerURL()),
		slog.String("error", err.Error()),
	)
}

func (c *Client) onReconnecting(mqtt.Client, *mqtt.ClientOptions) {
	c.logger.Debug("MQTT reconnecting", slog.String("broker", c.config.BrokerURL()))
}
