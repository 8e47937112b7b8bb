// Package mqtt links the drive to an operator through an MQTT broker. Status lines are published
// to a telemetry topic; JSON velocity commands are read from a command topic.
package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/omnidrive/components/base"
	"go.viam.com/omnidrive/logging"
)

const (
	publishTimeout      = time.Second
	subscribeTimeout    = 5 * time.Second
	disconnectQuiesceMs = 250
	qos                 = 0
)

// Config describes the broker and topics.
type Config struct {
	Broker         string `json:"broker"`
	ClientID       string `json:"client_id,omitempty"`
	TelemetryTopic string `json:"telemetry_topic,omitempty"`
	CommandTopic   string `json:"command_topic,omitempty"`
}

// Validate ensures all parts of the config are valid and fills in default topics.
func (cfg *Config) Validate(path string) error {
	if cfg.Broker == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "broker")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "omnidrive"
	}
	if cfg.TelemetryTopic == "" {
		cfg.TelemetryTopic = "omnidrive/telemetry"
	}
	if cfg.CommandTopic == "" {
		cfg.CommandTopic = "omnidrive/command"
	}
	return nil
}

// Link publishes telemetry and subscribes to commands over one client.
type Link struct {
	client pahomqtt.Client
	cfg    Config
	logger logging.Logger

	mu        sync.Mutex
	onCommand pahomqtt.MessageHandler
}

// NewLink connects to the broker. The client keeps reconnecting on its own after a lost
// connection and the command subscription is renewed on every reconnect.
func NewLink(ctx context.Context, cfg Config, logger logging.Logger) (*Link, error) {
	if err := cfg.Validate("link.mqtt"); err != nil {
		return nil, err
	}
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	l := &Link{cfg: cfg, logger: logger}
	opts.OnConnect = l.onConnect
	opts.OnConnectionLost = func(_ pahomqtt.Client, err error) {
		logger.Warnw("mqtt connection lost", "broker", cfg.Broker, "error", err)
	}

	l.client = pahomqtt.NewClient(opts)
	token := l.client.Connect()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-token.Done():
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrapf(err, "failed to connect to mqtt broker %s", cfg.Broker)
	}
	return l, nil
}

// NewLinkFromClient wraps an existing client. cfg must already be validated.
func NewLinkFromClient(client pahomqtt.Client, cfg Config, logger logging.Logger) *Link {
	return &Link{client: client, cfg: cfg, logger: logger}
}

// Send publishes line to the telemetry topic.
func (l *Link) Send(ctx context.Context, line []byte) error {
	token := l.client.Publish(l.cfg.TelemetryTopic, qos, false, line)
	if !token.WaitTimeout(publishTimeout) {
		return errors.Errorf("timed out publishing to %s", l.cfg.TelemetryTopic)
	}
	return errors.Wrapf(token.Error(), "failed to publish to %s", l.cfg.TelemetryTopic)
}

// DecodeCommand parses a JSON command payload.
func DecodeCommand(payload []byte) (base.VelocityCommand, error) {
	var cmd base.VelocityCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return base.VelocityCommand{}, errors.Wrap(err, "invalid command payload")
	}
	if err := cmd.Validate(); err != nil {
		return base.VelocityCommand{}, err
	}
	return cmd, nil
}

// Serve subscribes to the command topic and calls handler for every valid command until ctx is
// done. Invalid payloads are logged and skipped.
func (l *Link) Serve(ctx context.Context, handler func(base.VelocityCommand)) error {
	onCommand := func(_ pahomqtt.Client, msg pahomqtt.Message) {
		cmd, err := DecodeCommand(msg.Payload())
		if err != nil {
			l.logger.Warnw("dropping command", "topic", msg.Topic(), "error", err)
			return
		}
		handler(cmd)
	}
	l.setOnCommand(onCommand)
	if err := l.subscribe(l.client, onCommand); err != nil {
		l.setOnCommand(nil)
		return err
	}
	l.logger.Infow("listening for commands", "topic", l.cfg.CommandTopic)

	<-ctx.Done()
	l.setOnCommand(nil)
	unsub := l.client.Unsubscribe(l.cfg.CommandTopic)
	unsub.WaitTimeout(subscribeTimeout)
	return ctx.Err()
}

func (l *Link) setOnCommand(onCommand pahomqtt.MessageHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onCommand = onCommand
}

func (l *Link) subscribe(client pahomqtt.Client, onCommand pahomqtt.MessageHandler) error {
	token := client.Subscribe(l.cfg.CommandTopic, qos, onCommand)
	if !token.WaitTimeout(subscribeTimeout) {
		return errors.Errorf("timed out subscribing to %s", l.cfg.CommandTopic)
	}
	return errors.Wrapf(token.Error(), "failed to subscribe to %s", l.cfg.CommandTopic)
}

// onConnect runs after every connect. The session is clean, so the broker has forgotten the
// command subscription and it is made again while Serve is running.
func (l *Link) onConnect(client pahomqtt.Client) {
	l.logger.Infow("connected to mqtt broker", "broker", l.cfg.Broker)
	l.mu.Lock()
	onCommand := l.onCommand
	l.mu.Unlock()
	if onCommand == nil {
		return
	}
	if err := l.subscribe(client, onCommand); err != nil {
		l.logger.Warnw("failed to resubscribe to commands", "topic", l.cfg.CommandTopic, "error", err)
	}
}

// Close disconnects from the broker.
func (l *Link) Close() error {
	l.client.Disconnect(disconnectQuiesceMs)
	return nil
}
