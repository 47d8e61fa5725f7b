package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/aeternum-health/dispatch/core/monitoring"
	coremqtt "github.com/aeternum-health/dispatch/core/mqtt"
	"github.com/aeternum-health/dispatch/infra/logger"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker     string `json:"broker" yaml:"broker"`
	ClientID   string `json:"client_id" yaml:"client_id"`
	Username   string `json:"username" yaml:"username"`
	Password   string `json:"password" yaml:"password"`
	UseTLS     bool   `json:"use_tls" yaml:"use_tls"`
	ClientCert string `json:"client_cert" yaml:"client_cert"`
	ClientKey  string `json:"client_key" yaml:"client_key"`
	CABundle   string `json:"ca_bundle" yaml:"ca_bundle"`
	AuthMethod string `json:"auth_method" yaml:"auth_method"`
	// QoS per message class: "dispatch", "alert", "ack", "location".
	QoS        map[string]byte `json:"qos" yaml:"qos"`
	LWTTopic   string          `json:"lwt_topic" yaml:"lwt_topic"`
	LWTPayload string          `json:"lwt_payload" yaml:"lwt_payload"`
	LWTQoS     byte            `json:"lwt_qos" yaml:"lwt_qos"`
	LWTRetain  bool            `json:"lwt_retain" yaml:"lwt_retain"`
	MaxRetries int             `json:"max_retries" yaml:"max_retries"`
	BackoffMS  int             `json:"backoff_ms" yaml:"backoff_ms"`
	TLSConfig  *tls.Config     `json:"-" yaml:"-"`
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var (
	_ coremqtt.Publisher  = (*PahoClient)(nil)
	_ coremqtt.Subscriber = (*PahoClient)(nil)
)

// PahoClient publishes crew orders and alerts and delivers subscribed
// messages using Eclipse Paho. Subscriptions are restored on reconnect.
type PahoClient struct {
	cli pahoClient
	qos map[string]byte

	mu         sync.Mutex
	ackChans   map[string]chan struct{}
	subs       map[string]coremqtt.Handler
	logger     logger.Logger
	maxRetries int
	backoff    time.Duration
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// NewPahoClient connects to the MQTT broker and subscribes to crew
// acknowledgments.
func NewPahoClient(cfg Config) (*PahoClient, error) {
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	log := logger.New("mqtt_client")
	pc := &PahoClient{
		ackChans:   make(map[string]chan struct{}),
		subs:       make(map[string]coremqtt.Handler),
		logger:     log,
		qos:        cfg.QoS,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Duration(cfg.BackoffMS) * time.Millisecond,
	}
	if pc.maxRetries <= 0 {
		pc.maxRetries = 3
	}
	if pc.backoff <= 0 {
		pc.backoff = 100 * time.Millisecond
	}
	pc.subs[coremqtt.AckFilter] = pc.onAck

	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected")
		pc.resubscribe(c)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	pc.cli = c
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return pc, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}
	return cfg, nil
}

// qosFor picks the QoS of a message class; unknown classes use 0.
func (p *PahoClient) qosFor(class string) byte {
	if q, ok := p.qos[class]; ok {
		return q
	}
	return 0
}

func topicClass(filter string) string {
	switch filter {
	case coremqtt.AckFilter:
		return "ack"
	case coremqtt.LocationFilter:
		return "location"
	}
	return "default"
}

func (p *PahoClient) resubscribe(c paho.Client) {
	p.mu.Lock()
	subs := make(map[string]coremqtt.Handler, len(p.subs))
	for k, v := range p.subs {
		subs[k] = v
	}
	p.mu.Unlock()
	for filter, h := range subs {
		p.subscribe(c, filter, h)
	}
}

func (p *PahoClient) subscribe(c pahoClient, filter string, h coremqtt.Handler) error {
	token := c.Subscribe(filter, p.qosFor(topicClass(filter)), func(_ paho.Client, msg paho.Message) {
		h(msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		p.logger.Errorf("subscribe %s: %v", filter, token.Error())
		return token.Error()
	}
	return nil
}

// Subscribe registers h for filter. The subscription survives reconnects.
func (p *PahoClient) Subscribe(filter string, h coremqtt.Handler) error {
	p.mu.Lock()
	p.subs[filter] = h
	p.mu.Unlock()
	return p.subscribe(p.cli, filter, h)
}

// Publish sends payload with retries and exponential backoff. The last
// failure is reported to the error monitor.
func (p *PahoClient) Publish(ctx context.Context, topic string, payload []byte) error {
	class := "alert"
	if coremqtt.AmbulanceFromTopic(topic) != "" {
		class = "dispatch"
	}
	qos := p.qosFor(class)
	var publishErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		token := p.cli.Publish(topic, qos, false, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			p.logger.Debugf("published %d bytes to %s", len(payload), topic)
			return nil
		}
		p.logger.Errorf("publish attempt %d to %s failed: %v", attempt+1, topic, publishErr)
		if attempt == p.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.backoff * time.Duration(1<<attempt)):
		}
	}
	monitoring.Report("mqtt", publishErr, "topic", topic)
	return publishErr
}

// Track starts waiting for an acknowledgment of commandID.
func (p *PahoClient) Track(commandID string) {
	p.mu.Lock()
	if _, ok := p.ackChans[commandID]; !ok {
		p.ackChans[commandID] = make(chan struct{}, 1)
	}
	p.mu.Unlock()
}

func (p *PahoClient) onAck(topic string, payload []byte) {
	var m struct {
		CommandID string `json:"command_id"`
	}
	if err := json.Unmarshal(payload, &m); err != nil {
		p.logger.Errorf("failed to decode ack on %s: %v", topic, err)
		return
	}
	p.mu.Lock()
	ch, ok := p.ackChans[m.CommandID]
	if ok {
		select {
		case ch <- struct{}{}:
		default:
		}
		p.logger.Infof("crew of %s acknowledged %s", coremqtt.AmbulanceFromTopic(topic), m.CommandID)
	}
	p.mu.Unlock()
}

// WaitForAck blocks until an ACK for the given command ID is received or timeout.
func (p *PahoClient) WaitForAck(commandID string, timeout time.Duration) (bool, error) {
	p.mu.Lock()
	ch := p.ackChans[commandID]
	p.mu.Unlock()
	if ch == nil {
		return false, fmt.Errorf("unknown command %s", commandID)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	defer func() {
		p.mu.Lock()
		delete(p.ackChans, commandID)
		p.mu.Unlock()
	}()
	select {
	case <-ch:
		return true, nil
	case <-timer.C:
		return false, fmt.Errorf("%s: %w", commandID, coremqtt.ErrAckTimeout)
	}
}

// Disconnect gracefully closes the MQTT connection.
func (p *PahoClient) Disconnect() {
	if p.cli != nil && p.cli.IsConnected() {
		p.cli.Disconnect(250)
	}
}
