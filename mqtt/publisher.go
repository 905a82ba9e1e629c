// Package mqtt publishes stored forecasts as retained JSON messages, one
// topic per table.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/icodeforyou/pvforecast/series"
	"github.com/icodeforyou/pvforecast/storage"
)

const publishTimeout = 5 * time.Second

type Options struct {
	Host     string
	Port     int
	Username string
	Password string
	// Topics are <TopicPrefix>/<table>
	TopicPrefix string
}

type client interface {
	Connect() paho.Token
	Publish(topic string, qos byte, retained bool, payload any) paho.Token
	Disconnect(quiesce uint)
}

type Publisher struct {
	logger *slog.Logger
	client client
	prefix string
}

func New(opts Options) *Publisher {
	logger := slog.Default().With(slog.String("module", "mqtt"))
	co := paho.NewClientOptions()
	co.AddBroker(fmt.Sprintf("tcp://%s:%d", opts.Host, opts.Port))
	co.SetClientID(fmt.Sprintf("pvforecast-%d", time.Now().Unix()))
	co.SetUsername(opts.Username)
	co.SetPassword(opts.Password)
	co.SetAutoReconnect(true)
	co.OnConnect = func(client paho.Client) {
		logger.Info("MQTT connected")
	}
	co.OnConnectionLost = func(client paho.Client, err error) {
		logger.Warn("MQTT connection lost", slog.Any("error", err))
	}

	paho.CRITICAL = newMqttLogger(logger, slog.LevelError)
	paho.ERROR = newMqttLogger(logger, slog.LevelError)
	paho.WARN = newMqttLogger(logger, slog.LevelWarn)

	return &Publisher{
		logger: logger,
		client: paho.NewClient(co),
		prefix: opts.TopicPrefix,
	}
}

func (p *Publisher) Connect() error {
	p.logger.Debug("connecting MQTT client")
	token := p.client.Connect()
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timeout when connecting to MQTT broker")
	}
	return token.Error()
}

func (p *Publisher) Disconnect() {
	p.logger.Info("disconnecting MQTT client")
	p.client.Disconnect(250)
}

func (p *Publisher) Topic(table string) string {
	return p.prefix + "/" + table
}

// Publish sends the export fields of s, retained so late subscribers see
// the newest forecast. A series without export fields is skipped.
func (p *Publisher) Publish(ctx context.Context, s series.TimeSeries) error {
	if len(s.Export()) == 0 {
		return nil
	}
	payload, err := Payload(s)
	if err != nil {
		return err
	}

	topic := p.Topic(s.Name())
	token := p.client.Publish(topic, 1, true, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(publishTimeout):
		return fmt.Errorf("timeout when publishing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("error when publishing to %s: %w", topic, err)
	}
	p.logger.Debug("forecast published", slog.String("topic", topic), slog.Int("bytes", len(payload)))
	return nil
}

type message struct {
	Table     string           `json:"table"`
	IssueTime string           `json:"issue_time"`
	Rows      []map[string]any `json:"rows"`
}

// Payload encodes the export fields of s. Missing values are null.
func Payload(s series.TimeSeries) ([]byte, error) {
	export := s.Export()
	msg := message{
		Table:     s.Name(),
		IssueTime: storage.FormatTime(s.IssueTime()),
		Rows:      make([]map[string]any, 0, s.Len()),
	}
	for i := 0; i < s.Len(); i++ {
		row := make(map[string]any, len(export)+1)
		row["period_end"] = storage.FormatTime(s.Time(i))
		for _, f := range export {
			if v := s.Value(i, f); !math.IsNaN(v) {
				row[string(f)] = v
			} else {
				row[string(f)] = nil
			}
		}
		msg.Rows = append(msg.Rows, row)
	}
	return json.Marshal(msg)
}
