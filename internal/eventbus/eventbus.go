// Package eventbus optionally publishes strategy lifecycle events onto a
// RabbitMQ topic exchange for downstream systems that want to react to
// trades without polling stdout. It never participates in the engine's
// control flow — publish failures are logged and swallowed.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"strategy-engine/internal/logging"
)

const exchangeName = "trading.events"

// Event is the small JSON envelope published for every lifecycle event.
type Event struct {
	Type       string `json:"event"`
	StrategyID string `json:"strategy_id"`
	Ts         int64  `json:"ts"`
	Reason     string `json:"reason,omitempty"`
	Price      string `json:"price,omitempty"`
}

// Publisher is the interface the orchestrator depends on. noop satisfies it
// when no broker URL is configured.
type Publisher interface {
	Publish(Event)
	Close()
}

// New returns a live Publisher if url is non-empty, retrying the initial
// dial a bounded number of times (grounded in the connection-retry loop
// used elsewhere in this codebase's AMQP client); otherwise it returns a
// no-op Publisher so the engine's correctness never depends on a broker
// being reachable.
func New(url string, log logging.Logger) Publisher {
	if url == "" {
		return noop{}
	}

	var conn *amqp091.Connection
	var err error
	for i := 0; i < 5; i++ {
		conn, err = amqp091.Dial(url)
		if err == nil {
			break
		}
		log.Infof("eventbus connection attempt failed", map[string]string{"attempt": fmt.Sprint(i + 1), "error": err.Error()})
		time.Sleep(time.Second)
	}
	if err != nil {
		log.Infof("eventbus disabled: could not connect to broker", map[string]string{"error": err.Error()})
		return noop{}
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		log.Infof("eventbus disabled: could not open channel", map[string]string{"error": err.Error()})
		return noop{}
	}
	if err := ch.ExchangeDeclare(exchangeName, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		log.Infof("eventbus disabled: could not declare exchange", map[string]string{"error": err.Error()})
		return noop{}
	}

	return &rabbit{conn: conn, channel: ch, log: log}
}

type rabbit struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	log     logging.Logger
}

func (r *rabbit) Publish(ev Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = r.channel.PublishWithContext(ctx, exchangeName, ev.Type, false, false, amqp091.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		r.log.Infof("eventbus publish failed", map[string]string{"event": ev.Type, "strategy_id": ev.StrategyID, "error": err.Error()})
	}
}

func (r *rabbit) Close() {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		r.conn.Close()
	}
}

type noop struct{}

func (noop) Publish(Event) {}
func (noop) Close()        {}
