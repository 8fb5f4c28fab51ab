package audit

import (
	"encoding/json"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"

	"github.com/medvault/bioauth/internal/models"
)

// AMQPPublisher fans audit events out to a topic exchange so compliance
// collaborators can consume the stream without querying the database.
// Publishing is fire-and-forget; a broken connection is re-dialed lazily on
// the next event.
type AMQPPublisher struct {
	url      string
	exchange string

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewAMQPPublisher constructs a publisher. The connection is established on
// first publish, so a missing broker at startup is not fatal.
func NewAMQPPublisher(url, exchange string) *AMQPPublisher {
	return &AMQPPublisher{url: url, exchange: exchange}
}

// Publish implements Publisher.
func (p *AMQPPublisher) Publish(event models.AuditEvent) {
	body, errMarshal := json.Marshal(event)
	if errMarshal != nil {
		log.WithError(errMarshal).Warn("audit amqp: marshal event")
		return
	}

	channel, errChannel := p.ensureChannel()
	if errChannel != nil {
		log.WithError(errChannel).Warn("audit amqp: broker unavailable")
		return
	}

	errPublish := channel.Publish(p.exchange, string(event.Kind), false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if errPublish != nil {
		log.WithError(errPublish).Warn("audit amqp: publish failed")
		p.reset()
	}
}

// Close shuts down the broker connection.
func (p *AMQPPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		_ = p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

func (p *AMQPPublisher) ensureChannel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		return p.channel, nil
	}
	conn, errDial := amqp.Dial(p.url)
	if errDial != nil {
		return nil, errDial
	}
	channel, errChannel := conn.Channel()
	if errChannel != nil {
		_ = conn.Close()
		return nil, errChannel
	}
	if errDeclare := channel.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); errDeclare != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, errDeclare
	}
	p.conn = conn
	p.channel = channel
	return channel, nil
}

func (p *AMQPPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		_ = p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}
