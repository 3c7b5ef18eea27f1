package domain

import (
	"github.com/buildbid/docproc-service/internal/trigger"
	amqp "github.com/rabbitmq/amqp091-go"
)

// JobMessage is a decoded trigger plus what is needed to settle its delivery
type JobMessage struct {
	Trigger     trigger.Message
	DeliveryTag uint64
	Redelivered bool

	acker amqp.Acknowledger
}

func NewJobMessage(msg trigger.Message, delivery amqp.Delivery) *JobMessage {
	return &JobMessage{
		Trigger:     msg,
		DeliveryTag: delivery.DeliveryTag,
		Redelivered: delivery.Redelivered,
		acker:       delivery.Acknowledger,
	}
}

func (m *JobMessage) Ack() error {
	return m.acker.Ack(m.DeliveryTag, false)
}

func (m *JobMessage) Nack(requeue bool) error {
	return m.acker.Nack(m.DeliveryTag, false, requeue)
}
