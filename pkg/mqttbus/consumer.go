package mqttbus

import (
	"context"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Handler processes one inbound message. Returning an error only logs it;
// the subscription stays up.
type Handler func(topic string, payload []byte) error

// Consumer subscribes to one topic filter and runs the handler per message.
type Consumer struct {
	client  mqtt.Client
	topic   string
	qos     byte
	handler Handler
}

func NewConsumer(client mqtt.Client, topic string, qos byte, handler Handler) *Consumer {
	return &Consumer{client: client, topic: topic, qos: qos, handler: handler}
}

// Run subscribes and blocks until ctx is cancelled, then unsubscribes.
func (c *Consumer) Run(ctx context.Context) {
	token := c.client.Subscribe(c.topic, c.qos, func(_ mqtt.Client, msg mqtt.Message) {
		if err := c.handler(msg.Topic(), msg.Payload()); err != nil {
			log.Printf("mqttbus: handler %s: %v", msg.Topic(), err)
		}
	})
	if token.Wait() && token.Error() != nil {
		log.Printf("mqttbus: subscribe %s: %v", c.topic, token.Error())
		return
	}
	log.Printf("mqttbus: subscribed to %s (qos=%d)", c.topic, c.qos)

	<-ctx.Done()
	c.client.Unsubscribe(c.topic).Wait()
}
