package rabbitmq

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{URL: "amqp://localhost"}, nil)
	assert.ErrorContains(t, err, "exchange and routing key")
}

func TestNewRejectsBadURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{URL: "http://not-amqp", Exchange: "x", RoutingKey: "k"}, nil)
	assert.ErrorContains(t, err, "connect to rabbitmq")
}
