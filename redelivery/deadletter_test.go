package redelivery_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miladsoleymani/listenmux/core"
	"github.com/miladsoleymani/listenmux/internal/mock"
	"github.com/miladsoleymani/listenmux/redelivery"
)

func TestPolicy_ShouldRoute(t *testing.T) {
	p := redelivery.Policy{MaxRedeliverCount: 1, DeadLetterTopic: "dlpt-dlq-topic"}

	assert.False(t, p.ShouldRoute(1))
	assert.True(t, p.ShouldRoute(2))
	assert.True(t, p.ShouldRoute(3))
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, redelivery.Policy{MaxRedeliverCount: 3}.Validate())
	assert.NoError(t, redelivery.Policy{MaxRedeliverCount: 1, DeadLetterTopic: "orders.dlq"}.Validate())
	assert.Error(t, redelivery.Policy{}.Validate())
	assert.Error(t, redelivery.Policy{MaxRedeliverCount: -1}.Validate())
	assert.Error(t, redelivery.Policy{MaxRedeliverCount: 1, DeadLetterTopic: "orders.*"}.Validate())
}

func TestNewRouter_Rejects(t *testing.T) {
	_, err := redelivery.NewRouter(redelivery.Policy{}, "sub", mock.NewProducerFactory())
	assert.ErrorIs(t, err, core.ErrConfiguration)

	_, err = redelivery.NewRouter(redelivery.Policy{MaxRedeliverCount: 1}, "sub", nil)
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestRouter_Route(t *testing.T) {
	producers := mock.NewProducerFactory()
	router, err := redelivery.NewRouter(
		redelivery.Policy{MaxRedeliverCount: 1, DeadLetterTopic: "dlpt-dlq-topic"},
		"dlpt-subscription",
		producers,
	)
	require.NoError(t, err)

	consumer := mock.NewConsumer(core.SubscribeOptions{})
	msg := &mock.Message{
		MsgID:        "dlpt-topic:7",
		T:            "dlpt-topic",
		K:            []byte("k1"),
		V:            []byte("payload"),
		H:            map[string]string{"trace": "abc"},
		Redeliveries: 1,
	}

	require.True(t, router.ShouldRoute(core.Attempt(msg)))
	require.NoError(t, router.Route(context.Background(), consumer, msg))

	published := producers.Published()
	require.Len(t, published, 1)
	assert.Equal(t, "dlpt-dlq-topic", published[0].Topic)
	assert.Equal(t, []byte("payload"), published[0].Message.Value)
	assert.Equal(t, []byte("k1"), published[0].Message.Key)
	assert.Equal(t, "abc", published[0].Message.Headers["trace"])
	assert.Equal(t, "dlpt-topic", published[0].Message.Headers[redelivery.HeaderRealTopic])
	assert.Equal(t, "dlpt-topic:7", published[0].Message.Headers[redelivery.HeaderOriginMessageID])
	assert.Equal(t, "1", published[0].Message.Headers[redelivery.HeaderRedeliveryCount])

	assert.Equal(t, []core.MessageID{"dlpt-topic:7"}, consumer.Acked())
	assert.Empty(t, consumer.Nacked())
	// source headers are not modified
	assert.NotContains(t, msg.H, redelivery.HeaderRealTopic)
}

func TestRouter_DerivedTopic(t *testing.T) {
	router, err := redelivery.NewRouter(redelivery.Policy{MaxRedeliverCount: 2}, "billing", mock.NewProducerFactory())
	require.NoError(t, err)

	assert.Equal(t, "invoices-billing-DLQ", router.Topic(&mock.Message{T: "invoices"}))
}

func TestRouter_ProducerCached(t *testing.T) {
	producers := mock.NewProducerFactory()
	router, err := redelivery.NewRouter(redelivery.Policy{MaxRedeliverCount: 1, DeadLetterTopic: "dlq"}, "s", producers)
	require.NoError(t, err)

	consumer := mock.NewConsumer(core.SubscribeOptions{})
	for i := range 3 {
		msg := &mock.Message{MsgID: core.MessageID(fmt.Sprintf("m%d", i)), T: "t", Redeliveries: 4}
		require.NoError(t, router.Route(context.Background(), consumer, msg))
	}
	assert.Equal(t, 1, producers.Created("dlq"))
	assert.Len(t, producers.Published(), 3)
}

func TestRouter_RepublishFailureLeavesSourceUnacked(t *testing.T) {
	producers := mock.NewProducerFactory()
	producers.SetSendErr(errors.New("broker down"))
	router, err := redelivery.NewRouter(redelivery.Policy{MaxRedeliverCount: 1, DeadLetterTopic: "dlq"}, "s", producers)
	require.NoError(t, err)

	consumer := mock.NewConsumer(core.SubscribeOptions{})
	err = router.Route(context.Background(), consumer, &mock.Message{MsgID: "m1", T: "t", Redeliveries: 1})

	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrDeadLetterRouting)
	assert.True(t, core.IsCode(err, core.ErrCodeDeadLetterRouting))
	assert.Empty(t, consumer.Acked())
	assert.Empty(t, consumer.Nacked())
}

func TestRouter_AckFailure(t *testing.T) {
	router, err := redelivery.NewRouter(redelivery.Policy{MaxRedeliverCount: 1, DeadLetterTopic: "dlq"}, "s", mock.NewProducerFactory())
	require.NoError(t, err)

	consumer := mock.NewConsumer(core.SubscribeOptions{})
	consumer.AckErr = errors.New("connection reset")

	err = router.Route(context.Background(), consumer, &mock.Message{MsgID: "m1", T: "t", Redeliveries: 1})
	assert.ErrorIs(t, err, core.ErrAcknowledge)
}
