package takeprofit

import (
	"context"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Config locates the take-profit stream.
type Config struct {
	URL        string
	Stream     string
	Subject    string
	Durable    string
	AckWait    time.Duration
	MaxDeliver int
	// EnsureStream creates the stream when it does not exist.
	EnsureStream bool
}

// Connect opens a NATS connection that reconnects forever.
func Connect(url string, opts ...nats.Option) (*nats.Conn, jetstream.JetStream, error) {
	opts = append([]nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logs.Warnf("takeprofit: nats disconnected, err: %+v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logs.Info("takeprofit: nats reconnected")
		}),
	}, opts...)

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, nil, errors.Wrap(err, "nats connect")
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, errors.Wrap(err, "jetstream")
	}
	return nc, js, nil
}

// Consumer feeds a durable JetStream consumer into a Handler.
type Consumer struct {
	js      jetstream.JetStream
	cfg     Config
	handler *Handler
	cc      jetstream.ConsumeContext
}

func NewConsumer(js jetstream.JetStream, cfg Config, handler *Handler) *Consumer {
	if cfg.AckWait <= 0 {
		cfg.AckWait = 30 * time.Second
	}
	if cfg.MaxDeliver == 0 {
		cfg.MaxDeliver = 5
	}
	return &Consumer{js: js, cfg: cfg, handler: handler}
}

// Start creates the consumer and begins delivery. Messages are acked once
// handled and nacked for redelivery on failure.
func (c *Consumer) Start(ctx context.Context) error {
	if c.cfg.EnsureStream {
		if _, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:      c.cfg.Stream,
			Subjects:  []string{c.cfg.Subject},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		}); err != nil {
			return errors.Wrap(err, "create stream").With("stream", c.cfg.Stream)
		}
	}

	consumer, err := c.js.CreateOrUpdateConsumer(ctx, c.cfg.Stream, jetstream.ConsumerConfig{
		Durable:       c.cfg.Durable,
		FilterSubject: c.cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       c.cfg.AckWait,
		MaxDeliver:    c.cfg.MaxDeliver,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return errors.Wrap(err, "create consumer").With("durable", c.cfg.Durable)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		id := signalID(msg)
		if err := c.handler.Handle(ctx, id); err != nil {
			logs.Errorf("takeprofit: handle signal id=%s, err: %+v", id, err)
			if err := msg.Nak(); err != nil {
				logs.Warnf("takeprofit: nak id=%s, err: %+v", id, err)
			}
			return
		}
		if err := msg.Ack(); err != nil {
			logs.Warnf("takeprofit: ack id=%s, err: %+v", id, err)
		}
	})
	if err != nil {
		return errors.Wrap(err, "consume").With("subject", c.cfg.Subject)
	}

	c.cc = cc
	logs.Infof("takeprofit: subscribed to %s (consumer=%s)", c.cfg.Subject, c.cfg.Durable)
	return nil
}

// Stop ends delivery.
func (c *Consumer) Stop() {
	if c.cc != nil {
		c.cc.Stop()
	}
}

// signalID prefers the publisher's message id and falls back to the stream
// sequence, which is stable across redeliveries.
func signalID(msg jetstream.Msg) string {
	if id := msg.Headers().Get(nats.MsgIdHdr); id != "" {
		return id
	}
	if meta, err := msg.Metadata(); err == nil {
		return "seq-" + strconv.FormatUint(meta.Sequence.Stream, 10)
	}
	return msg.Subject()
}
