// Package zmqlistener implements the node's ZMQ push feed (C10): two SUB
// sockets subscribed to rawtx and hashblock, each with automatic
// reconnection and dispatch into the intake and confirmation-tracker
// handlers.
package zmqlistener

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-zeromq/zmq4"
	"golang.org/x/sync/errgroup"

	"github.com/bsv-blockchain/bsv-address-tracker/internal/metrics"
)

const (
	topicRawTx     = "rawtx"
	topicHashBlock = "hashblock"

	// initialReconnectDelay and maxReconnectDelay bound the SUB socket's
	// reconnect backoff.
	initialReconnectDelay = 5 * time.Second
	maxReconnectDelay     = 10 * time.Second
)

// RawTxHandler processes a rawtx frame; implemented by internal/intake.Intake.
type RawTxHandler interface {
	HandleRawTx(ctx context.Context, raw []byte)
}

// HashBlockHandler processes a hashblock frame; implemented by
// internal/tracker.Tracker.
type HashBlockHandler interface {
	HandleHashBlock(ctx context.Context, blockHash []byte)
}

// Listener owns the two ZMQ subscriptions, each against its own endpoint.
type Listener struct {
	rawTxEndpoint     string
	hashBlockEndpoint string
	rawTx             RawTxHandler
	hashBlk           HashBlockHandler
	logger            *slog.Logger
}

// New builds a Listener. rawTxEndpoint and hashBlockEndpoint may point at
// the same node (most deployments expose both topics on one PUB socket) or
// at two different nodes; each topic dials and reconnects independently.
// If hashBlockEndpoint is empty it falls back to rawTxEndpoint.
func New(rawTxEndpoint, hashBlockEndpoint string, rawTx RawTxHandler, hashBlk HashBlockHandler, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	if hashBlockEndpoint == "" {
		hashBlockEndpoint = rawTxEndpoint
	}
	return &Listener{
		rawTxEndpoint:     rawTxEndpoint,
		hashBlockEndpoint: hashBlockEndpoint,
		rawTx:             rawTx,
		hashBlk:           hashBlk,
		logger:            logger,
	}
}

// Run subscribes to both topics and blocks until ctx is cancelled. It
// returns nil: each subscription reconnects on error instead of returning it.
func (l *Listener) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return l.subscribeLoop(gCtx, l.rawTxEndpoint, topicRawTx, l.dispatchRawTx)
	})
	g.Go(func() error {
		return l.subscribeLoop(gCtx, l.hashBlockEndpoint, topicHashBlock, l.dispatchHashBlock)
	})
	return g.Wait()
}

func (l *Listener) dispatchRawTx(ctx context.Context, frames [][]byte) {
	metrics.ZMQMessagesReceived.WithLabelValues(topicRawTx).Inc()
	if len(frames) < 2 {
		return
	}
	l.rawTx.HandleRawTx(ctx, frames[1])
}

func (l *Listener) dispatchHashBlock(ctx context.Context, frames [][]byte) {
	metrics.ZMQMessagesReceived.WithLabelValues(topicHashBlock).Inc()
	if len(frames) < 2 {
		return
	}
	l.hashBlk.HandleHashBlock(ctx, frames[1])
}

// subscribeLoop owns a single SUB socket subscribed to topic, reconnecting
// with exponential backoff (5s doubling to 10s cap) on any receive error,
// until ctx is cancelled.
func (l *Listener) subscribeLoop(ctx context.Context, endpoint, topic string, dispatch func(context.Context, [][]byte)) error {
	delay := initialReconnectDelay
	for {
		if ctx.Err() != nil {
			return nil
		}

		err := l.runOneConnection(ctx, endpoint, topic, dispatch)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			metrics.ZMQReconnectsTotal.WithLabelValues(topic).Inc()
			l.logger.Warn("zmqlistener: connection lost, reconnecting", "topic", topic, "error", err, "delay", delay)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (l *Listener) runOneConnection(ctx context.Context, endpoint, topic string, dispatch func(context.Context, [][]byte)) error {
	sock := zmq4.NewSub(ctx)
	defer sock.Close()

	if err := sock.Dial(endpoint); err != nil {
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}
	if err := sock.SetOption(zmq4.OptionSubscribe, topic); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}

	l.logger.Info("zmqlistener: subscribed", "topic", topic, "endpoint", endpoint)

	// Receive until the socket errors. A successful connection does not
	// reset subscribeLoop's reconnect delay.
	for {
		msg, err := sock.Recv()
		if err != nil {
			return fmt.Errorf("recv %s: %w", topic, err)
		}
		frames := make([][]byte, len(msg.Frames))
		copy(frames, msg.Frames)
		dispatch(ctx, frames)
	}
}
