package replication

import (
	"context"
	"errors"
	"io"

	"github.com/QYUbit/Axon/pkg/transport"
)

// Observe applies every message received on peer to m until the connection
// ends or ctx is done. onBatch, when set, is called after each applied
// message. Malformed messages are applied up to the first bad record and
// reported to onError, if set, without ending the loop.
func Observe(ctx context.Context, peer transport.Peer, m *Mirror, onBatch func(data []byte), onError func(err error)) error {
	for {
		data, err := peer.Receive(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		if err := m.Apply(data); err != nil && onError != nil {
			onError(err)
		}
		if onBatch != nil {
			onBatch(data)
		}
	}
}

// SendInvoke encodes event and sends it on the reliable channel.
func SendInvoke[T any](peer transport.Peer, event T) error {
	data, err := EncodeInvoke(event)
	if err != nil {
		return err
	}
	return peer.Send(data, true)
}
