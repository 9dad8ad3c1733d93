package replication

import (
	"fmt"
	"reflect"

	"github.com/QYUbit/Axon/pkg/action"
	"github.com/QYUbit/Axon/pkg/sbin"
	"github.com/QYUbit/Axon/pkg/typeid"
)

// EncodeInvoke frames event as an Invoke record the way clients send it:
// entity 0, the event's type id and its encoding as payload.
func EncodeInvoke[T any](event T) ([]byte, error) {
	payload, err := sbin.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("replication: encode %s: %w", typeid.Name(reflect.TypeFor[T]()), err)
	}

	return action.Encode(action.Record{
		Kind:    action.Invoke,
		Type:    typeid.Of[T](),
		Payload: payload,
	}), nil
}
