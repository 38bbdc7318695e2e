package pipeline

import (
	"context"

	"github.com/BaSui01/counselflow/types"
)

// Sink receives events in emission order on the run's goroutine.
type Sink func(types.Event)

// ChannelSink forwards events to ch, giving up once ctx is done.
func ChannelSink(ctx context.Context, ch chan<- types.Event) Sink {
	return func(ev types.Event) {
		select {
		case ch <- ev:
		case <-ctx.Done():
		}
	}
}

// Collect 把事件追加到切片，测试与同步调用使用
func Collect(events *[]types.Event) Sink {
	return func(ev types.Event) { *events = append(*events, ev) }
}
