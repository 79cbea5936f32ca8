package bus

import "github.com/rxtech-lab/argo-signals/internal/types"

// Pub/sub channels.
const (
	ChannelTickerActivation   = "ticker_activation"
	ChannelM1Ready            = "ohlcv_m1_ready"
	ChannelAggregate          = "ohlcv_aggregate"
	ChannelSignalActivation   = "signal_activation"
	ChannelIncomingSignals    = "incoming_signals"
	ChannelStrategyActivation = "strategy_activation"
	ChannelExitSignals        = "exit_signals"
	ChannelPositionOpened     = "position_opened"
)

// Streams.
const (
	StreamSignals         = "signals_stream"
	StreamStrategyTasks   = "strategy_tasks"
	StreamIndicatorsReady = "indicators_ready_stream"
	StreamPositionClose   = "position:close"
)

// ReadyChannel returns the bar-ready channel of tf.
func ReadyChannel(tf types.Timeframe) string {
	return tf.ReadyChannel()
}

// AggregatedReadyChannels lists ohlcv_{m5,m15,m30,h1,h4}_ready.
func AggregatedReadyChannels() []string {
	out := make([]string, 0, len(types.AggregatedTimeframes))
	for _, tf := range types.AggregatedTimeframes {
		out = append(out, tf.ReadyChannel())
	}

	return out
}
