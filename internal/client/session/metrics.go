package session

import "github.com/calsync/project/internal/platform/metrics"

var (
	stateGauge = metrics.NewGaugeVec(metrics.Opts{
		Name: "calsync_session_state",
		Help: "Current transport session state, one-hot.",
	}, []string{"state"})
	reconnectAttempts = metrics.NewCounterVec(metrics.Opts{
		Name: "calsync_session_reconnects_total",
		Help: "Reconnect attempts by outcome.",
	}, []string{"outcome"})
	framesTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "calsync_session_frames_total",
		Help: "Frames sent and received by the transport session.",
	}, []string{"direction", "type"})
)

var allStates = []State{StateIdle, StateConnecting, StateOpen, StateReconnecting}

func init() {
	metrics.Default.MustRegister(stateGauge, reconnectAttempts, framesTotal)
}

func reportState(current State) {
	for _, st := range allStates {
		v := 0.0
		if st == current {
			v = 1
		}
		stateGauge.Set(v, string(st))
	}
}
