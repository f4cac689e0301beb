package signal

import "github.com/dkeye/Conference/internal/core"

func (ctl *SignalWSController) handlePing(c core.SignalConnection, env envelope) {
	resp := struct {
		Type      string `json:"type"`
		RequestID string `json:"requestId,omitempty"`
	}{
		Type:      "pong",
		RequestID: env.RequestID,
	}
	ctl.sendJSON(c, resp)
}
