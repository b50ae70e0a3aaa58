package domain

type TunnelState string

const (
	TunnelStateDisabled   TunnelState = "disabled"
	TunnelStateStopped    TunnelState = "stopped"
	TunnelStateConnecting TunnelState = "connecting"
	TunnelStateConnected  TunnelState = "connected"
	TunnelStateError      TunnelState = "error"
)

// TunnelStatus is the agent's view of its SSH forward child. Copies of
// this struct are what the API returns; the supervisor owns the single
// mutable instance.
type TunnelStatus struct {
	Status         TunnelState `json:"status"`
	PID            *int        `json:"pid"`
	ListenPort     *int        `json:"listen_port"`
	Target         *string     `json:"target"`
	LastError      *string     `json:"last_error"`
	ConnectedSince *string     `json:"connected_since"`
	RetryCount     int         `json:"retry_count"`
}
