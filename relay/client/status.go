package client

// Status is the connection status of the relay client
type Status string

const (
	StatusDisconnected  Status = "disconnected"
	StatusConnecting    Status = "connecting"
	StatusConnected     Status = "connected"
	StatusAuthenticated Status = "authenticated"
	StatusError         Status = "error"
)

func (s Status) String() string {
	return string(s)
}
