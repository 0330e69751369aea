package types

const (
	TransportWifi     = "wifi"
	TransportCellular = "cellular"
	TransportEthernet = "ethernet"
	TransportNone     = "none"
	TransportUnknown  = "unknown"
)

type NetworkState struct {
	IsConnected   bool   `json:"is_connected"`
	TransportType string `json:"transport_type"`
}

// NetworkStateProvider reports connectivity. Subscribe returns a function
// that removes the subscription.
type NetworkStateProvider interface {
	Current() NetworkState
	Subscribe(fn func(NetworkState)) (unsubscribe func())
}
