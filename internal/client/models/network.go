package models

// Reachability is a tri-state: connectivity may be known while internet
// reachability is not.
type Reachability int

const (
	ReachabilityUnknown Reachability = iota
	Reachable
	Unreachable
)

func (r Reachability) String() string {
	switch r {
	case Reachable:
		return "reachable"
	case Unreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// NetworkKind is the kind of link the host reports.
type NetworkKind string

const (
	NetworkUnknown  NetworkKind = "unknown"
	NetworkNone     NetworkKind = "none"
	NetworkWifi     NetworkKind = "wifi"
	NetworkCellular NetworkKind = "cellular"
	NetworkEthernet NetworkKind = "ethernet"
	NetworkOther    NetworkKind = "other"
)

// NetworkStatus is the connectivity reported by a network monitor.
type NetworkStatus struct {
	IsConnected         bool         `json:"is_connected"`
	IsInternetReachable Reachability `json:"is_internet_reachable"`
	Kind                NetworkKind  `json:"kind"`
}

// Online is a connected status with unknown reachability.
func Online() NetworkStatus {
	return NetworkStatus{IsConnected: true, IsInternetReachable: ReachabilityUnknown, Kind: NetworkUnknown}
}

// Offline is a disconnected status.
func Offline() NetworkStatus {
	return NetworkStatus{IsConnected: false, IsInternetReachable: Unreachable, Kind: NetworkNone}
}
