package models

// Admin is a panel operator account. The first admin is created with a
// random password on an empty database.
type Admin struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
}

// Inbound is one listening endpoint of the xray engine. The settings,
// stream_settings, sniffing and allocate columns hold JSON blobs shaped
// for the engine config; they are validated when the config is
// synthesized.
type Inbound struct {
	ID             int64  `json:"id"`
	Tag            string `json:"tag"`
	Protocol       string `json:"protocol"`
	Listen         string `json:"listen"`
	Port           int    `json:"port"`
	Settings       string `json:"settings"`
	StreamSettings string `json:"stream_settings"`
	Sniffing       string `json:"sniffing"`
	Allocate       string `json:"allocate"`
	Enabled        bool   `json:"enabled"`
	Remark         string `json:"remark"`
}

// Client is a per-user credential scoped to one inbound. Its ID doubles as
// the subscription token, so it must come from a secure random source.
// ExpiryTime is unix milliseconds, zero means never. TrafficLimit is bytes,
// zero means unlimited.
type Client struct {
	ID           string `json:"id"`
	InboundID    int64  `json:"inbound_id"`
	Email        string `json:"email"`
	UUID         string `json:"uuid"`
	Flow         string `json:"flow"`
	Enabled      bool   `json:"enabled"`
	ExpiryTime   int64  `json:"expiry_time"`
	TrafficLimit int64  `json:"traffic_limit"`
	Upload       int64  `json:"upload"`
	Download     int64  `json:"download"`
	IPLimit      int    `json:"ip_limit"`
}

// TotalUsage is the cumulative traffic counted against the client's limit.
func (c Client) TotalUsage() int64 {
	return c.Upload + c.Download
}

const (
	ProtocolVLESS       = "vless"
	ProtocolVMess       = "vmess"
	ProtocolTrojan      = "trojan"
	ProtocolShadowsocks = "shadowsocks"
)

// KnownProtocol reports whether p is one of the protocols the engine
// config synthesizer understands.
func KnownProtocol(p string) bool {
	switch p {
	case ProtocolVLESS, ProtocolVMess, ProtocolTrojan, ProtocolShadowsocks:
		return true
	}
	return false
}
