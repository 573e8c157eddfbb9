package config

// Config holds the runtime settings for a mesh node. Flags bind to it in
// cmd/meshd.
type Config struct {
	Port    int    // gossip port (TCP sessions + UDP presence)
	APIPort int    // bridge REST/websocket port
	Nick    string // human-readable name advertised to peers
	DataDir string // where identity and the peer registry live
	Webhook string // optional uplink URL for emergency summaries
}

const (
	DefaultPort    = 9000
	DefaultAPIPort = 8080
)
