package httpclient

import "time"

// Config holds client configuration
type Config struct {
	// ServerURL is the base URL of the monitor API (e.g., "http://localhost:8081")
	ServerURL string

	// ClientID is the identifier for this client
	ClientID string

	// Timeout for HTTP requests
	Timeout time.Duration

	// MaxRetries bounds the retries of a GET that failed in transport.
	// Zero selects the default, a negative value disables retries.
	MaxRetries int
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

// AuthResponse represents the response from authentication
type AuthResponse struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"clientId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ErrorResponse represents an error response from the API
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Healthy          bool    `json:"healthy"`
	Message          string  `json:"message,omitempty"`
	HostName         string  `json:"hostName"`
	Network          string  `json:"network"`
	UptimeSeconds    float64 `json:"uptimeSeconds"`
	LocalPublishers  int     `json:"localPublishers"`
	LocalSubscribers int     `json:"localSubscribers"`
	KnownPublishers  int     `json:"knownPublishers"`
	KnownSubscribers int     `json:"knownSubscribers"`
}

// DataType describes the payload type of a topic
type DataType struct {
	Name       string `json:"name"`
	Encoding   string `json:"encoding"`
	Descriptor []byte `json:"descriptor,omitempty"`
}

// TopicSummary is one row of the topic listing
type TopicSummary struct {
	Name        string   `json:"name"`
	DataType    DataType `json:"dataType"`
	Publishers  int      `json:"publishers"`
	Subscribers int      `json:"subscribers"`
}

// TopicsResponse lists every known topic
type TopicsResponse struct {
	Topics []TopicSummary `json:"topics"`
}

// LayerInfo is the advertised state of one transport layer
type LayerInfo struct {
	Layer   string `json:"layer"`
	Version int32  `json:"version"`
	Read    bool   `json:"read"`
	Write   bool   `json:"write"`
	Active  bool   `json:"active"`
}

// EntityInfo describes one publisher or subscriber
type EntityInfo struct {
	ID                  string      `json:"id"`
	HostName            string      `json:"hostName"`
	ProcessID           int32       `json:"processId"`
	ProcessName         string      `json:"processName,omitempty"`
	Layers              []LayerInfo `json:"layers"`
	ConnectionsLocal    int32       `json:"connectionsLocal"`
	ConnectionsExternal int32       `json:"connectionsExternal"`
	DataClock           int64       `json:"dataClock"`
	FrequencyHz         float64     `json:"frequencyHz"`
	TopicSize           int32       `json:"topicSize"`
	LastSeen            time.Time   `json:"lastSeen"`
}

// TopicDetailResponse describes the entities of one topic
type TopicDetailResponse struct {
	Name        string       `json:"name"`
	DataType    DataType     `json:"dataType"`
	Publishers  []EntityInfo `json:"publishers"`
	Subscribers []EntityInfo `json:"subscribers"`
}

// AdminStatsResponse represents node statistics (admin only)
type AdminStatsResponse struct {
	HostName         string   `json:"hostName"`
	UptimeSeconds    float64  `json:"uptimeSeconds"`
	LocalPublishers  int      `json:"localPublishers"`
	LocalSubscribers int      `json:"localSubscribers"`
	KnownPublishers  int      `json:"knownPublishers"`
	KnownSubscribers int      `json:"knownSubscribers"`
	Topics           int      `json:"topics"`
	Hosts            []string `json:"hosts"`
	Processes        int      `json:"processes"`
}
