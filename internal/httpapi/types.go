package httpapi

import "time"

// Request/Response types for the monitor API

// AuthRequest represents a login request
type AuthRequest struct {
	ClientID string `json:"clientId"`
}

// AuthResponse represents a login response
type AuthResponse struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"clientId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// HealthResponse represents a health check response
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

// EntityInfo describes one publisher or subscriber seen on the network
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

// AdminStatsResponse represents node statistics for administrators
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
