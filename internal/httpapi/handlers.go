package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"sort"
	"strings"

	"github.com/rmacdonaldsmith/ecal-go/internal/descgate"
	"github.com/rmacdonaldsmith/ecal-go/internal/node"
	registrationpkg "github.com/rmacdonaldsmith/ecal-go/pkg/registration"
)

// Monitor is the part of a node the API reads from
type Monitor interface {
	Health() node.HealthStatus
	Catalog() *descgate.Gate
}

var _ Monitor = (*node.Node)(nil)

// Handlers contains the HTTP handlers of the monitor API
type Handlers struct {
	monitor Monitor
	jwtAuth *JWTAuth
}

// NewHandlers creates the handlers
func NewHandlers(monitor Monitor, jwtAuth *JWTAuth) *Handlers {
	return &Handlers{
		monitor: monitor,
		jwtAuth: jwtAuth,
	}
}

// Login handles POST /api/v1/auth/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := validateJSON(r); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req AuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.ClientID) == "" {
		writeError(w, "clientId is required", http.StatusBadRequest)
		return
	}

	// No credential store: the reserved client id "admin" gets admin rights
	isAdmin := req.ClientID == "admin"

	token, expiresAt, err := h.jwtAuth.GenerateToken(req.ClientID, isAdmin)
	if err != nil {
		writeError(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, AuthResponse{
		Token:     token,
		ClientID:  req.ClientID,
		ExpiresAt: expiresAt,
	}, http.StatusOK)
}

// Health handles GET /api/v1/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := h.monitor.Health()

	resp := HealthResponse{
		Healthy:          health.Healthy,
		Message:          health.Message,
		HostName:         health.HostName,
		Network:          health.Network,
		UptimeSeconds:    health.Uptime.Seconds(),
		LocalPublishers:  health.LocalPublishers,
		LocalSubscribers: health.LocalSubscribers,
		KnownPublishers:  health.KnownPublishers,
		KnownSubscribers: health.KnownSubscribers,
	}

	statusCode := http.StatusOK
	if !health.Healthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, resp, statusCode)
}

// ListTopics handles GET /api/v1/topics
func (h *Handlers) ListTopics(w http.ResponseWriter, r *http.Request) {
	topics := h.monitor.Catalog().Topics()
	resp := TopicsResponse{Topics: make([]TopicSummary, 0, len(topics))}
	for _, t := range topics {
		resp.Topics = append(resp.Topics, TopicSummary{
			Name:        t.Name,
			DataType:    dataType(t.DataType),
			Publishers:  t.Publishers,
			Subscribers: t.Subscribers,
		})
	}
	writeJSON(w, resp, http.StatusOK)
}

// GetTopic handles GET /api/v1/topics/{name}
func (h *Handlers) GetTopic(w http.ResponseWriter, r *http.Request, name string) {
	if err := validateTopic(name); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	pubs, subs := h.monitor.Catalog().TopicEntities(name)
	if len(pubs) == 0 && len(subs) == 0 {
		writeError(w, fmt.Sprintf("Topic %q not found", name), http.StatusNotFound)
		return
	}

	resp := TopicDetailResponse{
		Name:        name,
		Publishers:  entities(pubs),
		Subscribers: entities(subs),
	}
	switch {
	case len(pubs) > 0:
		resp.DataType = dataType(pubs[0].Sample.DataType)
	default:
		resp.DataType = dataType(subs[0].Sample.DataType)
	}
	writeJSON(w, resp, http.StatusOK)
}

// AdminGetStats handles GET /api/v1/admin/stats
func (h *Handlers) AdminGetStats(w http.ResponseWriter, r *http.Request) {
	health := h.monitor.Health()
	catalog := h.monitor.Catalog()

	hosts := make(map[string]struct{})
	processes := make(map[string]struct{})
	for _, list := range [][]descgate.Entry{catalog.Publishers(), catalog.Subscribers()} {
		for _, e := range list {
			id := e.Sample.Topic.Entity
			hosts[id.HostName] = struct{}{}
			processes[fmt.Sprintf("%s:%d", id.HostName, id.ProcessID)] = struct{}{}
		}
	}
	hostList := make([]string, 0, len(hosts))
	for host := range hosts {
		hostList = append(hostList, host)
	}
	sort.Strings(hostList)

	writeJSON(w, AdminStatsResponse{
		HostName:         health.HostName,
		UptimeSeconds:    health.Uptime.Seconds(),
		LocalPublishers:  health.LocalPublishers,
		LocalSubscribers: health.LocalSubscribers,
		KnownPublishers:  health.KnownPublishers,
		KnownSubscribers: health.KnownSubscribers,
		Topics:           len(catalog.Topics()),
		Hosts:            hostList,
		Processes:        len(processes),
	}, http.StatusOK)
}

func dataType(d registrationpkg.DataTypeInformation) DataType {
	return DataType{Name: d.Name, Encoding: d.Encoding, Descriptor: d.Descriptor}
}

func entities(entries []descgate.Entry) []EntityInfo {
	out := make([]EntityInfo, 0, len(entries))
	for _, e := range entries {
		s := e.Sample
		info := EntityInfo{
			ID:                  s.Topic.Entity.String(),
			HostName:            s.Topic.Entity.HostName,
			ProcessID:           s.Topic.Entity.ProcessID,
			ProcessName:         s.ProcessName,
			Layers:              make([]LayerInfo, 0, len(s.Layers)),
			ConnectionsLocal:    s.ConnectionsLocal,
			ConnectionsExternal: s.ConnectionsExternal,
			DataClock:           s.DataClock,
			FrequencyHz:         float64(s.DataFrequency) / 1000,
			TopicSize:           s.TopicSize,
			LastSeen:            e.LastSeen,
		}
		for _, l := range s.Layers {
			info.Layers = append(info.Layers, LayerInfo{
				Layer:   l.Layer.String(),
				Version: l.Version,
				Read:    l.State.ReadEnabled,
				Write:   l.State.WriteEnabled,
				Active:  l.State.Active,
			})
		}
		out = append(out, info)
	}
	return out
}

// validateJSON checks the request declares a JSON body
func validateJSON(r *http.Request) error {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return errors.New("Content-Type must be application/json")
	}
	return nil
}

func validateTopic(topic string) error {
	if strings.TrimSpace(topic) == "" {
		return errors.New("topic name is required")
	}
	if len(topic) > 256 {
		return errors.New("topic name is too long")
	}
	return nil
}

// writeError writes an error response as JSON
func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}, statusCode)
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
