package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/ecal-go/internal/descgate"
	"github.com/rmacdonaldsmith/ecal-go/internal/node"
	registrationpkg "github.com/rmacdonaldsmith/ecal-go/pkg/registration"
	"github.com/rmacdonaldsmith/ecal-go/pkg/transport"
)

const testSecret = "test-secret-key"

type fakeMonitor struct {
	health  node.HealthStatus
	catalog *descgate.Gate
}

func (f *fakeMonitor) Health() node.HealthStatus { return f.health }
func (f *fakeMonitor) Catalog() *descgate.Gate   { return f.catalog }

// TestServerSetup holds common test dependencies
type TestServerSetup struct {
	Monitor  *fakeMonitor
	Server   *Server
	Auth     *JWTAuth
	Registry *prometheus.Registry
}

// NewTestServerSetup creates a server over a healthy monitor with an empty catalog
func NewTestServerSetup(t *testing.T, noAuth bool) *TestServerSetup {
	t.Helper()

	mon := &fakeMonitor{
		health: node.HealthStatus{
			Healthy:  true,
			Started:  true,
			HostName: "test-host",
			Network:  "local",
			Uptime:   90 * time.Second,
		},
		catalog: descgate.New(time.Minute, nil),
	}
	reg := prometheus.NewRegistry()
	server := NewServer(mon, Config{
		Port:      "0",
		SecretKey: testSecret,
		NoAuth:    noAuth,
		Gatherer:  reg,
	})
	require.NotNil(t, server)

	return &TestServerSetup{
		Monitor:  mon,
		Server:   server,
		Auth:     server.jwtAuth,
		Registry: reg,
	}
}

// GenerateTestToken creates a JWT token for testing
func (setup *TestServerSetup) GenerateTestToken(t *testing.T, clientID string, isAdmin bool) string {
	t.Helper()

	token, _, err := setup.Auth.GenerateToken(clientID, isAdmin)
	require.NoError(t, err)
	return token
}

// Do runs one request through the routed handler
func (setup *TestServerSetup) Do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	setup.Server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v), w.Body.String())
	return v
}

func entitySample(typ registrationpkg.SampleType, host string, pid int32, id uint64, topic string) registrationpkg.Sample {
	return registrationpkg.Sample{
		Type: typ,
		Topic: registrationpkg.TopicID{
			Entity:    registrationpkg.EntityID{ID: id, HostName: host, ProcessID: pid},
			TopicName: topic,
		},
		ProcessName: "sensor",
		DataType:    registrationpkg.DataTypeInformation{Name: "pb.People.Person", Encoding: "proto"},
		Layers: []registrationpkg.LayerSample{{
			Layer:   transport.LayerSHM,
			Version: 1,
			State:   transport.LayerState{ReadEnabled: true, WriteEnabled: true, Active: true},
		}},
		DataClock:     7,
		DataFrequency: 2500,
		TopicSize:     64,
	}
}
