package publisher

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rmacdonaldsmith/ecal-go/pkg/registration"
	"github.com/rmacdonaldsmith/ecal-go/pkg/transport"
)

// Connection is one subscriber as seen by a publisher
type Connection struct {
	Subscriber registration.EntityID
	DataType   registration.DataTypeInformation
	Layers     transport.LayerStates

	// Active is set once the subscriber registered a second time
	Active bool
}

// connectionTable tracks the subscribers of one publisher. An entry becomes
// active on its second upsert; only active entries are counted.
type connectionTable struct {
	mu      sync.Mutex
	entries map[registration.EntityID]*Connection
	active  atomic.Int64
}

func newConnectionTable() *connectionTable {
	return &connectionTable{entries: make(map[registration.EntityID]*Connection)}
}

// Upsert inserts or refreshes key and reports whether this call activated it
func (t *connectionTable) Upsert(key registration.EntityID, dataType registration.DataTypeInformation, layers transport.LayerStates) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.entries[key]
	if !ok {
		t.entries[key] = &Connection{Subscriber: key, DataType: dataType, Layers: layers}
		return false
	}
	c.DataType = dataType
	c.Layers = layers
	if c.Active {
		return false
	}
	c.Active = true
	t.active.Add(1)
	return true
}

// Remove deletes key and reports whether it existed
func (t *connectionTable) Remove(key registration.EntityID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.entries[key]
	if !ok {
		return false
	}
	if c.Active {
		t.active.Add(-1)
	}
	delete(t.entries, key)
	return true
}

// Count returns the number of active entries without locking
func (t *connectionTable) Count() int {
	return int(t.active.Load())
}

// Snapshot splits every entry by whether the subscriber runs on hostName
func (t *connectionTable) Snapshot(hostName string) (local, external int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key := range t.entries {
		if key.HostName == hostName {
			local++
		} else {
			external++
		}
	}
	return local, external
}

// List returns a copy of every entry ordered by subscriber id
func (t *connectionTable) List() []Connection {
	t.mu.Lock()
	out := make([]Connection, 0, len(t.entries))
	for _, c := range t.entries {
		out = append(out, *c)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Subscriber.ID < out[j].Subscriber.ID })
	return out
}

// Clear drops every entry without reporting anything
func (t *connectionTable) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = make(map[registration.EntityID]*Connection)
	t.active.Store(0)
}
