// Package descgate keeps the process-wide catalog of every publisher and
// subscriber seen through registration.
package descgate

import (
	"context"
	"sort"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/rmacdonaldsmith/ecal-go/pkg/registration"
)

// DefaultTimeout is how long an entity survives without a refresh
const DefaultTimeout = 10 * time.Second

// Entry is one catalogued entity
type Entry struct {
	Sample   registration.Sample
	LastSeen time.Time
}

// Topic summarizes the entities of one topic name
type Topic struct {
	Name        string
	DataType    registration.DataTypeInformation
	Publishers  int
	Subscribers int
}

// Gate is the catalog
type Gate struct {
	timeout time.Duration
	now     func() time.Time

	publishers  *xsync.MapOf[registration.EntityID, Entry]
	subscribers *xsync.MapOf[registration.EntityID, Entry]
}

// New creates an empty catalog. A zero timeout uses DefaultTimeout and a
// nil now uses time.Now.
func New(timeout time.Duration, now func() time.Time) *Gate {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if now == nil {
		now = time.Now
	}
	return &Gate{
		timeout:     timeout,
		now:         now,
		publishers:  xsync.NewMapOf[registration.EntityID, Entry](),
		subscribers: xsync.NewMapOf[registration.EntityID, Entry](),
	}
}

// ApplySample records or removes the entity described by s
func (g *Gate) ApplySample(s registration.Sample) {
	m := g.publishers
	if s.IsSubscriber() {
		m = g.subscribers
	}
	key := s.Topic.Entity

	switch s.Type {
	case registration.SampleRegisterPublisher, registration.SampleRegisterSubscriber:
		m.Store(key, Entry{Sample: s, LastSeen: g.now()})
	case registration.SampleUnregisterPublisher, registration.SampleUnregisterSubscriber:
		m.Delete(key)
	}
}

// Publishers returns every known publisher ordered by topic and entity
func (g *Gate) Publishers() []Entry {
	return sorted(g.publishers)
}

// Subscribers returns every known subscriber ordered by topic and entity
func (g *Gate) Subscribers() []Entry {
	return sorted(g.subscribers)
}

// TopicEntities returns the publishers and subscribers of one topic
func (g *Gate) TopicEntities(name string) (pubs, subs []Entry) {
	for _, e := range g.Publishers() {
		if e.Sample.Topic.TopicName == name {
			pubs = append(pubs, e)
		}
	}
	for _, e := range g.Subscribers() {
		if e.Sample.Topic.TopicName == name {
			subs = append(subs, e)
		}
	}
	return pubs, subs
}

// Topics summarizes every topic name, ordered by name. The data type is
// taken from a publisher when one exists.
func (g *Gate) Topics() []Topic {
	topics := make(map[string]*Topic)
	get := func(name string) *Topic {
		t, ok := topics[name]
		if !ok {
			t = &Topic{Name: name}
			topics[name] = t
		}
		return t
	}

	g.subscribers.Range(func(_ registration.EntityID, e Entry) bool {
		t := get(e.Sample.Topic.TopicName)
		t.Subscribers++
		if t.DataType.Name == "" {
			t.DataType = e.Sample.DataType
		}
		return true
	})
	g.publishers.Range(func(_ registration.EntityID, e Entry) bool {
		t := get(e.Sample.Topic.TopicName)
		t.Publishers++
		t.DataType = e.Sample.DataType
		return true
	})

	out := make([]Topic, 0, len(topics))
	for _, t := range topics {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Size returns the number of publishers and subscribers
func (g *Gate) Size() (publishers, subscribers int) {
	return g.publishers.Size(), g.subscribers.Size()
}

// Expire drops entities not refreshed within the timeout and returns an
// unregistration sample for each of them
func (g *Gate) Expire(now time.Time) []registration.Sample {
	var out []registration.Sample
	expire := func(m *xsync.MapOf[registration.EntityID, Entry], unregister registration.SampleType) {
		m.Range(func(key registration.EntityID, e Entry) bool {
			if now.Sub(e.LastSeen) <= g.timeout {
				return true
			}
			// a refresh may have raced with the scan
			removed := false
			m.Compute(key, func(cur Entry, loaded bool) (Entry, bool) {
				if !loaded {
					return cur, true
				}
				if now.Sub(cur.LastSeen) <= g.timeout {
					return cur, false
				}
				removed = true
				return cur, true
			})
			if removed {
				out = append(out, registration.Sample{
					Type:        unregister,
					Topic:       e.Sample.Topic,
					ProcessName: e.Sample.ProcessName,
					DataType:    e.Sample.DataType,
				})
			}
			return true
		})
	}
	expire(g.publishers, registration.SampleUnregisterPublisher)
	expire(g.subscribers, registration.SampleUnregisterSubscriber)
	return out
}

// Dispatcher calls produce and delivers the samples it returns without
// letting other samples in between
type Dispatcher func(produce func() []registration.Sample)

// Run calls Expire through dispatch every interval until ctx is done. The
// dispatcher must be the one that delivers received samples, so that a
// refresh cannot land between the expiry and its unregistrations.
func (g *Gate) Run(ctx context.Context, interval time.Duration, dispatch Dispatcher) error {
	if interval <= 0 {
		interval = g.timeout / 4
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if dispatch != nil {
				dispatch(func() []registration.Sample { return g.Expire(g.now()) })
			}
		}
	}
}

func sorted(m *xsync.MapOf[registration.EntityID, Entry]) []Entry {
	out := make([]Entry, 0, m.Size())
	m.Range(func(_ registration.EntityID, e Entry) bool {
		out = append(out, e)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Sample.Topic, out[j].Sample.Topic
		if a.TopicName != b.TopicName {
			return a.TopicName < b.TopicName
		}
		return a.Entity.ID < b.Entity.ID
	})
	return out
}
