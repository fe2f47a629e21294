// ABOUTME: In-memory agent registry held by the principal
// ABOUTME: Keeps agent entries and the topic→agents reverse index consistent under one lock

package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"sync"
)

var (
	// ErrNotFound indicates the named agent is not registered.
	ErrNotFound = errors.New("agent not found")

	// ErrInvalidAgent indicates an Upsert was rejected before any state changed.
	ErrInvalidAgent = errors.New("invalid agent")
)

// Agent is a registered broadcast target.
type Agent struct {
	Name        string
	Host        string
	KeyPath     string
	KeyPassword []byte
	Topics      []string // sorted, unique
}

func (a *Agent) clone() Agent {
	return Agent{
		Name:        a.Name,
		Host:        a.Host,
		KeyPath:     a.KeyPath,
		KeyPassword: slices.Clone(a.KeyPassword),
		Topics:      slices.Clone(a.Topics),
	}
}

// Registry maps agent names to their entries and topics to subscribed agents.
// Both maps change together inside one critical section.
type Registry struct {
	mu      sync.RWMutex
	agents  map[string]*Agent
	byTopic map[string]map[string]struct{}
	logger  *slog.Logger
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		agents:  make(map[string]*Agent),
		byTopic: make(map[string]map[string]struct{}),
		logger:  logger.With("component", "registry"),
	}
}

// Upsert replaces any entry named a.Name wholesale. Invalid input leaves the
// registry untouched.
func (r *Registry) Upsert(a Agent) error {
	if err := validate(&a); err != nil {
		return err
	}

	entry := a.clone()
	entry.Topics = normalizeTopics(a.Topics)

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.agents[entry.Name]; ok {
		r.unindexLocked(prev)
	}
	r.agents[entry.Name] = &entry
	for _, topic := range entry.Topics {
		members, ok := r.byTopic[topic]
		if !ok {
			members = make(map[string]struct{})
			r.byTopic[topic] = members
		}
		members[entry.Name] = struct{}{}
	}

	r.logger.Info("agent registered",
		"name", entry.Name,
		"host", entry.Host,
		"topics", entry.Topics,
		"total_agents", len(r.agents),
	)
	return nil
}

// Remove deletes the named agent and its topic memberships. Returns
// ErrNotFound if it was not registered.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.agents[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	r.unindexLocked(prev)
	delete(r.agents, name)

	r.logger.Info("agent removed", "name", name, "total_agents", len(r.agents))
	return nil
}

func (r *Registry) unindexLocked(a *Agent) {
	for _, topic := range a.Topics {
		members := r.byTopic[topic]
		delete(members, a.Name)
		if len(members) == 0 {
			delete(r.byTopic, topic)
		}
	}
}

// Get returns a copy of the named agent.
func (r *Registry) Get(name string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[name]
	if !ok {
		return Agent{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return a.clone(), nil
}

// List returns copies of every agent ordered by name.
func (r *Registry) List() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Agent, 0, len(r.agents))
	for _, a := range r.agents {
		result = append(result, a.clone())
	}
	slices.SortFunc(result, byName)
	return result
}

// AgentsForTopic returns the sorted names of agents subscribed to topic. The
// result is empty, never nil, when nobody subscribes.
func (r *Registry) AgentsForTopic(topic string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.byTopic[topic]
	names := make([]string, 0, len(members))
	for name := range members {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Resolve returns copies of the agents subscribed to topic, read under a
// single lock so entries and index agree.
func (r *Registry) Resolve(topic string) []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.byTopic[topic]
	agents := make([]Agent, 0, len(members))
	for name := range members {
		if a, ok := r.agents[name]; ok {
			agents = append(agents, a.clone())
		}
	}
	slices.SortFunc(agents, byName)
	return agents
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

func byName(a, b Agent) int {
	return strings.Compare(a.Name, b.Name)
}

func validate(a *Agent) error {
	if a.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidAgent)
	}
	if a.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidAgent)
	}
	u, err := url.Parse(a.Host)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: host %q must be an http(s) URL", ErrInvalidAgent, a.Host)
	}
	if a.KeyPath == "" {
		return fmt.Errorf("%w: key path is required", ErrInvalidAgent)
	}
	for _, topic := range a.Topics {
		if topic == "" {
			return fmt.Errorf("%w: empty topic name", ErrInvalidAgent)
		}
	}
	return nil
}

func normalizeTopics(topics []string) []string {
	out := slices.Clone(topics)
	if out == nil {
		out = []string{}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
