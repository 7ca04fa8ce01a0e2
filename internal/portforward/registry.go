package portforward

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/sandboxd/internal/common/apperr"
	"github.com/kandev/sandboxd/internal/common/logger"
)

// Registry tracks exposed ports. All mutations are serialized by mu, the
// "global" exclusion primitive spec.md §5 assigns to the Port Registry.
type Registry struct {
	logger *logger.Logger

	mu    sync.Mutex
	ports map[int]*Registration
}

// NewRegistry builds an empty Registry.
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		logger: log.WithFields(zap.String("component", "port-registry")),
		ports:  make(map[int]*Registration),
	}
}

// Expose registers port as exposed. Rejects an out-of-range port or one
// already registered.
func (r *Registry) Expose(port int, name string) (*Registration, error) {
	if port < 1 || port > 65535 {
		return nil, apperr.BadRequest(fmt.Sprintf("port %d out of range [1,65535]", port))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ports[port]; exists {
		return nil, apperr.Conflict(fmt.Sprintf("port %d is already exposed", port))
	}
	reg := &Registration{Port: port, Name: name, ExposedAt: time.Now().UTC()}
	r.ports[port] = reg
	return reg, nil
}

// Get returns the registration for port.
func (r *Registry) Get(port int) (*Registration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.ports[port]
	if !ok {
		return nil, apperr.NotFound("exposed port", fmt.Sprintf("%d", port))
	}
	return reg, nil
}

// List enumerates every exposed port.
func (r *Registry) List() []*Registration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Registration, 0, len(r.ports))
	for _, reg := range r.ports {
		out = append(out, reg)
	}
	return out
}

// Unexpose removes port's registration. Requires it to already exist.
func (r *Registry) Unexpose(port int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ports[port]; !ok {
		return apperr.NotFound("exposed port", fmt.Sprintf("%d", port))
	}
	delete(r.ports, port)
	return nil
}
