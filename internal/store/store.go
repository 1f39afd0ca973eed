// ABOUTME: Store interface and data types for registry persistence
// ABOUTME: Defines ServiceRecord, ToolDescriptor and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"
)

// Store errors
var (
	// ErrNotFound is returned when a requested service does not exist
	ErrNotFound = errors.New("service not found")

	// ErrDuplicatePath is returned when registering a path that already exists
	ErrDuplicatePath = errors.New("service path already registered")

	// ErrInvalidRecord is returned when a record fails field validation
	ErrInvalidRecord = errors.New("invalid service record")
)

// HealthStatus is the liveness state of a registered service.
type HealthStatus string

// Health status values
const (
	HealthUnknown   HealthStatus = "unknown"
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// ToolDescriptor describes a single callable tool exposed by a service.
// A descriptor has no identity outside its owning ServiceRecord.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
}

// ServiceRecord represents one registered backend service.
type ServiceRecord struct {
	Path              string // unique, immutable, starts with "/"
	DisplayName       string
	ProxyTargetURL    string
	Description       string
	Tags              []string
	ToolCount         int
	StarRating        int
	License           string
	IsPython          bool
	Enabled           bool
	HealthStatus      HealthStatus
	LastHealthCheckAt *time.Time
	ToolCatalog       []ToolDescriptor // cached, refreshed on demand or by the monitor
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HasTag reports whether the record carries the given tag.
func (r *ServiceRecord) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Validate checks the required fields of a record before registration.
func (r *ServiceRecord) Validate() error {
	if r.DisplayName == "" {
		return errors.Join(ErrInvalidRecord, errors.New("displayName is required"))
	}
	if r.Path == "" || !strings.HasPrefix(r.Path, "/") {
		return errors.Join(ErrInvalidRecord, errors.New("path must be non-empty and start with '/'"))
	}
	if strings.TrimPrefix(r.Path, "/") == "" || strings.Contains(strings.TrimPrefix(r.Path, "/"), "/") {
		return errors.Join(ErrInvalidRecord, errors.New("path must be a single non-empty segment"))
	}
	u, err := url.Parse(r.ProxyTargetURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return errors.Join(ErrInvalidRecord, errors.New("proxyTargetURL must be an absolute URL"))
	}
	return nil
}

// applyDefaults fills optional fields the caller left zero-valued.
func (r *ServiceRecord) applyDefaults() {
	if r.License == "" {
		r.License = "N/A"
	}
	if r.Tags == nil {
		r.Tags = []string{}
	}
	if r.HealthStatus == "" {
		r.HealthStatus = HealthUnknown
	}
}

// Filter specifies filtering options for listing services.
type Filter struct {
	EnabledOnly bool
	Tag         string // if non-empty, only services carrying this tag
}

// Store defines the interface for service registry persistence.
// Mutations on a single path are serialized; reads never block on
// unrelated paths.
type Store interface {
	// Register inserts a new service record. Returns ErrDuplicatePath if
	// the path exists and ErrInvalidRecord on validation failure.
	Register(ctx context.Context, record *ServiceRecord) (*ServiceRecord, error)

	// Remove deletes a service and cascades to its cached tool catalog.
	Remove(ctx context.Context, path string) error

	// Toggle flips the enabled flag and returns the new state.
	// Re-enabling resets health to HealthUnknown.
	Toggle(ctx context.Context, path string) (enabled bool, err error)

	// Get returns the service registered at path.
	Get(ctx context.Context, path string) (*ServiceRecord, error)

	// List returns services matching the filter, ordered by path.
	List(ctx context.Context, filter Filter) ([]*ServiceRecord, error)

	// UpdateHealth writes only healthStatus and lastHealthCheckAt.
	// Owned by the health monitor.
	UpdateHealth(ctx context.Context, path string, status HealthStatus, checkedAt time.Time) error

	// ReplaceToolCatalog swaps the cached tool catalog and tool count.
	// Owned by the tool index.
	ReplaceToolCatalog(ctx context.Context, path string, tools []ToolDescriptor) error

	// Close releases the underlying database handle.
	Close() error
}
