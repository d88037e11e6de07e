package health

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/nimburion/docrepo/pkg/repository/document"
)

// Checkable is implemented by store adapters.
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

// AdapterChecker reports the health of a store adapter.
type AdapterChecker struct {
	name    string
	adapter Checkable
	timeout time.Duration
}

// NewAdapterChecker checks adapter within timeout, five seconds when zero.
func NewAdapterChecker(name string, adapter Checkable, timeout time.Duration) *AdapterChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &AdapterChecker{name: name, adapter: adapter, timeout: timeout}
}

func (c *AdapterChecker) Name() string {
	return c.name
}

func (c *AdapterChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.adapter.HealthCheck(checkCtx); err != nil {
		return unhealthy(c.name, start, err)
	}
	return CheckResult{
		Name:      c.name,
		Status:    StatusHealthy,
		Message:   "OK",
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}
}

// CollectionChecker verifies that a collection can be read by counting its
// documents. The count is reported as metadata.
type CollectionChecker struct {
	db         document.Database
	collection string
	timeout    time.Duration
}

// NewCollectionChecker checks collection in db within timeout, five seconds when zero.
func NewCollectionChecker(db document.Database, collection string, timeout time.Duration) *CollectionChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &CollectionChecker{db: db, collection: collection, timeout: timeout}
}

func (c *CollectionChecker) Name() string {
	return fmt.Sprintf("collection:%s", c.collection)
}

func (c *CollectionChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	n, err := c.db.Collection(c.collection).CountDocuments(checkCtx, bson.D{})
	if err != nil {
		return unhealthy(c.Name(), start, err)
	}
	return CheckResult{
		Name:      c.Name(),
		Status:    StatusHealthy,
		Message:   "OK",
		Timestamp: time.Now(),
		Duration:  time.Since(start),
		Metadata: map[string]interface{}{
			"database":  c.db.Name(),
			"documents": n,
		},
	}
}

func unhealthy(name string, start time.Time, err error) CheckResult {
	return CheckResult{
		Name:      name,
		Status:    StatusUnhealthy,
		Error:     err.Error(),
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}
}
