// Package store opens the document store selected by configuration.
package store

import (
	"context"

	"github.com/nimburion/docrepo/pkg/repository/document"
)

// Adapter is the minimal lifecycle and health contract for storage adapters.
type Adapter interface {
	HealthCheck(ctx context.Context) error
	Close() error
}

// DocumentStore is an opened backend that repositories can bind to.
type DocumentStore interface {
	Adapter
	// Database returns the handle passed to document.NewRepository.
	Database() document.Database
	// System names the backend for span attributes, e.g. "mongodb".
	System() string
}
