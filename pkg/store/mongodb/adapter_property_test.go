package mongodb

import (
	"context"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestProperty_ClosePreventsPing(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 20
	properties := gopter.NewProperties(params)

	properties.Property("closed adapter always fails ping", prop.ForAll(
		func(database string) bool {
			a := &Adapter{closed: true, database: database}
			return errors.Is(a.Ping(context.Background()), ErrClosed)
		},
		gen.Identifier(),
	))

	properties.Property("config without URL never validates", prop.ForAll(
		func(database string) bool {
			return Config{Database: database}.validate() != nil
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
