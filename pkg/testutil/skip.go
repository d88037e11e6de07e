package testutil

import (
	"os"
	"strings"
	"testing"
)

// MongoURLEnv names a connection string to an existing MongoDB. When it is
// set, StartMongo uses it instead of starting a container.
const MongoURLEnv = "DOCREPO_MONGO_URL"

// RequireIntegration skips the test in short mode, and in CI unless
// INTEGRATION_TESTS is set.
func RequireIntegration(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if os.Getenv("INTEGRATION_TESTS") == "" && os.Getenv("CI") != "" {
		t.Skip("skipping integration test (set INTEGRATION_TESTS=1 to run)")
	}
}

func externalMongoURL() (string, bool) {
	url := strings.TrimSpace(os.Getenv(MongoURLEnv))
	return url, url != ""
}
