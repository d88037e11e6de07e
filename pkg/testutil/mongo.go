package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// MongoImage is the image started by StartMongo.
const MongoImage = "mongo:7"

const mongoPort nat.Port = "27017/tcp"

// StartMongo starts a disposable single-node MongoDB and returns its
// connection URI. The container is terminated when the test finishes.
func StartMongo(t *testing.T) string {
	t.Helper()
	RequireIntegration(t)
	if url, ok := externalMongoURL(); ok {
		return url
	}

	ctx := context.Background()
	req := testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        MongoImage,
			ExposedPorts: []string{string(mongoPort)},
			WaitingFor: wait.ForAll(
				wait.ForLog("Waiting for connections"),
				wait.ForListeningPort(mongoPort),
			).WithDeadline(90 * time.Second),
		},
		Started: true,
	}

	container, err := testcontainers.GenericContainer(ctx, req)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})
	if err != nil {
		t.Fatalf("Failed to start MongoDB container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, mongoPort)
	if err != nil {
		t.Fatalf("Failed to get mapped port: %v", err)
	}
	return fmt.Sprintf("mongodb://%s:%s/?directConnection=true", host, port.Port())
}
