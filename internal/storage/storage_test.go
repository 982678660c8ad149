package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Same docker-optional pattern as internal/persistence's integration tests:
// spin up a real MinIO container, skip (not fail) the suite when Docker is
// unavailable.
var (
	testClient       *Client
	skipStorageTests bool
)

func setupMinIO(t *testing.T) *Client {
	t.Helper()
	if testClient != nil {
		return testClient
	}
	if skipStorageTests {
		t.Skip("docker not available, skipping storage integration tests")
	}

	ctx := context.Background()
	var containerErr error
	var container testcontainers.Container
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Cmd:          []string{"server", "/data"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     "testkey",
				"MINIO_ROOT_PASSWORD": "testsecret",
			},
			WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp"),
		}
		container, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()
	if containerErr != nil {
		skipStorageTests = true
		t.Skipf("docker not available, skipping storage integration tests: %v", containerErr)
	}

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	client, err := New(ctx, Config{
		Bucket:       "neuroagent-test",
		Region:       "us-east-1",
		Endpoint:     fmt.Sprintf("http://%s:%s", host, port.Port()),
		AccessKey:    "testkey",
		SecretKey:    "testsecret",
		UsePathStyle: true,
	})
	require.NoError(t, err)

	_, err = client.s3.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(client.bucket)})
	require.NoError(t, err)

	testClient = client
	return client
}

func TestPutGetRoundTrips(t *testing.T) {
	client := setupMinIO(t)
	ctx := context.Background()
	userID := uuid.New()

	id, err := client.Put(ctx, userID, CategoryJSON, "application/json", []byte(`{"ok":true}`), nil)
	require.NoError(t, err)

	got, err := client.Get(ctx, userID, id)
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(got))
}

func TestGetMissingObjectReturnsErrNotFound(t *testing.T) {
	client := setupMinIO(t)
	ctx := context.Background()

	_, err := client.Get(ctx, uuid.New(), uuid.NewString())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPresignedURLIsRetrievable(t *testing.T) {
	client := setupMinIO(t)
	ctx := context.Background()
	userID := uuid.New()

	id, err := client.Put(ctx, userID, CategoryImage, "image/png", []byte("fake-png-bytes"), nil)
	require.NoError(t, err)

	url, err := client.PresignedURL(ctx, userID, id, 5*time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, url)
}

func TestDeleteThreadObjectsOnlyRemovesMatchingThread(t *testing.T) {
	client := setupMinIO(t)
	ctx := context.Background()
	userID := uuid.New()
	threadA := uuid.New()
	threadB := uuid.New()

	idA, err := client.Put(ctx, userID, CategoryJSON, "application/json", []byte(`{"t":"a"}`), &threadA)
	require.NoError(t, err)
	idB, err := client.Put(ctx, userID, CategoryJSON, "application/json", []byte(`{"t":"b"}`), &threadB)
	require.NoError(t, err)

	require.NoError(t, client.DeleteThreadObjects(ctx, userID, threadA))

	_, err = client.Get(ctx, userID, idA)
	require.ErrorIs(t, err, ErrNotFound)

	got, err := client.Get(ctx, userID, idB)
	require.NoError(t, err)
	require.JSONEq(t, `{"t":"b"}`, string(got))
}
