package pg

import (
	"context"
	"log"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/nandoflorestan/keepluggable/internal/config"
	"github.com/nandoflorestan/keepluggable/internal/domain"
	internal_errors "github.com/nandoflorestan/keepluggable/internal/errors"
)

var store *Storage

func TestMain(m *testing.M) {
	ctx := context.Background()
	var container *postgres.PostgresContainer
	store, container = mustSetup(ctx)
	defer teardown(ctx, store, container)

	exitCode := m.Run()
	os.Exit(exitCode)
}

func mustSetup(ctx context.Context) (*Storage, *postgres.PostgresContainer) {
	dbName := "keepluggable"
	dbUser := "user"
	dbPassword := "password"
	container, err := postgres.Run(ctx,
		"postgres:15.3-alpine",
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPassword),
		testcontainers.WithWaitStrategy(
			// First, we wait for the container to log readiness twice.
			// This is because it will restart itself after the first startup.
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Second),
		),
	)
	if err != nil {
		log.Fatalf("failed to start container: %s", err)
	}
	containerPort, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("failed to obtain container port: %s", err)
	}
	port, err := strconv.Atoi(containerPort.Port())
	if err != nil {
		log.Fatalf("failed to obtain int container port: %s", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("failed to obtain container host: %s", err)
	}

	storage, err := New(config.Pg{Host: host, Port: port, User: dbUser, Password: dbPassword, Dbname: dbName})
	if err != nil {
		log.Fatalf("failed to connect to postgres container: %s", err)
	}
	if err := storage.Migrate(ctx); err != nil {
		log.Fatalf("failed to migrate: %s", err)
	}
	return storage, container
}

func teardown(ctx context.Context, storage *Storage, container *postgres.PostgresContainer) {
	if err := storage.Cleanup(); err != nil {
		log.Printf("failed to close storage connection: %s", err)
	}
	if err := container.Terminate(ctx); err != nil {
		log.Printf("failed to terminate container: %s", err)
	}
}

func intPtr(n int) *int { return &n }

func original(fprint string) *domain.FileMetadata {
	return &domain.FileMetadata{
		Fingerprint: fprint,
		FileName:    "photo.jpg",
		Length:      1234,
		MimeType:    "image/jpeg",
		Version:     domain.VersionOriginal,
		ImageWidth:  intPtr(800),
		ImageHeight: intPtr(600),
	}
}

func TestPut(t *testing.T) {
	ctx := context.Background()
	ns := "test_put"

	t.Run("insert", func(t *testing.T) {
		stored, created, err := store.Put(ctx, ns, original("aaaa0001"))
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotZero(t, stored.Id)
		assert.False(t, stored.Created.IsZero())
	})

	t.Run("same fingerprint updates in place", func(t *testing.T) {
		first, created, err := store.Put(ctx, ns, original("aaaa0002"))
		require.NoError(t, err)
		require.True(t, created)

		md := original("aaaa0002")
		md.FileName = "renamed.jpg"
		second, created, err := store.Put(ctx, ns, md)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.Id, second.Id)
		assert.Equal(t, first.Created, second.Created)
	})

	t.Run("same fingerprint in another namespace is a new row", func(t *testing.T) {
		first, created, err := store.Put(ctx, ns, original("aaaa0003"))
		require.NoError(t, err)
		require.True(t, created)

		second, created, err := store.Put(ctx, ns+"_other", original("aaaa0003"))
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEqual(t, first.Id, second.Id)
	})
}

func TestGet(t *testing.T) {
	ctx := context.Background()
	ns := "test_get"

	t.Run("missing returns nil without error", func(t *testing.T) {
		md, err := store.Get(ctx, ns, "ffff0000")
		require.NoError(t, err)
		assert.Nil(t, md)
	})

	t.Run("versions attached ascending by width", func(t *testing.T) {
		stored, _, err := store.Put(ctx, ns, original("bbbb0001"))
		require.NoError(t, err)

		for i, width := range []int{400, 100} {
			version := original("bbbb000" + strconv.Itoa(2+i))
			version.Version = "v" + strconv.Itoa(width)
			version.OriginalId = &stored.Id
			version.ImageWidth = intPtr(width)
			_, _, err := store.Put(ctx, ns, version)
			require.NoError(t, err)
		}

		md, err := store.Get(ctx, ns, "bbbb0001")
		require.NoError(t, err)
		require.NotNil(t, md)
		require.Len(t, md.Versions, 2)
		assert.Equal(t, 100, *md.Versions[0].ImageWidth)
		assert.Equal(t, 400, *md.Versions[1].ImageWidth)
	})
}

func TestGenAll(t *testing.T) {
	ctx := context.Background()
	ns := "test_gen_all"

	first, _, err := store.Put(ctx, ns, original("cccc0001"))
	require.NoError(t, err)
	version := original("cccc0002")
	version.Version = "thumb"
	version.OriginalId = &first.Id
	_, _, err = store.Put(ctx, ns, version)
	require.NoError(t, err)

	t.Run("no filters returns everything ordered by id", func(t *testing.T) {
		all, err := store.GenAll(ctx, ns, nil)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Less(t, all[0].Id, all[1].Id)
	})

	t.Run("filter by version", func(t *testing.T) {
		all, err := store.GenAll(ctx, ns, &domain.Filters{Version: "thumb"})
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, "cccc0002", all[0].Fingerprint)
	})

	t.Run("filter by original id", func(t *testing.T) {
		all, err := store.GenAll(ctx, ns, &domain.Filters{OriginalId: &first.Id})
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, "cccc0002", all[0].Fingerprint)
	})

	t.Run("unknown namespace is empty", func(t *testing.T) {
		all, err := store.GenAll(ctx, "nope", nil)
		require.NoError(t, err)
		assert.Empty(t, all)
	})
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	ns := "test_update"

	stored, _, err := store.Put(ctx, ns, original("dddd0001"))
	require.NoError(t, err)

	t.Run("allowed fields", func(t *testing.T) {
		md, err := store.Update(ctx, ns, stored.Id, map[string]any{
			"file_name":   "new.jpg",
			"image_width": 640,
		})
		require.NoError(t, err)
		assert.Equal(t, "new.jpg", md.FileName)
		assert.Equal(t, 640, *md.ImageWidth)
		assert.Equal(t, stored.Fingerprint, md.Fingerprint)
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		_, err := store.Update(ctx, ns, stored.Id, map[string]any{"fingerprint": "evil"})
		assert.Error(t, err)
	})

	t.Run("missing id", func(t *testing.T) {
		_, err := store.Update(ctx, ns, 999999, map[string]any{"file_name": "x"})
		assert.True(t, internal_errors.IsNotFound(err))
	})

	t.Run("wrong namespace", func(t *testing.T) {
		_, err := store.Update(ctx, "nope", stored.Id, map[string]any{"file_name": "x"})
		assert.True(t, internal_errors.IsNotFound(err))
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	ns := "test_delete"

	t.Run("removes the row", func(t *testing.T) {
		_, _, err := store.Put(ctx, ns, original("eeee0001"))
		require.NoError(t, err)
		require.NoError(t, store.Delete(ctx, ns, "eeee0001"))

		md, err := store.Get(ctx, ns, "eeee0001")
		require.NoError(t, err)
		assert.Nil(t, md)
	})

	t.Run("cascades to versions", func(t *testing.T) {
		stored, _, err := store.Put(ctx, ns, original("eeee0002"))
		require.NoError(t, err)
		version := original("eeee0003")
		version.Version = "thumb"
		version.OriginalId = &stored.Id
		_, _, err = store.Put(ctx, ns, version)
		require.NoError(t, err)

		require.NoError(t, store.Delete(ctx, ns, "eeee0002"))
		md, err := store.Get(ctx, ns, "eeee0003")
		require.NoError(t, err)
		assert.Nil(t, md)
	})

	t.Run("missing fingerprint is a no-op", func(t *testing.T) {
		assert.NoError(t, store.Delete(ctx, ns, "ffffffff"))
	})
}
