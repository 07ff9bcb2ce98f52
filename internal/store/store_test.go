package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-tavern/salesbot/internal/config"
	"github.com/zhouzirui/z-tavern/salesbot/internal/model/chat"
	"github.com/zhouzirui/z-tavern/salesbot/internal/model/persona"
)

func newTestSQLite(t *testing.T, retention int) *SQLStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "data", "sessions.db"), retention)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func repositories(t *testing.T, retention int) map[string]Repository {
	return map[string]Repository{
		"sqlite": newTestSQLite(t, retention),
		"memory": NewMemory(retention),
	}
}

func TestGetUnknownSessionReturnsNil(t *testing.T) {
	for name, repo := range repositories(t, 0) {
		t.Run(name, func(t *testing.T) {
			state, err := repo.Get(context.Background(), "never-seen")
			require.NoError(t, err)
			assert.Nil(t, state)

			versions, err := repo.Versions(context.Background(), "never-seen")
			require.NoError(t, err)
			assert.Empty(t, versions)
		})
	}
}

func TestPutAppendsVersionsAndGetReturnsLatest(t *testing.T) {
	ctx := context.Background()
	for name, repo := range repositories(t, 0) {
		t.Run(name, func(t *testing.T) {
			first := &chat.State{
				SharedHistory: []chat.Turn{chat.UserTurn("привет")},
				PendingAnswer: "Здравствуйте!",
			}
			v1, err := repo.Put(ctx, "s1", first)
			require.NoError(t, err)
			assert.Equal(t, int64(1), v1)

			second := first.Apply(chat.Delta{
				Stage:      chat.StageDemo,
				AppendDemo: []chat.Turn{chat.UserTurn("покажи демо")},
				Answer:     "[Демонстрация] Добрый день",
				DemoConfiguration: &persona.Config{
					Niche:              "стоматология",
					CompanyName:        "Улыбка",
					PersonaInstruction: "вежливый администратор",
					WelcomeMessage:     "Добро пожаловать",
				},
			})
			v2, err := repo.Put(ctx, "s1", second)
			require.NoError(t, err)
			assert.Equal(t, int64(2), v2)

			got, err := repo.Get(ctx, "s1")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, chat.StageDemo, got.Stage())
			assert.Equal(t, "[Демонстрация] Добрый день", got.PendingAnswer)
			require.Len(t, got.SharedHistory, 1)
			require.Len(t, got.DemoHistory, 1)
			assert.Equal(t, "покажи демо", got.DemoHistory[0].Content)
			require.NotNil(t, got.DemoConfiguration)
			assert.Equal(t, "Улыбка", got.DemoConfiguration.CompanyName)

			old, err := repo.GetVersion(ctx, "s1", 1)
			require.NoError(t, err)
			assert.Equal(t, chat.StageAdmin, old.Stage())
			assert.Nil(t, old.DemoConfiguration)

			_, err = repo.GetVersion(ctx, "s1", 42)
			assert.ErrorIs(t, err, ErrVersionNotFound)

			versions, err := repo.Versions(ctx, "s1")
			require.NoError(t, err)
			require.Len(t, versions, 2)
			assert.Equal(t, chat.StageAdmin, versions[0].Stage)
			assert.Equal(t, chat.StageDemo, versions[1].Stage)
		})
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	for name, repo := range repositories(t, 0) {
		t.Run(name, func(t *testing.T) {
			_, err := repo.Put(ctx, "a", &chat.State{CurrentStage: chat.StageDemo})
			require.NoError(t, err)

			got, err := repo.Get(ctx, "b")
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestRetentionPrunesOldSnapshots(t *testing.T) {
	ctx := context.Background()
	for name, repo := range repositories(t, 2) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 5; i++ {
				_, err := repo.Put(ctx, "s1", &chat.State{PendingAnswer: "turn"})
				require.NoError(t, err)
			}
			versions, err := repo.Versions(ctx, "s1")
			require.NoError(t, err)
			require.Len(t, versions, 2)
			assert.Equal(t, int64(4), versions[0].Version)
			assert.Equal(t, int64(5), versions[1].Version)
		})
	}
}

func TestDeleteAllResetsSession(t *testing.T) {
	ctx := context.Background()
	for name, repo := range repositories(t, 0) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 3; i++ {
				_, err := repo.Put(ctx, "s1", &chat.State{CurrentStage: chat.StageDemo})
				require.NoError(t, err)
			}
			n, err := repo.DeleteAll(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, int64(3), n)

			got, err := repo.Get(ctx, "s1")
			require.NoError(t, err)
			assert.Nil(t, got)

			v, err := repo.Put(ctx, "s1", &chat.State{})
			require.NoError(t, err)
			assert.Equal(t, int64(1), v)
		})
	}
}

func TestEmptySessionIDRejected(t *testing.T) {
	ctx := context.Background()
	for name, repo := range repositories(t, 0) {
		t.Run(name, func(t *testing.T) {
			_, err := repo.Get(ctx, "")
			assert.ErrorIs(t, err, ErrSessionIDRequired)
			_, err = repo.Put(ctx, "", &chat.State{})
			assert.ErrorIs(t, err, ErrSessionIDRequired)
		})
	}
}

func TestConfigUpsertLoadDelete(t *testing.T) {
	ctx := context.Background()
	for name, repo := range repositories(t, 0) {
		t.Run(name, func(t *testing.T) {
			cfg, err := repo.Load(ctx, "s1")
			require.NoError(t, err)
			assert.Nil(t, cfg)

			want := persona.Config{
				Niche:              "фитнес",
				CompanyName:        "Сила",
				PersonaInstruction: "энергичный тренер",
				WelcomeMessage:     "Привет!",
			}
			require.NoError(t, repo.Save(ctx, "s1", "user-1", want))

			want.WelcomeMessage = "Здравствуйте!"
			require.NoError(t, repo.Save(ctx, "s1", "user-1", want))

			got, err := repo.Load(ctx, "s1")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, want, *got)

			require.NoError(t, repo.Save(ctx, "s2", "user-2", want))
			require.NoError(t, repo.Delete(ctx, "s1"))

			got, err = repo.Load(ctx, "s1")
			require.NoError(t, err)
			assert.Nil(t, got)

			n, err := repo.ClearAll(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)
		})
	}
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions.db")

	s, err := NewSQLite(path, 0)
	require.NoError(t, err)
	_, err = s.Put(ctx, "s1", &chat.State{CurrentStage: chat.StageDemoSetup})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := NewSQLite(path, 0)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, chat.StageDemoSetup, got.Stage())
}

func TestConcurrentPutsAllocateDistinctVersions(t *testing.T) {
	ctx := context.Background()
	for name, repo := range repositories(t, 0) {
		t.Run(name, func(t *testing.T) {
			const writers = 8
			var wg sync.WaitGroup
			errs := make(chan error, writers)
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := repo.Put(ctx, "s1", &chat.State{})
					errs <- err
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			versions, err := repo.Versions(ctx, "s1")
			require.NoError(t, err)
			assert.Len(t, versions, writers)
		})
	}
}

func TestRebindNumbersPlaceholders(t *testing.T) {
	s := &SQLStore{dialect: dialect{numbered: true}}
	assert.Equal(t, "a = $1 AND b = $2", s.rebind("a = ? AND b = ?"))

	plain := &SQLStore{}
	assert.Equal(t, "a = ?", plain.rebind("a = ?"))
}

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()

	repo, err := Open(ctx, config.StorageConfig{Driver: config.DriverMemory})
	require.NoError(t, err)
	assert.IsType(t, &InMemoryStore{}, repo)
	require.NoError(t, repo.Close())

	repo, err = Open(ctx, config.StorageConfig{Driver: config.DriverSQLite, Path: filepath.Join(t.TempDir(), "nested", "open.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLStore{}, repo)
	require.NoError(t, repo.Ping(ctx))
	require.NoError(t, repo.Close())

	_, err = Open(ctx, config.StorageConfig{Driver: "mongo"})
	assert.Error(t, err)
}
