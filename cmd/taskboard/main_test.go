package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"taskboard/board"
	"taskboard/config"
	"taskboard/domain"
	"taskboard/session"
	"taskboard/storage"
)

const testSecret = "cli-secret"

type fakeClipboard struct{ writes []string }

func (f *fakeClipboard) WriteText(ctx context.Context, text string) error {
	f.writes = append(f.writes, text)
	return nil
}

type testApp struct {
	*app
	mem  *storage.Memory
	clip *fakeClipboard
}

func newTestApp(t *testing.T) testApp {
	t.Helper()
	t.Setenv("TASKBOARD_TOKEN", "")
	logger, _ := test.NewNullLogger()
	mem := storage.NewMemory()
	live := storage.NewLive(mem, storage.NewLocalFeed(), logger)
	clip := &fakeClipboard{}
	a := &app{
		loadConfig: func() (config.Config, error) {
			return config.Config{
				PublicURL:       "https://tasks.example.com",
				StoreBackend:    config.BackendMemory,
				LocalAuthSecret: testSecret,
			}, nil
		},
		openStore: func(context.Context, config.Config, *log.Logger) (*storage.Live, func(), error) {
			return live, func() {}, nil
		},
		clipboard: clip,
		log:       logger,
	}
	return testApp{app: a, mem: mem, clip: clip}
}

func run(ctx context.Context, a *app, args ...string) (string, error) {
	root := newRootCommand(a)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func tokenFor(t *testing.T, email string) string {
	t.Helper()
	tok, err := session.LocalToken([]byte(testSecret), email, time.Hour)
	require.NoError(t, err)
	return tok
}

func TestTasksRequireSignIn(t *testing.T) {
	ta := newTestApp(t)

	_, err := run(context.Background(), ta.app, "tasks", "add", "buy", "milk")
	require.ErrorIs(t, err, errNotSignedIn)

	_, err = run(context.Background(), ta.app, "tasks", "add", "--token", "garbage", "buy milk")
	require.ErrorIs(t, err, errNotSignedIn)
}

func TestTasksAddAndRemove(t *testing.T) {
	ta := newTestApp(t)
	ctx := context.Background()
	tok := tokenFor(t, "a@x.com")

	_, err := run(ctx, ta.app, "tasks", "add", "--token", tok, "--public", "buy", "milk")
	require.NoError(t, err)

	tasks, err := ta.mem.List(ctx, "a@x.com")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, "buy milk", tasks[0].Text)
	require.True(t, tasks[0].IsPublic)

	_, err = run(ctx, ta.app, "tasks", "rm", "--token", tok, tasks[0].ID)
	require.NoError(t, err)
	tasks, err = ta.mem.List(ctx, "a@x.com")
	require.NoError(t, err)
	require.Empty(t, tasks)
}

func TestTasksAddRejectsBlankText(t *testing.T) {
	ta := newTestApp(t)

	_, err := run(context.Background(), ta.app, "tasks", "add", "--token", tokenFor(t, "a@x.com"), "   ")
	require.EqualError(t, err, "task text is empty")
}

func TestTasksUseTokenFromEnvironment(t *testing.T) {
	ta := newTestApp(t)
	t.Setenv("TASKBOARD_TOKEN", tokenFor(t, "env@x.com"))

	_, err := run(context.Background(), ta.app, "tasks", "add", "from env")
	require.NoError(t, err)
	tasks, err := ta.mem.List(context.Background(), "env@x.com")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
}

func TestTasksShareCopiesLink(t *testing.T) {
	ta := newTestApp(t)

	out, err := run(context.Background(), ta.app, "tasks", "share", "--token", tokenFor(t, "a@x.com"), "T1")
	require.NoError(t, err)
	require.Equal(t, []string{"https://tasks.example.com/task/T1"}, ta.clip.writes)
	require.Contains(t, out, board.ShareConfirmation)
	require.Contains(t, out, "https://tasks.example.com/task/T1")
}

func TestTasksWatchPrintsCurrentTasks(t *testing.T) {
	ta := newTestApp(t)
	_, err := ta.mem.Insert(context.Background(), domain.Task{Text: "water plants", Owner: "a@x.com", CreatedAt: time.Now()})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	out, err := run(ctx, ta.app, "tasks", "watch", "--token", tokenFor(t, "a@x.com"))
	require.NoError(t, err)
	require.Contains(t, out, "-- 1 task(s)")
	require.Contains(t, out, "water plants")
}

func TestTokenCommand(t *testing.T) {
	ta := newTestApp(t)

	out, err := run(context.Background(), ta.app, "token", "--email", "a@x.com")
	require.NoError(t, err)

	p := session.NewProvider(session.Config{LocalSecret: []byte(testSecret)})
	sess, err := p.FromToken(strings.TrimSpace(out))
	require.NoError(t, err)
	require.Equal(t, "a@x.com", sess.Email)
}

func TestTokenCommandRequiresLocalAuth(t *testing.T) {
	ta := newTestApp(t)
	ta.loadConfig = func() (config.Config, error) {
		return config.Config{PublicURL: "https://tasks.example.com", AuthDomain: "issuer.example.com"}, nil
	}

	_, err := run(context.Background(), ta.app, "token", "--email", "a@x.com")
	require.ErrorContains(t, err, "LOCAL_AUTH_MODE")
}

func TestInitStorageRequiresTables(t *testing.T) {
	ta := newTestApp(t)

	_, err := run(context.Background(), ta.app, "init-storage")
	require.ErrorContains(t, err, "STORE_BACKEND=tables")
}

func TestOpenStoreWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	logger, _ := test.NewNullLogger()
	cfg := config.Config{
		StoreBackend:          config.BackendMemory,
		RedisConnectionString: "redis://" + mr.Addr(),
		SnapshotCacheTTL:      time.Minute,
	}

	store, cleanup, err := openStore(context.Background(), cfg, logger)
	require.NoError(t, err)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := store.Subscribe(ctx, domain.OwnerQuery("a@x.com"))
	require.NoError(t, err)
	defer sub.Close()

	_, err = store.Insert(ctx, domain.Task{Text: "buy milk", Owner: "a@x.com", CreatedAt: time.Now()})
	require.NoError(t, err)

	timeout := time.After(2 * time.Second)
	for {
		select {
		case tasks := <-sub.Snapshots():
			if len(tasks) == 1 {
				require.True(t, mr.Exists("taskboard:tasks:a@x.com"), "snapshot should be cached")
				return
			}
		case <-timeout:
			t.Fatalf("timeout waiting for snapshot")
		}
	}
}

func TestOpenStoreWithoutRedis(t *testing.T) {
	logger, _ := test.NewNullLogger()
	store, cleanup, err := openStore(context.Background(), config.Config{StoreBackend: config.BackendMemory}, logger)
	require.NoError(t, err)
	defer cleanup()
	require.NotNil(t, store)
}
