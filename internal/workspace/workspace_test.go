package workspace

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/javanhut/evees/internal/cas"
	"github.com/javanhut/evees/internal/evees"
	"github.com/javanhut/evees/internal/remote"
)

func setupClient(t *testing.T, remoteIDs ...string) *evees.Client {
	t.Helper()
	if len(remoteIDs) == 0 {
		remoteIDs = []string{"local"}
	}
	registry := evees.NewRemoteRegistry()
	for _, id := range remoteIDs {
		r := remote.NewMemoryRemote(id, "alice", nil)
		if err := r.Login(context.Background()); err != nil {
			t.Fatalf("Login failed: %v", err)
		}
		registry.Register(r)
	}
	client := evees.NewClient(registry)
	var clock atomic.Uint64
	client.Now = func() uint64 { return clock.Add(1) }
	return client
}

func createPerspective(t *testing.T, client *evees.Client, remoteID, tag, head string) string {
	t.Helper()
	r, err := client.Remotes.Get(remoteID)
	if err != nil {
		t.Fatalf("Get remote failed: %v", err)
	}
	id, err := client.CreatePerspective(context.Background(), r, evees.CreateOptions{Context: tag, HeadID: head})
	if err != nil {
		t.Fatalf("CreatePerspective failed: %v", err)
	}
	return id
}

func TestAddEntityDeduplicates(t *testing.T) {
	client := setupClient(t)
	ws := New(client)

	obj := map[string]string{"text": "hello"}
	e, err := cas.Derive(obj, cas.DefaultCidConfig)
	if err != nil {
		t.Fatalf("Derive failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := ws.AddEntity(Entity{ID: e.ID, Object: obj, Remote: "local"}); err != nil {
			t.Fatalf("AddEntity failed: %v", err)
		}
	}
	if n := len(ws.GetEntities()); n != 1 {
		t.Errorf("expected 1 entity, got %d", n)
	}

	// pending entities are readable before they are persisted
	data, err := ws.Fetch(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(data) != `{"text":"hello"}` {
		t.Errorf("unexpected pending bytes %s", data)
	}
}

func TestHasUpdates(t *testing.T) {
	ctx := context.Background()
	client := setupClient(t)
	pid := createPerspective(t, client, "local", "doc", "c1")

	ws := New(client)
	if has, err := ws.HasUpdates(ctx); err != nil || has {
		t.Fatalf("expected empty workspace to have no updates, got %v %v", has, err)
	}

	ws.AddPerspectiveUpdate(pid, evees.PerspectiveDetails{HeadID: evees.Str("c1")})
	if has, err := ws.HasUpdates(ctx); err != nil || has {
		t.Errorf("expected unchanged head to be no update, got %v %v", has, err)
	}

	ws.AddPerspectiveUpdate(pid, evees.PerspectiveDetails{HeadID: evees.Str("c2")})
	has, err := ws.HasUpdates(ctx)
	if err != nil {
		t.Fatalf("HasUpdates failed: %v", err)
	}
	if !has {
		t.Error("expected changed head to be an update")
	}
}

func TestHasUpdatesPropagatesNotFound(t *testing.T) {
	client := setupClient(t)
	ws := New(client)
	ws.AddPerspectiveUpdate("zMissing", evees.PerspectiveDetails{HeadID: evees.Str("c1")})
	if _, err := ws.HasUpdates(context.Background()); !evees.IsNotFound(err) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestExecuteCreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	client := setupClient(t)
	local, _ := client.Remotes.Get("local")

	p, err := client.NewPerspective(local, "", "doc")
	if err != nil {
		t.Fatalf("NewPerspective failed: %v", err)
	}
	ws := New(client)
	if err := ws.AddNewPerspective(evees.NewPerspectiveData{Perspective: p}); err != nil {
		t.Fatalf("AddNewPerspective failed: %v", err)
	}

	data := map[string]string{"text": "draft"}
	e, _ := cas.Derive(data, local.Store().Config())
	if err := ws.AddEntity(Entity{ID: e.ID, Object: data, Remote: "local"}); err != nil {
		t.Fatalf("AddEntity failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := ws.ExecuteCreate(ctx); err != nil {
			t.Fatalf("ExecuteCreate run %d failed: %v", i, err)
		}
	}

	if _, err := local.GetPerspective(ctx, p.ID); err != nil {
		t.Errorf("expected perspective to exist: %v", err)
	}
	if _, err := local.Store().Get(ctx, e.ID); err != nil {
		t.Errorf("expected data to exist: %v", err)
	}
}

func TestExecuteCreateDetectsIdentityMismatch(t *testing.T) {
	client := setupClient(t)
	ws := New(client)
	if err := ws.AddEntity(Entity{ID: "zWrong", Object: map[string]int{"n": 1}, Remote: "local"}); err != nil {
		t.Fatalf("AddEntity failed: %v", err)
	}
	if err := ws.ExecuteCreate(context.Background()); !evees.IsIdentityMismatch(err) {
		t.Errorf("expected IdentityMismatch, got %v", err)
	}
}

func TestExecuteAppliesUpdatesAndConverges(t *testing.T) {
	ctx := context.Background()
	client := setupClient(t)
	a := createPerspective(t, client, "local", "doc", "c1")
	b := createPerspective(t, client, "local", "doc", "c1")

	ws := New(client)
	ws.AddPerspectiveUpdate(a, evees.PerspectiveDetails{HeadID: evees.Str("c2")})
	ws.AddPerspectiveUpdate(b, evees.PerspectiveDetails{Name: evees.Str("draft")})

	for i := 0; i < 2; i++ {
		if err := ws.Execute(ctx); err != nil {
			t.Fatalf("Execute run %d failed: %v", i, err)
		}
	}

	da, _ := client.GetPerspectiveDetails(ctx, a)
	if da.Head() != "c2" || da.ContextValue() != "doc" {
		t.Errorf("unexpected details for a: %+v", da)
	}
	db, _ := client.GetPerspectiveDetails(ctx, b)
	if db.Head() != "c1" || db.NameValue() != "draft" {
		t.Errorf("unexpected details for b: %+v", db)
	}

	if has, err := ws.HasUpdates(ctx); err != nil || has {
		t.Errorf("expected executed workspace to have no pending changes, got %v %v", has, err)
	}
}

func TestOverlayReadsPendingState(t *testing.T) {
	ctx := context.Background()
	client := setupClient(t)
	local, _ := client.Remotes.Get("local")
	existing := createPerspective(t, client, "local", "doc", "c1")

	p, _ := client.NewPerspective(local, "", "doc")
	ws := New(client)
	if err := ws.AddNewPerspective(evees.NewPerspectiveData{Perspective: p, Details: evees.PerspectiveDetails{HeadID: evees.Str("c9")}}); err != nil {
		t.Fatalf("AddNewPerspective failed: %v", err)
	}
	ws.AddPerspectiveUpdate(existing, evees.PerspectiveDetails{HeadID: evees.Str("c2")})

	d, err := ws.GetPerspectiveDetails(ctx, existing)
	if err != nil || d.Head() != "c2" || d.ContextValue() != "doc" {
		t.Errorf("expected overlay head c2 in context doc, got %+v (%v)", d, err)
	}
	d, err = ws.GetPerspectiveDetails(ctx, p.ID)
	if err != nil || d.Head() != "c9" {
		t.Errorf("expected pending perspective head c9, got %+v (%v)", d, err)
	}

	ids, err := ws.GetContextPerspectives(ctx, local, "doc")
	if err != nil {
		t.Fatalf("GetContextPerspectives failed: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("expected stored and pending perspectives in context, got %v", ids)
	}
}

func TestIsSingleAuthority(t *testing.T) {
	ctx := context.Background()
	client := setupClient(t, "local", "shared")
	a := createPerspective(t, client, "local", "", "")
	b := createPerspective(t, client, "shared", "", "")

	ws := New(client)
	ws.AddPerspectiveUpdate(a, evees.PerspectiveDetails{HeadID: evees.Str("c1")})
	if ok, err := ws.IsSingleAuthority(ctx, "local"); err != nil || !ok {
		t.Errorf("expected single authority, got %v %v", ok, err)
	}

	ws.AddPerspectiveUpdate(b, evees.PerspectiveDetails{HeadID: evees.Str("c1")})
	if ok, err := ws.IsSingleAuthority(ctx, "local"); err != nil || ok {
		t.Errorf("expected multiple authorities, got %v %v", ok, err)
	}
}

func TestConcurrentAccumulation(t *testing.T) {
	client := setupClient(t)
	ws := New(client)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("p%d", i%10)
			ws.AddPerspectiveUpdate(id, evees.PerspectiveDetails{HeadID: evees.Str("c")})
			obj := map[string]int{"n": i}
			e, _ := cas.Derive(obj, cas.DefaultCidConfig)
			_ = ws.AddEntity(Entity{ID: e.ID, Object: obj, Remote: "local"})
		}(i)
	}
	wg.Wait()

	if n := len(ws.GetUpdates()); n != 10 {
		t.Errorf("expected 10 distinct updates, got %d", n)
	}
	if n := len(ws.GetEntities()); n != 50 {
		t.Errorf("expected 50 entities, got %d", n)
	}
}

// countingRemote counts detail reads and holds them until release is closed.
type countingRemote struct {
	*remote.MemoryRemote
	reads   atomic.Int32
	release chan struct{}
}

func (r *countingRemote) GetPerspective(ctx context.Context, id string) (evees.PerspectiveDetails, error) {
	r.reads.Add(1)
	<-r.release
	return r.MemoryRemote.GetPerspective(ctx, id)
}

func TestStoredDetailsReadOncePerPerspective(t *testing.T) {
	ctx := context.Background()
	mem := remote.NewMemoryRemote("local", "alice", nil)
	if err := mem.Login(ctx); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	counting := &countingRemote{MemoryRemote: mem, release: make(chan struct{})}
	client := evees.NewClient(evees.NewRemoteRegistry(counting))
	pid, err := client.CreatePerspective(ctx, mem, evees.CreateOptions{Context: "doc", HeadID: "c1"})
	if err != nil {
		t.Fatalf("CreatePerspective failed: %v", err)
	}

	ws := New(client)
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := ws.GetPerspectiveDetails(ctx, pid)
			if err == nil && d.Head() != "c1" {
				err = fmt.Errorf("unexpected head %q", d.Head())
			}
			errs <- err
		}()
	}
	close(counting.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("GetPerspectiveDetails failed: %v", err)
		}
	}
	if n := counting.reads.Load(); n != 1 {
		t.Errorf("expected one remote read, got %d", n)
	}
}
