package remote

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/javanhut/evees/internal/cas"
	"github.com/javanhut/evees/internal/evees"
)

func newPerspective(t *testing.T, r evees.Remote, ts uint64, tag string) evees.SecuredPerspective {
	t.Helper()
	p, err := cas.DeriveSecured(evees.Perspective{
		Remote:    r.ID(),
		Path:      "test",
		CreatorID: r.UserID(),
		Timestamp: ts,
		Context:   tag,
	}, r.Store().Config())
	if err != nil {
		t.Fatalf("DeriveSecured failed: %v", err)
	}
	return p
}

func testRemoteBehaviour(t *testing.T, r evees.Remote) {
	t.Helper()
	ctx := context.Background()

	if err := r.Ready(ctx); err != nil {
		t.Fatalf("Ready failed: %v", err)
	}

	p := newPerspective(t, r, 1, "doc")
	if err := r.CreatePerspective(ctx, evees.NewPerspectiveData{Perspective: p}); !evees.IsAuthorizationDenied(err) {
		t.Fatalf("expected write before login to be denied, got %v", err)
	}

	if err := r.Login(ctx); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if logged, _ := r.IsLogged(ctx); !logged {
		t.Fatal("expected remote to be logged in")
	}

	if err := r.CreatePerspective(ctx, evees.NewPerspectiveData{Perspective: p}); err != nil {
		t.Fatalf("CreatePerspective failed: %v", err)
	}
	// creating the same perspective again is a no-op
	if err := r.CreatePerspective(ctx, evees.NewPerspectiveData{Perspective: p}); err != nil {
		t.Fatalf("second CreatePerspective failed: %v", err)
	}

	details, err := r.GetPerspective(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPerspective failed: %v", err)
	}
	if details.ContextValue() != "doc" || details.HeadID != nil {
		t.Errorf("unexpected initial details %+v", details)
	}

	ok, err := r.CanWrite(ctx, p.ID)
	if err != nil || !ok {
		t.Fatalf("expected creator to be able to write, got %v %v", ok, err)
	}

	// patch only touches the head
	if err := r.UpdatePerspective(ctx, p.ID, evees.PerspectiveDetails{HeadID: evees.Str("c1")}); err != nil {
		t.Fatalf("UpdatePerspective failed: %v", err)
	}
	details, _ = r.GetPerspective(ctx, p.ID)
	if details.Head() != "c1" || details.ContextValue() != "doc" {
		t.Errorf("patch did not preserve context: %+v", details)
	}

	// moving to another context maintains both indexes
	if err := r.UpdatePerspective(ctx, p.ID, evees.PerspectiveDetails{Context: evees.Str("other")}); err != nil {
		t.Fatalf("UpdatePerspective context failed: %v", err)
	}
	if ids, _ := r.GetContextPerspectives(ctx, "doc"); len(ids) != 0 {
		t.Errorf("expected old context to be empty, got %v", ids)
	}
	if ids, _ := r.GetContextPerspectives(ctx, "other"); len(ids) != 1 || ids[0] != p.ID {
		t.Errorf("expected new context to list %s, got %v", p.ID, ids)
	}

	// child inherits the owner of its parent
	child := newPerspective(t, r, 2, "")
	err = r.CreatePerspective(ctx, evees.NewPerspectiveData{Perspective: child, ParentID: p.ID, CanWrite: "someone-else"})
	if err != nil {
		t.Fatalf("CreatePerspective child failed: %v", err)
	}
	owner, err := r.AccessControl().GetOwner(ctx, child.ID)
	if err != nil || owner != r.UserID() {
		t.Errorf("expected child owner %s, got %s (%v)", r.UserID(), owner, err)
	}

	// explicit canWrite applies without a parent
	foreign := newPerspective(t, r, 3, "")
	if err := r.CreatePerspective(ctx, evees.NewPerspectiveData{Perspective: foreign, CanWrite: "bob"}); err != nil {
		t.Fatalf("CreatePerspective foreign failed: %v", err)
	}
	if ok, _ := r.CanWrite(ctx, foreign.ID); ok {
		t.Error("expected perspective owned by bob to be read-only")
	}
	if err := r.UpdatePerspective(ctx, foreign.ID, evees.PerspectiveDetails{HeadID: evees.Str("x")}); !evees.IsAuthorizationDenied(err) {
		t.Errorf("expected AuthorizationDenied, got %v", err)
	}

	// soft delete keeps the head and clears owner and context
	if err := r.DeletePerspective(ctx, p.ID); err != nil {
		t.Fatalf("DeletePerspective failed: %v", err)
	}
	details, err = r.GetPerspective(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPerspective after delete failed: %v", err)
	}
	if details.Head() != "c1" || details.Context != nil {
		t.Errorf("unexpected details after delete %+v", details)
	}
	if ids, _ := r.GetContextPerspectives(ctx, "other"); len(ids) != 0 {
		t.Errorf("expected deleted perspective out of context, got %v", ids)
	}
	if ok, _ := r.CanWrite(ctx, p.ID); ok {
		t.Error("expected deleted perspective to have no writer")
	}

	if _, err := r.GetPerspective(ctx, "zMissing"); !evees.IsNotFound(err) {
		t.Errorf("expected NotFound, got %v", err)
	}

	wrong, _ := cas.DeriveSecured(evees.Perspective{Remote: "elsewhere", Path: "x"}, r.Store().Config())
	if err := r.CreatePerspective(ctx, evees.NewPerspectiveData{Perspective: wrong}); !evees.IsMultiAuthority(err) {
		t.Errorf("expected MultiAuthority for foreign remote, got %v", err)
	}

	stale := p
	stale.ID = "zStale"
	if err := r.CreatePerspective(ctx, evees.NewPerspectiveData{Perspective: stale}); !evees.IsIdentityMismatch(err) {
		t.Errorf("expected IdentityMismatch for stale id, got %v", err)
	}

	if err := r.Logout(ctx); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if err := r.UpdatePerspective(ctx, child.ID, evees.PerspectiveDetails{HeadID: evees.Str("y")}); !evees.IsAuthorizationDenied(err) {
		t.Errorf("expected write after logout to be denied, got %v", err)
	}
}

func TestMemoryRemote(t *testing.T) {
	testRemoteBehaviour(t, NewMemoryRemote("local", "alice", nil))
}

func TestBoltRemote(t *testing.T) {
	r, err := OpenBoltRemote("local", "alice", t.TempDir(), cas.DefaultCidConfig)
	if err != nil {
		t.Fatalf("OpenBoltRemote failed: %v", err)
	}
	defer r.Close()
	testRemoteBehaviour(t, r)
}

func TestRedisRemote(t *testing.T) {
	s := miniredis.RunT(t)
	r, err := NewRedisRemote("shared", "alice", "redis://"+s.Addr(), cas.DefaultCidConfig)
	if err != nil {
		t.Fatalf("NewRedisRemote failed: %v", err)
	}
	defer r.Close()
	testRemoteBehaviour(t, r)
}

func TestRedisStoreRejectsDifferentContent(t *testing.T) {
	s := miniredis.RunT(t)
	r, err := NewRedisRemote("shared", "alice", "redis://"+s.Addr(), cas.DefaultCidConfig)
	if err != nil {
		t.Fatalf("NewRedisRemote failed: %v", err)
	}
	defer r.Close()

	ctx := context.Background()
	store := r.Store()
	id, err := store.Create(ctx, map[string]string{"text": "hello"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := s.Set("evees:obj:"+id, `{"text":"other"}`); err != nil {
		t.Fatalf("miniredis Set failed: %v", err)
	}
	if _, err := store.Create(ctx, map[string]string{"text": "hello"}); !evees.IsIdentityMismatch(err) {
		t.Errorf("expected IdentityMismatch, got %v", err)
	}
	if _, err := store.Get(ctx, "zMissing"); !evees.IsNotFound(err) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestLoginRequiresUser(t *testing.T) {
	r := NewMemoryRemote("local", "", nil)
	if err := r.Login(context.Background()); !evees.IsAuthorizationDenied(err) {
		t.Errorf("expected AuthorizationDenied, got %v", err)
	}
}

func TestApplyGovernedSkipsOwnerCheck(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRemote("local", "alice", nil)
	foreign := newPerspective(t, r, 1, "doc")
	update := []evees.UpdateRequest{{PerspectiveID: foreign.ID, Details: evees.PerspectiveDetails{HeadID: evees.Str("c1")}}}
	created := []evees.NewPerspectiveData{{Perspective: foreign, CanWrite: "bob"}}

	if err := r.ApplyGoverned(ctx, created, update); !evees.IsAuthorizationDenied(err) {
		t.Fatalf("expected governed apply before login to be denied, got %v", err)
	}
	if err := r.Login(ctx); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if err := r.ApplyGoverned(ctx, created, update); err != nil {
		t.Fatalf("ApplyGoverned failed: %v", err)
	}

	details, err := r.GetPerspective(ctx, foreign.ID)
	if err != nil {
		t.Fatalf("GetPerspective failed: %v", err)
	}
	if details.Head() != "c1" {
		t.Errorf("expected head c1, got %q", details.Head())
	}
	owner, err := r.AccessControl().GetOwner(ctx, foreign.ID)
	if err != nil || owner != "bob" {
		t.Errorf("expected owner bob, got %s (%v)", owner, err)
	}
}
