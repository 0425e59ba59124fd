package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"giftpool/internal/util"
	"giftpool/pkg/domain"
	"giftpool/pkg/modelgen"
	"giftpool/pkg/storage"
	"giftpool/pkg/store"
)

type fakeGenerator struct {
	lastReq modelgen.Request
	result  modelgen.Result
	err     error
}

func (f *fakeGenerator) Generate(_ context.Context, req modelgen.Request) (modelgen.Result, error) {
	f.lastReq = req
	if f.err != nil {
		return modelgen.Result{}, f.err
	}
	return f.result, nil
}

type recordingCleanup struct {
	keys []string
	err  error
}

func (r *recordingCleanup) Enqueue(_ context.Context, objectKey string) error {
	if r.err != nil {
		return r.err
	}
	r.keys = append(r.keys, objectKey)
	return nil
}

func newTestApp(t *testing.T, gen modelgen.Generator, cleanup CleanupScheduler) (*App, *storage.MemoryObjectStore) {
	t.Helper()
	objects := storage.NewMemoryObjectStore()
	a, err := New(Config{
		Store:     store.NewMemoryStore(),
		Objects:   objects,
		Generator: gen,
		Cleanup:   cleanup,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a, objects
}

func mustUser(t *testing.T, a *App, email string) domain.User {
	t.Helper()
	user, err := a.CreateOrGetUser(email)
	if err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	return user
}

func mustWrap(t *testing.T, a *App, userID, name, modelURL string) domain.Gift {
	t.Helper()
	gift, err := a.WrapGift(WrapParams{UserID: userID, Name: name, ModelURL: modelURL})
	if err != nil {
		t.Fatalf("wrap gift: %v", err)
	}
	return gift
}

func TestCreateOrGetUserIdempotent(t *testing.T) {
	a, _ := newTestApp(t, nil, nil)

	first, err := a.CreateOrGetUser("  Alice@Example.COM ")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.Email != "alice@example.com" {
		t.Fatalf("expected normalized email, got %q", first.Email)
	}

	second, err := a.CreateOrGetUser("alice@example.com")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same user on repeat create, got %s vs %s", second.ID, first.ID)
	}
}

func TestCreateOrGetUserRejectsInvalidEmail(t *testing.T) {
	a, _ := newTestApp(t, nil, nil)
	for _, email := range []string{"", "not-an-email", "a@b", "spaces in@example.com", strings.Repeat("x", 250) + "@example.com"} {
		if _, err := a.CreateOrGetUser(email); !errors.Is(err, ErrInvalidEmail) {
			t.Fatalf("email %q: expected ErrInvalidEmail, got %v", email, err)
		}
	}
}

func TestGenerateStagesModelUnderTempScope(t *testing.T) {
	gen := &fakeGenerator{result: modelgen.Result{ModelData: []byte("mesh-bytes"), Format: "glb"}}
	a, objects := newTestApp(t, gen, nil)
	user := mustUser(t, a, "maker@example.com")

	res, err := a.Generate(context.Background(), GenerateParams{Prompt: "a tiny red dragon", UserID: user.ID})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Format != "glb" {
		t.Fatalf("expected glb format, got %q", res.Format)
	}
	key, ok := objects.KeyForURL(res.ModelURL)
	if !ok {
		t.Fatalf("model URL %q does not belong to the store", res.ModelURL)
	}
	if !strings.HasPrefix(key, "temp/") || !strings.HasSuffix(key, "/model.glb") {
		t.Fatalf("expected temp-scoped key, got %q", key)
	}
	if !objects.Has(key) {
		t.Fatalf("expected staged object at %q", key)
	}

	if gen.lastReq.Seed != -1 {
		t.Fatalf("expected unset seed to map to -1, got %d", gen.lastReq.Seed)
	}
	if gen.lastReq.TextureSize != 256 || gen.lastReq.DecimationTarget != 150_000 {
		t.Fatalf("unexpected defaults: %+v", gen.lastReq)
	}
}

func TestGenerateValidation(t *testing.T) {
	a, _ := newTestApp(t, &fakeGenerator{}, nil)
	ctx := context.Background()

	if _, err := a.Generate(ctx, GenerateParams{Prompt: "   "}); !errors.Is(err, ErrPromptRequired) {
		t.Fatalf("expected ErrPromptRequired, got %v", err)
	}
	if _, err := a.Generate(ctx, GenerateParams{Prompt: "ok", UserID: "not-a-uuid"}); !errors.Is(err, ErrInvalidUserID) {
		t.Fatalf("expected ErrInvalidUserID, got %v", err)
	}
	if _, err := a.Generate(ctx, GenerateParams{Prompt: "ok", TextureSize: 64}); !errors.Is(err, ErrTextureSizeRange) {
		t.Fatalf("expected ErrTextureSizeRange, got %v", err)
	}
	if _, err := a.Generate(ctx, GenerateParams{Prompt: "ok", DecimationTarget: 1}); !errors.Is(err, ErrDecimationRange) {
		t.Fatalf("expected ErrDecimationRange, got %v", err)
	}
}

func TestGenerateDemoModeWithoutGenerator(t *testing.T) {
	a, _ := newTestApp(t, nil, nil)

	res, err := a.Generate(context.Background(), GenerateParams{Prompt: "anything"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.ModelURL != "/demo-models/cube.obj" || res.Format != "obj" {
		t.Fatalf("unexpected demo result: %+v", res)
	}
}

func TestGeneratePropagatesGeneratorErrors(t *testing.T) {
	gen := &fakeGenerator{err: modelgen.ErrTimedOut}
	a, _ := newTestApp(t, gen, nil)

	_, err := a.Generate(context.Background(), GenerateParams{Prompt: "slow"})
	if !errors.Is(err, modelgen.ErrTimedOut) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestCleanupModelSchedulesTempObjectsOnly(t *testing.T) {
	cleanup := &recordingCleanup{}
	a, objects := newTestApp(t, nil, cleanup)
	ctx := context.Background()

	tempURL := objects.PublicURL("temp/abc/model.glb")
	if err := a.CleanupModel(ctx, tempURL); err != nil {
		t.Fatalf("cleanup temp: %v", err)
	}
	if len(cleanup.keys) != 1 || cleanup.keys[0] != "temp/abc/model.glb" {
		t.Fatalf("expected scheduled key, got %+v", cleanup.keys)
	}

	giftURL := objects.PublicURL("user-1/gift-1/model.glb")
	if err := a.CleanupModel(ctx, giftURL); !errors.Is(err, ErrNotTempObject) {
		t.Fatalf("expected ErrNotTempObject for gift-owned object, got %v", err)
	}
	if err := a.CleanupModel(ctx, "https://elsewhere.example/temp/x/model.glb"); !errors.Is(err, ErrNotTempObject) {
		t.Fatalf("expected ErrNotTempObject for foreign URL, got %v", err)
	}
}

func TestCleanupModelDeletesInlineWithoutScheduler(t *testing.T) {
	a, objects := newTestApp(t, nil, nil)
	ctx := context.Background()

	key := "temp/xyz/model.obj"
	if err := objects.Put(ctx, key, strings.NewReader("data"), 4, "application/octet-stream"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := a.CleanupModel(ctx, objects.PublicURL(key)); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if objects.Has(key) {
		t.Fatalf("expected inline delete to remove %q", key)
	}
}

func TestWrapGiftNormalizesObjects(t *testing.T) {
	a, _ := newTestApp(t, nil, nil)
	user := mustUser(t, a, "maker@example.com")

	modelURL := "https://objects.local/gifts/temp/abc/model.glb"
	extraURL := "https://objects.local/gifts/temp/def/prop.obj"
	gift, err := a.WrapGift(WrapParams{
		UserID: user.ID,
		Name:   "Dragon",
		Prompt: "a tiny red dragon",
		Objects: []domain.GiftObject{
			{URL: extraURL, Position: domain.Vec3{1, 0, 0}},
			{URL: modelURL},
			{URL: "   "},
		},
	})
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}

	if gift.ModelURL != extraURL {
		// modelURL unset in params, so the first object's URL becomes primary
		t.Fatalf("expected primary %q, got %q", extraURL, gift.ModelURL)
	}
	if len(gift.Objects) != 2 {
		t.Fatalf("expected 2 objects, got %+v", gift.Objects)
	}
	primary := gift.Objects[0]
	if primary.URL != extraURL {
		t.Fatalf("expected primary first, got %q", primary.URL)
	}
	if primary.Position != (domain.Vec3{1, 0, 0}) {
		t.Fatalf("expected explicit primary placement to win, got %+v", primary.Position)
	}
	if primary.Format != "obj" {
		t.Fatalf("expected format derived from URL, got %q", primary.Format)
	}
	if primary.Scale != (domain.Vec3{1, 1, 1}) {
		t.Fatalf("expected default scale, got %+v", primary.Scale)
	}
	if gift.Status != domain.StatusInPool || !gift.Wrapped {
		t.Fatalf("expected wrapped pool gift, got %+v", gift)
	}
}

func TestWrapGiftDefaultPrimaryPlacement(t *testing.T) {
	a, _ := newTestApp(t, nil, nil)
	user := mustUser(t, a, "maker@example.com")

	gift := mustWrap(t, a, user.ID, "Cube", "https://objects.local/gifts/temp/abc/model.glb")
	if len(gift.Objects) != 1 {
		t.Fatalf("expected primary object to be synthesized, got %+v", gift.Objects)
	}
	obj := gift.Objects[0]
	if obj.Position != (domain.Vec3{0, 0.5, 0}) || obj.Scale != (domain.Vec3{1, 1, 1}) || obj.Format != "glb" {
		t.Fatalf("unexpected default placement: %+v", obj)
	}
}

func TestWrapGiftValidation(t *testing.T) {
	a, _ := newTestApp(t, nil, nil)
	user := mustUser(t, a, "maker@example.com")

	cases := []struct {
		name string
		p    WrapParams
		want error
	}{
		{"bad user", WrapParams{UserID: "nope", Name: "x", ModelURL: "https://m/x.glb"}, ErrInvalidUserID},
		{"no name", WrapParams{UserID: user.ID, ModelURL: "https://m/x.glb"}, ErrNameRequired},
		{"no model", WrapParams{UserID: user.ID, Name: "x"}, ErrModelRequired},
		{"long url", WrapParams{UserID: user.ID, Name: "x", ModelURL: "https://m/" + strings.Repeat("a", 2100)}, ErrModelURLTooLong},
	}
	for _, tc := range cases {
		if _, err := a.WrapGift(tc.p); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	many := make([]domain.GiftObject, MaxObjects+1)
	for i := range many {
		many[i] = domain.GiftObject{URL: "https://m/x.glb"}
	}
	if _, err := a.WrapGift(WrapParams{UserID: user.ID, Name: "x", ModelURL: "https://m/x.glb", Objects: many}); !errors.Is(err, ErrTooManyObjects) {
		t.Fatalf("expected ErrTooManyObjects, got %v", err)
	}
}

func TestDrawGiftExcludesOwnGifts(t *testing.T) {
	a, _ := newTestApp(t, nil, nil)
	alice := mustUser(t, a, "alice@example.com")
	bob := mustUser(t, a, "bob@example.com")
	mustWrap(t, a, alice.ID, "From Alice", "https://m/a.glb")

	if _, ok, err := a.DrawGift(alice.ID); err != nil || ok {
		t.Fatalf("expected empty draw for own gift, got ok=%v err=%v", ok, err)
	}

	gift, ok, err := a.DrawGift(bob.ID)
	if err != nil || !ok {
		t.Fatalf("draw: ok=%v err=%v", ok, err)
	}
	if gift.CreatorID != alice.ID {
		t.Fatalf("unexpected draw: %+v", gift)
	}
	if gift.CreatorEmail != "alice@example.com" {
		t.Fatalf("expected creator email resolved, got %q", gift.CreatorEmail)
	}

	// Drawing does not reserve the gift.
	if _, ok, _ := a.DrawGift(bob.ID); !ok {
		t.Fatalf("expected gift to remain in pool after draw")
	}
}

func TestClaimGiftLifecycle(t *testing.T) {
	a, _ := newTestApp(t, nil, nil)
	alice := mustUser(t, a, "alice@example.com")
	bob := mustUser(t, a, "bob@example.com")
	carol := mustUser(t, a, "carol@example.com")
	gift := mustWrap(t, a, alice.ID, "Dragon", "https://m/a.glb")

	if _, err := a.ClaimGift(gift.ID, alice.ID); !errors.Is(err, ErrSelfClaim) {
		t.Fatalf("expected ErrSelfClaim, got %v", err)
	}

	claimed, err := a.ClaimGift(gift.ID, bob.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.RecipientID != bob.ID || claimed.Status != domain.StatusClaimed || claimed.ClaimedAt == nil {
		t.Fatalf("unexpected claimed gift: %+v", claimed)
	}
	if claimed.Wrapped {
		t.Fatalf("claim response should report the gift unwrapping")
	}

	// The stored record keeps wrapped=true until the recipient opens it.
	stored, err := a.GetGift(gift.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !stored.Wrapped {
		t.Fatalf("claim must not persist the unwrap")
	}

	if _, err := a.ClaimGift(gift.ID, carol.ID); !errors.Is(err, ErrGiftUnavailable) {
		t.Fatalf("expected ErrGiftUnavailable for second claim, got %v", err)
	}
}

func TestOpenGift(t *testing.T) {
	a, _ := newTestApp(t, nil, nil)
	alice := mustUser(t, a, "alice@example.com")
	bob := mustUser(t, a, "bob@example.com")
	carol := mustUser(t, a, "carol@example.com")
	gift := mustWrap(t, a, alice.ID, "Dragon", "https://m/a.glb")

	if _, err := a.ClaimGift(gift.ID, bob.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}

	opened, err := a.OpenGift(gift.ID, bob.ID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if opened.Wrapped || opened.Status != domain.StatusOpened {
		t.Fatalf("unexpected opened gift: %+v", opened)
	}

	// Re-opening is allowed and returns the same state.
	again, err := a.OpenGift(gift.ID, bob.ID)
	if err != nil {
		t.Fatalf("re-open: %v", err)
	}
	if again.Status != domain.StatusOpened {
		t.Fatalf("unexpected re-open result: %+v", again)
	}

	if _, err := a.OpenGift(gift.ID, carol.ID); !errors.Is(err, ErrNotRecipient) {
		t.Fatalf("expected ErrNotRecipient for wrong user, got %v", err)
	}
	if _, err := a.OpenGift(util.NewUUID(), bob.ID); err == nil {
		t.Fatalf("expected error opening unknown gift")
	}
}

func TestListCreatedAndReceived(t *testing.T) {
	a, _ := newTestApp(t, nil, nil)
	alice := mustUser(t, a, "alice@example.com")
	bob := mustUser(t, a, "bob@example.com")
	g1 := mustWrap(t, a, alice.ID, "First", "https://m/1.glb")
	g2 := mustWrap(t, a, alice.ID, "Second", "https://m/2.glb")

	created, err := a.ListCreated(alice.ID)
	if err != nil {
		t.Fatalf("list created: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("expected 2 created gifts, got %d", len(created))
	}
	seen := map[string]bool{created[0].ID: true, created[1].ID: true}
	if !seen[g1.ID] || !seen[g2.ID] {
		t.Fatalf("created list missing gifts: %+v", created)
	}

	if _, err := a.ClaimGift(g1.ID, bob.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	received, err := a.ListReceived(bob.ID)
	if err != nil {
		t.Fatalf("list received: %v", err)
	}
	if len(received) != 1 || received[0].ID != g1.ID {
		t.Fatalf("unexpected received list: %+v", received)
	}
	if received[0].CreatorEmail != "alice@example.com" {
		t.Fatalf("expected creator email on received gift, got %q", received[0].CreatorEmail)
	}
}

func TestClaimRecordsOpening(t *testing.T) {
	a, _ := newTestApp(t, nil, nil)
	alice := mustUser(t, a, "alice@example.com")
	bob := mustUser(t, a, "bob@example.com")
	gift := mustWrap(t, a, alice.ID, "Dragon", "https://m/a.glb")

	if _, err := a.ClaimGift(gift.ID, bob.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}

	dataStore := a.store.(*store.MemoryStore)
	openings, err := dataStore.ListOpeningsByGift(gift.ID)
	if err != nil {
		t.Fatalf("list openings: %v", err)
	}
	if len(openings) != 1 || openings[0].OpenerID != bob.ID {
		t.Fatalf("expected one opening by %s, got %+v", bob.ID, openings)
	}
}
