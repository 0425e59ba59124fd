package app

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"path"
	"strings"
	"time"

	"giftpool/internal/util"
	"giftpool/pkg/domain"
	"giftpool/pkg/modelgen"
	"giftpool/pkg/storage"
	"giftpool/pkg/store"
)

// tempScope is the staging prefix for models that are not yet wrapped into a
// gift. Only temp-scoped objects may ever be cleaned up.
const tempScope = "temp"

// CleanupScheduler defers deletion of staged storage objects.
type CleanupScheduler interface {
	Enqueue(ctx context.Context, objectKey string) error
}

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string
	Store       store.Store

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	Objects        storage.ObjectStore

	// Generator may be nil; generation then runs in demo mode and returns
	// a placeholder model.
	Generator modelgen.Generator

	// Cleanup may be nil; temp objects are then deleted inline.
	Cleanup CleanupScheduler
}

// App is the gift lifecycle core wiring persistence, object storage, and the
// generation client together.
type App struct {
	store     store.Store
	objects   storage.ObjectStore
	generator modelgen.Generator
	cleanup   CleanupScheduler
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	objects := cfg.Objects
	if objects == nil {
		var err error
		objects, err = storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			return nil, fmt.Errorf("init object store: %w", err)
		}
	}
	return &App{
		store:     dataStore,
		objects:   objects,
		generator: cfg.Generator,
		cleanup:   cfg.Cleanup,
	}, nil
}

// GeneratorConfigured reports whether real generation is wired.
func (a *App) GeneratorConfigured() bool {
	return a.generator != nil
}

// CreateOrGetUser returns the user with the given email, creating it when
// absent.
func (a *App) CreateOrGetUser(email string) (domain.User, error) {
	email = strings.ToLower(util.SanitizeString(email, MaxEmailLength))
	if !util.IsEmail(email) {
		return domain.User{}, ErrInvalidEmail
	}
	user, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	if ok {
		return user, nil
	}
	user = domain.User{
		ID:        util.NewUUID(),
		Email:     email,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.SaveUser(user); err != nil {
		// Two concurrent create-or-get calls can race on the unique email
		// index; the loser reads the winner's row.
		if existing, ok, getErr := a.store.GetUserByEmail(email); getErr == nil && ok {
			return existing, nil
		}
		return domain.User{}, fmt.Errorf("save user: %w", err)
	}
	return user, nil
}

// GetUser returns a user by ID.
func (a *App) GetUser(id string) (domain.User, error) {
	if !util.IsUUID(id) {
		return domain.User{}, ErrInvalidUserID
	}
	user, ok, err := a.store.GetUserByID(id)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	return user, nil
}

// GenerateParams are the creator-supplied generation inputs.
type GenerateParams struct {
	Prompt           string
	UserID           string
	Seed             int
	TextureSize      int
	DecimationTarget int
}

// GenerateResult points at the staged model in object storage.
type GenerateResult struct {
	ModelURL string
	Format   string
	Message  string
}

// Generate produces a 3D model for a prompt and stages it under the temp
// scope. The returned URL is what the client later wraps into a gift.
func (a *App) Generate(ctx context.Context, p GenerateParams) (GenerateResult, error) {
	prompt := util.SanitizeString(p.Prompt, MaxPromptLength)
	if prompt == "" {
		return GenerateResult{}, ErrPromptRequired
	}
	if p.UserID != "" && !util.IsUUID(p.UserID) {
		return GenerateResult{}, ErrInvalidUserID
	}
	textureSize := p.TextureSize
	if textureSize == 0 {
		textureSize = 256
	}
	if textureSize < MinTextureSize || textureSize > MaxTextureSize {
		return GenerateResult{}, ErrTextureSizeRange
	}
	decimation := p.DecimationTarget
	if decimation == 0 {
		decimation = 150_000
	}
	if decimation < MinDecimationTarget || decimation > MaxDecimationTarget {
		return GenerateResult{}, ErrDecimationRange
	}
	seed := p.Seed
	if seed == 0 {
		seed = -1
	}

	if a.generator == nil {
		return GenerateResult{
			ModelURL: "/demo-models/cube.obj",
			Format:   "obj",
			Message:  "demo mode - no generation endpoint configured",
		}, nil
	}

	res, err := a.generator.Generate(ctx, modelgen.Request{
		Prompt:           prompt,
		Seed:             seed,
		TextureSize:      textureSize,
		DecimationTarget: decimation,
	})
	if err != nil {
		return GenerateResult{}, err
	}

	key := path.Join(tempScope, util.NewUUID(), "model."+res.Format)
	if err := a.objects.Put(ctx, key, bytes.NewReader(res.ModelData), int64(len(res.ModelData)), "application/octet-stream"); err != nil {
		return GenerateResult{}, fmt.Errorf("stage model: %w", err)
	}
	return GenerateResult{
		ModelURL: a.objects.PublicURL(key),
		Format:   res.Format,
		Message:  "model generated and uploaded to storage",
	}, nil
}

// CleanupModel deletes (or schedules deletion of) a staged temp model, e.g.
// when the user regenerates before wrapping. Gift-owned objects are refused.
func (a *App) CleanupModel(ctx context.Context, url string) error {
	key, ok := a.objects.KeyForURL(strings.TrimSpace(url))
	if !ok || !strings.HasPrefix(key, tempScope+"/") {
		return ErrNotTempObject
	}
	if a.cleanup != nil {
		if err := a.cleanup.Enqueue(ctx, key); err != nil {
			return fmt.Errorf("schedule cleanup: %w", err)
		}
		return nil
	}
	if err := a.objects.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// WrapParams are the creator-supplied wrap inputs.
type WrapParams struct {
	UserID   string
	Name     string
	Prompt   string
	ModelURL string
	Objects  []domain.GiftObject
}

// WrapGift creates a gift around a generated model and places it in the pool.
func (a *App) WrapGift(p WrapParams) (domain.Gift, error) {
	if !util.IsUUID(p.UserID) {
		return domain.Gift{}, ErrInvalidUserID
	}
	name := util.SanitizeString(p.Name, MaxNameLength)
	if name == "" {
		return domain.Gift{}, ErrNameRequired
	}
	prompt := util.SanitizeString(p.Prompt, MaxPromptLength)
	if len(p.Objects) > MaxObjects {
		return domain.Gift{}, ErrTooManyObjects
	}
	modelURL := strings.TrimSpace(p.ModelURL)
	if modelURL == "" && len(p.Objects) > 0 {
		modelURL = strings.TrimSpace(p.Objects[0].URL)
	}
	if modelURL == "" {
		return domain.Gift{}, ErrModelRequired
	}
	if len(modelURL) > MaxModelURLLength {
		return domain.Gift{}, ErrModelURLTooLong
	}

	gift := domain.Gift{
		ID:        util.NewUUID(),
		CreatorID: p.UserID,
		Name:      name,
		Prompt:    prompt,
		ModelURL:  modelURL,
		Objects:   normalizeObjects(modelURL, p.Objects),
		Wrapped:   true,
		Status:    domain.StatusInPool,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.SaveGift(gift); err != nil {
		return domain.Gift{}, fmt.Errorf("save gift: %w", err)
	}
	return gift, nil
}

// normalizeObjects guarantees the primary model is the first object, present
// exactly once, with a default placement when the wrapper gave none.
func normalizeObjects(modelURL string, in []domain.GiftObject) []domain.GiftObject {
	out := make([]domain.GiftObject, 0, len(in)+1)
	primary := domain.DefaultPlacement(modelURL, formatFromURL(modelURL))
	for _, obj := range in {
		obj.URL = strings.TrimSpace(obj.URL)
		if obj.URL == "" {
			continue
		}
		if obj.URL == modelURL {
			// An explicit placement of the primary model wins over the
			// default, but it still moves to the front.
			if !obj.Position.IsZero() || !obj.Rotation.IsZero() || !obj.Scale.IsZero() {
				primary = normalizeObject(obj)
			}
			continue
		}
		out = append(out, normalizeObject(obj))
	}
	return append([]domain.GiftObject{primary}, out...)
}

func normalizeObject(obj domain.GiftObject) domain.GiftObject {
	if obj.Format == "" {
		obj.Format = formatFromURL(obj.URL)
	}
	if obj.Scale.IsZero() {
		obj.Scale = domain.Vec3{1, 1, 1}
	}
	return obj
}

func formatFromURL(url string) string {
	switch strings.ToLower(path.Ext(url)) {
	case ".ply":
		return "ply"
	case ".obj":
		return "obj"
	default:
		return "glb"
	}
}

// DrawGift picks one gift from the pool for the user, uniformly at random.
// ok=false means the pool has nothing for this user, which is an expected
// outcome, not an error. Drawing commits to nothing: the gift stays in the
// pool until someone claims it.
func (a *App) DrawGift(userID string) (domain.Gift, bool, error) {
	if !util.IsUUID(userID) {
		return domain.Gift{}, false, ErrInvalidUserID
	}
	pool, err := a.store.ListPoolGifts(userID)
	if err != nil {
		return domain.Gift{}, false, fmt.Errorf("list pool: %w", err)
	}
	if len(pool) == 0 {
		return domain.Gift{}, false, nil
	}
	gift := pool[rand.Intn(len(pool))]
	a.annotateCreator(&gift)
	return gift, true, nil
}

// ClaimGift assigns a pool gift to the user. Exactly one of any set of
// concurrent claims succeeds; the rest get ErrGiftUnavailable.
func (a *App) ClaimGift(giftID, userID string) (domain.Gift, error) {
	if !util.IsUUID(giftID) {
		return domain.Gift{}, ErrInvalidGiftID
	}
	if !util.IsUUID(userID) {
		return domain.Gift{}, ErrInvalidUserID
	}
	gift, ok, err := a.store.GetGift(giftID)
	if err != nil {
		return domain.Gift{}, fmt.Errorf("get gift: %w", err)
	}
	if !ok || gift.Status != domain.StatusInPool || gift.RecipientID != "" {
		return domain.Gift{}, ErrGiftUnavailable
	}
	if gift.CreatorID == userID {
		return domain.Gift{}, ErrSelfClaim
	}
	now := time.Now().UTC()
	claimed, ok, err := a.store.ClaimGift(giftID, userID, now)
	if err != nil {
		return domain.Gift{}, fmt.Errorf("claim gift: %w", err)
	}
	if !ok {
		// Lost the race after the precondition read.
		return domain.Gift{}, ErrGiftUnavailable
	}
	if err := a.store.AppendOpening(domain.GiftOpening{
		ID:        util.NewUUID(),
		GiftID:    giftID,
		OpenerID:  userID,
		CreatedAt: now,
	}); err != nil {
		// The claim already committed; the audit trail is best-effort.
		slog.Warn("append gift opening failed", "gift_id", giftID, "err", err)
	}
	// The response reports the gift as unwrapping; the persisted flag only
	// flips when the recipient opens it.
	claimed.Wrapped = false
	return claimed, nil
}

// OpenGift marks a claimed gift opened by its recipient. Idempotent.
func (a *App) OpenGift(giftID, userID string) (domain.Gift, error) {
	if !util.IsUUID(giftID) {
		return domain.Gift{}, ErrInvalidGiftID
	}
	if !util.IsUUID(userID) {
		return domain.Gift{}, ErrInvalidUserID
	}
	gift, ok, err := a.store.OpenGift(giftID, userID)
	if err != nil {
		return domain.Gift{}, fmt.Errorf("open gift: %w", err)
	}
	if !ok {
		return domain.Gift{}, ErrNotRecipient
	}
	return gift, nil
}

// GetGift returns one gift with its creator's email resolved.
func (a *App) GetGift(giftID string) (domain.Gift, error) {
	if !util.IsUUID(giftID) {
		return domain.Gift{}, ErrInvalidGiftID
	}
	gift, ok, err := a.store.GetGift(giftID)
	if err != nil {
		return domain.Gift{}, fmt.Errorf("get gift: %w", err)
	}
	if !ok {
		return domain.Gift{}, ErrGiftNotFound
	}
	a.annotateCreator(&gift)
	return gift, nil
}

// ListCreated returns the user's created gifts, newest first.
func (a *App) ListCreated(userID string) ([]domain.Gift, error) {
	if !util.IsUUID(userID) {
		return nil, ErrInvalidUserID
	}
	gifts, err := a.store.ListGiftsByCreator(userID)
	if err != nil {
		return nil, fmt.Errorf("list created: %w", err)
	}
	return gifts, nil
}

// ListReceived returns the user's claimed gifts, most recently claimed first.
func (a *App) ListReceived(userID string) ([]domain.Gift, error) {
	if !util.IsUUID(userID) {
		return nil, ErrInvalidUserID
	}
	gifts, err := a.store.ListGiftsByRecipient(userID)
	if err != nil {
		return nil, fmt.Errorf("list received: %w", err)
	}
	emails := make(map[string]string, len(gifts))
	for i := range gifts {
		a.annotateCreatorCached(&gifts[i], emails)
	}
	return gifts, nil
}

func (a *App) annotateCreator(gift *domain.Gift) {
	a.annotateCreatorCached(gift, nil)
}

func (a *App) annotateCreatorCached(gift *domain.Gift, cache map[string]string) {
	if cache != nil {
		if email, ok := cache[gift.CreatorID]; ok {
			gift.CreatorEmail = email
			return
		}
	}
	user, ok, err := a.store.GetUserByID(gift.CreatorID)
	if err != nil || !ok {
		return
	}
	gift.CreatorEmail = user.Email
	if cache != nil {
		cache[gift.CreatorID] = user.Email
	}
}
