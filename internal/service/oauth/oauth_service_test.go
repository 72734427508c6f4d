package oauth

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zierocode/FormDee-sub002/internal/domain"
)

func TestBuildAuthorizationURL(t *testing.T) {
	h := newOAuthTestHarness()
	raw, err := h.service.BuildAuthorizationURL(FlowPopup, "frm_1")
	require.NoError(t, err)

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	state := DecodeState(parsed.Query().Get("state"))
	require.Equal(t, FlowPopup, state.Kind)
	require.Equal(t, "frm_1", state.FormID)
}

func TestBuildAuthorizationURL_NotConfigured(t *testing.T) {
	h := newOAuthTestHarness()
	h.google.authURLErr = domain.ErrNotConfigured

	_, err := h.service.BuildAuthorizationURL(FlowRedirect, "")
	require.ErrorIs(t, err, domain.ErrNotConfigured)
}

func TestHandleCallback_PopupSuccess(t *testing.T) {
	h := newOAuthTestHarness()
	h.forms.add("frm_1")

	out := h.service.HandleCallback(context.Background(), CallbackInput{
		Code:     "auth-code",
		StateRaw: `{"type":"popup","formId":"frm_1"}`,
	})

	require.Equal(t, OutcomeSuccess, out.Status)
	require.Equal(t, FlowPopup, out.Flow)
	require.NotNil(t, out.User)
	require.Equal(t, "owner@example.com", out.User.Email)

	stored, err := h.grants.GetByEmail(context.Background(), "owner@example.com")
	require.NoError(t, err)
	require.Equal(t, "access-1", stored.AccessToken)
	require.Equal(t, "refresh-1", stored.RefreshToken)

	linked, err := h.grants.GetByForm(context.Background(), "frm_1")
	require.NoError(t, err)
	require.Equal(t, stored.ID, linked.ID)
}

func TestHandleCallback_ProviderError(t *testing.T) {
	h := newOAuthTestHarness()

	out := h.service.HandleCallback(context.Background(), CallbackInput{
		ErrorStr: "access_denied",
		StateRaw: `{"type":"redirect"}`,
	})

	require.Equal(t, OutcomeError, out.Status)
	require.Equal(t, FlowRedirect, out.Flow)
	require.Equal(t, "access_denied", out.Reason)
}

func TestHandleCallback_MissingCode(t *testing.T) {
	h := newOAuthTestHarness()

	out := h.service.HandleCallback(context.Background(), CallbackInput{
		StateRaw: "popup",
	})

	require.Equal(t, OutcomeMissingCode, out.Status)
	require.Equal(t, FlowPopup, out.Flow)
}

// Replaying a single-use authorization code makes Google reject the second
// exchange; that must surface as an Error outcome, never a panic or an
// unhandled error.
func TestHandleCallback_ReplayedCodeDegrades(t *testing.T) {
	h := newOAuthTestHarness()

	first := h.service.HandleCallback(context.Background(), CallbackInput{
		Code:     "one-shot-code",
		StateRaw: `{"type":"redirect"}`,
	})
	require.Equal(t, OutcomeSuccess, first.Status)

	h.google.exchangeErr = fmt.Errorf("%w: code already redeemed", domain.ErrExchangeFailed)
	second := h.service.HandleCallback(context.Background(), CallbackInput{
		Code:     "one-shot-code",
		StateRaw: `{"type":"redirect"}`,
	})
	require.Equal(t, OutcomeError, second.Status)
}

func TestHandleCallback_PreservesStoredRefreshToken(t *testing.T) {
	h := newOAuthTestHarness()
	seedGrant(t, h, "owner@example.com", "refresh-original", nil)

	// Repeat consent: Google returns tokens without a refresh_token.
	h.google.tokens = domain.GoogleTokens{
		AccessToken: "access-2",
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	out := h.service.HandleCallback(context.Background(), CallbackInput{
		Code:     "code-2",
		StateRaw: `{"type":"popup"}`,
	})
	require.Equal(t, OutcomeSuccess, out.Status)

	stored, err := h.grants.GetByEmail(context.Background(), "owner@example.com")
	require.NoError(t, err)
	require.Equal(t, "access-2", stored.AccessToken)
	require.Equal(t, "refresh-original", stored.RefreshToken)
}

func TestHandleCallback_LinkFailureIsNonFatal(t *testing.T) {
	h := newOAuthTestHarness()
	// frm_missing was never added, so the link write fails.

	out := h.service.HandleCallback(context.Background(), CallbackInput{
		Code:     "auth-code",
		StateRaw: `{"type":"popup","formId":"frm_missing"}`,
	})

	require.Equal(t, OutcomeSuccess, out.Status)
	_, err := h.grants.GetByEmail(context.Background(), "owner@example.com")
	require.NoError(t, err)
}

func TestEnsureGrantForForm_UsesLinkedGrant(t *testing.T) {
	h := newOAuthTestHarness()
	h.forms.add("frm_1")
	grant := seedGrant(t, h, "owner@example.com", "r", nil)
	require.NoError(t, h.forms.LinkGrant(context.Background(), "frm_1", grant.ID))

	got, inherited, err := h.service.EnsureGrantForForm(context.Background(), "frm_1")
	require.NoError(t, err)
	require.False(t, inherited)
	require.Equal(t, grant.ID, got.ID)
}

func TestEnsureGrantForForm_FallsBackToMostRecentlyUsed(t *testing.T) {
	h := newOAuthTestHarness()
	h.forms.add("frm_1")

	older := time.Now().Add(-2 * time.Hour)
	newer := time.Now().Add(-time.Minute)
	seedGrant(t, h, "stale@example.com", "r1", &older)
	expected := seedGrant(t, h, "fresh@example.com", "r2", &newer)
	seedGrant(t, h, "never-used@example.com", "r3", nil)

	got, inherited, err := h.service.EnsureGrantForForm(context.Background(), "frm_1")
	require.NoError(t, err)
	require.True(t, inherited)
	require.Equal(t, expected.Email, got.Email)

	linked, err := h.grants.GetByForm(context.Background(), "frm_1")
	require.NoError(t, err)
	require.Equal(t, expected.ID, linked.ID)
}

func TestEnsureGrantForForm_NoGrantsAnywhere(t *testing.T) {
	h := newOAuthTestHarness()
	h.forms.add("frm_1")

	_, _, err := h.service.EnsureGrantForForm(context.Background(), "frm_1")
	require.ErrorIs(t, err, domain.ErrGrantNotFound)
}

func TestEnsureGrantForForm_UnknownForm(t *testing.T) {
	h := newOAuthTestHarness()
	_, _, err := h.service.EnsureGrantForForm(context.Background(), "nope")
	require.ErrorIs(t, err, domain.ErrFormNotFound)
}

func TestTokenForForm_LiveTokenPassesThrough(t *testing.T) {
	h := newOAuthTestHarness()
	h.forms.add("frm_1")
	grant := seedGrant(t, h, "owner@example.com", "r", nil)
	require.NoError(t, h.forms.LinkGrant(context.Background(), "frm_1", grant.ID))
	h.google.live = true

	token, err := h.service.TokenForForm(context.Background(), "frm_1")
	require.NoError(t, err)
	require.Equal(t, grant.AccessToken, token)

	stored, err := h.grants.GetByEmail(context.Background(), "owner@example.com")
	require.NoError(t, err)
	require.NotNil(t, stored.LastUsedAt)
}

func TestTokenForForm_RefreshesDeadToken(t *testing.T) {
	h := newOAuthTestHarness()
	h.forms.add("frm_1")
	grant := seedGrant(t, h, "owner@example.com", "refresh-ok", nil)
	require.NoError(t, h.forms.LinkGrant(context.Background(), "frm_1", grant.ID))
	h.google.live = false
	h.google.refreshed = domain.GoogleTokens{
		AccessToken: "access-new",
		ExpiresAt:   time.Now().Add(time.Hour),
	}

	token, err := h.service.TokenForForm(context.Background(), "frm_1")
	require.NoError(t, err)
	require.Equal(t, "access-new", token)

	stored, err := h.grants.GetByEmail(context.Background(), "owner@example.com")
	require.NoError(t, err)
	require.Equal(t, "access-new", stored.AccessToken)
}

func TestTokenForForm_RevokedGrantNeedsReauth(t *testing.T) {
	h := newOAuthTestHarness()
	h.forms.add("frm_1")
	grant := seedGrant(t, h, "owner@example.com", "refresh-revoked", nil)
	require.NoError(t, h.forms.LinkGrant(context.Background(), "frm_1", grant.ID))
	h.google.live = false
	h.google.refreshErr = fmt.Errorf("%w: invalid_grant", domain.ErrReauthRequired)

	_, err := h.service.TokenForForm(context.Background(), "frm_1")
	require.ErrorIs(t, err, domain.ErrReauthRequired)
}

func TestTokenForForm_NoRefreshTokenNeedsReauth(t *testing.T) {
	h := newOAuthTestHarness()
	h.forms.add("frm_1")
	grant := seedGrant(t, h, "owner@example.com", "", nil)
	require.NoError(t, h.forms.LinkGrant(context.Background(), "frm_1", grant.ID))
	h.google.live = false

	_, err := h.service.TokenForForm(context.Background(), "frm_1")
	require.ErrorIs(t, err, domain.ErrReauthRequired)
}

func TestDeleteGrantByEmail_LeavesOthersUntouched(t *testing.T) {
	h := newOAuthTestHarness()
	h.forms.add("frm_1")
	h.forms.add("frm_2")
	victim := seedGrant(t, h, "victim@example.com", "r1", nil)
	keeper := seedGrant(t, h, "keeper@example.com", "r2", nil)
	require.NoError(t, h.forms.LinkGrant(context.Background(), "frm_1", victim.ID))
	require.NoError(t, h.forms.LinkGrant(context.Background(), "frm_2", keeper.ID))

	require.NoError(t, h.service.DeleteGrantByEmail(context.Background(), "victim@example.com"))

	_, err := h.grants.GetByEmail(context.Background(), "victim@example.com")
	require.ErrorIs(t, err, domain.ErrGrantNotFound)

	kept, err := h.grants.GetByEmail(context.Background(), "keeper@example.com")
	require.NoError(t, err)
	linked, err := h.grants.GetByForm(context.Background(), "frm_2")
	require.NoError(t, err)
	require.Equal(t, kept.ID, linked.ID)
}

func TestDeleteAllGrants(t *testing.T) {
	h := newOAuthTestHarness()
	seedGrant(t, h, "a@example.com", "r1", nil)
	seedGrant(t, h, "b@example.com", "r2", nil)

	require.NoError(t, h.service.DeleteAllGrants(context.Background()))
	grants, err := h.service.ListGrants(context.Background())
	require.NoError(t, err)
	require.Empty(t, grants)
}

// ---- Test harness and fakes ----

type oauthTestHarness struct {
	service OAuthService
	grants  *fakeGrantRepo
	forms   *fakeFormRepo
	google  *fakeGoogleClient
}

func newOAuthTestHarness() *oauthTestHarness {
	forms := newFakeFormRepo()
	grants := newFakeGrantRepo(forms)
	google := &fakeGoogleClient{
		tokens: domain.GoogleTokens{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			ExpiresAt:    time.Now().Add(time.Hour),
		},
		identity: domain.GoogleIdentity{
			Email:   "owner@example.com",
			Name:    "Form Owner",
			Picture: "https://img.example.com/owner.png",
		},
	}
	svc := NewOAuthService(grants, forms, google, nil, zap.NewNop())
	return &oauthTestHarness{service: svc, grants: grants, forms: forms, google: google}
}

func seedGrant(t *testing.T, h *oauthTestHarness, email, refreshToken string, lastUsed *time.Time) domain.GoogleGrant {
	t.Helper()
	grant, err := h.grants.Upsert(context.Background(), domain.GoogleGrant{
		Email:        email,
		AccessToken:  "access-" + email,
		RefreshToken: refreshToken,
		ExpiresAt:    time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	h.grants.setLastUsed(email, lastUsed)
	return grant
}

type fakeGrantRepo struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]domain.GoogleGrant
	forms  *fakeFormRepo
}

func newFakeGrantRepo(forms *fakeFormRepo) *fakeGrantRepo {
	return &fakeGrantRepo{byID: map[int64]domain.GoogleGrant{}, forms: forms}
}

func (f *fakeGrantRepo) setLastUsed(email string, at *time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, g := range f.byID {
		if g.Email == email {
			g.LastUsedAt = at
			f.byID[id] = g
		}
	}
}

func (f *fakeGrantRepo) GetByEmail(_ context.Context, email string) (domain.GoogleGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.byID {
		if g.Email == strings.ToLower(email) {
			return g, nil
		}
	}
	return domain.GoogleGrant{}, domain.ErrGrantNotFound
}

func (f *fakeGrantRepo) GetByForm(ctx context.Context, formID string) (domain.GoogleGrant, error) {
	grantID, err := f.forms.GetGrantID(ctx, formID)
	if err != nil {
		return domain.GoogleGrant{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if grantID != nil {
		if g, ok := f.byID[*grantID]; ok {
			return g, nil
		}
	}
	return domain.GoogleGrant{}, domain.ErrGrantNotFound
}

func (f *fakeGrantRepo) MostRecentlyUsed(context.Context) (domain.GoogleGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var (
		best  domain.GoogleGrant
		found bool
	)
	for _, g := range f.byID {
		if !found || moreRecentlyUsed(g, best) {
			best = g
			found = true
		}
	}
	if !found {
		return domain.GoogleGrant{}, domain.ErrGrantNotFound
	}
	return best, nil
}

// Ordering mirror of the store query: lastUsedAt desc nulls last, then
// updatedAt desc.
func moreRecentlyUsed(a, b domain.GoogleGrant) bool {
	switch {
	case a.LastUsedAt != nil && b.LastUsedAt == nil:
		return true
	case a.LastUsedAt == nil && b.LastUsedAt != nil:
		return false
	case a.LastUsedAt != nil && b.LastUsedAt != nil && !a.LastUsedAt.Equal(*b.LastUsedAt):
		return a.LastUsedAt.After(*b.LastUsedAt)
	}
	return a.UpdatedAt.After(b.UpdatedAt)
}

// Upsert mirrors the SQL contract: an empty incoming refresh token keeps the
// stored one.
func (f *fakeGrantRepo) Upsert(_ context.Context, grant domain.GoogleGrant) (domain.GoogleGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	email := strings.ToLower(strings.TrimSpace(grant.Email))

	for id, existing := range f.byID {
		if existing.Email != email {
			continue
		}
		existing.AccessToken = grant.AccessToken
		if grant.RefreshToken != "" {
			existing.RefreshToken = grant.RefreshToken
		}
		existing.ExpiresAt = grant.ExpiresAt
		existing.Name = grant.Name
		existing.Picture = grant.Picture
		existing.UpdatedAt = now
		existing.LastUsedAt = &now
		f.byID[id] = existing
		return existing, nil
	}

	f.nextID++
	grant.ID = f.nextID
	grant.Email = email
	grant.CreatedAt = now
	grant.UpdatedAt = now
	grant.LastUsedAt = &now
	f.byID[grant.ID] = grant
	return grant, nil
}

func (f *fakeGrantRepo) UpdateAccessToken(_ context.Context, grantID int64, accessToken string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.byID[grantID]
	if !ok {
		return domain.ErrGrantNotFound
	}
	g.AccessToken = accessToken
	g.ExpiresAt = expiresAt
	g.UpdatedAt = time.Now()
	f.byID[grantID] = g
	return nil
}

func (f *fakeGrantRepo) TouchLastUsed(_ context.Context, grantID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.byID[grantID]
	if !ok {
		return domain.ErrGrantNotFound
	}
	now := time.Now()
	g.LastUsedAt = &now
	f.byID[grantID] = g
	return nil
}

func (f *fakeGrantRepo) List(context.Context) ([]domain.GoogleGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.GoogleGrant, 0, len(f.byID))
	for _, g := range f.byID {
		out = append(out, g)
	}
	return out, nil
}

func (f *fakeGrantRepo) DeleteByEmail(_ context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, g := range f.byID {
		if g.Email == strings.ToLower(email) {
			delete(f.byID, id)
			return nil
		}
	}
	return domain.ErrGrantNotFound
}

func (f *fakeGrantRepo) DeleteAll(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID = map[int64]domain.GoogleGrant{}
	return nil
}

type fakeFormRepo struct {
	mu    sync.Mutex
	links map[string]*int64
}

func newFakeFormRepo() *fakeFormRepo {
	return &fakeFormRepo{links: map[string]*int64{}}
}

func (f *fakeFormRepo) add(formID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links[formID] = nil
}

func (f *fakeFormRepo) GetGrantID(_ context.Context, formID string) (*int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	grantID, ok := f.links[formID]
	if !ok {
		return nil, domain.ErrFormNotFound
	}
	return grantID, nil
}

func (f *fakeFormRepo) LinkGrant(_ context.Context, formID string, grantID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.links[formID]; !ok {
		return domain.ErrFormNotFound
	}
	f.links[formID] = &grantID
	return nil
}

type fakeGoogleClient struct {
	tokens      domain.GoogleTokens
	identity    domain.GoogleIdentity
	authURLErr  error
	exchangeErr error
	live        bool
	refreshed   domain.GoogleTokens
	refreshErr  error
}

func (f *fakeGoogleClient) AuthCodeURL(state string) (string, error) {
	if f.authURLErr != nil {
		return "", f.authURLErr
	}
	return "https://accounts.google.com/o/oauth2/auth?state=" + url.QueryEscape(state), nil
}

func (f *fakeGoogleClient) Exchange(context.Context, string) (domain.GoogleTokens, error) {
	if f.exchangeErr != nil {
		return domain.GoogleTokens{}, f.exchangeErr
	}
	return f.tokens, nil
}

func (f *fakeGoogleClient) FetchIdentity(context.Context, domain.GoogleTokens) (domain.GoogleIdentity, error) {
	return f.identity, nil
}

func (f *fakeGoogleClient) IsLive(context.Context, string) bool {
	return f.live
}

func (f *fakeGoogleClient) Refresh(context.Context, string) (domain.GoogleTokens, error) {
	if f.refreshErr != nil {
		return domain.GoogleTokens{}, f.refreshErr
	}
	return f.refreshed, nil
}
