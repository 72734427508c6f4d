// Package oauth owns the Google delegation lifecycle: starting the consent
// flow, terminating the callback, resolving a form's effective grant, and
// keeping access tokens live.
package oauth

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	googleadapter "github.com/zierocode/FormDee-sub002/internal/adapter/google"
	"github.com/zierocode/FormDee-sub002/internal/domain"
	"github.com/zierocode/FormDee-sub002/internal/repository"
)

// OutcomeStatus is the terminal state of a callback.
type OutcomeStatus string

const (
	OutcomeSuccess     OutcomeStatus = "success"
	OutcomeError       OutcomeStatus = "error"
	OutcomeMissingCode OutcomeStatus = "missing_code"
)

// Outcome is the transport-agnostic result of a callback. The handler layer
// turns it into a postMessage page or a redirect depending on Flow.
type Outcome struct {
	Flow   FlowKind
	Status OutcomeStatus
	User   *domain.GoogleIdentity
	Reason string
}

// CallbackInput carries the raw query parameters Google sends back.
type CallbackInput struct {
	Code     string
	ErrorStr string
	StateRaw string
}

// LivenessCache remembers recent positive token introspection verdicts.
type LivenessCache interface {
	IsLive(ctx context.Context, accessToken string) bool
	MarkLive(ctx context.Context, accessToken string)
	Invalidate(ctx context.Context, accessToken string)
}

// OAuthService is the application surface for Google delegation.
type OAuthService interface {
	BuildAuthorizationURL(kind FlowKind, formID string) (string, error)
	HandleCallback(ctx context.Context, in CallbackInput) Outcome
	EnsureGrantForForm(ctx context.Context, formID string) (domain.GoogleGrant, bool, error)
	LinkGrantByEmail(ctx context.Context, formID, email string) (domain.GoogleGrant, error)
	TokenForForm(ctx context.Context, formID string) (string, error)
	GrantForForm(ctx context.Context, formID string) (domain.GoogleGrant, error)
	ListGrants(ctx context.Context) ([]domain.GoogleGrant, error)
	DeleteGrantByEmail(ctx context.Context, email string) error
	DeleteAllGrants(ctx context.Context) error
}

type oauthService struct {
	grants repository.GrantRepository
	forms  repository.FormRepository
	google googleadapter.Client
	cache  LivenessCache
	logger *zap.Logger
}

// NewOAuthService wires the delegation service. A nil cache disables
// verdict caching; every token check then hits the provider.
func NewOAuthService(
	grants repository.GrantRepository,
	forms repository.FormRepository,
	google googleadapter.Client,
	cache LivenessCache,
	logger *zap.Logger,
) OAuthService {
	if cache == nil {
		cache = noopCache{}
	}
	return &oauthService{
		grants: grants,
		forms:  forms,
		google: google,
		cache:  cache,
		logger: logger,
	}
}

func (s *oauthService) log() *zap.Logger {
	if s.logger != nil {
		return s.logger
	}
	return zap.L()
}

// BuildAuthorizationURL returns the Google consent URL with the flow intent
// packed into the state parameter.
func (s *oauthService) BuildAuthorizationURL(kind FlowKind, formID string) (string, error) {
	state := EncodeState(FlowState{Kind: kind, FormID: formID})
	return s.google.AuthCodeURL(state)
}

// HandleCallback terminates the OAuth round trip. Every path, including
// provider errors and replayed codes, produces an outcome the handler can
// render; the callback never errors out of band.
func (s *oauthService) HandleCallback(ctx context.Context, in CallbackInput) Outcome {
	state := DecodeState(in.StateRaw)

	if in.ErrorStr != "" {
		return Outcome{Flow: state.Kind, Status: OutcomeError, Reason: in.ErrorStr}
	}
	if strings.TrimSpace(in.Code) == "" {
		return Outcome{Flow: state.Kind, Status: OutcomeMissingCode, Reason: "missing_code"}
	}

	identity, err := s.completeAuthorization(ctx, in.Code, state.FormID)
	if err != nil {
		s.log().Warn("authorization completion failed", zap.Error(err))
		return Outcome{Flow: state.Kind, Status: OutcomeError, Reason: "exchange_failed"}
	}
	return Outcome{Flow: state.Kind, Status: OutcomeSuccess, User: &identity}
}

// completeAuthorization redeems the code, resolves the delegated identity,
// and upserts the grant. Linking the originating form is best effort; the
// grant exists either way and can be linked later.
func (s *oauthService) completeAuthorization(ctx context.Context, code, formID string) (domain.GoogleIdentity, error) {
	tokens, err := s.google.Exchange(ctx, code)
	if err != nil {
		return domain.GoogleIdentity{}, err
	}

	identity, err := s.google.FetchIdentity(ctx, tokens)
	if err != nil {
		return domain.GoogleIdentity{}, err
	}

	grant, err := s.grants.Upsert(ctx, domain.GoogleGrant{
		Email:        identity.Email,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    tokens.ExpiresAt,
		Name:         identity.Name,
		Picture:      identity.Picture,
	})
	if err != nil {
		return domain.GoogleIdentity{}, err
	}
	s.cache.MarkLive(ctx, tokens.AccessToken)

	if formID != "" {
		if err := s.forms.LinkGrant(ctx, formID, grant.ID); err != nil {
			s.log().Warn("grant link after callback failed",
				zap.String("form_id", formID),
				zap.String("email", grant.Email),
				zap.Error(err))
		}
	}
	return identity, nil
}

// EnsureGrantForForm resolves the grant a form should use. An unlinked form
// inherits the most recently used grant and the inherited link is written
// back, so the inheritance happens once.
func (s *oauthService) EnsureGrantForForm(ctx context.Context, formID string) (domain.GoogleGrant, bool, error) {
	grant, err := s.grants.GetByForm(ctx, formID)
	if err == nil {
		return grant, false, nil
	}
	if !errors.Is(err, domain.ErrGrantNotFound) {
		return domain.GoogleGrant{}, false, err
	}

	grant, err = s.grants.MostRecentlyUsed(ctx)
	if err != nil {
		return domain.GoogleGrant{}, false, err
	}
	if err := s.forms.LinkGrant(ctx, formID, grant.ID); err != nil {
		return domain.GoogleGrant{}, false, err
	}
	s.log().Info("form inherited most recently used grant",
		zap.String("form_id", formID),
		zap.String("email", grant.Email))
	return grant, true, nil
}

// LinkGrantByEmail explicitly points a form at an existing grant.
func (s *oauthService) LinkGrantByEmail(ctx context.Context, formID, email string) (domain.GoogleGrant, error) {
	grant, err := s.grants.GetByEmail(ctx, email)
	if err != nil {
		return domain.GoogleGrant{}, err
	}
	if err := s.forms.LinkGrant(ctx, formID, grant.ID); err != nil {
		return domain.GoogleGrant{}, err
	}
	return grant, nil
}

// TokenForForm returns an access token known to be live right now. A token
// that cannot be proven live is refreshed; a grant that cannot be refreshed
// surfaces ErrReauthRequired so the caller can send the user back through
// consent. The check fails closed: provider trouble means not live.
func (s *oauthService) TokenForForm(ctx context.Context, formID string) (string, error) {
	grant, _, err := s.EnsureGrantForForm(ctx, formID)
	if err != nil {
		return "", err
	}

	if s.cache.IsLive(ctx, grant.AccessToken) || s.google.IsLive(ctx, grant.AccessToken) {
		s.cache.MarkLive(ctx, grant.AccessToken)
		if err := s.grants.TouchLastUsed(ctx, grant.ID); err != nil {
			s.log().Warn("touch last used failed", zap.Int64("grant_id", grant.ID), zap.Error(err))
		}
		return grant.AccessToken, nil
	}

	if grant.RefreshToken == "" {
		return "", domain.ErrReauthRequired
	}
	tokens, err := s.google.Refresh(ctx, grant.RefreshToken)
	if err != nil {
		return "", err
	}
	if err := s.grants.UpdateAccessToken(ctx, grant.ID, tokens.AccessToken, tokens.ExpiresAt); err != nil {
		return "", err
	}
	s.cache.Invalidate(ctx, grant.AccessToken)
	s.cache.MarkLive(ctx, tokens.AccessToken)
	if err := s.grants.TouchLastUsed(ctx, grant.ID); err != nil {
		s.log().Warn("touch last used failed", zap.Int64("grant_id", grant.ID), zap.Error(err))
	}
	return tokens.AccessToken, nil
}

// GrantForForm reports the grant currently linked to a form without any
// inheritance side effects.
func (s *oauthService) GrantForForm(ctx context.Context, formID string) (domain.GoogleGrant, error) {
	return s.grants.GetByForm(ctx, formID)
}

// ListGrants returns every stored grant.
func (s *oauthService) ListGrants(ctx context.Context) ([]domain.GoogleGrant, error) {
	return s.grants.List(ctx)
}

// DeleteGrantByEmail removes one account's grant. Forms pointing at it keep
// working through inheritance the next time they resolve a grant.
func (s *oauthService) DeleteGrantByEmail(ctx context.Context, email string) error {
	grant, err := s.grants.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	s.cache.Invalidate(ctx, grant.AccessToken)
	return s.grants.DeleteByEmail(ctx, email)
}

// DeleteAllGrants wipes the grant table.
func (s *oauthService) DeleteAllGrants(ctx context.Context) error {
	return s.grants.DeleteAll(ctx)
}

type noopCache struct{}

func (noopCache) IsLive(context.Context, string) bool { return false }

func (noopCache) MarkLive(context.Context, string) {}

func (noopCache) Invalidate(context.Context, string) {}
