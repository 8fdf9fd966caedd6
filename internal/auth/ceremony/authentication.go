package ceremony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/boardpulse/boardpulse/internal/auth/challenge"
	"github.com/boardpulse/boardpulse/internal/auth/passkey"
	"github.com/boardpulse/boardpulse/internal/auth/session"
	"github.com/boardpulse/boardpulse/internal/auth/storage"
	apperrors "github.com/boardpulse/boardpulse/internal/platform/errors"
)

// BeginAuthentication starts an authentication ceremony. A known username
// yields an allow-list of that user's credentials; an empty, unknown, or
// credential-less username yields discoverable-credential options instead,
// so the response does not reveal whether the account exists.
func (o *Orchestrator) BeginAuthentication(ctx context.Context, username string) (BeginResult, error) {
	if o == nil || o.store == nil {
		return BeginResult{}, fmt.Errorf("orchestrator is not configured")
	}
	if err := ctx.Err(); err != nil {
		return BeginResult{}, err
	}

	var (
		assertion   *protocol.CredentialAssertion
		sessionData *webauthn.SessionData
		boundUserID string
		err         error
	)

	webauthnAccount := o.resolveAllowListUser(ctx, username)
	if webauthnAccount != nil {
		boundUserID = webauthnAccount.user.ID
		assertion, sessionData, err = o.provider.BeginLogin(webauthnAccount)
	} else {
		assertion, sessionData, err = o.provider.BeginDiscoverableLogin()
	}
	if err != nil {
		return BeginResult{}, fmt.Errorf("begin authentication: %w", err)
	}

	if err := o.issueChallenge(ctx, passkey.CeremonyAuthentication, sessionData, boundUserID); err != nil {
		return BeginResult{}, err
	}

	optionsJSON, err := json.Marshal(assertion)
	if err != nil {
		return BeginResult{}, fmt.Errorf("encode authentication options: %w", err)
	}
	return BeginResult{OptionsJSON: optionsJSON, ChallengeKey: sessionData.Challenge}, nil
}

// FinishAuthentication verifies the client's assertion against the pending
// challenge and, on success, bumps the credential counter, records the
// login, and mints a session token.
func (o *Orchestrator) FinishAuthentication(ctx context.Context, challengeKey string, responseJSON []byte, meta session.ClientMeta) (AuthResult, error) {
	if o == nil || o.store == nil {
		return AuthResult{}, fmt.Errorf("orchestrator is not configured")
	}
	if len(responseJSON) == 0 {
		return AuthResult{}, ErrAuthenticationRejected
	}

	parsed, err := o.parser.ParseCredentialRequestResponseBytes(responseJSON)
	if err != nil {
		return AuthResult{}, ErrAuthenticationRejected
	}

	consumed, err := o.broker.Consume(ctx, challengeKey, passkey.CeremonyAuthentication)
	if err != nil {
		return AuthResult{}, err
	}
	if parsed.Response.CollectedClientData.Challenge != consumed.Value {
		// The response signs a different challenge than the one consumed.
		// Both are unusable now; report it like a missing challenge.
		return AuthResult{}, challenge.ErrExpiredOrMissing
	}

	credentialID := encodeCredentialID(parsed.RawID)
	credentialRecord, err := o.store.GetCredentialByCredentialID(ctx, credentialID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return AuthResult{}, ErrCredentialNotFound
		}
		return AuthResult{}, apperrors.Wrap(apperrors.CodeStorageUnavailable, "look up credential", err)
	}

	account, err := o.store.GetUser(ctx, credentialRecord.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return AuthResult{}, ErrUserNotFound
		}
		return AuthResult{}, apperrors.Wrap(apperrors.CodeStorageUnavailable, "load user", err)
	}
	if !account.Active {
		return AuthResult{}, ErrAuthenticationRejected
	}
	if consumed.UserID != "" && consumed.UserID != account.ID {
		return AuthResult{}, ErrAuthenticationRejected
	}

	sessionData, err := decodeSessionData(consumed.MetadataJSON)
	if err != nil {
		return AuthResult{}, err
	}
	// Discoverable ceremonies issue session data with no bound user; the
	// credential row has already resolved the account, so both flows
	// validate through the same path.
	if len(sessionData.UserID) == 0 {
		sessionData.UserID = []byte(account.ID)
	}

	webauthnAccount, err := o.loadWebauthnUser(ctx, account)
	if err != nil {
		return AuthResult{}, err
	}

	storedCount := credentialRecord.SignCount
	validated, err := o.provider.ValidateLogin(webauthnAccount, sessionData, parsed)
	if err != nil {
		return AuthResult{}, ErrAuthenticationRejected
	}

	newCount := validated.Authenticator.SignCount
	if validated.Authenticator.CloneWarning || counterRegressed(storedCount, newCount) {
		o.logf("possible cloned authenticator for credential %s: stored count %d, reported %d", credentialID, storedCount, newCount)
		return AuthResult{}, ErrAuthenticationRejected
	}

	now := o.clock().UTC()
	validatedJSON, err := json.Marshal(validated)
	if err != nil {
		return AuthResult{}, fmt.Errorf("encode credential: %w", err)
	}
	if err := o.store.UpdateCredentialSignCount(ctx, credentialID, newCount, string(validatedJSON), now); err != nil {
		if errors.Is(err, storage.ErrCounterRegression) {
			// A concurrent authentication advanced the counter first.
			o.logf("possible cloned authenticator for credential %s: concurrent counter advance past %d", credentialID, newCount)
			return AuthResult{}, ErrAuthenticationRejected
		}
		return AuthResult{}, apperrors.Wrap(apperrors.CodeStorageUnavailable, "update credential", err)
	}

	if err := o.store.TouchUserLogin(ctx, account.ID, now); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return AuthResult{}, apperrors.Wrap(apperrors.CodeStorageUnavailable, "record login", err)
	}

	token, err := o.sessions.Mint(ctx, account.ID, 0, meta)
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{
		Token: token,
		User: UserSummary{
			ID:          account.ID,
			Username:    account.Username,
			DisplayName: account.DisplayName,
		},
	}, nil
}

// resolveAllowListUser returns the account for username with its decoded
// credentials, or nil when the ceremony should fall back to discoverable
// options. Lookup failures also fall back rather than leak account state.
func (o *Orchestrator) resolveAllowListUser(ctx context.Context, username string) *webauthnUser {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return nil
	}
	account, err := o.store.GetUserByUsername(ctx, username)
	if err != nil || !account.Active {
		return nil
	}
	webauthnAccount, err := o.loadWebauthnUser(ctx, account)
	if err != nil || len(webauthnAccount.credentials) == 0 {
		return nil
	}
	return webauthnAccount
}

// counterRegressed reports whether a reported sign count signals replay.
// Authenticators without counters always report zero; a zero-to-zero
// transition is the one non-increase that is legitimate.
func counterRegressed(stored, reported uint32) bool {
	if stored == 0 && reported == 0 {
		return false
	}
	return reported <= stored
}
