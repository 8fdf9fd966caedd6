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
	"github.com/boardpulse/boardpulse/internal/auth/storage"
	"github.com/boardpulse/boardpulse/internal/auth/user"
	apperrors "github.com/boardpulse/boardpulse/internal/platform/errors"
)

// BeginRegistration starts a registration ceremony for username, creating
// the user record if it does not exist yet. Existing credentials become the
// exclusion list so a device cannot register the same credential twice.
func (o *Orchestrator) BeginRegistration(ctx context.Context, username string) (BeginResult, error) {
	if o == nil || o.store == nil {
		return BeginResult{}, fmt.Errorf("orchestrator is not configured")
	}
	if err := ctx.Err(); err != nil {
		return BeginResult{}, err
	}

	account, err := o.getOrCreateUser(ctx, username)
	if err != nil {
		return BeginResult{}, err
	}

	webauthnAccount, err := o.loadWebauthnUser(ctx, account)
	if err != nil {
		return BeginResult{}, err
	}

	options := []webauthn.RegistrationOption{
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
	}
	if len(webauthnAccount.credentials) > 0 {
		options = append(options, webauthn.WithExclusions(webauthn.Credentials(webauthnAccount.credentials).CredentialDescriptors()))
	}

	creation, sessionData, err := o.provider.BeginRegistration(webauthnAccount, options...)
	if err != nil {
		return BeginResult{}, fmt.Errorf("begin registration: %w", err)
	}

	if err := o.issueChallenge(ctx, passkey.CeremonyRegistration, sessionData, account.ID); err != nil {
		return BeginResult{}, err
	}

	optionsJSON, err := json.Marshal(creation)
	if err != nil {
		return BeginResult{}, fmt.Errorf("encode registration options: %w", err)
	}
	return BeginResult{OptionsJSON: optionsJSON, UserID: account.ID}, nil
}

// FinishRegistration verifies the client's response and persists the new
// credential. The pending challenge is recovered from the response's client
// data, so a forged or replayed response cannot pick its own challenge.
func (o *Orchestrator) FinishRegistration(ctx context.Context, userID string, responseJSON []byte, deviceLabel string) (string, error) {
	if o == nil || o.store == nil {
		return "", fmt.Errorf("orchestrator is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", ErrRegistrationRejected
	}
	if len(responseJSON) == 0 {
		return "", ErrRegistrationRejected
	}

	parsed, err := o.parser.ParseCredentialCreationResponseBytes(responseJSON)
	if err != nil {
		return "", ErrRegistrationRejected
	}

	consumed, err := o.broker.Consume(ctx, parsed.Response.CollectedClientData.Challenge, passkey.CeremonyRegistration)
	if err != nil {
		return "", err
	}
	if consumed.UserID != userID {
		// The challenge is already burned; a mismatched binding looks the
		// same as a missing challenge to the caller.
		return "", challenge.ErrExpiredOrMissing
	}

	account, err := o.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", ErrUserNotFound
		}
		return "", apperrors.Wrap(apperrors.CodeStorageUnavailable, "load user", err)
	}

	sessionData, err := decodeSessionData(consumed.MetadataJSON)
	if err != nil {
		return "", err
	}

	webauthnAccount, err := o.loadWebauthnUser(ctx, account)
	if err != nil {
		return "", err
	}

	credential, err := o.provider.CreateCredential(webauthnAccount, sessionData, parsed)
	if err != nil {
		return "", ErrRegistrationRejected
	}

	credentialJSON, err := json.Marshal(credential)
	if err != nil {
		return "", fmt.Errorf("encode credential: %w", err)
	}
	rowID, err := o.idGenerator()
	if err != nil {
		return "", fmt.Errorf("generate credential id: %w", err)
	}
	credentialID := encodeCredentialID(credential.ID)

	err = o.store.InsertCredential(ctx, storage.Credential{
		ID:             rowID,
		UserID:         account.ID,
		CredentialID:   credentialID,
		CredentialJSON: string(credentialJSON),
		SignCount:      credential.Authenticator.SignCount,
		Label:          strings.TrimSpace(deviceLabel),
		Active:         true,
		CreatedAt:      o.clock().UTC(),
	})
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return "", err
		}
		return "", apperrors.Wrap(apperrors.CodeStorageUnavailable, "store credential", err)
	}
	return credentialID, nil
}

// getOrCreateUser resolves username to an active account, creating the
// record on first registration.
func (o *Orchestrator) getOrCreateUser(ctx context.Context, username string) (user.User, error) {
	normalized, err := user.NormalizeCreateUserInput(user.CreateUserInput{Username: username})
	if err != nil {
		return user.User{}, err
	}

	existing, err := o.store.GetUserByUsername(ctx, normalized.Username)
	if err == nil {
		if !existing.Active {
			return user.User{}, ErrUserInactive
		}
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return user.User{}, apperrors.Wrap(apperrors.CodeStorageUnavailable, "look up user", err)
	}

	created, err := user.CreateUser(normalized, o.clock, o.idGenerator)
	if err != nil {
		return user.User{}, err
	}
	if err := o.store.PutUser(ctx, created); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			// Lost a race with a concurrent registration for the same
			// username; the stored row wins.
			return o.resolveExistingUser(ctx, normalized.Username)
		}
		return user.User{}, apperrors.Wrap(apperrors.CodeStorageUnavailable, "create user", err)
	}
	return created, nil
}

func (o *Orchestrator) resolveExistingUser(ctx context.Context, username string) (user.User, error) {
	existing, err := o.store.GetUserByUsername(ctx, username)
	if err != nil {
		return user.User{}, apperrors.Wrap(apperrors.CodeStorageUnavailable, "look up user", err)
	}
	if !existing.Active {
		return user.User{}, ErrUserInactive
	}
	return existing, nil
}

// issueChallenge persists the primitive's session data keyed by the
// challenge it generated.
func (o *Orchestrator) issueChallenge(ctx context.Context, kind passkey.CeremonyKind, sessionData *webauthn.SessionData, userID string) error {
	if sessionData == nil {
		return fmt.Errorf("session data is required")
	}
	payload, err := json.Marshal(sessionData)
	if err != nil {
		return fmt.Errorf("encode session data: %w", err)
	}
	if _, err := o.broker.Issue(ctx, kind, sessionData.Challenge, userID, string(payload)); err != nil {
		return err
	}
	return nil
}

func decodeSessionData(metadataJSON string) (webauthn.SessionData, error) {
	var sessionData webauthn.SessionData
	if err := json.Unmarshal([]byte(metadataJSON), &sessionData); err != nil {
		return webauthn.SessionData{}, fmt.Errorf("decode session data: %w", err)
	}
	return sessionData, nil
}
