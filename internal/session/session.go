// internal/session/session.go
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"shelfsync/internal/api"
	"shelfsync/internal/cache"
	"shelfsync/internal/credential"
	"shelfsync/internal/logger"
)

var (
	// ErrMissingSubject means no authenticated subject id could be found or
	// derived; the user has to sign in again.
	ErrMissingSubject = errors.New("no authenticated subject id available")
	// ErrNoOwnedStores means the account resolved but owns no stores, which
	// leaves the session unusable.
	ErrNoOwnedStores = errors.New("account owns no stores")
	// ErrStoreNotOwned rejects selecting a store outside the owned set.
	ErrStoreNotOwned = errors.New("store is not owned by this account")
)

// Context is the fully resolved operating context every store-scoped call
// runs under. StoreIDs is ordered and de-duplicated, and SelectedStoreID is
// always a member of it when it is non-empty.
type Context struct {
	SubjectID       string
	UserID          string
	StoreIDs        []string
	SelectedStoreID string
}

// Resolver derives the operating context lazily: each field is read from the
// credential store when present and resolved over the network when not, in
// dependency order (subject id, then user id, then owned stores). Successful
// fills are written back so the next start needs no network at all.
type Resolver struct {
	creds *credential.Store
	api   *api.Client
	cache *cache.Cache

	group singleflight.Group
}

func NewResolver(creds *credential.Store, client *api.Client, entityCache *cache.Cache) *Resolver {
	return &Resolver{creds: creds, api: client, cache: entityCache}
}

// Resolve returns the operating context. With forceRefresh the stored fields
// are ignored and everything is re-derived. Concurrent calls that find the
// same field missing share a single network lookup for it.
func (r *Resolver) Resolve(ctx context.Context, forceRefresh bool) (Context, error) {
	var oc Context
	var err error

	oc.SubjectID, err = r.subjectID(forceRefresh)
	if err != nil {
		return Context{}, err
	}

	oc.UserID, err = r.userID(ctx, oc.SubjectID, forceRefresh)
	if err != nil {
		return Context{}, fmt.Errorf("resolving user id: %w", err)
	}

	oc.StoreIDs, err = r.storeIDs(ctx, oc.UserID, forceRefresh)
	if err != nil {
		return Context{}, err
	}

	oc.SelectedStoreID = r.selectedStore(oc.StoreIDs)
	return oc, nil
}

// subjectID comes from the credential store, or failing that from the sub
// claim of the stored access token. The token's signature belongs to the
// server; this client only needs the claim, so it is read unverified.
func (r *Resolver) subjectID(forceRefresh bool) (string, error) {
	if !forceRefresh {
		subject, err := r.creds.Get(credential.KeySubjectID)
		if err == nil && subject != "" {
			return subject, nil
		}
		if err != nil && !errors.Is(err, credential.ErrNotFound) {
			return "", fmt.Errorf("reading subject id: %w", err)
		}
	}

	token, err := r.creds.Get(credential.KeyAccessToken)
	if errors.Is(err, credential.ErrNotFound) {
		return "", ErrMissingSubject
	}
	if err != nil {
		return "", fmt.Errorf("reading access token: %w", err)
	}

	subject := subjectFromToken(token)
	if subject == "" {
		return "", ErrMissingSubject
	}

	if err := r.creds.Set(credential.KeySubjectID, subject); err != nil {
		return "", fmt.Errorf("storing subject id: %w", err)
	}
	return subject, nil
}

func subjectFromToken(token string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		logger.LogWarn("Stored access token did not parse as a JWT: %v", err)
		return ""
	}
	subject, err := claims.GetSubject()
	if err != nil {
		return ""
	}
	return subject
}

func (r *Resolver) userID(ctx context.Context, subjectID string, forceRefresh bool) (string, error) {
	if !forceRefresh {
		userID, err := r.creds.Get(credential.KeyUserID)
		if err == nil && userID != "" {
			return userID, nil
		}
		if err != nil && !errors.Is(err, credential.ErrNotFound) {
			return "", err
		}
	}

	v, err, _ := r.group.Do("user_id", func() (interface{}, error) {
		// A caller that lost the race to an earlier flight finds the value
		// already stored and must not start another lookup.
		if !forceRefresh {
			if userID, err := r.creds.Get(credential.KeyUserID); err == nil && userID != "" {
				return userID, nil
			}
		}

		userID, err := r.api.LookupUserID(ctx, subjectID)
		if err != nil {
			return nil, err
		}
		if err := r.creds.Set(credential.KeyUserID, userID); err != nil {
			return nil, fmt.Errorf("storing user id: %w", err)
		}
		logger.LogInfo("Resolved user id for subject %s", subjectID)
		return userID, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *Resolver) storeIDs(ctx context.Context, userID string, forceRefresh bool) ([]string, error) {
	if !forceRefresh {
		var ids []string
		err := r.creds.GetJSON(credential.KeyStoreIDs, &ids)
		if err == nil && len(ids) > 0 {
			return ids, nil
		}
		if err != nil && !errors.Is(err, credential.ErrNotFound) {
			return nil, fmt.Errorf("reading owned stores: %w", err)
		}
	}

	v, err, _ := r.group.Do("store_ids", func() (interface{}, error) {
		if !forceRefresh {
			var stored []string
			if err := r.creds.GetJSON(credential.KeyStoreIDs, &stored); err == nil && len(stored) > 0 {
				return stored, nil
			}
		}

		raw, err := r.api.ListOwnedStores(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("listing owned stores: %w", err)
		}

		ids := dedupe(raw)
		if len(ids) == 0 {
			return nil, ErrNoOwnedStores
		}
		if err := r.creds.SetJSON(credential.KeyStoreIDs, ids); err != nil {
			return nil, fmt.Errorf("storing owned stores: %w", err)
		}
		logger.LogInfo("Resolved %d owned store(s)", len(ids))
		return ids, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// selectedStore revalidates the stored selection against the owned set on
// every call. A selection that is missing or no longer owned silently heals
// to the first owned store and is written back.
func (r *Resolver) selectedStore(storeIDs []string) string {
	if len(storeIDs) == 0 {
		return ""
	}

	selected, err := r.creds.Get(credential.KeySelectedStoreID)
	if err == nil && contains(storeIDs, selected) {
		return selected
	}
	if err != nil && !errors.Is(err, credential.ErrNotFound) {
		logger.LogWarn("Could not read selected store, falling back to first owned: %v", err)
	} else if err == nil {
		logger.LogInfo("Stored store selection %s is no longer owned, switching to %s", selected, storeIDs[0])
	}

	healed := storeIDs[0]
	if err := r.creds.Set(credential.KeySelectedStoreID, healed); err != nil {
		logger.LogWarn("Could not persist healed store selection: %v", err)
	}
	return healed
}

// SelectStore switches the active store after checking membership in the
// owned set.
func (r *Resolver) SelectStore(ctx context.Context, storeID string) error {
	oc, err := r.Resolve(ctx, false)
	if err != nil {
		return err
	}
	if !contains(oc.StoreIDs, storeID) {
		return fmt.Errorf("%w: %s", ErrStoreNotOwned, storeID)
	}
	if err := r.creds.Set(credential.KeySelectedStoreID, storeID); err != nil {
		return fmt.Errorf("storing store selection: %w", err)
	}
	logger.LogInfo("Active store is now %s", storeID)
	return nil
}

// SignIn replaces whatever session existed with a fresh access token. Derived
// fields from the previous account are dropped so they cannot leak across
// sign-ins.
func (r *Resolver) SignIn(token string) error {
	if err := r.creds.Clear(); err != nil {
		return err
	}
	if err := r.creds.Set(credential.KeyAccessToken, token); err != nil {
		return err
	}
	if subject := subjectFromToken(token); subject != "" {
		if err := r.creds.Set(credential.KeySubjectID, subject); err != nil {
			return err
		}
	}
	return nil
}

// SignOut clears the credential store and the entity cache.
func (r *Resolver) SignOut() error {
	if err := r.creds.Clear(); err != nil {
		return err
	}
	if r.cache != nil {
		if err := r.cache.Clear(); err != nil {
			return err
		}
	}
	logger.LogInfo("Signed out")
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	var out []string
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func contains(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
