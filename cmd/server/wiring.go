package main

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-oauth-engine/clients"
	"github.com/jrsteele09/go-oauth-engine/compose"
	"github.com/jrsteele09/go-oauth-engine/config"
	"github.com/jrsteele09/go-oauth-engine/storage/memory"
	"github.com/jrsteele09/go-oauth-engine/storage/redis"
	"github.com/jrsteele09/go-oauth-engine/storage/sqlite"
	"github.com/jrsteele09/go-oauth-engine/token/keys"
	"github.com/jrsteele09/go-oauth-engine/users"
	fakeuserrepo "github.com/jrsteele09/go-oauth-engine/users/repofake"
)

// registry is storage that can also register clients.
type registry interface {
	compose.Storage
	clients.Repo
}

func openStorage(ctx context.Context, cfg *config.Config) (registry, func(), error) {
	switch cfg.StorageBackend {
	case "memory":
		return memory.New(), func() {}, nil
	case "redis":
		store, err := redis.Open(ctx, cfg.RedisURL, cfg.RedisPrefix)
		if err != nil {
			return nil, nil, err
		}
		return store, closer(store.Close, "redis"), nil
	case "sqlite":
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, closer(store.Close, "sqlite"), nil
	default:
		return nil, nil, errors.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

func closer(fn func() error, name string) func() {
	return func() {
		if err := fn(); err != nil {
			log.Warn().Err(err).Str("storage", name).Msg("failed to close storage")
		}
	}
}

// sweepExpired removes expired records from stores without native expiry.
func sweepExpired(ctx context.Context, store registry, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			switch s := store.(type) {
			case *memory.Store:
				if n := s.DeleteExpired(now); n > 0 {
					log.Debug().Int("removed", n).Msg("expired records swept")
				}
			case *sqlite.Store:
				n, err := s.DeleteExpired(ctx, now)
				if err != nil {
					log.Warn().Err(err).Msg("failed to sweep expired records")
					continue
				}
				if n > 0 {
					log.Debug().Int64("removed", n).Msg("expired records swept")
				}
			default:
				return
			}
		}
	}
}

// loadSigner reads the signing key from path, or generates an ephemeral one
// when no path is configured.
func loadSigner(path string) (keys.Signer, error) {
	if path == "" {
		log.Warn().Msg("OAUTH_SIGNING_KEY_PATH is not set, tokens are signed with an ephemeral RSA key")
		kp, err := keys.GenerateRSAKeyPair("", 2048)
		if err != nil {
			return nil, err
		}
		return keys.NewKeyPairSigner(kp), nil
	}

	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read signing key")
	}
	kp, err := keys.LoadKeyPairFromPEM("", pemBytes)
	if err != nil {
		return nil, err
	}
	log.Info().Str("kid", kp.KeyID).Str("alg", kp.Algorithm).Msg("signing key loaded")
	return keys.NewKeyPairSigner(kp), nil
}

// bootstrap registers the demo client and resource owner and returns the
// authenticator for resource owners.
func bootstrap(ctx context.Context, cfg *config.Config, store registry) (*users.Authenticator, error) {
	repo := fakeuserrepo.NewFakeUserRepo()
	owners, err := users.NewAuthenticator(repo)
	if err != nil {
		return nil, err
	}

	if cfg.DemoPassword != "" {
		user := &users.User{Username: cfg.DemoUsername, DateJoined: time.Now().UTC(), Verified: true}
		if err := user.SetPassword(cfg.DemoPassword); err != nil {
			return nil, errors.Wrap(err, "invalid demo password")
		}
		if err := repo.Upsert(user); err != nil {
			return nil, err
		}
		log.Info().Str("username", user.Username).Msg("demo resource owner registered")
	}

	if cfg.DemoClientSecret != "" {
		hash, err := (&clients.BCrypt{}).Hash(ctx, []byte(cfg.DemoClientSecret))
		if err != nil {
			return nil, errors.Wrap(err, "failed to hash demo client secret")
		}
		client := &clients.Client{
			ID:            cfg.DemoClientID,
			Type:          clients.ClientTypeConfidential,
			Description:   "Demo client",
			HashedSecret:  hash,
			RedirectURIs:  []string{cfg.DemoRedirectURI},
			Scopes:        []string{"openid", "offline_access", "profile", "email"},
			GrantTypes:    []string{"authorization_code", "refresh_token", "client_credentials", "password"},
			ResponseTypes: []string{"code", "code id_token"},
		}
		if err := store.Upsert(ctx, client); err != nil {
			return nil, errors.Wrap(err, "failed to register demo client")
		}
		log.Info().Str("client_id", client.ID).Msg("demo client registered")
	}
	return owners, nil
}
