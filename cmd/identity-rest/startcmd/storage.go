package startcmd

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/pilacorp/go-identity-sdk/credential"
	"github.com/pilacorp/go-identity-sdk/did"
	"github.com/pilacorp/go-identity-sdk/disclosure"
	"github.com/pilacorp/go-identity-sdk/identity"
	"github.com/pilacorp/go-identity-sdk/revocation"
	"github.com/pilacorp/go-identity-sdk/storage/postgres"
	"github.com/pilacorp/go-identity-sdk/storage/redis"
)

type stores struct {
	documents   did.DocumentStore
	ledger      revocation.Store
	credentials credential.CredentialStore
	nonces      disclosure.NonceStore
	identities  identity.Store
	closers     []func() error
}

func (s *stores) close() error {
	var errs []error

	for _, c := range s.closers {
		errs = append(errs, c())
	}

	return errors.Join(errs...)
}

func closeOnError(s *stores, err error) error {
	return errors.Join(err, s.close())
}

func openStores(ctx context.Context, params *dbParameters, logger *zap.Logger) (*stores, error) {
	switch params.databaseType {
	case databaseTypeRedisOption:
		client, err := redis.New(ctx, redis.Config{URL: params.redisURL})
		if err != nil {
			return nil, err
		}

		logger.Info("using redis storage")

		return &stores{
			documents:   redis.NewDocumentStore(client),
			ledger:      redis.NewRevocationStore(client),
			credentials: redis.NewCredentialStore(client),
			nonces:      redis.NewNonceStore(client),
			identities:  redis.NewIdentityStore(client),
			closers:     []func() error{client.Close},
		}, nil
	case databaseTypePostgresOption:
		return openPostgres(ctx, params, logger)
	default:
		logger.Warn("using in-memory storage, state is lost on restart")

		return &stores{
			documents:   did.NewMemoryStore(),
			ledger:      revocation.NewMemoryStore(),
			credentials: credential.NewMemoryStore(),
			nonces:      disclosure.NewMemoryNonceStore(),
			identities:  identity.NewMemoryStore(),
		}, nil
	}
}

// openPostgres keeps nonces in Redis when a Redis URL is configured.
func openPostgres(ctx context.Context, params *dbParameters, logger *zap.Logger) (*stores, error) {
	db, err := postgres.Open(ctx, postgres.Config{DSN: params.databaseURL})
	if err != nil {
		return nil, err
	}

	s := &stores{
		documents:   postgres.NewDocumentStore(db),
		ledger:      postgres.NewRevocationStore(db),
		credentials: postgres.NewCredentialStore(db),
		nonces:      postgres.NewNonceStore(db),
		identities:  postgres.NewIdentityStore(db),
		closers:     []func() error{db.Close},
	}

	if err := postgres.Migrate(ctx, db); err != nil {
		return nil, closeOnError(s, err)
	}

	if params.redisURL != "" {
		client, err := redis.New(ctx, redis.Config{URL: params.redisURL})
		if err != nil {
			return nil, closeOnError(s, err)
		}

		s.nonces = redis.NewNonceStore(client)
		s.closers = append(s.closers, client.Close)
	}

	logger.Info("using postgres storage", zap.Bool("redisNonces", params.redisURL != ""))

	return s, nil
}
