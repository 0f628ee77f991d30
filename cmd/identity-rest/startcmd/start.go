package startcmd

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pilacorp/go-identity-sdk/blockchain"
	"github.com/pilacorp/go-identity-sdk/credential"
	"github.com/pilacorp/go-identity-sdk/did"
	"github.com/pilacorp/go-identity-sdk/disclosure"
	"github.com/pilacorp/go-identity-sdk/identity"
	"github.com/pilacorp/go-identity-sdk/keys"
	"github.com/pilacorp/go-identity-sdk/restapi"
	"github.com/pilacorp/go-identity-sdk/revocation"
)

const startupTimeout = 30 * time.Second

type server interface {
	ListenAndServe(host string, router http.Handler) error
}

// HTTPServer represents an actual HTTP server implementation.
type HTTPServer struct{}

// ListenAndServe starts the server using the standard Go HTTP server implementation.
func (s *HTTPServer) ListenAndServe(host string, router http.Handler) error {
	srv := &http.Server{
		Addr:              host,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return srv.ListenAndServe()
}

// GetStartCmd returns the Cobra start command.
func GetStartCmd(srv server) *cobra.Command {
	startCmd := createStartCmd(srv)

	createFlags(startCmd)

	return startCmd
}

func createStartCmd(srv server) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start identity-rest",
		Long:  "Start identity-rest, the HTTP API for identities and verifiable credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			parameters, err := getStartupParameters(cmd)
			if err != nil {
				return err
			}

			return startService(parameters, srv)
		},
	}
}

func startService(parameters *startupParameters, srv server) error {
	logger, err := newLogger(parameters.logLevel)
	if err != nil {
		return err
	}

	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	handler, closeStores, err := buildHandler(ctx, parameters, logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := closeStores(); err != nil {
			logger.Warn("failed to close stores", zap.Error(err))
		}
	}()

	logger.Info("starting identity rest server", zap.String("host", parameters.hostURL),
		zap.String("database", parameters.db.databaseType))

	return srv.ListenAndServe(parameters.hostURL, handler)
}

func buildHandler(ctx context.Context, parameters *startupParameters, logger *zap.Logger) (http.Handler, func() error, error) {
	stores, err := openStores(ctx, parameters.db, logger)
	if err != nil {
		return nil, nil, err
	}

	submitter, err := newSubmitter(ctx, parameters.chain, logger)
	if err != nil {
		return nil, nil, closeOnError(stores, err)
	}

	registryOpts := []did.RegistryOption{
		did.WithMethod(parameters.didMethod),
		did.WithSubmitter(submitter),
		did.WithLogger(logger.Named("did")),
	}

	if parameters.serviceEndpoint != "" {
		registryOpts = append(registryOpts, did.WithLinkedDomain(parameters.serviceEndpoint))
	}

	registry := did.NewRegistry(stores.documents, registryOpts...)
	keyring := keys.NewKeyring()

	if len(parameters.issuerDIDs) > 0 {
		signer, err := newIssuerSigner(parameters.issuer)
		if err != nil {
			return nil, nil, closeOnError(stores, err)
		}

		if err := bootstrapIssuers(ctx, registry, keyring, parameters.issuerDIDs, signer, logger); err != nil {
			return nil, nil, closeOnError(stores, err)
		}
	}

	ledger := revocation.NewLedger(stores.ledger, revocation.WithLogger(logger.Named("revocation")))

	var vaultOpts []keys.VaultOption
	if parameters.kdfIterations > 0 {
		vaultOpts = append(vaultOpts, keys.WithIterations(parameters.kdfIterations))
	}

	svc := identity.NewService(identity.Config{
		Registry:   registry,
		Identities: stores.identities,
		Issuer: credential.NewIssuer(credential.NewAllowList(parameters.issuerDIDs...), registry, keyring, ledger,
			credential.WithCredentialStore(stores.credentials), credential.WithLogger(logger.Named("issuer"))),
		Verifier: credential.NewVerifier(registry, ledger, credential.WithLogger(logger.Named("verifier"))),
		Ledger:   ledger,
		Prover: disclosure.NewProver(stores.credentials, stores.nonces,
			disclosure.WithResolver(registry), disclosure.WithLogger(logger.Named("disclosure"))),
		Signers: keyring,
	}, identity.WithLogger(logger.Named("identity")), identity.WithVaultOptions(vaultOpts...))

	return restapi.New(svc, restapi.WithLogger(logger.Named("restapi"))).Router(), stores.close, nil
}

func newIssuerSigner(params *issuerParameters) (keys.Signer, error) {
	if params.signerURL == "" {
		signer, err := keys.NewPrivateKeySignerFromHex(params.privateKey)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", issuerKeyFlagName, err)
		}

		return signer, nil
	}

	pub, err := keys.ParsePublicKeyHex(params.publicKey)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", issuerPublicKeyFlagName, err)
	}

	signer, err := keys.NewRemoteSigner(params.signerURL, pub, keys.WithAPIKey(params.apiKey))
	if err != nil {
		return nil, err
	}

	return signer, nil
}

// bootstrapIssuers registers each configured issuer DID under the signer's key, or,
// for DIDs already registered, finds the assertion method bound to that key.
func bootstrapIssuers(ctx context.Context, registry *did.Registry, keyring *keys.Keyring, issuerDIDs []string,
	signer keys.Signer, logger *zap.Logger) error {
	pub := keys.CompressPublicKey(signer.PublicKey())

	for _, issuer := range issuerDIDs {
		doc, found, err := registry.Resolve(ctx, issuer)
		if err != nil {
			return err
		}

		if !found {
			reg, err := registry.Register(ctx, issuer, pub)
			if err != nil {
				return fmt.Errorf("register issuer %s: %w", issuer, err)
			}

			keyring.Add(reg.Document.AssertionMethod[0], signer)
			logger.Info("issuer registered", zap.String("did", issuer), zap.String("txRef", reg.TxRef))

			continue
		}

		vmID, ok := assertionMethodFor(doc, pub)
		if !ok {
			return fmt.Errorf("issuer %s has no assertion method for the configured key", issuer)
		}

		keyring.Add(vmID, signer)
	}

	return nil
}

func assertionMethodFor(doc *did.Document, pub []byte) (string, bool) {
	for _, id := range doc.AssertionMethod {
		vm, ok := doc.VerificationMethodByID(id)
		if !ok {
			continue
		}

		key, err := vm.PublicKey()
		if err == nil && bytes.Equal(keys.CompressPublicKey(key), pub) {
			return id, true
		}
	}

	return "", false
}

func newSubmitter(ctx context.Context, params *chainParameters, logger *zap.Logger) (did.Submitter, error) {
	if params.anchorContract == "" {
		return blockchain.HashSubmitter{}, nil
	}

	key, err := keys.ParsePrivateKeyHex(params.anchorKey)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", anchorKeyFlagName, err)
	}

	opts := []blockchain.EthereumOption{blockchain.WithLogger(logger.Named("blockchain"))}

	if params.rpcURL != "" {
		client, err := blockchain.Dial(ctx, params.rpcURL)
		if err != nil {
			return nil, err
		}

		opts = append(opts, blockchain.WithBackend(client))
	}

	return blockchain.NewEthereumSubmitter(params.anchorContract, params.chainID, key, opts...)
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()

	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", logLevelFlagName, err)
		}

		cfg.Level = lvl
	}

	return cfg.Build()
}
