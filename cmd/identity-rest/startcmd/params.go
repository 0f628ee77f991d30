package startcmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	cmdutils "github.com/trustbloc/cmdutil-go/pkg/utils/cmd"

	"github.com/pilacorp/go-identity-sdk/did"
	"github.com/pilacorp/go-identity-sdk/keys"
)

const (
	hostURLFlagName      = "host-url"
	hostURLFlagShorthand = "u"
	hostURLFlagUsage     = "URL to run the identity-rest instance on. Format: HostName:Port." +
		" Alternatively, this can be set with the following environment variable: " + hostURLEnvKey
	hostURLEnvKey = "IDENTITY_REST_HOST_URL"

	didMethodFlagName  = "did-method"
	didMethodFlagUsage = "DID method prefix of minted identities. Defaults to " + did.DefaultMethod + "." +
		" Alternatively, this can be set with the following environment variable: " + didMethodEnvKey
	didMethodEnvKey = "IDENTITY_REST_DID_METHOD"

	databaseTypeFlagName  = "database-type"
	databaseTypeFlagUsage = "Storage backend. Supported: mem, redis, postgres. Defaults to mem." +
		" Alternatively, this can be set with the following environment variable: " + databaseTypeEnvKey
	databaseTypeEnvKey = "IDENTITY_REST_DATABASE_TYPE"

	databaseURLFlagName  = "database-url"
	databaseURLFlagUsage = "PostgreSQL connection string, required for the postgres backend." +
		" Alternatively, this can be set with the following environment variable: " + databaseURLEnvKey
	databaseURLEnvKey = "IDENTITY_REST_DATABASE_URL"

	redisURLFlagName  = "redis-url"
	redisURLFlagUsage = "Redis URL. Required for the redis backend; with postgres it holds disclosure nonces." +
		" Alternatively, this can be set with the following environment variable: " + redisURLEnvKey
	redisURLEnvKey = "IDENTITY_REST_REDIS_URL"

	issuerDIDsFlagName  = "issuer-dids"
	issuerDIDsFlagUsage = "Comma-separated DIDs allowed to issue credentials." +
		" Alternatively, this can be set with the following environment variable: " + issuerDIDsEnvKey
	issuerDIDsEnvKey = "IDENTITY_REST_ISSUER_DIDS"

	issuerKeyFlagName  = "issuer-key"
	issuerKeyFlagUsage = "Hex secp256k1 private key signing for the issuer DIDs." +
		" Alternatively, this can be set with the following environment variable: " + issuerKeyEnvKey
	issuerKeyEnvKey = "IDENTITY_REST_ISSUER_KEY"

	issuerSignerURLFlagName  = "issuer-signer-url"
	issuerSignerURLFlagUsage = "URL of a remote signing service holding the issuer key. Used instead of " +
		issuerKeyFlagName + "; requires " + issuerPublicKeyFlagName + "." +
		" Alternatively, this can be set with the following environment variable: " + issuerSignerURLEnvKey
	issuerSignerURLEnvKey = "IDENTITY_REST_ISSUER_SIGNER_URL"

	issuerSignerAPIKeyFlagName  = "issuer-signer-api-key"
	issuerSignerAPIKeyFlagUsage = "API key sent to the remote signing service." +
		" Alternatively, this can be set with the following environment variable: " + issuerSignerAPIKeyEnvKey
	issuerSignerAPIKeyEnvKey = "IDENTITY_REST_ISSUER_SIGNER_API_KEY" // nolint:gosec

	issuerPublicKeyFlagName  = "issuer-public-key"
	issuerPublicKeyFlagUsage = "Hex compressed public key of the remote issuer signer." +
		" Alternatively, this can be set with the following environment variable: " + issuerPublicKeyEnvKey
	issuerPublicKeyEnvKey = "IDENTITY_REST_ISSUER_PUBLIC_KEY"

	chainRPCFlagName  = "chain-rpc"
	chainRPCFlagUsage = "Ethereum JSON-RPC URL used to broadcast anchor transactions." +
		" Alternatively, this can be set with the following environment variable: " + chainRPCEnvKey
	chainRPCEnvKey = "IDENTITY_REST_CHAIN_RPC"

	chainIDFlagName  = "chain-id"
	chainIDFlagUsage = "Chain ID of the anchor contract." +
		" Alternatively, this can be set with the following environment variable: " + chainIDEnvKey
	chainIDEnvKey = "IDENTITY_REST_CHAIN_ID"

	anchorContractFlagName  = "anchor-contract"
	anchorContractFlagUsage = "Address of the document anchor contract. Without it documents are hash-anchored offline." +
		" Alternatively, this can be set with the following environment variable: " + anchorContractEnvKey
	anchorContractEnvKey = "IDENTITY_REST_ANCHOR_CONTRACT"

	anchorKeyFlagName  = "anchor-key"
	anchorKeyFlagUsage = "Hex private key of the account sending anchor transactions." +
		" Alternatively, this can be set with the following environment variable: " + anchorKeyEnvKey
	anchorKeyEnvKey = "IDENTITY_REST_ANCHOR_KEY"

	logLevelFlagName      = "log-level"
	logLevelFlagShorthand = "l"
	logLevelFlagUsage     = "Logging level. Supported: debug, info, warn, error. Defaults to info." +
		" Alternatively, this can be set with the following environment variable: " + logLevelEnvKey
	logLevelEnvKey = "IDENTITY_REST_LOG_LEVEL"

	kdfIterationsFlagName  = "kdf-iterations"
	kdfIterationsFlagUsage = "PBKDF2 iterations used when encrypting private keys." +
		" Alternatively, this can be set with the following environment variable: " + kdfIterationsEnvKey
	kdfIterationsEnvKey = "IDENTITY_REST_KDF_ITERATIONS"

	serviceEndpointFlagName  = "service-endpoint"
	serviceEndpointFlagUsage = "LinkedDomains service endpoint added to minted DID documents." +
		" Alternatively, this can be set with the following environment variable: " + serviceEndpointEnvKey
	serviceEndpointEnvKey = "IDENTITY_REST_SERVICE_ENDPOINT"
)

const (
	databaseTypeMemOption      = "mem"
	databaseTypeRedisOption    = "redis"
	databaseTypePostgresOption = "postgres"
)

type startupParameters struct {
	hostURL         string
	didMethod       string
	logLevel        string
	serviceEndpoint string
	kdfIterations   int
	issuerDIDs      []string
	issuer          *issuerParameters
	db              *dbParameters
	chain           *chainParameters
}

type issuerParameters struct {
	privateKey string
	signerURL  string
	apiKey     string
	publicKey  string
}

type dbParameters struct {
	databaseType string
	databaseURL  string
	redisURL     string
}

type chainParameters struct {
	rpcURL         string
	chainID        int64
	anchorContract string
	anchorKey      string
}

func getStartupParameters(cmd *cobra.Command) (*startupParameters, error) {
	hostURL, err := cmdutils.GetUserSetVarFromString(cmd, hostURLFlagName, hostURLEnvKey, false)
	if err != nil {
		return nil, err
	}

	didMethod := cmdutils.GetUserSetOptionalVarFromString(cmd, didMethodFlagName, didMethodEnvKey)
	if didMethod == "" {
		didMethod = did.DefaultMethod
	}

	db, err := getDBParameters(cmd)
	if err != nil {
		return nil, err
	}

	chain, err := getChainParameters(cmd)
	if err != nil {
		return nil, err
	}

	kdfIterations := 0

	if v := cmdutils.GetUserSetOptionalVarFromString(cmd, kdfIterationsFlagName, kdfIterationsEnvKey); v != "" {
		kdfIterations, err = strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", kdfIterationsFlagName, err)
		}

		if kdfIterations < keys.MinKDFIterations {
			return nil, fmt.Errorf("invalid %s: must be at least %d", kdfIterationsFlagName, keys.MinKDFIterations)
		}
	}

	issuerDIDs := cmdutils.GetUserSetOptionalCSVVar(cmd, issuerDIDsFlagName, issuerDIDsEnvKey)

	issuer, err := getIssuerParameters(cmd, len(issuerDIDs) > 0)
	if err != nil {
		return nil, err
	}

	return &startupParameters{
		hostURL:         hostURL,
		didMethod:       didMethod,
		logLevel:        cmdutils.GetUserSetOptionalVarFromString(cmd, logLevelFlagName, logLevelEnvKey),
		serviceEndpoint: cmdutils.GetUserSetOptionalVarFromString(cmd, serviceEndpointFlagName, serviceEndpointEnvKey),
		kdfIterations:   kdfIterations,
		issuerDIDs:      issuerDIDs,
		issuer:          issuer,
		db:              db,
		chain:           chain,
	}, nil
}

func getIssuerParameters(cmd *cobra.Command, required bool) (*issuerParameters, error) {
	params := &issuerParameters{
		privateKey: cmdutils.GetUserSetOptionalVarFromString(cmd, issuerKeyFlagName, issuerKeyEnvKey),
		signerURL:  cmdutils.GetUserSetOptionalVarFromString(cmd, issuerSignerURLFlagName, issuerSignerURLEnvKey),
		apiKey:     cmdutils.GetUserSetOptionalVarFromString(cmd, issuerSignerAPIKeyFlagName, issuerSignerAPIKeyEnvKey),
		publicKey:  cmdutils.GetUserSetOptionalVarFromString(cmd, issuerPublicKeyFlagName, issuerPublicKeyEnvKey),
	}

	switch {
	case params.privateKey != "" && params.signerURL != "":
		return nil, fmt.Errorf("%s and %s are mutually exclusive", issuerKeyFlagName, issuerSignerURLFlagName)
	case params.signerURL != "" && params.publicKey == "":
		return nil, fmt.Errorf("%s is required when %s is set", issuerPublicKeyFlagName, issuerSignerURLFlagName)
	case required && params.privateKey == "" && params.signerURL == "":
		return nil, fmt.Errorf("%s or %s is required when %s is set", issuerKeyFlagName, issuerSignerURLFlagName,
			issuerDIDsFlagName)
	}

	return params, nil
}

func getDBParameters(cmd *cobra.Command) (*dbParameters, error) {
	databaseType := cmdutils.GetUserSetOptionalVarFromString(cmd, databaseTypeFlagName, databaseTypeEnvKey)
	if databaseType == "" {
		databaseType = databaseTypeMemOption
	}

	params := &dbParameters{
		databaseType: databaseType,
		databaseURL:  cmdutils.GetUserSetOptionalVarFromString(cmd, databaseURLFlagName, databaseURLEnvKey),
		redisURL:     cmdutils.GetUserSetOptionalVarFromString(cmd, redisURLFlagName, redisURLEnvKey),
	}

	switch databaseType {
	case databaseTypeMemOption:
	case databaseTypeRedisOption:
		if params.redisURL == "" {
			return nil, fmt.Errorf("%s is required for the redis backend", redisURLFlagName)
		}
	case databaseTypePostgresOption:
		if params.databaseURL == "" {
			return nil, fmt.Errorf("%s is required for the postgres backend", databaseURLFlagName)
		}
	default:
		return nil, fmt.Errorf("unsupported database type: %s", databaseType)
	}

	return params, nil
}

func getChainParameters(cmd *cobra.Command) (*chainParameters, error) {
	params := &chainParameters{
		rpcURL:         cmdutils.GetUserSetOptionalVarFromString(cmd, chainRPCFlagName, chainRPCEnvKey),
		anchorContract: cmdutils.GetUserSetOptionalVarFromString(cmd, anchorContractFlagName, anchorContractEnvKey),
		anchorKey:      cmdutils.GetUserSetOptionalVarFromString(cmd, anchorKeyFlagName, anchorKeyEnvKey),
	}

	if params.anchorContract == "" {
		return params, nil
	}

	if params.anchorKey == "" {
		return nil, fmt.Errorf("%s is required when %s is set", anchorKeyFlagName, anchorContractFlagName)
	}

	chainID, err := cmdutils.GetUserSetVarFromString(cmd, chainIDFlagName, chainIDEnvKey, false)
	if err != nil {
		return nil, err
	}

	params.chainID, err = strconv.ParseInt(chainID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", chainIDFlagName, err)
	}

	return params, nil
}

func createFlags(startCmd *cobra.Command) {
	startCmd.Flags().StringP(hostURLFlagName, hostURLFlagShorthand, "", hostURLFlagUsage)
	startCmd.Flags().String(didMethodFlagName, "", didMethodFlagUsage)
	startCmd.Flags().String(databaseTypeFlagName, "", databaseTypeFlagUsage)
	startCmd.Flags().String(databaseURLFlagName, "", databaseURLFlagUsage)
	startCmd.Flags().String(redisURLFlagName, "", redisURLFlagUsage)
	startCmd.Flags().StringSlice(issuerDIDsFlagName, []string{}, issuerDIDsFlagUsage)
	startCmd.Flags().String(issuerKeyFlagName, "", issuerKeyFlagUsage)
	startCmd.Flags().String(issuerSignerURLFlagName, "", issuerSignerURLFlagUsage)
	startCmd.Flags().String(issuerSignerAPIKeyFlagName, "", issuerSignerAPIKeyFlagUsage)
	startCmd.Flags().String(issuerPublicKeyFlagName, "", issuerPublicKeyFlagUsage)
	startCmd.Flags().String(chainRPCFlagName, "", chainRPCFlagUsage)
	startCmd.Flags().String(chainIDFlagName, "", chainIDFlagUsage)
	startCmd.Flags().String(anchorContractFlagName, "", anchorContractFlagUsage)
	startCmd.Flags().String(anchorKeyFlagName, "", anchorKeyFlagUsage)
	startCmd.Flags().StringP(logLevelFlagName, logLevelFlagShorthand, "", logLevelFlagUsage)
	startCmd.Flags().String(kdfIterationsFlagName, "", kdfIterationsFlagUsage)
	startCmd.Flags().String(serviceEndpointFlagName, "", serviceEndpointFlagUsage)
}
