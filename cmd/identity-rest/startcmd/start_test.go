package startcmd

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pilacorp/go-identity-sdk/did"
	"github.com/pilacorp/go-identity-sdk/keys"
)

type mockServer struct {
	host    string
	handler http.Handler
}

func (s *mockServer) ListenAndServe(host string, handler http.Handler) error {
	s.host = host
	s.handler = handler

	return nil
}

func TestStartCmdContents(t *testing.T) {
	startCmd := GetStartCmd(&mockServer{})

	require.Equal(t, "start", startCmd.Use)
	require.Equal(t, "Start identity-rest", startCmd.Short)

	checkFlagPropertiesCorrect(t, startCmd, hostURLFlagName, hostURLFlagShorthand, hostURLFlagUsage)
	checkFlagPropertiesCorrect(t, startCmd, logLevelFlagName, logLevelFlagShorthand, logLevelFlagUsage)
}

func TestStartCmdWithInvalidArgs(t *testing.T) {
	issuerKey, err := keys.GenerateKeyPair()
	require.NoError(t, err)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "missing host url", args: []string{}, wantErr: hostURLFlagName},
		{name: "blank host url", args: []string{"--" + hostURLFlagName, ""}, wantErr: hostURLFlagName},
		{
			name:    "unsupported database",
			args:    []string{"--" + hostURLFlagName, "localhost:8080", "--" + databaseTypeFlagName, "mongo"},
			wantErr: "unsupported database type",
		},
		{
			name:    "redis without url",
			args:    []string{"--" + hostURLFlagName, "localhost:8080", "--" + databaseTypeFlagName, "redis"},
			wantErr: redisURLFlagName,
		},
		{
			name:    "postgres without url",
			args:    []string{"--" + hostURLFlagName, "localhost:8080", "--" + databaseTypeFlagName, "postgres"},
			wantErr: databaseURLFlagName,
		},
		{
			name:    "issuers without key",
			args:    []string{"--" + hostURLFlagName, "localhost:8080", "--" + issuerDIDsFlagName, "did:example:issuer1"},
			wantErr: issuerKeyFlagName,
		},
		{
			name: "bad issuer key",
			args: []string{"--" + hostURLFlagName, "localhost:8080", "--" + issuerDIDsFlagName, "did:example:issuer1",
				"--" + issuerKeyFlagName, "zz"},
			wantErr: issuerKeyFlagName,
		},
		{
			name: "signer url without public key",
			args: []string{"--" + hostURLFlagName, "localhost:8080", "--" + issuerDIDsFlagName, "did:example:issuer1",
				"--" + issuerSignerURLFlagName, "http://localhost:9999/sign"},
			wantErr: issuerPublicKeyFlagName,
		},
		{
			name: "signer url and issuer key",
			args: []string{"--" + hostURLFlagName, "localhost:8080", "--" + issuerKeyFlagName, issuerKey.PrivateKeyHex(),
				"--" + issuerSignerURLFlagName, "http://localhost:9999/sign"},
			wantErr: "mutually exclusive",
		},
		{
			name: "bad issuer public key",
			args: []string{"--" + hostURLFlagName, "localhost:8080", "--" + issuerDIDsFlagName, "did:example:issuer1",
				"--" + issuerSignerURLFlagName, "http://localhost:9999/sign", "--" + issuerPublicKeyFlagName, "0x02ff"},
			wantErr: issuerPublicKeyFlagName,
		},
		{
			name:    "weak kdf",
			args:    []string{"--" + hostURLFlagName, "localhost:8080", "--" + kdfIterationsFlagName, "1000"},
			wantErr: kdfIterationsFlagName,
		},
		{
			name:    "bad log level",
			args:    []string{"--" + hostURLFlagName, "localhost:8080", "--" + logLevelFlagName, "loud"},
			wantErr: logLevelFlagName,
		},
		{
			name: "anchor without key",
			args: []string{"--" + hostURLFlagName, "localhost:8080",
				"--" + anchorContractFlagName, "0x000000000000000000000000000000000000dEaD"},
			wantErr: anchorKeyFlagName,
		},
		{
			name: "anchor without chain id",
			args: []string{"--" + hostURLFlagName, "localhost:8080",
				"--" + anchorContractFlagName, "0x000000000000000000000000000000000000dEaD",
				"--" + anchorKeyFlagName, issuerKey.PrivateKeyHex()},
			wantErr: chainIDFlagName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			startCmd := GetStartCmd(&mockServer{})
			startCmd.SetArgs(tt.args)

			err := startCmd.Execute()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestStartCmdWithMemStorage(t *testing.T) {
	issuerKey, err := keys.GenerateKeyPair()
	require.NoError(t, err)

	srv := &mockServer{}
	startCmd := GetStartCmd(srv)
	startCmd.SetArgs([]string{
		"--" + hostURLFlagName, "localhost:8080",
		"--" + issuerDIDsFlagName, "did:example:issuer1,did:example:issuer2",
		"--" + issuerKeyFlagName, issuerKey.PrivateKeyHex(),
		"--" + logLevelFlagName, "error",
		"--" + anchorContractFlagName, "0x000000000000000000000000000000000000dEaD",
		"--" + anchorKeyFlagName, issuerKey.PrivateKeyHex(),
		"--" + chainIDFlagName, "1337",
	})

	require.NoError(t, startCmd.Execute())
	assert.Equal(t, "localhost:8080", srv.host)
	require.NotNil(t, srv.handler)

	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dids/did:example:issuer2", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStartCmdWithRemoteIssuerSigner(t *testing.T) {
	issuerKey, err := keys.GenerateKeyPair()
	require.NoError(t, err)

	var calls atomic.Int32

	signer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		if r.Header.Get("x-api-key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)

			return
		}

		var req struct {
			PayloadHex string `json:"payload_hex"`
		}

		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)

			return
		}

		digest, err := hex.DecodeString(req.PayloadHex)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)

			return
		}

		sig, err := ethcrypto.Sign(digest, issuerKey.PrivateKey)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)

			return
		}

		_ = json.NewEncoder(w).Encode(map[string]string{"signature_hex": hex.EncodeToString(sig)})
	}))
	defer signer.Close()

	srv := &mockServer{}
	startCmd := GetStartCmd(srv)
	startCmd.SetArgs([]string{
		"--" + hostURLFlagName, "localhost:8080",
		"--" + issuerDIDsFlagName, "did:example:issuer1",
		"--" + issuerSignerURLFlagName, signer.URL,
		"--" + issuerSignerAPIKeyFlagName, "secret",
		"--" + issuerPublicKeyFlagName, hex.EncodeToString(issuerKey.PublicKeyBytes()),
		"--" + logLevelFlagName, "error",
	})

	require.NoError(t, startCmd.Execute())

	body := `{"issuer":"did:example:issuer1","subject":"did:example:issuer1","type":"PERSONHOOD","claims":{"age":36}}`

	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/credentials", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, int32(1), calls.Load())

	rec2 := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec2, httptest.NewRequest(http.MethodPost, "/credentials/verify",
		strings.NewReader(`{"credential":`+rec.Body.String()+`}`)))
	require.Equal(t, http.StatusOK, rec2.Code)
	assert.Contains(t, rec2.Body.String(), `"status":"VALID"`)
}

func TestStartCmdFromEnv(t *testing.T) {
	t.Setenv(hostURLEnvKey, "localhost:9090")
	t.Setenv(didMethodEnvKey, "did:test")
	t.Setenv(databaseTypeEnvKey, databaseTypeMemOption)
	t.Setenv(logLevelEnvKey, "error")

	srv := &mockServer{}
	startCmd := GetStartCmd(srv)
	startCmd.SetArgs([]string{})

	require.NoError(t, startCmd.Execute())
	assert.Equal(t, "localhost:9090", srv.host)
}

func TestBootstrapIssuersReusesRegisteredDID(t *testing.T) {
	ctx := context.Background()
	registry := did.NewRegistry(did.NewMemoryStore())

	issuerKey, err := keys.GenerateKeyPair()
	require.NoError(t, err)

	reg, err := registry.Register(ctx, "did:example:issuer1", issuerKey.PublicKeyBytes())
	require.NoError(t, err)

	keyring := keys.NewKeyring()
	require.NoError(t, bootstrapIssuers(ctx, registry, keyring, []string{"did:example:issuer1"},
		keys.NewPrivateKeySigner(issuerKey.PrivateKey), zap.NewNop()))

	_, err = keyring.Signer(reg.Document.AssertionMethod[0])
	require.NoError(t, err)

	other, err := keys.GenerateKeyPair()
	require.NoError(t, err)

	err = bootstrapIssuers(ctx, registry, keys.NewKeyring(), []string{"did:example:issuer1"},
		keys.NewPrivateKeySigner(other.PrivateKey), zap.NewNop())
	require.Error(t, err)
}

func checkFlagPropertiesCorrect(t *testing.T, cmd *cobra.Command, flagName, flagShorthand, flagUsage string) {
	t.Helper()

	flag := cmd.Flag(flagName)

	require.NotNil(t, flag)
	require.Equal(t, flagName, flag.Name)
	require.Equal(t, flagShorthand, flag.Shorthand)
	require.Equal(t, flagUsage, flag.Usage)
}
