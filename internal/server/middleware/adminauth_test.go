package middleware

import (
	"crypto/ecdsa"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// signRequest attaches the three admin headers, signed the way a wallet's
// personal_sign does (V as 27/28).
func signRequest(t *testing.T, r *http.Request, key *ecdsa.PrivateKey, claimed, timestamp string) {
	t.Helper()

	sig, err := ethcrypto.Sign(accounts.TextHash([]byte(AdminMessage(timestamp))), key)
	require.NoError(t, err)
	sig[64] += 27

	r.Header.Set("X-Admin-Address", claimed)
	r.Header.Set("X-Admin-Timestamp", timestamp)
	r.Header.Set("X-Admin-Signature", hexutil.Encode(sig))
}

func freshTimestamp() string {
	return strconv.FormatInt(time.Now().Unix(), 10)
}

func TestAdminAuth_ValidSignature(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	addr := ethcrypto.PubkeyToAddress(key.PublicKey).Hex()

	gate := NewAllowlist([]string{addr})

	var seenAddr string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenAddr = AdminAddress(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/admin/predictions", nil)
	signRequest(t, req, key, addr, freshTimestamp())

	rec := httptest.NewRecorder()
	AdminAuth(gate)(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, addr, seenAddr)
}

func TestAdminAuth_MissingHeaders(t *testing.T) {
	gate := NewAllowlist(nil)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})

	req := httptest.NewRequest(http.MethodPost, "/api/admin/predictions", nil)
	rec := httptest.NewRecorder()
	AdminAuth(gate)(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminAuth_ExpiredTimestamp(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	addr := ethcrypto.PubkeyToAddress(key.PublicKey).Hex()
	gate := NewAllowlist([]string{addr})

	stale := strconv.FormatInt(time.Now().Add(-signatureMaxAge-time.Minute).Unix(), 10)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/predictions", nil)
	signRequest(t, req, key, addr, stale)

	rec := httptest.NewRecorder()
	AdminAuth(gate)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	})).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminAuth_ClaimedAddressMismatch(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	other, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	otherAddr := ethcrypto.PubkeyToAddress(other.PublicKey).Hex()

	gate := NewAllowlist([]string{otherAddr})

	// Signed with key, but claiming other's address.
	req := httptest.NewRequest(http.MethodPost, "/api/admin/predictions", nil)
	signRequest(t, req, key, otherAddr, freshTimestamp())

	rec := httptest.NewRecorder()
	AdminAuth(gate)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	})).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminAuth_SignerNotOnAllowlist(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	addr := ethcrypto.PubkeyToAddress(key.PublicKey).Hex()

	gate := NewAllowlist([]string{"0x0000000000000000000000000000000000000001"})

	req := httptest.NewRequest(http.MethodPost, "/api/admin/predictions", nil)
	signRequest(t, req, key, addr, freshTimestamp())

	rec := httptest.NewRecorder()
	AdminAuth(gate)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	})).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAllowlist_CaseInsensitive(t *testing.T) {
	gate := NewAllowlist([]string{"0x8BA1F109551BD432803012645AC136DDD64DBA72"})

	assert.True(t, gate.IsAdmin(t.Context(), "0x8ba1f109551bd432803012645ac136ddd64dba72"))
	assert.False(t, gate.IsAdmin(t.Context(), "0x0000000000000000000000000000000000000002"))
	assert.False(t, gate.IsAdmin(t.Context(), "not-an-address"))
}
