package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/bnbpools/poolctl/internal/domain"
)

// signatureMaxAge bounds replay of a captured admin signature.
const signatureMaxAge = 5 * time.Minute

type contextKey string

const adminAddressKey contextKey = "admin_address"

// AdminAddress returns the authenticated admin wallet from the request
// context, or empty when the request did not pass AdminAuth.
func AdminAddress(ctx context.Context) string {
	addr, _ := ctx.Value(adminAddressKey).(string)
	return addr
}

// AdminMessage is the text an operator signs to authenticate, with the
// unix timestamp appended.
func AdminMessage(timestamp string) string {
	return "poolctl admin access " + timestamp
}

// AdminAuth returns middleware that authenticates operators by wallet
// signature. The request carries X-Admin-Address, X-Admin-Timestamp, and
// X-Admin-Signature (a personal_sign of AdminMessage). The recovered
// signer must match the claimed address and pass the gate.
func AdminAuth(gate domain.AdminGate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			address := strings.TrimSpace(r.Header.Get("X-Admin-Address"))
			timestamp := strings.TrimSpace(r.Header.Get("X-Admin-Timestamp"))
			signature := strings.TrimSpace(r.Header.Get("X-Admin-Signature"))

			if address == "" || timestamp == "" || signature == "" {
				writeUnauthorized(w, "missing admin signature headers")
				return
			}
			if !common.IsHexAddress(address) {
				writeUnauthorized(w, "malformed admin address")
				return
			}

			ts, err := strconv.ParseInt(timestamp, 10, 64)
			if err != nil {
				writeUnauthorized(w, "malformed timestamp")
				return
			}
			age := time.Since(time.Unix(ts, 0))
			if age > signatureMaxAge || age < -signatureMaxAge {
				writeUnauthorized(w, "signature expired")
				return
			}

			recovered, err := recoverSigner(AdminMessage(timestamp), signature)
			if err != nil {
				writeUnauthorized(w, "invalid signature")
				return
			}
			if recovered != common.HexToAddress(address) {
				writeUnauthorized(w, "signer does not match address")
				return
			}
			if !gate.IsAdmin(r.Context(), recovered.Hex()) {
				writeForbidden(w, "address is not an operator")
				return
			}

			ctx := context.WithValue(r.Context(), adminAddressKey, recovered.Hex())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// recoverSigner recovers the wallet that produced an EIP-191 personal_sign
// signature over msg.
func recoverSigner(msg, sigHex string) (common.Address, error) {
	sig := common.FromHex(sigHex)
	if len(sig) != ethcrypto.SignatureLength {
		return common.Address{}, fmt.Errorf("middleware: signature length %d", len(sig))
	}

	// Wallets return V as 27/28; SigToPub expects 0/1.
	if sig[64] >= 27 {
		sig = append([]byte(nil), sig...)
		sig[64] -= 27
	}

	pub, err := ethcrypto.SigToPub(accounts.TextHash([]byte(msg)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("middleware: recover signer: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// Allowlist is a static domain.AdminGate over a configured address set.
type Allowlist struct {
	addrs map[common.Address]bool
}

// NewAllowlist builds an Allowlist; malformed entries are skipped.
func NewAllowlist(addresses []string) *Allowlist {
	m := make(map[common.Address]bool, len(addresses))
	for _, a := range addresses {
		if common.IsHexAddress(a) {
			m[common.HexToAddress(a)] = true
		}
	}
	return &Allowlist{addrs: m}
}

// IsAdmin reports whether the address is in the allowlist.
func (a *Allowlist) IsAdmin(_ context.Context, address string) bool {
	if !common.IsHexAddress(address) {
		return false
	}
	return a.addrs[common.HexToAddress(address)]
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}

func writeForbidden(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusForbidden)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}

// Compile-time interface check.
var _ domain.AdminGate = (*Allowlist)(nil)
