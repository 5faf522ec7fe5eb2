package icloud

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/pbkdf2"
)

// RFC 5054 appendix A, 2048-bit group. The service negotiates SRP-6a
// over this group with SHA-256 and RFC 5054 padding conventions.
const srpGroupHex = "AC6BDB41324A9A9BF166DE5E1389582FAF72B6651987EE07FC3192943DB56050" +
	"A37329CBB4A099ED8193E0757767A13DD52312AB4B03310DCD7F48A9DA04FD50" +
	"E8083969EDB767B0CF6095179A163AB3661A05FBD5FAAAE82918A9962F0B93B8" +
	"55F97993EC975EEAA80D740ADBF4FF747359D041D5C33EA71D281E446B14773B" +
	"CA97B43A23FB801676BD207A436C6481F1D2B9078717461A5B9D32E688F87748" +
	"544523B524B0D57D5EA77A2775D2ECFA032CFBDBF52FB3786160279004E57AE6" +
	"AF874E7303CE53299CCC041C7BC308D82A5698F3A8D0C38271AE35F8E9DBFBB6" +
	"94B5C803D89F7AE435DE236D525F54759B65E372FCD68EF20FA7111F9E4AFF73"

var (
	srpN = mustParseHex(srpGroupHex)
	srpG = big.NewInt(2)
)

func mustParseHex(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("icloud: bad SRP group constant")
	}

	return n
}

// srpSession holds the client side of one SRP-6a exchange. One session
// serves exactly one init/complete round trip.
type srpSession struct {
	a *big.Int // client private ephemeral
	A *big.Int // client public ephemeral
}

// newSRPSession generates the client ephemeral key pair.
func newSRPSession() (*srpSession, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("icloud: generating SRP ephemeral: %w", err)
	}

	a := new(big.Int).SetBytes(raw)
	A := new(big.Int).Exp(srpG, a, srpN)

	return &srpSession{a: a, A: A}, nil
}

// publicKey returns A as minimal big-endian bytes for the init request.
func (s *srpSession) publicKey() []byte {
	return s.A.Bytes()
}

// derivePasswordKey stretches the account password into the SRP input
// key. The s2k protocol feeds PBKDF2 the raw SHA-256 digest of the
// password; s2k_fo feeds it the lowercase hex encoding of that digest.
func derivePasswordKey(protocol, password string, salt []byte, iterations int) ([]byte, error) {
	digest := sha256.Sum256([]byte(password))

	var seed []byte
	switch protocol {
	case "s2k":
		seed = digest[:]
	case "s2k_fo":
		seed = []byte(fmt.Sprintf("%x", digest))
	default:
		return nil, fmt.Errorf("icloud: unsupported SRP protocol %q", protocol)
	}

	return pbkdf2.Key(seed, salt, iterations, 32, sha256.New), nil
}

// srpProof holds the client evidence values for the complete request.
type srpProof struct {
	M1 []byte
	M2 []byte // H(A, M1, K), checked by the server as m2
}

// processChallenge computes the session proof from the server challenge.
// The username is hashed into the evidence message but not into the
// verifier exponent (the service derives x without it). Outside the
// RFC 5054 padded operands, every hash input is a minimal big-endian
// encoding: leading zero bytes in the salt and in nested digests drop
// out before rehashing, and the verifier checks M1 under the same
// convention.
func (s *srpSession) processChallenge(username string, passwordKey, salt, serverB []byte) (*srpProof, error) {
	B := new(big.Int).SetBytes(serverB)
	if new(big.Int).Mod(B, srpN).Sign() == 0 {
		return nil, errors.New("icloud: SRP safety check failed: B mod N is zero")
	}

	groupLen := len(srpN.Bytes())

	// u = H(PAD(A) | PAD(B)), k = H(N | PAD(g)) per RFC 5054.
	u := hashToInt(padBytes(s.A.Bytes(), groupLen), padBytes(B.Bytes(), groupLen))
	if u.Sign() == 0 {
		return nil, errors.New("icloud: SRP safety check failed: u is zero")
	}

	k := hashToInt(srpN.Bytes(), padBytes(srpG.Bytes(), groupLen))

	// x = H(salt | H(":" | passwordKey)); no username on the client side.
	inner := sha256.Sum256(append([]byte(":"), passwordKey...))
	x := hashToInt(minBytes(salt), minBytes(inner[:]))

	// S = (B - k*g^x) ^ (a + u*x) mod N
	v := new(big.Int).Exp(srpG, x, srpN)
	base := new(big.Int).Sub(B, new(big.Int).Mul(k, v))
	base.Mod(base, srpN)

	exp := new(big.Int).Add(s.a, new(big.Int).Mul(u, x))
	S := new(big.Int).Exp(base, exp, srpN)

	K := sha256.Sum256(S.Bytes())

	// M1 = H(H(N) xor H(PAD(g)) | H(I) | salt | A | B | K).
	hN := sha256.Sum256(srpN.Bytes())
	hg := sha256.Sum256(padBytes(srpG.Bytes(), groupLen))
	for i := range hN {
		hN[i] ^= hg[i]
	}

	hI := sha256.Sum256([]byte(username))

	h := sha256.New()
	h.Write(hN[:])
	h.Write(hI[:])
	h.Write(minBytes(salt))
	h.Write(s.A.Bytes())
	h.Write(B.Bytes())
	h.Write(K[:])
	m1 := h.Sum(nil)

	h = sha256.New()
	h.Write(s.A.Bytes())
	h.Write(m1)
	h.Write(K[:])
	m2 := h.Sum(nil)

	return &srpProof{M1: m1, M2: m2}, nil
}

func hashToInt(parts ...[]byte) *big.Int {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}

	return new(big.Int).SetBytes(h.Sum(nil))
}

// minBytes strips leading zero bytes, giving the minimal big-endian
// encoding the evidence hashes are built from.
func minBytes(b []byte) []byte {
	return bytes.TrimLeft(b, "\x00")
}

func padBytes(b []byte, width int) []byte {
	if len(b) >= width {
		return b
	}

	out := make([]byte, width)
	copy(out[width-len(b):], b)

	return out
}
