package p2p

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	klog "github.com/siertrichain/siertrichain/internal/log"
	"github.com/siertrichain/siertrichain/pkg/crypto"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
)

// AuthProtocol is the stream protocol ID for challenge-response peer
// authentication: proof that a peer holds the secp256k1 key it claims,
// independent of its libp2p transport identity.
const AuthProtocol = protocol.ID("/siertrichain/auth/1.0.0")

const (
	// authTimeout bounds one full challenge/response round trip.
	authTimeout = 10 * time.Second

	// authMaxResponseAge rejects a response whose claimed timestamp is
	// older than this, closing the window for a captured response to be
	// replayed against a later challenge.
	authMaxResponseAge = 300 * time.Second

	maxAuthBytes = 4096
)

// AuthChallenge is sent by the challenger: a fresh random nonce the
// responder must sign to prove key possession.
type AuthChallenge struct {
	Nonce [32]byte `json:"nonce"`
}

// AuthResponse answers a challenge with a signature over the nonce, the
// signer's claimed public key, the time the response was produced, and
// the responder's protocol version.
type AuthResponse struct {
	Signature []byte `json:"signature"`
	PubKey    []byte `json:"pubkey"`
	Timestamp int64  `json:"timestamp"`
	Version   uint32 `json:"version"`
}

// registerAuthHandler sets up the responder side: read a challenge, sign
// its nonce with the node's auth key, reply.
func (n *Node) registerAuthHandler() {
	n.host.SetStreamHandler(AuthProtocol, func(stream network.Stream) {
		defer stream.Close()

		_ = stream.SetReadDeadline(time.Now().Add(authTimeout))

		var ch AuthChallenge
		if err := json.NewDecoder(io.LimitReader(stream, maxAuthBytes)).Decode(&ch); err != nil {
			return
		}

		resp := AuthResponse{
			PubKey:    n.authKey.PublicKey(),
			Timestamp: time.Now().Unix(),
			Version:   ProtocolVersion,
		}
		sig, err := n.authKey.Sign(ch.Nonce[:])
		if err != nil {
			return
		}
		resp.Signature = sig

		_ = json.NewEncoder(stream).Encode(&resp)
	})
}

// doAuthChallenge is the challenger side: issue a fresh nonce to peerID,
// verify the signed response, and ban the peer on failure when auth is
// required. When RequireAuth is false the challenge still runs (so
// adoption of the protocol can be observed) but a failure is not
// penalized.
func (n *Node) doAuthChallenge(peerID peer.ID) {
	logger := klog.WithComponent("p2p")

	stream, err := n.host.NewStream(n.ctx, peerID, AuthProtocol)
	if err != nil {
		// Peer doesn't speak the auth protocol yet; tolerate unless
		// auth is mandatory, in which case refuse to trust it.
		if n.config.RequireAuth {
			n.recordAuthFailure(peerID, "peer does not support auth protocol")
		}
		return
	}
	defer stream.Close()

	_ = stream.SetDeadline(time.Now().Add(authTimeout))

	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		logger.Error().Err(err).Msg("generating auth nonce")
		return
	}

	if err := json.NewEncoder(stream).Encode(&AuthChallenge{Nonce: nonce}); err != nil {
		return
	}
	stream.CloseWrite()

	var resp AuthResponse
	if err := json.NewDecoder(io.LimitReader(stream, maxAuthBytes)).Decode(&resp); err != nil {
		n.recordAuthFailure(peerID, "no auth response")
		return
	}

	if reason := validateAuthResponse(nonce, resp); reason != "" {
		n.recordAuthFailure(peerID, reason)
		return
	}

	logger.Debug().Str("peer", peerID.String()[:16]).Msg("peer auth challenge passed")
}

// validateAuthResponse checks the response's freshness and that its
// signature covers the exact nonce that was issued. Returns "" on
// success, a reason string on failure.
func validateAuthResponse(nonce [32]byte, resp AuthResponse) string {
	age := time.Now().Unix() - resp.Timestamp
	if age < 0 {
		age = -age
	}
	if age > int64(authMaxResponseAge.Seconds()) {
		return fmt.Sprintf("auth response too old: %ds", age)
	}
	if resp.Version < MinProtocolVersion {
		return fmt.Sprintf("auth response protocol version too low: %d", resp.Version)
	}
	if !crypto.VerifySignature(nonce[:], resp.Signature, resp.PubKey) {
		return "auth signature verification failed"
	}
	return ""
}

// recordAuthFailure bans the peer (when auth is required) or just logs a
// debug line (when auth is advisory).
func (n *Node) recordAuthFailure(peerID peer.ID, reason string) {
	logger := klog.WithComponent("p2p")
	if !n.config.RequireAuth {
		logger.Debug().Str("peer", peerID.String()[:16]).Str("reason", reason).Msg("peer auth failed (not required)")
		return
	}
	logger.Warn().Str("peer", peerID.String()[:16]).Str("reason", reason).Msg("peer auth failed, banning")
	if n.BanManager != nil {
		n.BanManager.RecordOffense(peerID, PenaltyAuthFail, reason)
	}
	n.DisconnectPeer(peerID)
}

// loadOrCreateAuthKey loads a persisted secp256k1 auth key from dataDir,
// or generates and saves a new one, mirroring loadOrCreateIdentity's
// pattern for the libp2p transport identity.
func loadOrCreateAuthKey(dataDir string) (*crypto.PrivateKey, error) {
	keyPath := filepath.Join(dataDir, "auth.key")

	data, err := os.ReadFile(keyPath)
	if err == nil {
		keyBytes, err := hex.DecodeString(string(data))
		if err != nil {
			return nil, fmt.Errorf("decode auth key: %w", err)
		}
		return crypto.PrivateKeyFromBytes(keyBytes)
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate auth key: %w", err)
	}

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(key.Serialize())), 0o600); err != nil {
		return nil, fmt.Errorf("save auth key: %w", err)
	}
	return key, nil
}
