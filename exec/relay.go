package exec

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/dexarb/arbiter/chains"
)

// Submitter is an abstraction over a transaction submission backend
// (private relay, public mempool, ...). It hides the concrete path
// behind a common interface so the pipeline's final stage does not
// branch on transport details.
type Submitter interface {
	// Name returns a short human identifier ("relay", "mempool").
	Name() string

	// Submit delivers the bundle and returns the relay's bundle hash or
	// the transaction hash, hex-encoded with 0x prefix.
	Submit(ctx context.Context, chainID uint64, bundle *Bundle) (string, error)
}

// RelaySubmitter posts blxr_submit_bundle to the bloXroute relay.
// Authentication is a bearer token; when a hash secret is configured the
// JSON payload is additionally signed with HMAC-SHA256 in the
// X-Request-Signature header. A TLS client certificate pair is optional.
type RelaySubmitter struct {
	URL        string
	AuthHeader string
	HashSecret string
	client     *http.Client
}

// NewRelaySubmitter builds the relay client. certFile/keyFile may be
// empty.
func NewRelaySubmitter(url, auth, hashSecret, certFile, keyFile string) (*RelaySubmitter, error) {
	transport := &http.Transport{}
	if certFile != "" && keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("exec: relay TLS keypair: %w", err)
		}
		transport.TLSClientConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}
	return &RelaySubmitter{
		URL:        url,
		AuthHeader: auth,
		HashSecret: hashSecret,
		client:     &http.Client{Transport: transport, Timeout: chains.SubmitTimeout},
	}, nil
}

func (r *RelaySubmitter) Name() string { return "relay" }

type bundleParams struct {
	Transaction       []string `json:"transaction"`
	BlockchainNetwork string   `json:"blockchain_network"`
	BlockNumber       string   `json:"block_number"`
	AvoidMempool      bool     `json:"avoid_mempool"`
	MerkleRoot        string   `json:"merkle_root,omitempty"`
}

type rpcRequest struct {
	ID      uint64       `json:"id"`
	JSONRPC string       `json:"jsonrpc"`
	Method  string       `json:"method"`
	Params  bundleParams `json:"params"`
}

type rpcResponse struct {
	Result struct {
		BundleHash string `json:"bundleHash"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Submit implements Submitter.
func (r *RelaySubmitter) Submit(ctx context.Context, chainID uint64, bundle *Bundle) (string, error) {
	network, err := chains.RelayNetwork(chainID)
	if err != nil {
		return "", err
	}

	txs := make([]string, len(bundle.Transactions))
	for i, raw := range bundle.Transactions {
		// The relay wants raw hex without the 0x prefix.
		txs[i] = hex.EncodeToString(raw)
	}
	payload, err := json.Marshal(rpcRequest{
		ID:      1,
		JSONRPC: "2.0",
		Method:  "blxr_submit_bundle",
		Params: bundleParams{
			Transaction:       txs,
			BlockchainNetwork: network,
			BlockNumber:       hexutil.EncodeUint64(bundle.TargetBlock),
			AvoidMempool:      bundle.AvoidMempool,
			MerkleRoot:        bundle.MerkleRoot.Hex(),
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", r.AuthHeader)
	if r.HashSecret != "" {
		mac := hmac.New(sha256.New, []byte(r.HashSecret))
		mac.Write(payload)
		req.Header.Set("X-Request-Signature", hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("exec: relay submission: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("exec: relay response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("exec: relay returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	var decoded rpcResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("exec: relay response decode: %w", err)
	}
	if decoded.Error != nil {
		return "", fmt.Errorf("exec: relay error %d: %s", decoded.Error.Code, decoded.Error.Message)
	}
	if decoded.Result.BundleHash == "" {
		return "", fmt.Errorf("exec: relay returned no bundle hash")
	}
	return decoded.Result.BundleHash, nil
}

// MempoolSubmitter broadcasts the first bundle transaction to the public
// mempool. It is the degraded path behind the relay.
type MempoolSubmitter struct {
	Providers *chains.Providers
}

func (m *MempoolSubmitter) Name() string { return "mempool" }

// Submit implements Submitter by decoding and broadcasting the raw
// transaction.
func (m *MempoolSubmitter) Submit(ctx context.Context, chainID uint64, bundle *Bundle) (string, error) {
	client, err := m.Providers.Client(chainID)
	if err != nil {
		return "", err
	}
	if len(bundle.Transactions) != 1 {
		return "", fmt.Errorf("exec: mempool fallback supports single-tx bundles, got %d", len(bundle.Transactions))
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(bundle.Transactions[0]); err != nil {
		return "", fmt.Errorf("exec: raw tx decode: %w", err)
	}
	sctx, cancel := context.WithTimeout(ctx, chains.SubmitTimeout)
	defer cancel()
	if err := client.SendTransaction(sctx, tx); err != nil {
		return "", fmt.Errorf("exec: mempool broadcast: %w", err)
	}
	return tx.Hash().Hex(), nil
}
