package core

// common_structs.go – centralised struct definitions shared by the node,
// peer-management and NAT-traversal files in this package.

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net"
	"sync"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	host "github.com/libp2p/go-libp2p/core/host"

	"github.com/nighthawk24/hostmesh/p2p"
)

//---------------------------------------------------------------------
// Addressing
//---------------------------------------------------------------------

// Address represents a 20-byte account/peer identifier.
type Address [20]byte

func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// Hash represents a 32-byte cryptographic hash.
type Hash [32]byte

//---------------------------------------------------------------------
// P2P structs
//---------------------------------------------------------------------

type NodeID string

type Peer struct {
	ID      NodeID
	Addr    string
	Latency time.Duration
	Conn    net.Conn
}

type Message struct {
	From  NodeID
	Topic string
	Data  []byte
}

type Config struct {
	ListenAddr     string
	BootstrapPeers []string
	DiscoveryTag   string

	// HostSettings configures the host manager that scores, categorises and
	// filters peer addresses. A nil value falls back to p2p.DefaultSettings.
	HostSettings *p2p.Settings
}

type Node struct {
	host      host.Host
	pubsub    *pubsub.PubSub
	topics    map[string]*pubsub.Topic
	subs      map[string]*pubsub.Subscription
	topicLock sync.RWMutex
	subLock   sync.RWMutex
	peerLock  sync.RWMutex
	peers     map[NodeID]*Peer
	nat       *NATManager
	ctx       context.Context
	cancel    context.CancelFunc
	cfg       Config

	// Hosts is the gatekeeper for every address this node learns about,
	// across clearnet, Tor, I2P, Nym and SOCKS5-proxied transports.
	Hosts *p2p.Manager
}

type PeerInfo struct {
	Address Address `json:"address"`
	RTT     float64 `json:"rtt_ms"`
	Misses  int     `json:"misses"`
	Updated int64   `json:"updated_unix"`
}

type InboundMsg struct {
	PeerID  string `json:"peer_id"` // sender's peer-ID
	Code    byte   `json:"code"`    // protocol-level message code
	Payload []byte `json:"payload"` // opaque payload

	Topic string  `json:"topic,omitempty"` // optional pub-sub topic
	From  Address `json:"from,omitempty"`  // optional address
	Ts    int64   `json:"ts"`              // unix-milliseconds timestamp
}

type NetworkMessage struct {
	Source    Address `json:"source"`
	Target    Address `json:"target"`
	MsgType   string  `json:"type"`
	Content   []byte  `json:"content"`
	Timestamp int64   `json:"timestamp"`
	Topic     string
}

// PeerManager is the collaborator interface the host manager's CLI and any
// higher-level replication/consensus code program against, instead of the
// concrete *PeerManagement.
type PeerManager interface {
	Peers() []PeerInfo
	Connect(addr string) error
	Disconnect(id NodeID) error
	Sample(n int) []string
	SendAsync(peerID, proto string, code byte, payload []byte) error
	Subscribe(proto string) <-chan InboundMsg
	Unsubscribe(proto string)
}

//---------------------------------------------------------------------
// Block/transaction structs (orphan-block gossip over pubsub)
//---------------------------------------------------------------------

type BlockHeader struct {
	Height    uint64
	Timestamp int64
	PrevHash  []byte
	PoWHash   []byte
	Nonce     uint64
	MinerPk   []byte
}

type SubBlockHeader struct {
	Height    uint64
	Timestamp int64
	Validator []byte
	PoHHash   []byte
	Sig       []byte
}

type SubBlockBody struct{ Transactions [][]byte }

type BlockBody struct{ SubHeaders []SubBlockHeader }

type SubBlock struct {
	Header SubBlockHeader
	Body   SubBlockBody
}

type Block struct {
	Header       BlockHeader    `json:"header"`
	Body         BlockBody      `json:"body"`
	Transactions []*Transaction `json:"txs"` // full ordered list of txs
}

type Transaction struct {
	Type      TxType    `json:"type"`
	From      Address   `json:"from"`
	To        Address   `json:"to"`
	Value     uint64    `json:"value"`
	GasLimit  uint64    `json:"gas_limit"`
	GasPrice  uint64    `json:"gas_price"`
	Nonce     uint64    `json:"nonce"`
	Timestamp int64     `json:"timestamp"`
	Payload   []byte    `json:"payload,omitempty"`
	Sig       []byte    `json:"sig"`
	Hash      Hash      `json:"hash"`
	Inputs    []TxInput `json:"inputs,omitempty"`
	Outputs   []TxOutput `json:"outputs,omitempty"`
}

// HashTx returns a simple SHA-256 hash of the transaction contents.
func (tx *Transaction) HashTx() Hash {
	b, _ := json.Marshal(tx)
	return sha256.Sum256(b)
}

// IDHex returns the transaction hash as a hex string. If the hash has not yet
// been computed, it derives it from the transaction contents to ensure a
// stable identifier.
func (tx *Transaction) IDHex() string {
	if tx == nil {
		return ""
	}

	h := tx.Hash
	if h == (Hash{}) {
		h = tx.HashTx()
	}
	return hex.EncodeToString(h[:])
}

type TxInput struct {
	TxID  Hash   // Originating tx hash
	Index uint32 // Output index in that tx
}

type TxOutput struct {
	Address    Address
	Amount     uint64
	PubKeyHash []byte `json:"pk_hash"`
}
