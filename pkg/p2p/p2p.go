// Package p2p implements a narrow Publisher/Subscriber boundary over a
// concrete libp2p transport, so that pkg/bft, pkg/exec, and pkg/mempool
// depend on an interface rather than a libp2p type. Host bootstrap uses
// libp2p.New with a generated identity key and a listen multiaddr with
// NAT traversal; peer discovery runs over go-libp2p-kad-dht; the gossip
// layer is a TTL-bounded flood with dedup-by-message-id and periodic
// seen-set cleanup.
package p2p

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
)

// Topic names, fixed across the network.
const (
	TopicConsensusProposal = "trv1/consensus/proposal"
	TopicConsensusVote     = "trv1/consensus/vote"
	TopicTx                = "trv1/tx"
)

const protocolPrefix = "/trv1/gossip/1.0.0"

// Publisher announces a payload on topic to the network.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Subscriber registers handler to be called for every payload received on
// topic; cancel stops delivery.
type Subscriber interface {
	Subscribe(topic string, handler func([]byte)) (cancel func(), err error)
}

// Network is the concrete libp2p-backed transport implementing
// Publisher and Subscriber.
type Network struct {
	log *zap.Logger

	host host.Host
	dht  *dht.IpfsDHT
	ctx  context.Context
	stop context.CancelFunc

	gossip *gossipLayer

	mu       sync.RWMutex
	handlers map[string][]func([]byte)
}

// New starts a libp2p host listening on port, bootstraps a Kademlia DHT
// for peer discovery, and wires the TTL-flood gossip layer over a single
// stream protocol shared by all three topics.
func New(log *zap.Logger, port int) (*Network, error) {
	ctx, cancel := context.WithCancel(context.Background())

	privKey, _, err := crypto.GenerateKeyPairWithReader(crypto.Ed25519, 256, rand.Reader)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("generate host identity: %w", err)
	}

	listenAddr, err := multiaddr.NewMultiaddr(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", port))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build listen address: %w", err)
	}

	h, err := libp2p.New(
		libp2p.ListenAddrs(listenAddr),
		libp2p.Identity(privKey),
		libp2p.NATPortMap(),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create libp2p host: %w", err)
	}

	kad, err := dht.New(ctx, h, dht.Mode(dht.ModeAuto))
	if err != nil {
		cancel()
		_ = h.Close()
		return nil, fmt.Errorf("create kademlia dht: %w", err)
	}
	if err := kad.Bootstrap(ctx); err != nil {
		cancel()
		_ = h.Close()
		return nil, fmt.Errorf("bootstrap dht: %w", err)
	}

	n := &Network{
		log:      log,
		host:     h,
		dht:      kad,
		ctx:      ctx,
		stop:     cancel,
		gossip:   newGossipLayer(3, 8),
		handlers: make(map[string][]func([]byte)),
	}

	h.SetStreamHandler(protocol.ID(protocolPrefix), n.handleStream)

	log.Info("p2p host started",
		zap.String("peer_id", h.ID().String()),
		zap.Any("addrs", h.Addrs()),
	)

	return n, nil
}

// Close tears down the host and DHT, canceling all in-flight streams.
func (n *Network) Close() error {
	n.stop()
	if err := n.dht.Close(); err != nil {
		n.log.Warn("dht close failed", zap.Error(err))
	}
	return n.host.Close()
}

// ConnectToPeer dials a known peer by its full multiaddr
// (/ip4/.../tcp/.../p2p/<id>), for static bootstrap lists in config.
func (n *Network) ConnectToPeer(peerAddr string) error {
	maddr, err := multiaddr.NewMultiaddr(peerAddr)
	if err != nil {
		return fmt.Errorf("invalid peer address: %w", err)
	}
	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return fmt.Errorf("resolve peer info: %w", err)
	}
	if err := n.host.Connect(n.ctx, *info); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

type wireEnvelope struct {
	Topic   string `json:"topic"`
	Payload []byte `json:"payload"`
}

// Publish wraps payload in a gossip envelope and floods it to connected
// peers; Subscribe handlers registered locally for topic are also
// invoked directly so a node observes its own publications.
func (n *Network) Publish(topic string, payload []byte) error {
	env := wireEnvelope{Topic: topic, Payload: payload}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	msg := n.gossip.createMessage(body, n.host.ID().String())
	n.dispatchLocal(topic, payload)
	n.flood(msg, "")
	return nil
}

// Subscribe registers handler for topic. The returned cancel removes it;
// it is the caller's responsibility to call cancel on shutdown.
func (n *Network) Subscribe(topic string, handler func([]byte)) (func(), error) {
	n.mu.Lock()
	n.handlers[topic] = append(n.handlers[topic], handler)
	idx := len(n.handlers[topic]) - 1
	n.mu.Unlock()

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		handlers := n.handlers[topic]
		if idx < len(handlers) {
			handlers[idx] = nil
		}
	}
	return cancel, nil
}

func (n *Network) dispatchLocal(topic string, payload []byte) {
	n.mu.RLock()
	handlers := append([]func([]byte){}, n.handlers[topic]...)
	n.mu.RUnlock()
	for _, h := range handlers {
		if h != nil {
			h(payload)
		}
	}
}

func (n *Network) handleStream(stream network.Stream) {
	defer stream.Close()

	var msg gossipMessage
	if err := json.NewDecoder(stream).Decode(&msg); err != nil {
		n.log.Debug("discarding malformed gossip frame", zap.Error(err))
		return
	}
	if !n.gossip.shouldProcess(&msg) {
		return
	}

	var env wireEnvelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		n.log.Debug("discarding malformed gossip envelope", zap.Error(err))
		return
	}
	n.dispatchLocal(env.Topic, env.Payload)

	n.flood(n.gossip.decrementTTL(&msg), stream.Conn().RemotePeer().String())
}

func (n *Network) flood(msg *gossipMessage, excludePeer string) {
	if msg.TTL <= 0 {
		return
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return
	}
	for _, pid := range n.peerIDs() {
		if pid.String() == excludePeer {
			continue
		}
		go func(target peer.ID) {
			stream, err := n.host.NewStream(n.ctx, target, protocol.ID(protocolPrefix))
			if err != nil {
				return
			}
			defer stream.Close()
			_, _ = stream.Write(body)
		}(pid)
	}
}

func (n *Network) peerIDs() []peer.ID {
	conns := n.host.Network().Peers()
	out := make([]peer.ID, len(conns))
	copy(out, conns)
	return out
}

// PeerCount reports the number of currently connected peers.
func (n *Network) PeerCount() int {
	return len(n.host.Network().Peers())
}

// gossipMessage and gossipLayer implement the TTL-bounded flood-gossip
// dissemination layer: every message carries a unique id and a
// hop budget; a peer that has already seen an id, or whose TTL has been
// exhausted, drops it instead of re-flooding.
type gossipMessage struct {
	ID        string    `json:"id"`
	Payload   []byte    `json:"payload"`
	TTL       int       `json:"ttl"`
	Timestamp time.Time `json:"timestamp"`
	SenderID  string    `json:"sender_id"`
}

type gossipLayer struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	maxTTL int
}

func newGossipLayer(_, maxTTL int) *gossipLayer {
	gl := &gossipLayer{seen: make(map[string]time.Time), maxTTL: maxTTL}
	go gl.cleanupLoop()
	return gl
}

func (gl *gossipLayer) createMessage(payload []byte, senderID string) *gossipMessage {
	return &gossipMessage{
		ID:        randomID(),
		Payload:   payload,
		TTL:       gl.maxTTL,
		Timestamp: time.Now(),
		SenderID:  senderID,
	}
}

func (gl *gossipLayer) shouldProcess(msg *gossipMessage) bool {
	gl.mu.Lock()
	defer gl.mu.Unlock()
	if _, seen := gl.seen[msg.ID]; seen {
		return false
	}
	if msg.TTL <= 0 || time.Since(msg.Timestamp) > time.Minute {
		return false
	}
	gl.seen[msg.ID] = time.Now()
	return true
}

func (gl *gossipLayer) decrementTTL(msg *gossipMessage) *gossipMessage {
	msg.TTL--
	return msg
}

func (gl *gossipLayer) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		gl.mu.Lock()
		for id, seenAt := range gl.seen {
			if time.Since(seenAt) > 10*time.Minute {
				delete(gl.seen, id)
			}
		}
		gl.mu.Unlock()
	}
}

func randomID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("%x", b)
}
