package node

import (
	"context"

	"go.uber.org/zap"

	"github.com/btctest/node-harness/rpcclient"
)

// PeerConnection is a wire-protocol connection object owned by the caller.
// The node handle does not create peer connections; it only tracks
// registered ones for coordinated teardown.
type PeerConnection interface {
	// Opens the connection to the given destination.
	PeerConnect(addr string, port uint16) error
	// Blocks until the protocol handshake has completed or [ctx] expires.
	WaitForVerack(ctx context.Context) error
	// Closes the connection.
	PeerDisconnect() error
}

// AddP2PConnection connects [conn] to this node's default wire endpoint
// (127.0.0.1 and the node's deterministic P2P port) and registers it for
// teardown. When [waitForVerack] is set it also blocks until the handshake
// completes. The connection is returned for chaining.
func (n *Node) AddP2PConnection(ctx context.Context, conn PeerConnection, waitForVerack bool) (PeerConnection, error) {
	return n.AddP2PConnectionTo(ctx, conn, "127.0.0.1", rpcclient.P2PPort(n.cfg.Index), waitForVerack)
}

// AddP2PConnectionTo is AddP2PConnection with an explicit destination.
func (n *Node) AddP2PConnectionTo(ctx context.Context, conn PeerConnection, addr string, port uint16, waitForVerack bool) (PeerConnection, error) {
	if err := conn.PeerConnect(addr, port); err != nil {
		return nil, err
	}
	n.p2ps = append(n.p2ps, conn)
	if waitForVerack {
		if err := conn.WaitForVerack(ctx); err != nil {
			return nil, err
		}
	}
	return conn, nil
}

// P2P returns the first registered peer connection. Most tests only use a
// single connection per node, so this saves indexing into P2Ps everywhere.
func (n *Node) P2P() (PeerConnection, error) {
	if len(n.p2ps) == 0 {
		return nil, UsageError(n.errorf("no p2p connection").Error())
	}
	return n.p2ps[0], nil
}

// P2Ps returns all registered peer connections in registration order.
func (n *Node) P2Ps() []PeerConnection {
	return n.p2ps
}

// DisconnectP2Ps closes and unregisters every peer connection.
func (n *Node) DisconnectP2Ps() {
	for _, p := range n.p2ps {
		if err := p.PeerDisconnect(); err != nil {
			n.log.Warn("error disconnecting peer", zap.Error(err))
		}
	}
	n.p2ps = nil
}
