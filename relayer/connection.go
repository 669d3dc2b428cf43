package relayer

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ConnectionState is the handshake state of a connection between two chains.
type ConnectionState string

const (
	ConnectionInit    ConnectionState = "INIT"
	ConnectionTryOpen ConnectionState = "TRYOPEN"
	ConnectionOpen    ConnectionState = "OPEN"
)

// Connection is the link between the light clients of two chains.
// Channels are layered on top of a connection.
type Connection struct {
	ID                       string          `json:"connection-id" yaml:"connection-id"`
	ClientID                 string          `json:"client-id" yaml:"client-id"`
	CounterpartyClientID     string          `json:"counterparty-client-id" yaml:"counterparty-client-id"`
	CounterpartyConnectionID string          `json:"counterparty-connection-id" yaml:"counterparty-connection-id"`
	SourceChain              string          `json:"source-chain" yaml:"source-chain"`
	TargetChain              string          `json:"target-chain" yaml:"target-chain"`
	DelayPeriod              time.Duration   `json:"delay-period" yaml:"delay-period"`
	State                    ConnectionState `json:"state" yaml:"state"`
	CreatedAt                time.Time       `json:"created-at" yaml:"created-at"`
	UpdatedAt                time.Time       `json:"updated-at" yaml:"updated-at"`
}

// CreateConnection allocates a new connection in the INIT state.
// Allocation cannot fail.
func (cm *ChannelManager) CreateConnection(clientID, counterpartyClientID, sourceChain, targetChain string, delayPeriod time.Duration) Connection {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	now := cm.now()
	id := fmt.Sprintf("connection-%d", cm.connectionCounter)
	conn := &Connection{
		ID:                       id,
		ClientID:                 clientID,
		CounterpartyClientID:     counterpartyClientID,
		CounterpartyConnectionID: fmt.Sprintf("connection-%d", cm.connectionCounter+1000),
		SourceChain:              sourceChain,
		TargetChain:              targetChain,
		DelayPeriod:              delayPeriod,
		State:                    ConnectionInit,
		CreatedAt:                now,
		UpdatedAt:                now,
	}
	cm.connectionCounter++
	cm.connections[id] = conn

	cm.log.Info(
		"Created connection",
		zap.String("connection_id", id),
		zap.String("client_id", clientID),
		zap.String("src_chain_id", sourceChain),
		zap.String("dst_chain_id", targetChain),
	)

	return *conn
}

// OpenConnection runs the connection handshake, moving it through TRYOPEN to OPEN.
func (cm *ChannelManager) OpenConnection(connectionID string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	conn, ok := cm.connections[connectionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrConnectionNotFound, connectionID)
	}

	switch conn.State {
	case ConnectionOpen:
		return nil
	case ConnectionInit:
		conn.State = ConnectionTryOpen
		conn.UpdatedAt = cm.now()
		cm.log.Debug("Connection handshake", zap.String("connection_id", connectionID), zap.String("state", string(conn.State)))
	}

	conn.State = ConnectionOpen
	conn.UpdatedAt = cm.now()
	cm.log.Info("Connection opened", zap.String("connection_id", connectionID))
	return nil
}

// GetConnection returns the connection with the given id.
func (cm *ChannelManager) GetConnection(connectionID string) (Connection, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	conn, ok := cm.connections[connectionID]
	if !ok {
		return Connection{}, false
	}
	return *conn, true
}

// GetAllConnections returns every known connection ordered by id.
func (cm *ChannelManager) GetAllConnections() []Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	out := make([]Connection, 0, len(cm.connections))
	for _, conn := range cm.connections {
		out = append(out, *conn)
	}
	sortByIdentifier(out, func(c Connection) string { return c.ID })
	return out
}
