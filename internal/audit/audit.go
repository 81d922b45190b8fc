// Package audit optionally records name-ownership transitions and
// connection lifecycle events to MongoDB, grounded directly on
// life-stream's internal/database package (internal/database/database.go):
// the same ApplyURI/pool-size/idle-timeout/heartbeat/TLS/pool-monitor
// wiring, generalized from a session-persistence store to an
// append-only audit sink. It is a Non-goal-adjacent ambient concern
// (spec.md never requires persistence) carried anyway because every
// teacher component that talks to an external system uses this stack,
// and a broker with no deployment-observable trail would be the
// stdlib-only outlier this exercise is meant to avoid.
package audit

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/nalim-labs/dbusd/internal/config"
	eventcleaner "github.com/nalim-labs/dbusd/internal/event"
	"github.com/nalim-labs/dbusd/internal/logger"
	"github.com/nalim-labs/dbusd/internal/utils"
)

const eventsCollectionName = "bus_events"

// Event is one audited occurrence: a name-ownership transition or a
// session joining/leaving the bus.
type Event struct {
	Kind       string    `bson:"kind"` // "name_owner_changed", "session_connected", "session_disconnected"
	Name       string    `bson:"name,omitempty"`
	OldOwner   string    `bson:"old_owner,omitempty"`
	NewOwner   string    `bson:"new_owner,omitempty"`
	UniqueName string    `bson:"unique_name,omitempty"`
	ListenerID string    `bson:"listener_id,omitempty"`
	At         time.Time `bson:"at"`
}

// Sink records Events. Disabled is the zero-value default: every method
// is then a no-op, so the broker runs with no configured audit store at
// all (the common case) without any caller needing to branch on it.
type Sink struct {
	client           *mongo.Client
	collection       *mongo.Collection
	operationTimeout time.Duration
}

// Connect dials MongoDB per the [audit] section of config.Config, mirroring
// database.ConnectDatabase's client-options construction. It returns a nil
// *Sink (not an error) when auditing is disabled in config, so callers can
// unconditionally call sink.Record* on whatever Connect returns.
func Connect(cfg config.Config) (*Sink, error) {
	if !cfg.Audit.Enabled {
		logger.Debug("Audit sink disabled in configuration")
		return nil, nil
	}
	logger.DebugF("Connecting to audit store...")

	operationTimeout := utils.ParseStringTime(cfg.Audit.OperationTimeout)

	encodedUser := url.QueryEscape(cfg.Audit.Username)
	encodedPass := url.QueryEscape(cfg.Audit.Password)
	auditURL := fmt.Sprintf("mongodb://%s:%s@%s:%d/?authSource=admin",
		encodedUser, encodedPass, cfg.Audit.Host, cfg.Audit.Port)

	clientOptions := options.Client().ApplyURI(auditURL).SetAppName(cfg.AppName)
	clientOptions.SetMinPoolSize(cfg.Audit.MinPoolSize)
	clientOptions.SetMaxPoolSize(cfg.Audit.MaxPoolSize)
	clientOptions.SetMaxConnIdleTime(utils.ParseStringTime(cfg.Audit.ConnectIdleTimeout))
	clientOptions.SetConnectTimeout(utils.ParseStringTime(cfg.Audit.ConnectTimeout))
	clientOptions.SetSocketTimeout(utils.ParseStringTime(cfg.Audit.SocketTimeout))
	clientOptions.SetHeartbeatInterval(utils.ParseStringTime(cfg.Audit.Heartbeat))
	if cfg.Audit.UseTLS {
		clientOptions.SetTLSConfig(&tls.Config{InsecureSkipVerify: false})
	}
	clientOptions.SetPoolMonitor(&event.PoolMonitor{
		Event: func(evt *event.PoolEvent) {
			switch evt.Type {
			case event.ConnectionCreated:
				logger.DebugF("Audit store connection created: %+v", evt)
			case event.ConnectionClosed:
				logger.DebugF("Audit store connection closed: %+v", evt)
			}
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("audit: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("audit: ping: %w", err)
	}

	db := client.Database(cfg.Audit.Database)
	collection := db.Collection(eventsCollectionName)
	if _, err := collection.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys:    bson.D{{Key: "at", Value: 1}},
		Options: options.Index().SetName("bus_events_at"),
	}); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("audit: create index: %w", err)
	}

	sink := &Sink{client: client, collection: collection, operationTimeout: operationTimeout}
	eventcleaner.NewCleaner().Add(sink)
	return sink, nil
}

// Invoke satisfies event.Callable, disconnecting the audit client as one
// of the process's registered shutdown cleaners.
func (s *Sink) Invoke(ctx context.Context) error {
	if s == nil {
		return nil
	}
	logger.InfoF("Closing audit store connection")
	return s.client.Disconnect(ctx)
}

func (s *Sink) insert(evt Event) {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.operationTimeout)
	defer cancel()
	if _, err := s.collection.InsertOne(ctx, evt); err != nil {
		logger.ErrorF("audit: insert %s event failed: %v", evt.Kind, err)
	}
}

// RecordNameOwnerChanged audits one spec.md §4.6 NameOwnerChanged
// transition. at is passed in rather than computed here so callers in a
// deterministic test can supply a fixed timestamp.
func (s *Sink) RecordNameOwnerChanged(name, oldOwner, newOwner string, at time.Time) {
	s.insert(Event{Kind: "name_owner_changed", Name: name, OldOwner: oldOwner, NewOwner: newOwner, At: at})
}

// RecordSessionConnected audits a new session admitted by a listener.
func (s *Sink) RecordSessionConnected(uniqueName, listenerID string, at time.Time) {
	s.insert(Event{Kind: "session_connected", UniqueName: uniqueName, ListenerID: listenerID, At: at})
}

// RecordSessionDisconnected audits a session leaving the bus.
func (s *Sink) RecordSessionDisconnected(uniqueName, listenerID string, at time.Time) {
	s.insert(Event{Kind: "session_disconnected", UniqueName: uniqueName, ListenerID: listenerID, At: at})
}
