package testing

import (
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	serverReadyTimeout = 5 * time.Second
	clientDialTimeout  = 2 * time.Second
)

// StartEmbeddedNATS runs an in-process NATS server with JetStream and returns
// it together with a connected client.
//
// The server listens on a random loopback port and keeps JetStream data under
// t.TempDir(). Client and server are shut down when the test finishes.
//
// Example:
//
//	_, nc := custodiantest.StartEmbeddedNATS(t)
//	node, err := custodian.NewNode(&cfg, nc, member)
func StartEmbeddedNATS(t testing.TB) (*server.Server, *nats.Conn) {
	t.Helper()

	ns := runServer(t)
	nc := dial(t, ns)

	// Registered after the server cleanup, so it runs first.
	t.Cleanup(nc.Close)

	return ns, nc
}

func runServer(t testing.TB) *server.Server {
	t.Helper()

	ns, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      server.RANDOM_PORT,
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoLog:     true,
		NoSigs:    true,
	})
	if err != nil {
		t.Fatalf("embedded nats: new server: %v", err)
	}

	go ns.Start()
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})

	if !ns.ReadyForConnections(serverReadyTimeout) {
		t.Fatalf("embedded nats: not ready after %s", serverReadyTimeout)
	}

	return ns
}

func dial(t testing.TB, ns *server.Server) *nats.Conn {
	t.Helper()

	nc, err := nats.Connect(ns.ClientURL(),
		nats.Name(t.Name()),
		nats.Timeout(clientDialTimeout),
		nats.MaxReconnects(3),
	)
	if err != nil {
		t.Fatalf("embedded nats: connect %s: %v", ns.ClientURL(), err)
	}

	return nc
}

// CreateJetStreamKV creates a memory-backed KV bucket whose entries expire
// after one minute.
//
// Example:
//
//	kv := custodiantest.CreateJetStreamKV(t, nc, "custodian-stores")
func CreateJetStreamKV(t testing.TB, nc *nats.Conn, bucket string) jetstream.KeyValue {
	t.Helper()

	return CreateJetStreamKVWithTTL(t, nc, bucket, time.Minute)
}

// CreateJetStreamKVWithTTL is CreateJetStreamKV with an explicit entry TTL.
// A zero ttl keeps entries forever.
func CreateJetStreamKVWithTTL(t testing.TB, nc *nats.Conn, bucket string, ttl time.Duration) jetstream.KeyValue {
	t.Helper()

	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatalf("jetstream: %v", err)
	}

	kv, err := js.CreateKeyValue(t.Context(), jetstream.KeyValueConfig{
		Bucket:   bucket,
		TTL:      ttl,
		History:  1,
		Storage:  jetstream.MemoryStorage,
		Replicas: 1,
	})
	if err != nil {
		t.Fatalf("jetstream: create bucket %q: %v", bucket, err)
	}

	return kv
}
