// Package fundmeshtest provides a cluster-construction helper shared by
// the package-level tests across fundmesh, mirroring test/testing.go's
// CreateCluster/UnityCluster pattern: spin up a directory plus N nodes
// on localhost and tear them down when the test ends. Waiting for the
// cluster to settle is left to the test (see WaitThisOrTimeout).
package fundmeshtest

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/jabolina/fundmesh/pkg/fundmesh/catalogue"
	"github.com/jabolina/fundmesh/pkg/fundmesh/clock"
	"github.com/jabolina/fundmesh/pkg/fundmesh/directory"
	"github.com/jabolina/fundmesh/pkg/fundmesh/inventory"
	"github.com/jabolina/fundmesh/pkg/fundmesh/logging"
	"github.com/jabolina/fundmesh/pkg/fundmesh/node"
)

// FreePort asks the OS for an ephemeral port and releases it immediately
// ("bind to :0, read back Addr()"), since cluster wiring needs a port
// number before the listener it belongs to exists.
func FreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("fundmeshtest: reserve port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// Cluster is a running directory plus a set of named nodes, all on
// 127.0.0.1, for use from a single test.
type Cluster struct {
	t         *testing.T
	Address   string
	DirPort   int
	Directory *directory.Directory
	Nodes     map[string]*node.Node
	Exchanges map[string]*exchangeHandle

	cancel context.CancelFunc
}

type exchangeHandle struct {
	inv *inventory.Inventory
}

// NewCluster starts a directory and returns an (initially empty) cluster
// bound to it. Call AddNode to bring up exchange nodes one at a time,
// matching CreateCluster's incremental UnityCluster construction.
func NewCluster(t *testing.T) *Cluster {
	t.Helper()
	address := "127.0.0.1"
	port := FreePort(t)

	log := logging.NewDefault("fundmeshtest-directory")
	log.ToggleDebug(false)
	dir := directory.New(address, clock.New(2016, 1, 4, 8), log)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := dir.Run(ctx, port); err != nil {
			t.Logf("fundmeshtest: directory exited: %v", err)
		}
	}()

	c := &Cluster{
		t:         t,
		Address:   address,
		DirPort:   port,
		Directory: dir,
		Nodes:     make(map[string]*node.Node),
		Exchanges: make(map[string]*exchangeHandle),
		cancel:    cancel,
	}
	t.Cleanup(c.Shutdown)
	return c
}

// AddNode registers a new exchange node named name in region group,
// backed by cat and an inventory seeded with initialStock, and returns
// it already running in the background.
func (c *Cluster) AddNode(name string, group int, cat catalogue.Catalogue, initialStock map[string]int) *node.Node {
	c.t.Helper()
	port := FreePort(c.t)
	log := logging.NewDefault("fundmeshtest-" + name)
	log.ToggleDebug(false)

	cfg := node.Config{
		Group:         group,
		Name:          name,
		Address:       c.Address,
		Port:          port,
		DirectoryAddr: c.Address,
		DirectoryPort: c.DirPort,
	}
	n := node.New(cfg, log)
	inv := inventory.New(initialStock, inventory.NewMemoryLog(), nil, log)
	node.NewExchange(n, inv, cat)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := n.Run(ctx); err != nil {
			c.t.Logf("fundmeshtest: node %s exited: %v", name, err)
		}
	}()
	c.t.Cleanup(cancel)

	c.Nodes[name] = n
	c.Exchanges[name] = &exchangeHandle{inv: inv}
	return n
}

// Inventory returns the inventory backing the named node, for assertions.
func (c *Cluster) Inventory(name string) *inventory.Inventory {
	return c.Exchanges[name].inv
}

// Shutdown signals the directory and every node to stop. It returns
// without waiting for their goroutines to exit.
func (c *Cluster) Shutdown() {
	for _, n := range c.Nodes {
		n.Stop()
	}
	c.Directory.Stop()
	c.cancel()
}

// WaitThisOrTimeout polls fn until it returns true or timeout elapses,
// mirroring test/testing.go's helper of the same name.
func WaitThisOrTimeout(t *testing.T, timeout time.Duration, fn func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// DirectoryAddrString is a convenience for building a human-readable
// registration address in test failure messages.
func (c *Cluster) DirectoryAddrString() string {
	return fmt.Sprintf("%s:%d", c.Address, c.DirPort)
}
