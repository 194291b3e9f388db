package node_test

import (
	"net"
	"strconv"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/jabolina/fundmesh/internal/fundmeshtest"
	"github.com/jabolina/fundmesh/pkg/fundmesh/catalogue"
	"github.com/jabolina/fundmesh/pkg/fundmesh/logging"
	"github.com/jabolina/fundmesh/pkg/fundmesh/transport"
	"github.com/jabolina/fundmesh/pkg/fundmesh/wire"
)

// TestSingleNodeBecomesSuperPeerAndTrades walks one node through
// directory registration (it has no peers, so it is immediately told to
// become the region's super-peer), then drives a single-leg buy order
// straight through to a client-visible TradeMFAck, exercising the
// registration directory, the overlay node and the exchange coordinator
// together end to end. Mirrors go-mcast's fuzzy tests: shut the cluster
// down and wait for it to settle before asserting no goroutine leaked.
func TestSingleNodeBecomesSuperPeerAndTrades(t *testing.T) {
	cluster := fundmeshtest.NewCluster(t)
	cat := catalogue.Catalogue{"FUND1": {"ExA": {"AAPL": 10}}}
	n := cluster.AddNode("ExA", 0, cat, map[string]int{"AAPL": 50})

	clientLog := logging.NewDefault("client")
	clientLog.ToggleDebug(false)
	clientPort := fundmeshtest.FreePort(t)
	clientTrns, err := transport.Listen(net.JoinHostPort(cluster.Address, strconv.Itoa(clientPort)), clientLog)
	if err != nil {
		t.Fatalf("client listen: %v", err)
	}

	ok := fundmeshtest.WaitThisOrTimeout(t, 3*time.Second, func() bool {
		return cluster.Inventory("ExA") != nil
	})
	if !ok {
		t.Fatal("node never came up")
	}

	// Give registration a moment to complete and the node to learn its
	// super-peer role before addressing it directly.
	time.Sleep(300 * time.Millisecond)

	if _, err := transport.Send(cluster.Address, n.ListenPort(), wire.Message{
		Action:     wire.ActionTradeMF,
		FundName:   "FUND1",
		Qty:        1,
		ClientPort: clientPort,
	}, false, 2*time.Second, 1); err != nil {
		t.Fatalf("send TradeMF: %v", err)
	}

	select {
	case in := <-clientTrns.Listen():
		in.Respond(wire.Message{})
		if in.Message.Action != wire.ActionTradeMFAck {
			t.Fatalf("expected TradeMFAck, got %s", in.Message.Action)
		}
		if in.Message.Result != wire.ResultOK {
			t.Fatalf("expected OK, got %s", in.Message.Result)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for TradeMFAck")
	}

	if got := cluster.Inventory("ExA").Available("AAPL"); got != 40 {
		t.Fatalf("AAPL available = %d, want 40", got)
	}

	clientTrns.Close()
	cluster.Shutdown()
	time.Sleep(200 * time.Millisecond)
	goleak.VerifyNone(t, goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"))
}
