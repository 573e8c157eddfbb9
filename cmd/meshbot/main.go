// meshbot is a scripted node for exercising a running mesh: it joins via a
// seed address, broadcasts an SOS, lingers so peers can pull from it, then
// exits.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Kunalchandra007/Pravha/internal/identity"
	"github.com/Kunalchandra007/Pravha/internal/mesh"
	"github.com/Kunalchandra007/Pravha/internal/transport"
)

func main() {
	port := 9002
	target := "127.0.0.1:9000"
	nick := "TestBot"

	idPath := fmt.Sprintf("identity_%d.json", port)
	id, err := identity.LoadOrGenerate(idPath)
	if err != nil {
		log.Fatalf("Failed to load identity: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := transport.NewTCP(id.NodeID, nick, port, []string{target})
	node := mesh.NewNode(id.NodeID, tr, mesh.WithSigner(func(m *mesh.Message) {
		m.Signature = id.Sign(m.Digest())
	}))

	fmt.Printf("Bot starting on port %d...\n", port)
	if err := node.Start(ctx); err != nil {
		log.Fatalf("Failed to start node: %v", err)
	}

	time.Sleep(2 * time.Second)
	casualties := 2
	fmt.Println("Broadcasting SOS...")
	if err := node.BroadcastSOS("FLOOD", &casualties, []string{"boat", "medical"}); err != nil {
		log.Printf("Failed to broadcast SOS: %v", err)
	}

	fmt.Println("Staying online for 30 seconds so peers can exchange...")
	time.Sleep(30 * time.Second)

	status := node.Status()
	fmt.Printf("Done: peers=%d sent=%d relayed=%d\n",
		status.ConnectedNodes, status.MessagesSent, status.MessagesRelayed)
	node.Stop()
}
