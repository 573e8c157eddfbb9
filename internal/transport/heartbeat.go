package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// presence beacons cover a small port range so nodes sharing a host during
// drills (9000-9005) still see each other.
const (
	beaconPortStart = 9000
	beaconPortEnd   = 9005
	beaconInterval  = 1 * time.Second
)

// Beacon is the UDP presence packet peers discover each other with.
type Beacon struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Nick string `json:"nick"`
	Port int    `json:"port"`
	TS   int64  `json:"ts"`
}

// runBeacon broadcasts this node's presence until the context ends. Seeds are
// addressed directly so peers persisted from earlier runs hear us even off
// the broadcast segment.
func runBeacon(ctx context.Context, servicePort int, nodeID, nick string, seeds []string) error {
	targets := []string{"255.255.255.255", "127.0.0.1"}
	var conns []*net.UDPConn

	for _, host := range targets {
		for p := beaconPortStart; p <= beaconPortEnd; p++ {
			if conn := dialUDP(fmt.Sprintf("%s:%d", host, p)); conn != nil {
				conns = append(conns, conn)
			}
		}
	}
	for _, seed := range seeds {
		if conn := dialUDP(seed); conn != nil {
			conns = append(conns, conn)
		}
	}

	if len(conns) == 0 {
		return fmt.Errorf("failed to dial any UDP beacon targets")
	}
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	slog.Info("Presence beacon started", "targets", len(conns), "nodeID", nodeID)

	ticker := time.NewTicker(beaconInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-ticker.C:
			beacon := Beacon{Type: "beat", ID: nodeID, Nick: nick, Port: servicePort, TS: t.Unix()}
			data, err := json.Marshal(beacon)
			if err != nil {
				continue
			}
			for _, c := range conns {
				_, _ = c.Write(data)
			}
		}
	}
}

func dialUDP(target string) *net.UDPConn {
	addr, err := net.ResolveUDPAddr("udp", target)
	if err != nil {
		return nil
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil
	}
	return conn
}

// runListener receives beacons on the service port and forwards descriptors
// for every peer that is not us. Malformed packets are logged and skipped.
func runListener(ctx context.Context, port int, nodeID string, out chan<- PeerDescriptor) error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("failed to resolve listen address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 4096)
	for {
		n, remoteAddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("beacon read error: %w", err)
			}
		}

		var beacon Beacon
		if err := json.Unmarshal(buf[:n], &beacon); err != nil {
			slog.Warn("Failed to unmarshal beacon", "error", err)
			continue
		}
		if beacon.Type != "beat" || beacon.ID == nodeID {
			continue
		}

		desc := PeerDescriptor{
			ID:   beacon.ID,
			Nick: beacon.Nick,
			Addr: fmt.Sprintf("%s:%d", remoteAddr.IP.String(), beacon.Port),
		}
		select {
		case out <- desc:
		case <-ctx.Done():
			return nil
		default:
			// discovery buffer full; the next beacon will retry
		}
	}
}
