package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/Kunalchandra007/Pravha/internal/api"
	"github.com/Kunalchandra007/Pravha/internal/bridge"
	"github.com/Kunalchandra007/Pravha/internal/config"
	"github.com/Kunalchandra007/Pravha/internal/identity"
	"github.com/Kunalchandra007/Pravha/internal/mesh"
	"github.com/Kunalchandra007/Pravha/internal/store"
	"github.com/Kunalchandra007/Pravha/internal/transport"
	"github.com/Kunalchandra007/Pravha/internal/tui"
)

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "meshd",
	Short: "Pravha disaster mesh node",
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the mesh node",
	Run: func(cmd *cobra.Command, args []string) {
		// keep the API port in step when the gossip port moved off default
		if cfg.Port != config.DefaultPort && cfg.APIPort == config.DefaultAPIPort {
			cfg.APIPort = config.DefaultAPIPort + (cfg.Port - config.DefaultPort)
			fmt.Printf("Auto-adjusting API port to %d\n", cfg.APIPort)
		}

		if err := checkPort(cfg.Port); err != nil {
			fmt.Fprintf(os.Stderr, "Error: gossip port %d is already in use.\n", cfg.Port)
			os.Exit(1)
		}
		if err := checkPort(cfg.APIPort); err != nil {
			fmt.Fprintf(os.Stderr, "Error: API port %d is already in use.\n", cfg.APIPort)
			os.Exit(1)
		}

		slog.Info("Starting Pravha mesh", "port", cfg.Port, "nick", cfg.Nick)

		dbPath := filepath.Join(cfg.DataDir, fmt.Sprintf("mesh_%d.db", cfg.Port))
		db, err := store.Init(dbPath)
		if err != nil {
			slog.Error("Failed to init peer registry", "error", err)
			os.Exit(1)
		}

		idPath := filepath.Join(cfg.DataDir, fmt.Sprintf("identity_%d.json", cfg.Port))
		id, err := identity.LoadOrGenerate(idPath)
		if err != nil {
			slog.Error("Failed to load identity", "error", err)
			os.Exit(1)
		}

		seeds, err := store.SeedAddrs(db, 10)
		if err != nil {
			slog.Warn("Failed to load seed peers", "error", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		tr := transport.NewTCP(id.NodeID, cfg.Nick, cfg.Port, seeds)

		msgCh := make(chan *mesh.Message, 100)
		node := mesh.NewNode(id.NodeID, tr,
			mesh.WithSigner(func(m *mesh.Message) {
				m.Signature = id.Sign(m.Digest())
			}),
			mesh.WithPeerObserver(func(p mesh.Peer) {
				rssi := 0
				if p.SignalStrength != nil {
					rssi = *p.SignalStrength
				}
				err := store.UpsertPeer(db, store.Peer{
					ID:             p.ID,
					Nick:           p.Nick,
					Addr:           p.Addr,
					SignalStrength: rssi,
					LastSeen:       p.LastSeen,
					IsActive:       true,
				})
				if err != nil {
					slog.Error("Failed to persist peer", "id", p.ID, "error", err)
				}
			}),
			mesh.WithMessageCallback(func(m *mesh.Message) {
				select {
				case msgCh <- m:
				default:
				}
			}),
		)

		br := bridge.New(node)
		if cfg.Webhook != "" {
			slog.Info("Initializing uplink", "webhook", "REDACTED")
			up := bridge.NewUplink(cfg.Webhook)
			up.Start()
			br.OnEmergency(up.Enqueue)
		}

		if err := node.Start(ctx); err != nil {
			slog.Error("Failed to start mesh node", "error", err)
			os.Exit(1)
		}
		defer node.Stop()

		go runPeerReaper(ctx, db)

		apiSrv := api.NewServer(node, br, cfg.APIPort)
		go func() {
			if err := apiSrv.Start(ctx); err != nil {
				slog.Error("API server failed", "error", err)
				os.Exit(1)
			}
		}()

		ip, _ := outboundIP()
		url := fmt.Sprintf("http://%s:%d/api/status", ip, cfg.APIPort)
		if qr, err := qrcode.New(url, qrcode.Medium); err == nil {
			fmt.Println("\nSCAN TO REACH THIS NODE:")
			fmt.Println(qr.ToString(false))
		}
		fmt.Println("URL:", url)

		if os.Getenv("MESH_HEADLESS") == "true" {
			slog.Info("Running in HEADLESS mode (no TUI)")
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			select {
			case <-sig:
			case <-ctx.Done():
			}
			return
		}

		if err := tui.StartTUI(node, msgCh); err != nil {
			slog.Error("TUI failed", "error", err)
		}
	},
}

// runPeerReaper marks persisted peers inactive once they go unseen past the
// same staleness bound the node uses in memory.
func runPeerReaper(ctx context.Context, db *gorm.DB) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.ReapStale(db, 300*time.Second); err != nil {
				slog.Error("Peer reaper failed", "error", err)
			}
		}
	}
}

func init() {
	rootCmd.AddCommand(startCmd)
	startCmd.Flags().IntVarP(&cfg.Port, "port", "p", config.DefaultPort, "Gossip port to listen on")
	startCmd.Flags().IntVarP(&cfg.APIPort, "api-port", "a", config.DefaultAPIPort, "Bridge API port")
	startCmd.Flags().StringVarP(&cfg.Nick, "nick", "n", "Anonymous", "Nickname advertised to peers")
	startCmd.Flags().StringVarP(&cfg.DataDir, "data-dir", "d", ".", "Directory for identity and peer registry")
	startCmd.Flags().StringVar(&cfg.Webhook, "webhook", "", "Webhook URL for emergency uplink")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

// outboundIP prefers the IP a default route would use; falls back to
// loopback when offline.
func outboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
