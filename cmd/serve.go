package cmd

import (
	"EmotionDet/Adhoc"
	proto "EmotionDet/gRPC"
	iface "EmotionDet/interface"
	"EmotionDet/logger"
	"EmotionDet/monitor"
	"EmotionDet/web"
	"EmotionDet/worker"
	"context"
	"errors"
	"net"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var advertiseIP string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the classifier over HTTP, websocket and gRPC",
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := loadBundle()
		if err != nil {
			return err
		}
		idle, err := cfg.Server.Idle()
		if err != nil {
			return err
		}
		pool, err := worker.Start(cfg.Server.WorkersNum, func(id int) (iface.Backend, error) {
			return newDetector(cfg, bundle)
		})
		if err != nil {
			return err
		}
		defer pool.Close()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		var wg sync.WaitGroup

		rpc, err := proto.StartGRPCServer(cfg.Server.RPCPort, &proto.Server{Pool: pool})
		if err != nil {
			return err
		}
		defer rpc.GracefulStop()

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := monitor.StartMon(cfg.Server.MetricsPort, ctx); err != nil {
				logger.Log().Error("metrics server", zap.Error(err))
			}
		}()

		if cfg.Registry.Enabled {
			reg := Adhoc.RegServerConfig{}
			reg.SetAddress(cfg.Registry.Host, cfg.Registry.Port)
			class := Adhoc.RawInstance
			if bundle.UsesHOG() {
				class = Adhoc.HOGInstance
			}
			wg.Add(1)
			go reg.SendAliveMessage(ctx, Adhoc.Heartbeat{
				IP:            advertiseIP,
				Port:          cfg.Server.HTTPPort,
				RPCPort:       cfg.Server.RPCPort,
				InstanceClass: class,
				ModelKind:     bundle.Classifier.Kind(),
				Labels:        bundle.Labels(),
			}, &wg)
		}

		srv := &web.Server{
			Pool:         pool,
			UploadDir:    cfg.Server.UploadDir,
			AllowOrigins: cfg.Server.AllowOrigins,
			Aliases:      cfg.Classifier.LabelAliases,
			IdleTimeout:  idle,
		}
		err = srv.Start(ctx, cfg.Server.HTTPPort)
		cancel()
		wg.Wait()
		logger.Log().Info("Server stopped")
		return err
	},
}

// outboundIP picks the local address used to reach the network.
func outboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", errors.New("unexpected local address type")
	}
	return addr.IP.String(), nil
}

func init() {
	serveCmd.Flags().StringVar(&advertiseIP, "advertise-ip", "", "IP reported to the registry (default: outbound interface address)")
	serveCmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if advertiseIP != "" || !cfg.Registry.Enabled {
			return nil
		}
		ip, err := outboundIP()
		if err != nil {
			logger.Log().Warn("Could not detect outbound IP", zap.Error(err))
			advertiseIP = "127.0.0.1"
			return nil
		}
		advertiseIP = ip
		return nil
	}
	rootCmd.AddCommand(serveCmd)
}
