// Command lonnode runs a single LON device-side stack against one or more
// USB/serial transceiver interfaces, exposing Prometheus metrics and
// logging through logrus the way the rest of this module does.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	lon "github.com/enocean-oss/lon-core"
	"github.com/enocean-oss/lon-core/config"
	"github.com/enocean-oss/lon-core/link"
	"github.com/enocean-oss/lon-core/metrics"
)

var log = logrus.New()

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "lonnode",
		Short: "Run a LON device-side control-network stack",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configFile)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "path to a lonnode configuration file")
	return cmd
}

func run(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("lonnode: %w", err)
	}

	store := diskStore{dir: "."}
	st := lon.NewStack(func() int64 { return time.Now().UnixMilli() }, store, cfg.QueueDepth, cfg.Enhanced)

	for _, dev := range cfg.Interfaces {
		port, err := link.OpenSerial(dev, cfg.BaudRate)
		if err != nil {
			return fmt.Errorf("lonnode: opening %s: %w", dev, err)
		}
		iface := link.NewInterface(dev, link.KindDirect, port, st.Stats(), cfg.QueueDepth)
		st.AddInterface(iface)
	}

	collector := metrics.NewCollector("lon", st.Stats())
	prometheus.MustRegister(collector)

	if cfg.MetricsAddr != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			log.WithField("addr", cfg.MetricsAddr).Info("serving metrics")
			if err := http.ListenAndServe(cfg.MetricsAddr, nil); err != nil {
				log.WithError(err).Error("metrics server stopped")
			}
		}()
	}

	st.Init(lon.ResetPowerUp)
	log.Info("stack initialized")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sig:
			log.Info("shutting down")
			return nil
		case <-ticker.C:
			st.Service()
			drainDeliveries(st)
		}
	}
}

func drainDeliveries(st *lon.Stack) {
	for {
		d, ok := st.NextDelivery()
		if !ok {
			break
		}
		log.WithFields(logrus.Fields{
			"subnet": d.SrcSubnet,
			"node":   d.SrcNode,
			"bytes":  len(d.APDU),
		}).Debug("delivered APDU")
	}
	for {
		c, ok := st.NextCompletion()
		if !ok {
			break
		}
		log.WithFields(logrus.Fields{"tag": c.Tag, "success": c.Success}).Debug("transaction completed")
	}
}

// diskStore persists the network image and application data as flat files
// in dir, the simplest Store a standalone binary can offer without pulling
// in a database dependency the node doesn't otherwise need.
type diskStore struct{ dir string }

func (d diskStore) ReadSegment(name string) ([]byte, error) {
	data, err := os.ReadFile(d.dir + "/" + name + ".bin")
	if os.IsNotExist(err) {
		return nil, nil
	}
	return data, err
}

func (d diskStore) WriteSegment(name string, data []byte) error {
	return os.WriteFile(d.dir+"/"+name+".bin", data, 0o600)
}
