/******************************************************************************
 *
 *  Description :
 *    Central post office daemon: loads its structural config and client
 *    secrets, starts listening, and serves the debug/metrics HTTP mux
 *    until a termination signal arrives.
 *
 *****************************************************************************/
package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/SlightlyLoony/MOP/cpo"
	"github.com/SlightlyLoony/MOP/logs"
)

func main() {
	configPath := flag.String("config", "cpo.json", "path to the central post office's JSON config file")
	metricsPath := flag.String("metrics_path", "/metrics", "path to expose Prometheus metrics on, \"-\" to disable")
	flag.Parse()

	cfg, err := cpo.LoadCPOConfig(*configPath)
	if err != nil {
		logs.Error.Fatalf("cpo: %v", err)
	}

	creds, err := cpo.LoadSecrets(cfg.SecretsFile)
	if err != nil {
		logs.Error.Fatalf("cpo: %v", err)
	}

	mux, accessLogged := cpo.NewHTTPMux(*metricsPath)

	office, err := cpo.New(cfg, cfg.SecretsFile, creds, mux)
	if err != nil {
		logs.Error.Fatalf("cpo: %v", err)
	}
	cpo.RegisterPrometheusCollector(office)

	if cfg.DebugAddress != "" {
		httpServer := &http.Server{Addr: cfg.DebugAddress, Handler: accessLogged}
		go serveDebugHTTP(httpServer)
	}

	if err := office.Start(); err != nil {
		logs.Error.Fatalf("cpo: %v", err)
	}

	stop := signalHandler()
	<-stop

	logs.Info.Println("cpo: shutting down")
	office.Shutdown()
}

func serveDebugHTTP(s *http.Server) {
	if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logs.Error.Printf("cpo: debug http server: %v", err)
	}
}

func signalHandler() <-chan struct{} {
	stop := make(chan struct{})
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		sig := <-sigs
		logs.Info.Printf("cpo: signal received: %s", sig)
		close(stop)
	}()
	return stop
}
