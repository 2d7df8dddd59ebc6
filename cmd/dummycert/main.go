// Command dummycert mints a single leaf certificate for a given common
// name, signed by siphon's self-signed root CA, without going through the
// per-authority cache. Useful for trusting siphon's CA in a client or
// inspecting what a forged certificate looks like, offline.
package main

import (
	"crypto/x509"
	"encoding/pem"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/siphon-mitm/siphon/certauthority"
)

type config struct {
	commonName string
	storeDir   string
}

func loadConfig() *config {
	cfg := new(config)
	flag.StringVar(&cfg.commonName, "commonName", "", "server commonName")
	flag.StringVar(&cfg.storeDir, "store", "", "CA root store directory (defaults to the user cache dir)")
	flag.Parse() //revive:disable-line:deep-exit -- ok for cmd/*
	return cfg
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()
	if cfg.commonName == "" {
		slog.Error("commonName required")
		os.Exit(1)
	}

	ca, err := certauthority.NewSelfSignedAuthority(cfg.storeDir)
	if err != nil {
		panic(err)
	}

	tlsCert, err := ca.DummyCert(cfg.commonName)
	if err != nil {
		panic(err)
	}

	fmt.Fprintf(os.Stdout, "%v-cert.pem\n", cfg.commonName)
	if err := pem.Encode(os.Stdout, &pem.Block{Type: "CERTIFICATE", Bytes: tlsCert.Certificate[0]}); err != nil {
		panic(err)
	}

	fmt.Fprintf(os.Stdout, "\n%v-key.pem\n", cfg.commonName)
	keyBytes, err := x509.MarshalPKCS8PrivateKey(tlsCert.PrivateKey)
	if err != nil {
		panic(err)
	}
	if err := pem.Encode(os.Stdout, &pem.Block{Type: "PRIVATE KEY", Bytes: keyBytes}); err != nil {
		panic(err)
	}
}
