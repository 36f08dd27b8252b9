package auth

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"google.golang.org/grpc/credentials"

	"github.com/crunchdao/model-runner-orchestrator/internal/clog"
)

// SecureCredentials is the mutual-TLS material for the worker RPC channel:
// a CA to verify the worker's server certificate, plus a client cert/key
// pair the worker verifies back. Modeled on the ca.crt/tls.crt/tls.key
// directory layout of the system this orchestrator was derived from.
type SecureCredentials struct {
	dir  string
	tc   atomic.Pointer[credentials.TransportCredentials]
	log  *clog.CLogger
	watch *fsnotify.Watcher
}

// LoadSecureCredentials reads ca.crt/tls.crt/tls.key from dir and builds
// gRPC transport credentials for mutual TLS.
func LoadSecureCredentials(dir string) (*SecureCredentials, error) {
	sc := &SecureCredentials{dir: dir, log: clog.New("auth.credentials")}
	if err := sc.reload(); err != nil {
		return nil, err
	}
	return sc, nil
}

func (sc *SecureCredentials) reload() error {
	tc, err := buildTransportCredentials(sc.dir)
	if err != nil {
		return err
	}
	sc.tc.Store(&tc)
	return nil
}

func buildTransportCredentials(dir string) (credentials.TransportCredentials, error) {
	caBytes, err := os.ReadFile(filepath.Join(dir, "ca.crt"))
	if err != nil {
		return nil, fmt.Errorf("auth: reading ca.crt: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caBytes) {
		return nil, fmt.Errorf("auth: ca.crt contains no usable certificates")
	}

	cert, err := tls.LoadX509KeyPair(filepath.Join(dir, "tls.crt"), filepath.Join(dir, "tls.key"))
	if err != nil {
		return nil, fmt.Errorf("auth: loading client keypair: %w", err)
	}

	return credentials.NewTLS(&tls.Config{
		RootCAs:      pool,
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}), nil
}

// Transport returns the current transport credentials. It is safe to call
// concurrently with WatchForRotation swapping the underlying value.
func (sc *SecureCredentials) Transport() credentials.TransportCredentials {
	return *sc.tc.Load()
}

// WatchForRotation watches dir for certificate file changes (as written by
// a cert-manager style rotator) and hot-swaps the transport credentials in
// place. Later calls to Transport return the new material; credentials
// obtained from an earlier Transport call, and connections dialed with
// them, keep the old material, matching gRPC's own per-dial credential
// binding.
func (sc *SecureCredentials) WatchForRotation() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("auth: starting credential watcher: %w", err)
	}
	if err := w.Add(sc.dir); err != nil {
		w.Close()
		return fmt.Errorf("auth: watching %s: %w", sc.dir, err)
	}
	sc.watch = w

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := sc.reload(); err != nil {
					sc.log.Errorf("failed reloading rotated credentials from %s: %v", sc.dir, err)
					continue
				}
				sc.log.Printf("reloaded secure credentials from %s", sc.dir)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				sc.log.Errorf("credential watcher error: %v", err)
			}
		}
	}()

	return nil
}

// Close stops the rotation watcher, if one was started.
func (sc *SecureCredentials) Close() error {
	if sc.watch == nil {
		return nil
	}
	return sc.watch.Close()
}
