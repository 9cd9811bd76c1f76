// Package daemon runs a pvfs share behind an SMB listener.
package daemon

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"

	"pvfs/internal/metrics"
	"pvfs/internal/ntvfs"
	"pvfs/internal/pvfs"
	"pvfs/internal/smbvfs"
	"pvfs/internal/storage"
	"pvfs/internal/util"
)

func init() {
	// Silent until SetupLogging says otherwise.
	log.SetOutput(io.Discard)
}

// SetupLogging points logrus at w with the given level. "off" discards
// everything.
func SetupLogging(level string, w io.Writer) {
	level = strings.ToLower(level)
	if level == "" || level == "off" || level == "none" {
		log.SetOutput(io.Discard)
		return
	}
	log.SetOutput(w)
	switch level {
	case "trace":
		log.SetLevel(log.TraceLevel)
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.WarnLevel)
	}
}

// Daemon serves one share until stopped.
type Daemon struct {
	settings *Settings

	lock    *flock.Flock
	store   storage.XattrStore
	share   *pvfs.FS
	smbFS   *smbvfs.FS
	server  NetFSServer
	metrics *metrics.Server

	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
	readyCh  chan struct{}
}

// New returns a daemon for settings. Nothing is started until Run.
func New(settings *Settings) *Daemon {
	return &Daemon{
		settings: settings,
		stopCh:   make(chan struct{}),
		readyCh:  make(chan struct{}),
	}
}

// Ready is closed once the SMB listener accepts connections.
func (d *Daemon) Ready() <-chan struct{} {
	return d.readyCh
}

// Stop asks Run to shut down. It is safe to call more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
}

// processIdentity is the identity every SMB session runs as. The SMB
// server authenticates guests only, so there is no per-user mapping.
func processIdentity() ntvfs.Identity {
	id := ntvfs.Identity{
		UID: uint32(os.Getuid()),
		GID: uint32(os.Getgid()),
	}
	if groups, err := os.Getgroups(); err == nil {
		for _, g := range groups {
			id.Groups = append(id.Groups, uint32(g))
		}
	}
	return id
}

// Run starts the share and blocks until ctx is cancelled, a signal arrives
// or Stop is called.
func (d *Daemon) Run(ctx context.Context) error {
	s := d.settings
	if err := os.MkdirAll(s.Server.StateDir, 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	// Acquire exclusive lock
	d.lock = flock.New(LockPath(s.Server.StateDir))
	locked, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another daemon instance is already running")
	}
	defer d.lock.Unlock()

	opts, err := s.ShareOptions()
	if err != nil {
		return err
	}

	var fsMetrics metrics.FSMetrics
	if s.Server.MetricsListen != "" {
		metrics.InitRegistry()
		fsMetrics = metrics.NewFSMetrics()
	}

	d.store, err = storage.Open(s.Posix.XattrBackend, s.Posix.EADB)
	if err != nil {
		return fmt.Errorf("failed to open attribute store: %w", err)
	}
	defer d.store.Close()

	d.share, err = pvfs.New(opts, pvfs.Deps{Store: d.store, Metrics: fsMetrics})
	if err != nil {
		return err
	}
	defer d.share.Close()

	d.smbFS = smbvfs.New(d.share, processIdentity())
	defer d.smbFS.Shutdown()

	if err := d.startServer(s.Server.Listen, opts.ShareName); err != nil {
		return err
	}
	defer shutdownServer(d.server, serverShutdownTimeout)
	log.Infof("[PVFS] Serving %s as \\\\%s\\%s", d.share.Root(), s.Server.Listen, opts.ShareName)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if s.Server.MetricsListen != "" {
		d.metrics = metrics.NewServer(s.Server.MetricsListen)
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.metrics.Start(runCtx); err != nil {
				log.Warnf("[METRICS] %v", err)
			}
		}()
	}
	close(d.readyCh)

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Infof("[PVFS] Received signal %v, shutting down", sig)
	case <-d.stopCh:
		log.Infof("[PVFS] Stop requested, shutting down")
	case <-ctx.Done():
		log.Infof("[PVFS] Context done, shutting down")
	}

	cancel()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		log.Warnf("[PVFS] Timeout waiting for background servers")
	}
	log.Infof("[PVFS] Daemon stopped")
	return nil
}

func (d *Daemon) startServer(addr, shareName string) error {
	d.server = NewSMBServer(d.smbFS, shareName)
	errCh := make(chan error, 1)
	go func() {
		if err := d.server.Serve(addr); err != nil {
			log.Errorf("[SMB] Server error: %v", err)
			errCh <- err
		}
	}()

	if err := waitForListener(addr, errCh, 3*time.Second); err != nil {
		shutdownServer(d.server, serverShutdownTimeout)
		return fmt.Errorf("SMB server failed to start: %w", err)
	}
	return nil
}

// serverShutdownTimeout bounds how long Run waits for the SMB server to
// drop its connections. go-smb2 can block forever on a connection that
// closed before negotiating.
const serverShutdownTimeout = 3 * time.Second

// shutdownServer stops srv and reports whether it finished within timeout.
func shutdownServer(srv NetFSServer, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		srv.Shutdown()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		log.Warnf("[SMB] Timeout waiting for server shutdown")
		return false
	}
}

// waitForListener waits until addr accepts TCP connections or the server
// reports an error.
func waitForListener(addr string, errCh <-chan error, timeout time.Duration) error {
	var serveErr error
	ok := util.WaitWithDeadline(time.Now().Add(timeout), 50*time.Millisecond, func() bool {
		select {
		case serveErr = <-errCh:
			return true
		default:
		}
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return true
		}
		return false
	})
	if serveErr != nil {
		return serveErr
	}
	if !ok {
		return fmt.Errorf("timeout waiting for %s", addr)
	}
	return nil
}
