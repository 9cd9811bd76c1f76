package daemon

import (
	"strings"

	smb2 "github.com/macos-fuse-t/go-smb2/server"
	"github.com/macos-fuse-t/go-smb2/vfs"
)

// NetFSServer is the network filesystem listener the daemon drives.
type NetFSServer interface {
	// Serve blocks accepting connections on addr (e.g. "127.0.0.1:8445").
	Serve(addr string) error
	Shutdown()
}

// SMBServer wraps the go-smb2 server
type SMBServer struct {
	server *smb2.Server
}

// NewSMBServer exports fs under shareName.
func NewSMBServer(fs vfs.VFSFileSystem, shareName string) *SMBServer {
	smbCfg := &smb2.ServerConfig{
		AllowGuest:  true,
		MaxIOReads:  4,
		MaxIOWrites: 4,
	}

	shares := map[string]vfs.VFSFileSystem{
		shareName: fs,
	}

	auth := &smb2.NTLMAuthenticator{
		NbDomain:   "WORKGROUP",
		NbName:     strings.ToUpper(shareName),
		DnsName:    "pvfs.local",
		DnsDomain:  ".local",
		AllowGuest: true,
	}

	return &SMBServer{
		server: smb2.NewServer(smbCfg, auth, shares),
	}
}

// Serve starts the SMB server
func (s *SMBServer) Serve(addr string) error {
	return s.server.Serve(addr)
}

// Shutdown stops the SMB server
func (s *SMBServer) Shutdown() {
	s.server.Shutdown()
}
