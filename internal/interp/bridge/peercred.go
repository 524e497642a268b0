package bridge

import (
	"fmt"
	"net"
	"os"
	"syscall"
)

// peerCredentials is the kernel-reported identity of the driver end of the
// bridge socket.
type peerCredentials struct {
	PID int32
	UID uint32
	GID uint32
}

// peerCreds reads SO_PEERCRED from a Unix socket connection.
func peerCreds(conn net.Conn) (*peerCredentials, error) {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return nil, fmt.Errorf("connection is not a Unix socket")
	}

	raw, err := unixConn.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("get raw connection: %w", err)
	}

	var cred *syscall.Ucred
	var credErr error

	err = raw.Control(func(fd uintptr) {
		cred, credErr = syscall.GetsockoptUcred(int(fd), syscall.SOL_SOCKET, syscall.SO_PEERCRED)
	})
	if err != nil {
		return nil, fmt.Errorf("raw control: %w", err)
	}
	if credErr != nil {
		return nil, fmt.Errorf("getsockopt SO_PEERCRED: %w", credErr)
	}

	return &peerCredentials{PID: cred.Pid, UID: cred.Uid, GID: cred.Gid}, nil
}

// verifyPeer logs who connected and, with Options.VerifyPeer, rejects a
// driver running as another user.
func (r *Runtime) verifyPeer(conn net.Conn) error {
	creds, err := peerCreds(conn)
	if err != nil {
		if r.opts.VerifyPeer {
			return err
		}
		r.logger.Printf("peer credentials unavailable: %v", err)
		return nil
	}

	r.logger.Printf("driver peer pid=%d uid=%d gid=%d", creds.PID, creds.UID, creds.GID)
	if r.opts.VerifyPeer && int(creds.UID) != os.Getuid() {
		return fmt.Errorf("driver connected as uid %d, want %d", creds.UID, os.Getuid())
	}
	return nil
}
