package ipc

import (
	"errors"
	"fmt"
	"net"
	"os"
)

// ErrPeerCredentialsUnsupported is returned where the platform cannot
// report who is on the other end of a socket.
var ErrPeerCredentialsUnsupported = errors.New("ipc: peer credentials unsupported")

// PeerCredentials holds the credentials of a peer process
type PeerCredentials struct {
	PID int
	UID int
	GID int
}

// VerifyPeerIsCurrentUser checks if the peer is running as the current user.
// Platforms without peer credentials are trusted, as the socket file mode
// already limits access to its owner.
func VerifyPeerIsCurrentUser(conn net.Conn) (bool, error) {
	cred, err := GetPeerCredentials(conn)
	if errors.Is(err, ErrPeerCredentialsUnsupported) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return cred.UID == os.Getuid(), nil
}

// CleanupSocket removes a stale socket file
func CleanupSocket(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	// Only remove if it's a socket
	if info.Mode()&os.ModeSocket != 0 {
		return os.Remove(path)
	}

	return fmt.Errorf("path exists but is not a socket: %s", path)
}

// IsSocketListening checks if a socket is already listening
func IsSocketListening(path string) bool {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
