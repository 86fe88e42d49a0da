package bridge

import (
	"context"
	"net"
	"net/http"
	"os"

	"golang.org/x/sys/unix"
)

type peerKey struct{}

// peerContext records the credentials of a Unix socket peer on the
// connection context.
func peerContext(ctx context.Context, c net.Conn) context.Context {
	uc, ok := c.(*net.UnixConn)
	if !ok {
		return ctx
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return ctx
	}
	var cred *unix.Ucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil || credErr != nil {
		return ctx
	}
	return context.WithValue(ctx, peerKey{}, cred)
}

func peerFrom(ctx context.Context) (*unix.Ucred, bool) {
	cred, ok := ctx.Value(peerKey{}).(*unix.Ucred)
	return cred, ok
}

// withPeerCheck only lets through peers running as the menu's own user.
func (s *Server) withPeerCheck(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.opts.AllowAnyPeer {
			next(w, r)
			return
		}
		cred, ok := peerFrom(r.Context())
		if !ok || int(cred.Uid) != os.Getuid() {
			s.logger.Warn("rejected renderer", "peer_known", ok)
			writeError(w, http.StatusForbidden, "peer not allowed")
			return
		}
		next(w, r)
	}
}
