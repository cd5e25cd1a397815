// Command guestagent is the dispatcher that runs inside each microVM.
// It listens on a vsock port for the host's vsockrpc connections and
// executes exec/file-op requests against the guest's local filesystem.
package main

import (
	"os"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/opensandbox/sandboxd/internal/guestagent"
)

const defaultVsockPort = 5000

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	entry := log.WithField("component", "guestagent")

	port := defaultVsockPort
	if v := os.Getenv("GUESTAGENT_VSOCK_PORT"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			port = parsed
		}
	}

	lis, err := guestagent.ListenVsock(uint32(port))
	if err != nil {
		entry.WithError(err).Fatal("failed to bind vsock listener")
	}
	entry.WithField("port", port).Info("guestagent listening")

	dispatcher := guestagent.NewDispatcher(entry)
	for {
		conn, err := lis.Accept()
		if err != nil {
			entry.WithError(err).Error("accept failed")
			return
		}
		go dispatcher.Serve(conn)
	}
}
