package commands

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"

	"securestream/internal/config"
	"securestream/internal/crypto"
	"securestream/internal/domain"
	"securestream/internal/protocol/errs"
	"securestream/internal/session"

	"securestream/cmd/securestream/internal/stdio"
)

// listen <addr>: accept one connection and run the listener side of a
// point-to-point session (key-transport listener or key-agreement
// responder, per --mechanism).
func listenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listen <addr>",
		Short: "Accept one incoming session as the listener",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := baseOptions(domain.RoleListener)
			if err != nil {
				return err
			}

			ln, err := net.Listen("tcp", args[0])
			if err != nil {
				return errs.New(errs.KindTransportClosed, "", err)
			}
			defer ln.Close()
			fmt.Fprintf(os.Stderr, "listening on %s\n", ln.Addr())

			conn, err := ln.Accept()
			if err != nil {
				return errs.New(errs.KindTransportClosed, "", err)
			}
			defer conn.Close()

			priv, err := maybeGenerateRSAKey(cfg)
			if err != nil {
				return err
			}

			sess := session.New(conn, cfg, obs, stdio.NewProducer(os.Stdin), stdio.NewConsumer(os.Stdout), priv)
			return sess.Run(context.Background())
		},
	}
	return cmd
}

// maybeGenerateRSAKey generates a fresh listener RSA keypair when the
// configured mechanism needs one; session.New accepts nil for
// key-agreement and group mechanisms.
func maybeGenerateRSAKey(cfg config.Options) (*rsa.PrivateKey, error) {
	if cfg.Mechanism != domain.MechanismKeyTransport {
		return nil, nil
	}
	priv, err := crypto.GenerateRSAKeyPair(cfg.RSABits)
	if err != nil {
		return nil, errs.New(errs.KindHandshakeFailed, "", err)
	}
	return priv, nil
}
