package commands

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net"

	"github.com/spf13/cobra"

	"securestream/internal/config"
	"securestream/internal/crypto"
	"securestream/internal/domain"
	"securestream/internal/group"
	"securestream/internal/protocol/errs"
)

// join <addr>: accept one pairwise channel from a group leader and
// report the group nonce base derived from the distributed secret.
func joinCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "join <addr>",
		Short: "Accept a group secret distributed by a leader",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := baseOptions(domain.RoleMember)
			if err != nil {
				return err
			}

			rsaPriv, err := memberRSAKeyIfNeeded(cfg)
			if err != nil {
				return err
			}

			ln, err := net.Listen("tcp", args[0])
			if err != nil {
				return errs.New(errs.KindTransportClosed, "", err)
			}
			defer ln.Close()

			conn, err := ln.Accept()
			if err != nil {
				return errs.New(errs.KindTransportClosed, "", err)
			}
			defer conn.Close()

			member := group.NewMember(cfg, obs, rsaPriv)
			ks, err := member.Receive(context.Background(), conn)
			if err != nil {
				return err
			}

			fmt.Printf("group secret received: nonce_base_tx=%x nonce_base_rx=%x\n", ks.TX.NonceBase, ks.RX.NonceBase)
			return nil
		},
	}
	return cmd
}

func memberRSAKeyIfNeeded(cfg config.Options) (*rsa.PrivateKey, error) {
	if cfg.Mechanism != domain.MechanismKeyTransport {
		return nil, nil
	}
	priv, err := crypto.GenerateRSAKeyPair(cfg.RSABits)
	if err != nil {
		return nil, errs.New(errs.KindHandshakeFailed, "", err)
	}
	return priv, nil
}
