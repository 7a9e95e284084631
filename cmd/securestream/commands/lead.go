package commands

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"securestream/internal/config"
	"securestream/internal/crypto"
	"securestream/internal/domain"
	"securestream/internal/group"
	"securestream/internal/protocol/errs"
	"securestream/internal/store"
)

var leadMembers []string

// lead: distribute a fresh (or bootstrap-file-seeded) group secret to
// every roster member and report the derived group nonce base as proof
// every member is about to share the same keys.
func leadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lead",
		Short: "Distribute a group secret to every configured member",
		RunE: func(cmd *cobra.Command, args []string) error {
			members, err := parseMembers(leadMembers)
			if err != nil {
				return errs.New(errs.KindConfigError, "", err)
			}
			cfg := optionsFromFlags(domain.RoleLeader)
			cfg.Members = members
			if err := cfg.Validate(); err != nil {
				return err
			}

			rsaPriv, err := leaderRSAKeyIfNeeded(cfg)
			if err != nil {
				return err
			}

			dial := func(ctx context.Context, m domain.Member) (domain.Transport, error) {
				return net.Dial("tcp", m.Address)
			}
			leader := group.NewLeader(cfg, obs, dial, rsaPriv)

			ctx, cancel := context.WithTimeout(context.Background(), cfg.HandshakeTimeout*time.Duration(len(members)+1))
			defer cancel()

			var ks domain.KeySchedule
			if cfg.GroupKeyFile != "" {
				rec, err := store.NewGroupKeyFile(cfg.GroupKeyFile).Load()
				if err != nil {
					return errs.New(errs.KindConfigError, "", err)
				}
				salt32, err := rec.HandshakeSalt()
				if err != nil {
					return errs.New(errs.KindConfigError, "", err)
				}
				ks, err = leader.DistributeWithSecret(ctx, rec.Secret, salt32)
				if err != nil {
					return err
				}
			} else {
				ks, err = leader.Distribute(ctx)
				if err != nil {
					return err
				}
			}

			fmt.Printf("group distribution complete: nonce_base_tx=%x nonce_base_rx=%x\n", ks.TX.NonceBase, ks.RX.NonceBase)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&leadMembers, "member", nil, "node_id=address, repeatable")
	return cmd
}

// leaderRSAKeyIfNeeded generates a fresh RSA keypair when the group
// roster uses key-transport pairwise channels. group.Leader does not use
// it (the leader plays the key-transport initiator) and accepts nil.
func leaderRSAKeyIfNeeded(cfg config.Options) (*rsa.PrivateKey, error) {
	if cfg.Mechanism != domain.MechanismKeyTransport {
		return nil, nil
	}
	priv, err := crypto.GenerateRSAKeyPair(cfg.RSABits)
	if err != nil {
		return nil, errs.New(errs.KindHandshakeFailed, "", err)
	}
	return priv, nil
}
