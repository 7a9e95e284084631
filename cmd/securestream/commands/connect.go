package commands

import (
	"context"
	"net"
	"os"

	"github.com/spf13/cobra"

	"securestream/internal/domain"
	"securestream/internal/protocol/errs"
	"securestream/internal/session"

	"securestream/cmd/securestream/internal/stdio"
)

// connect <addr>: dial a listener and run the initiator side of a
// point-to-point session.
func connectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connect <addr>",
		Short: "Dial a listener and run the initiator side of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := baseOptions(domain.RoleInitiator)
			if err != nil {
				return err
			}

			conn, err := net.Dial("tcp", args[0])
			if err != nil {
				return errs.New(errs.KindTransportClosed, "", err)
			}
			defer conn.Close()

			sess := session.New(conn, cfg, obs, stdio.NewProducer(os.Stdin), stdio.NewConsumer(os.Stdout), nil)
			return sess.Run(context.Background())
		},
	}
	return cmd
}
