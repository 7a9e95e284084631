// Package commands wires the cobra command tree for the securestream
// CLI, mirroring the teacher's cmd/ciphera/commands package: a root
// command with persistent flags feeding a shared options struct, built
// once in PersistentPreRunE and read by every subcommand's RunE.
package commands

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"securestream/internal/config"
	"securestream/internal/domain"
	"securestream/internal/observer"
	"securestream/internal/observer/promobserver"
)

var (
	mechanism    string
	rsaBits      int
	rekeyInterval time.Duration
	rekeyCounter  uint32
	maxRecord     uint32
	bindSeqAAD    bool
	handshakeTO   time.Duration
	idleTO        time.Duration
	groupKeyFile  string
	metricsAddr   string

	obs domain.Observer
)

// Execute builds and runs the root command.
func Execute() error {
	root := &cobra.Command{
		Use:   "securestream",
		Short: "Secure video session protocol: handshake, framed AEAD records, rekey, group distribution",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if metricsAddr != "" {
				reg := prometheus.NewRegistry()
				obs = promobserver.New(reg)
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
				srv := &http.Server{Addr: metricsAddr, Handler: mux}
				go func() {
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						slog.Default().Error("metrics server stopped", "err", err)
					}
				}()
			} else {
				obs = observer.New(slog.Default())
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&mechanism, "mechanism", string(domain.MechanismKeyAgreement), "key-transport | key-agreement | group")
	root.PersistentFlags().IntVar(&rsaBits, "rsa-bits", 2048, "RSA key size for key-transport (2048 or 3072)")
	root.PersistentFlags().DurationVar(&rekeyInterval, "rekey-interval", 600*time.Second, "wall-clock rekey trigger")
	root.PersistentFlags().Uint32Var(&rekeyCounter, "rekey-counter-threshold", 1<<20, "per-direction record-count rekey trigger")
	root.PersistentFlags().Uint32Var(&maxRecord, "max-record-bytes", 1<<20, "inbound record size cap")
	root.PersistentFlags().BoolVar(&bindSeqAAD, "bind-seq-aad", false, "bind the AEAD record counter as associated data")
	root.PersistentFlags().DurationVar(&handshakeTO, "handshake-timeout", 10*time.Second, "handshake timeout")
	root.PersistentFlags().DurationVar(&idleTO, "idle-timeout", 60*time.Second, "steady-state idle read timeout")
	root.PersistentFlags().StringVar(&groupKeyFile, "group-key-file", "", "optional group_key bootstrap file path")
	root.PersistentFlags().StringVar(&metricsAddr, "metrics", "", "if set, an address to serve /metrics on with the Prometheus-backed Observer instead of slog")

	root.AddCommand(listenCmd(), connectCmd(), leadCmd(), joinCmd())
	return root.Execute()
}

// optionsFromFlags builds a config.Options from the persistent flags with
// the given mechanism/role override, without validating it. Callers that
// need to fill in role-specific fields (e.g. the leader's --member
// roster) before the first and only Validate() call use this directly;
// everyone else goes through baseOptions.
func optionsFromFlags(role domain.Role) config.Options {
	o := config.Default()
	o.Mechanism = domain.Mechanism(mechanism)
	o.Role = role
	o.RSABits = rsaBits
	o.RekeyInterval = rekeyInterval
	o.RekeyCounterThreshold = rekeyCounter
	o.MaxRecordBytes = maxRecord
	o.BindSeqAAD = bindSeqAAD
	o.HandshakeTimeout = handshakeTO
	o.IdleTimeout = idleTO
	o.GroupKeyFile = groupKeyFile
	return o
}

// baseOptions builds a config.Options from the persistent flags with the
// given mechanism/role override, then validates it.
func baseOptions(role domain.Role) (config.Options, error) {
	o := optionsFromFlags(role)
	if err := o.Validate(); err != nil {
		return config.Options{}, err
	}
	return o, nil
}

// parseMembers parses a repeated --member node_id=address flag value
// list into the roster config.Options.Members expects.
func parseMembers(raw []string) ([]domain.Member, error) {
	members := make([]domain.Member, 0, len(raw))
	for _, s := range raw {
		parts := strings.SplitN(s, "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid --member %q, want node_id=address", s)
		}
		members = append(members, domain.Member{NodeID: parts[0], Address: parts[1]})
	}
	return members, nil
}
