package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	jwttoken "umoja/internal/jwt_token"
	"umoja/pkg/domain"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP command surface and background workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serveRun(cmd.Context(), commonRun())
		},
	}
}

func policiesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "policies",
		Short: "List the consensus policies the engine would load",
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, err := loadPolicies(cfg.PolicyFile)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ACTION\tTHRESHOLD\tELDER\tVOTING\tGATE")
			for _, p := range registry.List() {
				gate := p.GateWhen
				if gate == "" {
					gate = "-"
				}
				fmt.Fprintf(w, "%s\t%d\t%t\t%s\t%s\n",
					p.ActionType, p.Threshold, p.RequiresElderApproval, p.VotingPeriod(), gate)
			}
			return w.Flush()
		},
	}
}

func tokenCommand() *cobra.Command {
	var (
		actor string
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for an actor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if actor == "" {
				return fmt.Errorf("--actor is required")
			}
			if ttl == 0 {
				ttl = cfg.Auth.TokenTTL
			}
			svc := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer)
			token, err := svc.GenerateActorToken(domain.UserID(actor), ttl)
			if err != nil {
				return fmt.Errorf("failed to mint token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "user id the token authenticates; the ledger adapter uses escrow.ledgerPrincipal")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to auth.tokenTTL)")
	return cmd
}
