package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/personachain/identity-relayer/relayer/collab"
	"github.com/personachain/identity-relayer/relayer/crosschain"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// withNode assembles a node from the loaded config, runs fn and shuts the node down.
func (a *appState) withNode(fn func(n *node) error) error {
	cfg, err := a.requireConfig()
	if err != nil {
		return err
	}
	n, err := newNode(a.Log, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := n.Close(); err != nil {
			a.Log.Warn("Error shutting down relayer", zap.Error(err))
		}
	}()
	return fn(n)
}

// waitContext returns a context bounded by --wait.
// ok is false when --wait is zero and callers should not wait at all.
func waitContext(cmd *cobra.Command) (ctx context.Context, cancel context.CancelFunc, ok bool) {
	d, err := cmd.Flags().GetDuration(flagWait)
	if err != nil || d <= 0 {
		return cmd.Context(), func() {}, false
	}
	ctx, cancel = context.WithTimeout(cmd.Context(), d)
	return ctx, cancel, true
}

// waitTerminal waits until the record with the given id reaches a terminal status.
// Running out of time is not an error; the latest record is returned.
func waitTerminal[T any](
	ctx context.Context,
	log *zap.Logger,
	id string,
	wait func(context.Context, string) (T, error),
) (T, error) {
	latest, err := wait(ctx, id)
	if errors.Is(err, context.DeadlineExceeded) {
		log.Warn("Operation still in flight after wait", zap.String("id", id))
		return latest, nil
	}
	return latest, err
}

// readDocument returns the json document given as args[idx] or through --file.
func readDocument(cmd *cobra.Command, args []string, idx int) (json.RawMessage, error) {
	file, _ := cmd.Flags().GetString(flagFile)

	var bz []byte
	switch {
	case file != "" && len(args) > idx:
		return nil, errMultipleDocumentSources
	case file != "":
		var err error
		if bz, err = os.ReadFile(file); err != nil {
			return nil, err
		}
	case len(args) > idx:
		bz = []byte(args[idx])
	default:
		return nil, errNoDocumentSource
	}

	if !json.Valid(bz) {
		return nil, fmt.Errorf("%w: document is not valid json", crosschain.ErrInvalidRequest)
	}
	return json.RawMessage(bz), nil
}

func resolveCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "resolve did src_chain_id dst_chain_id",
		Aliases: []string{"res"},
		Short:   "Resolve a DID on another chain",
		Args:    withUsage(cobra.ExactArgs(3)),
		Example: strings.TrimSpace(fmt.Sprintf(`
$ %s resolve did:persona:alice persona-1 cosmoshub-4 --wait 30s
$ %s res did:persona:alice persona-1 osmosis-1 --json`, appName, appName)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withNode(func(n *node) error {
				rec, err := n.service.ResolveDIDCrossChain(cmd.Context(), args[0], args[1], args[2])
				if err != nil {
					return err
				}
				if ctx, cancel, ok := waitContext(cmd); ok {
					defer cancel()
					if rec, err = waitTerminal(ctx, a.Log, rec.RequestID, n.service.WaitDIDResolution); err != nil {
						return err
					}
				}
				return a.printOutput(cmd, rec)
			})
		},
	}
	return waitFlag(a.Viper, jsonFlag(a.Viper, cmd))
}

func attestCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "attest src_chain_id dst_chain_id [credential_json]",
		Aliases: []string{"att"},
		Short:   "Attest a verifiable credential on a verifier chain",
		Args:    withUsage(cobra.RangeArgs(2, 3)),
		Example: strings.TrimSpace(fmt.Sprintf(`
$ %s attest persona-1 cosmoshub-4 --file credential.json --zk-proof --wait 1m
$ %s att persona-1 cosmoshub-4 '{"issuer":"did:persona:issuer","credentialSubject":{"id":"did:persona:alice"}}'`, appName, appName)),
		RunE: func(cmd *cobra.Command, args []string) error {
			credential, err := readDocument(cmd, args, 2)
			if err != nil {
				return err
			}
			includeProof, _ := cmd.Flags().GetBool(flagZKProof)

			return a.withNode(func(n *node) error {
				rec, err := n.service.AttestCredentialCrossChain(cmd.Context(), credential, args[0], args[1], includeProof)
				if err != nil {
					return err
				}
				if ctx, cancel, ok := waitContext(cmd); ok {
					defer cancel()
					if rec, err = waitTerminal(ctx, a.Log, rec.AttestationID, n.service.WaitCredentialAttestation); err != nil {
						return err
					}
				}
				return a.printOutput(cmd, rec)
			})
		},
	}
	return waitFlag(a.Viper, zkProofFlag(a.Viper, fileFlag(a.Viper, jsonFlag(a.Viper, cmd))))
}

func verifyProofCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "verify-proof src_chain_id verifier_chain_id [proof_json]",
		Aliases: []string{"vp"},
		Short:   "Relay a zero-knowledge proof to a verifier chain and verify it",
		Args:    withUsage(cobra.RangeArgs(2, 3)),
		Example: strings.TrimSpace(fmt.Sprintf(`
$ %s verify-proof persona-1 cosmoshub-4 --file proof.json
$ %s vp persona-1 cosmoshub-4 --file proof.json --signals age,over18 --json`, appName, appName)),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(cmd, args, 2)
			if err != nil {
				return err
			}
			var proof collab.Proof
			if err := json.Unmarshal(doc, &proof); err != nil {
				return fmt.Errorf("%w: malformed proof: %v", crosschain.ErrInvalidRequest, err)
			}
			signals, _ := cmd.Flags().GetStringSlice(flagSignals)
			proofType, _ := cmd.Flags().GetString(flagProofType)

			return a.withNode(func(n *node) error {
				res, err := n.service.VerifyZKProofCrossChain(cmd.Context(), proof, signals, proofType, args[0], args[1])
				if err != nil {
					return err
				}
				return a.printOutput(cmd, res)
			})
		},
	}
	return proofFlags(a.Viper, fileFlag(a.Viper, jsonFlag(a.Viper, cmd)))
}

func registerCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "register did src_chain_id [did_document_json]",
		Aliases: []string{"reg"},
		Short:   "Register a DID document on one or more target chains",
		Args:    withUsage(cobra.RangeArgs(2, 3)),
		Example: strings.TrimSpace(fmt.Sprintf(`
$ %s register did:persona:alice persona-1 --file alice.json --targets cosmoshub-4,osmosis-1
$ %s reg did:persona:alice persona-1 '{"id":"did:persona:alice"}' -t cosmoshub-4 --wait 30s`, appName, appName)),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(cmd, args, 2)
			if err != nil {
				return err
			}
			targets, _ := cmd.Flags().GetStringSlice(flagTargets)
			if len(targets) == 0 {
				return fmt.Errorf("at least one --%s chain is required", flagTargets)
			}

			return a.withNode(func(n *node) error {
				recs, err := n.service.RegisterIdentityCrossChain(cmd.Context(), args[0], doc, args[1], targets)
				if err != nil {
					return err
				}
				if ctx, cancel, ok := waitContext(cmd); ok {
					defer cancel()
					for i, rec := range recs {
						if recs[i], err = waitTerminal(ctx, a.Log, rec.RegistrationID, n.service.WaitRegistration); err != nil {
							return err
						}
					}
				}
				return a.printOutput(cmd, recs)
			})
		},
	}
	return waitFlag(a.Viper, targetsFlag(a.Viper, fileFlag(a.Viper, jsonFlag(a.Viper, cmd))))
}

func statsCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print channel, relayer and packet statistics for the configured paths",
		Args:  withUsage(cobra.NoArgs),
		Example: strings.TrimSpace(fmt.Sprintf(`
$ %s stats
$ %s stats --json`, appName, appName)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withNode(func(n *node) error {
				return a.printOutput(cmd, n.service.GetIBCStatistics())
			})
		},
	}
	return jsonFlag(a.Viper, cmd)
}
