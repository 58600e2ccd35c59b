package cli

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/equilibrium/internal/identity"
)

// OwnershipResult is the outcome of ownership verification.
type OwnershipResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason"`
	Offset int    `json:"offset"`
}

// NewOwnershipCommand creates the ownership command group.
func NewOwnershipCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ownership",
		Short: "Prove and verify ownership of a vertex identity",
	}
	cmd.AddCommand(newOwnershipProveCommand(rootOpts))
	cmd.AddCommand(newOwnershipVerifyCommand(rootOpts))
	cmd.AddCommand(newOwnershipSealCommand(rootOpts))
	cmd.AddCommand(newOwnershipVerifySealCommand(rootOpts))
	return cmd
}

func newOwnershipProveCommand(rootOpts *RootOptions) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "prove <subject-id>",
		Short: "Build an ownership proof",
		Long: `Build an ownership proof over the subject's offset, vertex and encoding
count. The proof is written as JSON to --out, or to standard output.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			p, err := sess.reg.ProveOwnership(args[0])
			if err != nil {
				return subjectError("failed to prove ownership", err)
			}
			if out == "" {
				return rootOpts.formatter(cmd).Success(p, func(w io.Writer) {
					enc := json.NewEncoder(w)
					enc.SetIndent("", "  ")
					_ = enc.Encode(p)
				})
			}
			data, err := json.MarshalIndent(p, "", "  ")
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to encode proof", err)
			}
			if err := os.WriteFile(out, append(data, '\n'), 0o600); err != nil {
				return WrapExitError(ExitCommandError, "failed to write proof", err)
			}
			return rootOpts.formatter(cmd).Success(map[string]string{"proof_file": out}, func(w io.Writer) {
				fmt.Fprintf(w, "proof written to %s\n", out)
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the proof to this file")
	return cmd
}

func newOwnershipVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	var proofPath, subjectID string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify an ownership proof against the configured digit source",
		Long: `Verify an ownership proof read from --proof ("-" reads standard input).

Exit codes:
  0 - Proof verified
  1 - Proof does not match the claimed offset
  2 - Command error (unreadable proof, database error)`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := readProof(cmd, proofPath)
			if err != nil {
				return err
			}
			sess, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			f := rootOpts.formatter(cmd)
			verr := sess.reg.VerifyOwnership(subjectID, p)
			switch {
			case verr == nil:
				res := OwnershipResult{Valid: true, Reason: "proof verified", Offset: p.Data.Offset}
				return f.Success(res, func(w io.Writer) {
					fmt.Fprintf(w, "✓ proof verified for offset %d\n", res.Offset)
				})
			case errors.Is(verr, identity.ErrOwnershipMismatch), errors.Is(verr, identity.ErrInvalidOffset):
				res := OwnershipResult{Reason: verr.Error(), Offset: p.Data.Offset}
				return f.Failure("E_OWNERSHIP", "ownership verification failed", res, func(w io.Writer) {
					fmt.Fprintf(w, "✗ %s\n", res.Reason)
				})
			default:
				return WrapExitError(ExitCommandError, "failed to verify ownership", verr)
			}
		},
	}
	cmd.Flags().StringVar(&proofPath, "proof", "", "path to proof JSON, - for stdin (required)")
	_ = cmd.MarkFlagRequired("proof")
	cmd.Flags().StringVar(&subjectID, "subject", "", "subject to attribute the audit entry to")
	return cmd
}

func readProof(cmd *cobra.Command, path string) (identity.OwnershipProof, error) {
	var p identity.OwnershipProof
	return p, readJSONInput(cmd, path, "proof", &p)
}

// readJSONInput decodes a JSON file, or standard input when path is "-".
func readJSONInput(cmd *cobra.Command, path, what string, v any) error {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read "+what, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return WrapExitError(ExitCommandError, "failed to parse "+what, err)
	}
	return nil
}

// #region seal
// SealResult is the outcome of seal verification.
type SealResult struct {
	Valid     bool   `json:"valid"`
	Reason    string `json:"reason"`
	PublicKey string `json:"publicKey"`
}

func newOwnershipSealCommand(rootOpts *RootOptions) *cobra.Command {
	var keyPath, out string
	cmd := &cobra.Command{
		Use:   "seal <subject-id>",
		Short: "Sign a genesis record with an Ed25519 key",
		Long: `Sign the subject's genesis record with an Ed25519 key. The key file holds
a hex-encoded 32-byte seed or 64-byte private key. Locking changes the record,
so seal after lock. The seal is written as JSON to --out, or to standard output.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := readSealKey(keyPath)
			if err != nil {
				return err
			}
			sess, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			seal, err := sess.reg.SealGenesis(args[0], key)
			if err != nil {
				return subjectError("failed to seal genesis record", err)
			}
			if out != "" {
				data, err := json.MarshalIndent(seal, "", "  ")
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to encode seal", err)
				}
				if err := os.WriteFile(out, append(data, '\n'), 0o600); err != nil {
					return WrapExitError(ExitCommandError, "failed to write seal", err)
				}
			}
			return rootOpts.formatter(cmd).Success(seal, func(w io.Writer) {
				fmt.Fprintf(w, "public key: %s\n", seal.PublicKey)
				fmt.Fprintf(w, "signature:  %s\n", seal.Signature)
			})
		},
	}
	cmd.Flags().StringVar(&keyPath, "key", "", "path to a hex-encoded Ed25519 seed or private key (required)")
	_ = cmd.MarkFlagRequired("key")
	cmd.Flags().StringVarP(&out, "out", "o", "", "also write the seal to this file")
	return cmd
}

func newOwnershipVerifySealCommand(rootOpts *RootOptions) *cobra.Command {
	var sealPath string
	cmd := &cobra.Command{
		Use:   "verify-seal <subject-id>",
		Short: "Verify an Ed25519 seal against a genesis record",
		Long: `Verify a seal read from --seal ("-" reads standard input) against the
subject's current genesis record.

Exit codes:
  0 - Seal verified
  1 - Seal does not match the record
  2 - Command error (unreadable seal, unknown subject)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var seal identity.Seal
			if err := readJSONInput(cmd, sealPath, "seal", &seal); err != nil {
				return err
			}
			sess, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			f := rootOpts.formatter(cmd)
			verr := sess.reg.VerifyGenesisSeal(args[0], seal)
			switch {
			case verr == nil:
				res := SealResult{Valid: true, Reason: "seal verified", PublicKey: seal.PublicKey}
				return f.Success(res, func(w io.Writer) {
					fmt.Fprintf(w, "✓ seal verified for key %s\n", short(seal.PublicKey))
				})
			case errors.Is(verr, identity.ErrBadSeal):
				res := SealResult{Reason: verr.Error(), PublicKey: seal.PublicKey}
				return f.Failure("E_SEAL", "seal verification failed", res, func(w io.Writer) {
					fmt.Fprintf(w, "✗ %s\n", res.Reason)
				})
			default:
				return subjectError("failed to verify seal", verr)
			}
		},
	}
	cmd.Flags().StringVar(&sealPath, "seal", "", "path to seal JSON, - for stdin (required)")
	_ = cmd.MarkFlagRequired("seal")
	return cmd
}

func readSealKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read key", err)
	}
	raw, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to decode key", err)
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	default:
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("key must be %d or %d bytes, got %d", ed25519.SeedSize, ed25519.PrivateKeySize, len(raw)))
	}
}

// #endregion seal
