package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/cobra"

	"sigtool.dev/sigtool/scheme"
	"sigtool.dev/sigtool/sigerr"
	"sigtool.dev/sigtool/sigfile"
	"sigtool.dev/sigtool/signer"
)

func (a *app) keygenCommand() *cobra.Command {
	var (
		name    string
		schName string
		seedHex string
	)
	cmd := &cobra.Command{
		Use:   "keygen --name <name> [--scheme ecdsa|bls]",
		Short: "Generate and store a named keypair",
		Args:  cobra.NoArgs,
		RunE: action(func(cmd *cobra.Command, args []string) error {
			sch, err := scheme.ParseScheme(schName)
			if err != nil {
				return err
			}
			var opts []signer.Option
			if seedHex != "" {
				seed, err := scheme.ParseSeedHex(seedHex)
				if err != nil {
					return err
				}
				r, err := scheme.SeedReader(seed)
				clear(seed)
				if err != nil {
					return err
				}
				opts = append(opts, signer.WithRand(r))
			}

			rec, err := a.service(opts...).Keygen(cmd.Context(), name, sch)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Created %s key: %s\n", rec.Scheme, rec.Name)
			fmt.Fprintf(a.out, "Key ID: %s\n", rec.KeyID)
			return nil
		}),
	}
	cmd.Flags().StringVar(&name, "name", "", "key name ([A-Za-z0-9_-], up to 64 characters)")
	cmd.Flags().StringVar(&schName, "scheme", scheme.ECDSA.String(), "signature scheme: ecdsa or bls")
	cmd.Flags().StringVar(&seedHex, "seed-hex", "", "optional 32-byte seed as 64 hex chars (for reproducible demos)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func (a *app) listKeysCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list-keys",
		Short: "List stored keys as name, scheme, key id and creation time",
		Args:  cobra.NoArgs,
		RunE: action(func(cmd *cobra.Command, args []string) error {
			var firstErr error
			for id, err := range a.service().ListKeys(cmd.Context()) {
				if err != nil {
					fmt.Fprintf(a.errOut, "list-keys: %v\n", err)
					if firstErr == nil {
						firstErr = err
					}
					continue
				}
				fmt.Fprintf(a.out, "%s\t%s\t%s\t%s\n", id.Name, id.Scheme, id.KeyID, id.CreatedAt.UTC().Format(time.RFC3339))
			}
			return firstErr
		}),
	}
}

// messageInput binds the mutually exclusive --message and --file flags.
type messageInput struct {
	text string
	path string
}

func (m *messageInput) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&m.text, "message", "", "message to sign or verify")
	cmd.Flags().StringVar(&m.path, "file", "", "read the message from a file (- for stdin)")
	cmd.MarkFlagsMutuallyExclusive("message", "file")
	cmd.MarkFlagsOneRequired("message", "file")
}

func (m *messageInput) read(cmd *cobra.Command) ([]byte, error) {
	if cmd.Flags().Changed("message") {
		return []byte(m.text), nil
	}
	if m.path == "-" {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, sigerr.Wrap(sigerr.KindStorage, err, "read message from stdin")
		}
		return b, nil
	}
	b, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, sigerr.Wrap(sigerr.KindUsage, err, "message file")
		}
		return nil, sigerr.Wrap(sigerr.KindStorage, err, "read message")
	}
	return b, nil
}

// writeEnvelope stores e at path, or prints its hex form when path is empty.
func (a *app) writeEnvelope(path string, e sigfile.Envelope) error {
	if path == "" {
		fmt.Fprintln(a.out, sigfile.Hex(e))
		return nil
	}
	if err := sigfile.WriteFile(path, e); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Wrote %s signature to %s\n", e.Signature.Scheme, path)
	return nil
}

func (a *app) signCommand() *cobra.Command {
	var (
		keyName string
		output  string
		msg     messageInput
	)
	cmd := &cobra.Command{
		Use:   "sign --key <name> (--message <text> | --file <path>) [--output <path>]",
		Short: "Sign a message with a stored key",
		Args:  cobra.NoArgs,
		RunE: action(func(cmd *cobra.Command, args []string) error {
			m, err := msg.read(cmd)
			if err != nil {
				return err
			}
			env, err := a.service().SignEnvelope(cmd.Context(), keyName, m)
			if err != nil {
				return err
			}
			return a.writeEnvelope(output, env)
		}),
	}
	cmd.Flags().StringVar(&keyName, "key", "", "name of the signing key")
	cmd.Flags().StringVar(&output, "output", "", "signature file to write (prints hex when omitted)")
	msg.addFlags(cmd)
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func (a *app) verifyCommand() *cobra.Command {
	var (
		keyName string
		sigPath string
		msg     messageInput
	)
	cmd := &cobra.Command{
		Use:   "verify --key <name> --signature <path> (--message <text> | --file <path>)",
		Short: "Verify a signature file; prints valid or invalid",
		Args:  cobra.NoArgs,
		RunE: action(func(cmd *cobra.Command, args []string) error {
			env, err := sigfile.ReadFile(sigPath)
			if err != nil {
				return err
			}
			if env.Aggregate {
				return sigerr.New(sigerr.KindUsage, "%s holds an aggregate signature; use verify-aggregate", sigPath)
			}
			m, err := msg.read(cmd)
			if err != nil {
				return err
			}
			if env.KeyName != "" && env.KeyName != keyName {
				a.log.Warn().Str("key", keyName).Str("signed_by", env.KeyName).Msg("signature file names a different key")
			}
			ok, err := a.service().Verify(cmd.Context(), keyName, m, env.Signature)
			if err != nil {
				return err
			}
			return a.verdict(ok)
		}),
	}
	cmd.Flags().StringVar(&keyName, "key", "", "name of the key to verify against")
	cmd.Flags().StringVar(&sigPath, "signature", "", "signature file")
	msg.addFlags(cmd)
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("signature")
	return cmd
}

func (a *app) verdict(ok bool) error {
	if !ok {
		fmt.Fprintln(a.out, "invalid")
		return errInvalidSignature
	}
	fmt.Fprintln(a.out, "valid")
	return nil
}

func (a *app) aggregateCommand() *cobra.Command {
	var (
		sigPaths []string
		output   string
	)
	cmd := &cobra.Command{
		Use:   "aggregate --signatures <p1,p2,...> [--output <path>]",
		Short: "Combine BLS signatures over one message into a single signature",
		Args:  cobra.NoArgs,
		RunE: action(func(cmd *cobra.Command, args []string) error {
			var (
				sigs    []scheme.Signature
				signers []string
			)
			for _, p := range sigPaths {
				env, err := sigfile.ReadFile(p)
				if err != nil {
					return err
				}
				sigs = append(sigs, env.Signature)
				if env.Aggregate {
					signers = append(signers, env.Signers...)
				} else if env.KeyName != "" {
					signers = append(signers, env.KeyName)
				}
			}
			agg, err := a.service().Aggregate(sigs)
			if err != nil {
				return err
			}
			return a.writeEnvelope(output, sigfile.Envelope{
				Signature: agg,
				Aggregate: true,
				Signers:   signers,
				CreatedAt: a.now().UTC().Truncate(time.Second),
			})
		}),
	}
	cmd.Flags().StringSliceVar(&sigPaths, "signatures", nil, "signature files to combine")
	cmd.Flags().StringVar(&output, "output", "", "aggregate signature file to write (prints hex when omitted)")
	_ = cmd.MarkFlagRequired("signatures")
	return cmd
}

func (a *app) verifyAggregateCommand() *cobra.Command {
	var (
		keyNames []string
		sigPath  string
		msg      messageInput
	)
	cmd := &cobra.Command{
		Use:   "verify-aggregate [--keys <n1,n2,...>] --signature <path> (--message <text> | --file <path>)",
		Short: "Verify an aggregate BLS signature; prints valid or invalid",
		Args:  cobra.NoArgs,
		RunE: action(func(cmd *cobra.Command, args []string) error {
			env, err := sigfile.ReadFile(sigPath)
			if err != nil {
				return err
			}
			names := keyNames
			if len(names) == 0 {
				names = env.Signers
			}
			if len(names) == 0 {
				return sigerr.New(sigerr.KindUsage, "no signer names in %s; pass --keys", sigPath)
			}
			m, err := msg.read(cmd)
			if err != nil {
				return err
			}
			ok, err := a.service().VerifyAggregate(cmd.Context(), names, m, env.Signature)
			if err != nil {
				return err
			}
			return a.verdict(ok)
		}),
	}
	cmd.Flags().StringSliceVar(&keyNames, "keys", nil, "keys that signed (defaults to the signers recorded in the file)")
	cmd.Flags().StringVar(&sigPath, "signature", "", "aggregate signature file")
	msg.addFlags(cmd)
	_ = cmd.MarkFlagRequired("signature")
	return cmd
}
