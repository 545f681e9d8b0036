package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"sigtool.dev/sigtool/config"
	"sigtool.dev/sigtool/keys"
	"sigtool.dev/sigtool/sigerr"
	"sigtool.dev/sigtool/signer"
)

var version = "dev"

// Exit codes. Each error kind has its own code so scripts can branch on it.
const (
	exitOK                 = 0
	exitInvalidSignature   = 1
	exitUsage              = 2
	exitFailure            = 3
	exitKeyGeneration      = 10
	exitDuplicateName      = 11
	exitNotFound           = 12
	exitInvalidKey         = 13
	exitMalformedSignature = 14
	exitSchemeMismatch     = 15
	exitTimeout            = 16
)

var errInvalidSignature = errors.New("signature did not verify")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	a := &app{out: out, errOut: errOut, now: time.Now}
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)

	err := root.Execute()
	code := exitCode(err)
	if err != nil && code != exitInvalidSignature {
		fmt.Fprintf(errOut, "sigtool: %v\n", err)
	}
	return code
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errInvalidSignature):
		return exitInvalidSignature
	}
	switch sigerr.KindOf(err) {
	case sigerr.KindKeyGeneration:
		return exitKeyGeneration
	case sigerr.KindDuplicateName:
		return exitDuplicateName
	case sigerr.KindNotFound:
		return exitNotFound
	case sigerr.KindInvalidKey:
		return exitInvalidKey
	case sigerr.KindMalformedSignature:
		return exitMalformedSignature
	case sigerr.KindSchemeMismatch:
		return exitSchemeMismatch
	case sigerr.KindTimeout:
		return exitTimeout
	case sigerr.KindUsage, "":
		// Errors without a kind come from cobra's argument handling.
		return exitUsage
	default:
		return exitFailure
	}
}

// app carries per-invocation state shared by the subcommands.
type app struct {
	out    io.Writer
	errOut io.Writer
	now    func() time.Time

	cfg   config.Config
	log   zerolog.Logger
	store keys.Store
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "sigtool",
		Short:         "Local key management and ECDSA/BLS signatures",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.HasParent() {
				return nil
			}
			return a.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SetOut(a.errOut)
			_ = cmd.Usage()
			return sigerr.New(sigerr.KindUsage, "missing command")
		},
	}
	config.AddFlags(root.PersistentFlags())
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return sigerr.Wrap(sigerr.KindUsage, err, "%s", cmd.CommandPath())
	})

	root.AddCommand(
		a.keygenCommand(),
		a.listKeysCommand(),
		a.signCommand(),
		a.verifyCommand(),
		a.aggregateCommand(),
		a.verifyAggregateCommand(),
		versionCommand(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = cfg.Logger(a.errOut).With().Str("cmd", cmd.Name()).Logger()

	st, err := keys.OpenFS(cfg.Keystore, keys.WithLockTimeout(cfg.LockTimeout), keys.WithLogger(a.log))
	if err != nil {
		return err
	}
	a.store = st
	a.log.Debug().Str("keystore", st.Dir()).Msg("key store opened")
	return nil
}

func (a *app) service(opts ...signer.Option) *signer.Service {
	base := []signer.Option{signer.WithLogger(a.log), signer.WithClock(a.now)}
	return signer.New(a.store, append(base, opts...)...)
}

// action adapts a subcommand body so every failure it returns carries a
// kind; anything unclassified is reported as a storage failure.
func action(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := fn(cmd, args)
		if err == nil || errors.Is(err, errInvalidSignature) || sigerr.KindOf(err) != "" {
			return err
		}
		return sigerr.Wrap(sigerr.KindStorage, err, "%s", cmd.Name())
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the sigtool version",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sigtool %s\n", version)
		},
	}
}
