package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	sealmail "github.com/sealmail/client-go"
	"github.com/sealmail/client-go/config"
	"github.com/sealmail/client-go/drive"
)

// Config holds the process streams used by the commands.
type Config struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// DefaultConfig returns a Config bound to the process streams.
func DefaultConfig() Config {
	return Config{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

type app struct {
	streams  Config
	settings config.Config
	logger   zerolog.Logger

	configPath string
	mnemonic   string
	timeout    time.Duration
}

func run(args []string, cfg Config) error {
	root := newRootCmd(cfg)
	if len(args) > 0 {
		args = args[1:]
	}
	root.SetArgs(args)
	return root.Execute()
}

func newRootCmd(cfg Config) *cobra.Command {
	a := &app{streams: cfg}

	root := &cobra.Command{
		Use:           "sealmail",
		Short:         "Sealed mail keys, envelopes and encrypted content",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			_ = godotenv.Load()
			settings, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.settings = settings
			a.logger = zerolog.New(zerolog.ConsoleWriter{Out: cfg.Stderr}).
				Level(settings.Level()).
				With().Timestamp().Logger()
			return nil
		},
	}
	root.SetIn(cfg.Stdin)
	root.SetOut(cfg.Stdout)
	root.SetErr(cfg.Stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default sealmail.yaml)")
	flags.StringVar(&a.mnemonic, "mnemonic", "", "account mnemonic (default $SEALMAIL_MNEMONIC)")
	flags.DurationVar(&a.timeout, "timeout", 60*time.Second, "overall command timeout")

	root.AddCommand(
		a.keysCmd(),
		a.tokenCmd(),
		a.verifyTokenCmd(),
		a.encryptCmd(),
		a.decryptCmd(),
		a.sealCmd(),
		a.openCmd(),
		a.sendCmd(),
		a.receiveCmd(),
	)
	return root
}

func (a *app) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), a.timeout)
}

func (a *app) keys() (*sealmail.KeyPair, error) {
	mnemonic := a.mnemonic
	if mnemonic == "" {
		mnemonic = a.settings.Mnemonic
	}
	if mnemonic == "" {
		return nil, errors.New("no mnemonic: pass --mnemonic or set SEALMAIL_MNEMONIC")
	}
	return sealmail.MakeKeys(mnemonic)
}

func (a *app) client(keys *sealmail.KeyPair) (*sealmail.Client, error) {
	store, err := drive.New(a.settings.DrivePath, drive.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}
	opts := a.settings.ClientOptions(keys, a.logger)
	opts = append(opts, sealmail.WithStorage(store))
	return sealmail.New(opts...)
}

func (a *app) encode(v any) error {
	enc := json.NewEncoder(a.streams.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// KeysOutput is the printed form of an account keypair.
type KeysOutput struct {
	Mnemonic          string `json:"mnemonic"`
	SigningPublicKey  string `json:"signing_public_key"`
	SigningPrivateKey string `json:"signing_private_key"`
	BoxPublicKey      string `json:"box_public_key"`
	BoxPrivateKey     string `json:"box_private_key"`
}

func keysOutput(kp *sealmail.KeyPair) KeysOutput {
	return KeysOutput{
		Mnemonic:          kp.Mnemonic,
		SigningPublicKey:  fmt.Sprintf("%x", []byte(kp.SigningPublicKey)),
		SigningPrivateKey: fmt.Sprintf("%x", []byte(kp.SigningPrivateKey)),
		BoxPublicKey:      fmt.Sprintf("%x", kp.BoxPublicKey),
		BoxPrivateKey:     fmt.Sprintf("%x", kp.BoxPrivateKey),
	}
}

func (a *app) keysCmd() *cobra.Command {
	var generate bool
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Derive account keys from a mnemonic, or generate new ones",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			var (
				kp  *sealmail.KeyPair
				err error
			)
			if generate {
				kp, err = sealmail.MakeKeys("")
			} else {
				kp, err = a.keys()
			}
			if err != nil {
				return err
			}
			return a.encode(keysOutput(kp))
		},
	}
	cmd.Flags().BoolVar(&generate, "new", false, "generate a fresh mnemonic")
	return cmd
}

func (a *app) tokenCmd() *cobra.Command {
	var deviceID, serverSig string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed auth token",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			kp, err := a.keys()
			if err != nil {
				return err
			}
			if deviceID == "" {
				deviceID = a.settings.DeviceID
			}
			claims := sealmail.NewAccountClaims(kp, deviceID, serverSig)
			token, err := sealmail.CreateAuthToken(claims, kp.SigningPrivateKey)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.streams.Stdout, token)
			return err
		},
	}
	cmd.Flags().StringVar(&deviceID, "device-id", "", "device id (default random)")
	cmd.Flags().StringVar(&serverSig, "server-sig", "", "server signature to embed")
	return cmd
}

func (a *app) verifyTokenCmd() *cobra.Command {
	var signingPublic string
	cmd := &cobra.Command{
		Use:   "verify-token <token>",
		Short: "Verify an auth token and print its claims",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if signingPublic == "" {
				kp, err := a.keys()
				if err != nil {
					return err
				}
				signingPublic = fmt.Sprintf("%x", []byte(kp.SigningPublicKey))
			}
			pub, err := sealmail.ParseSigningPublicKey(signingPublic)
			if err != nil {
				return err
			}
			claims, err := sealmail.VerifyAuthToken(args[0], pub)
			if err != nil {
				return err
			}
			return a.encode(claims)
		},
	}
	cmd.Flags().StringVar(&signingPublic, "signing-public", "", "signer public key hex (default own key)")
	return cmd
}

func (a *app) openInput(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(a.streams.Stdin), nil
	}
	return os.Open(path)
}

func (a *app) encryptCmd() *cobra.Command {
	var in, out string
	cmd := &cobra.Command{
		Use:   "encrypt",
		Short: "Stream-encrypt a file and print its key, header and size",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if out == "" {
				return errors.New("--out is required")
			}
			src, err := a.openInput(in)
			if err != nil {
				return err
			}
			defer src.Close()
			dst, err := os.Create(out)
			if err != nil {
				return err
			}
			defer dst.Close()

			ctx, cancel := a.context()
			defer cancel()
			info, err := sealmail.EncryptStream(ctx, dst, src)
			if err == nil {
				err = dst.Close()
			}
			if err != nil {
				dst.Close()
				os.Remove(out)
				return err
			}
			a.logger.Debug().Int64("size", info.Size).Str("out", out).Msg("encrypted")
			return a.encode(info)
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "plaintext input (default stdin)")
	cmd.Flags().StringVar(&out, "out", "", "ciphertext output")
	return cmd
}

func (a *app) decryptCmd() *cobra.Command {
	var in, out, infoPath string
	cmd := &cobra.Command{
		Use:   "decrypt",
		Short: "Decrypt a stream-encrypted file",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if in == "" || infoPath == "" {
				return errors.New("--in and --info are required")
			}
			raw, err := os.ReadFile(infoPath)
			if err != nil {
				return err
			}
			var info sealmail.StreamInfo
			if err := json.Unmarshal(raw, &info); err != nil {
				return fmt.Errorf("parse stream info: %w", err)
			}
			src, err := os.Open(in)
			if err != nil {
				return err
			}
			defer src.Close()

			var dst io.Writer = a.streams.Stdout
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				dst = f
			}

			ctx, cancel := a.context()
			defer cancel()
			n, err := sealmail.DecryptStream(ctx, dst, src, info.Key, info.Header)
			if err != nil {
				if out != "" {
					os.Remove(out)
				}
				return err
			}
			a.logger.Debug().Int64("size", n).Msg("decrypted")
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "ciphertext input")
	cmd.Flags().StringVar(&out, "out", "", "plaintext output (default stdout)")
	cmd.Flags().StringVar(&infoPath, "info", "", "stream info JSON printed by encrypt")
	return cmd
}

func (a *app) sealCmd() *cobra.Command {
	var to, metaPath string
	cmd := &cobra.Command{
		Use:   "seal",
		Short: "Sign and seal mail metadata to a recipient box key",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			kp, err := a.keys()
			if err != nil {
				return err
			}
			recipient, err := sealmail.ParseBoxPublicKey(to)
			if err != nil {
				return err
			}
			src, err := a.openInput(metaPath)
			if err != nil {
				return err
			}
			defer src.Close()
			var meta sealmail.MailMetadata
			if err := json.NewDecoder(src).Decode(&meta); err != nil {
				return fmt.Errorf("parse metadata: %w", err)
			}
			envelope, err := sealmail.SealMetadata(&meta, recipient, kp)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.streams.Stdout, sealmail.EncodeEnvelope(envelope))
			return err
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "recipient box public key hex")
	cmd.Flags().StringVar(&metaPath, "meta", "", "metadata JSON (default stdin)")
	return cmd
}

// OpenOutput is the printed form of an opened envelope.
type OpenOutput struct {
	Metadata     sealmail.MailMetadata `json:"metadata"`
	SenderBoxKey string                `json:"sender_box_key"`
	Verified     bool                  `json:"verified"`
}

func (a *app) openCmd() *cobra.Command {
	var envelopePath, signer string
	cmd := &cobra.Command{
		Use:   "open",
		Short: "Open a sealed envelope and optionally verify its signature",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			kp, err := a.keys()
			if err != nil {
				return err
			}
			src, err := a.openInput(envelopePath)
			if err != nil {
				return err
			}
			defer src.Close()
			raw, err := io.ReadAll(src)
			if err != nil {
				return err
			}
			envelope, err := sealmail.DecodeEnvelope(strings.TrimSpace(string(raw)))
			if err != nil {
				return err
			}
			opened, err := sealmail.OpenEnvelope(envelope, kp.BoxPrivateKey)
			if err != nil {
				return err
			}
			if signer != "" {
				pub, err := sealmail.ParseSigningPublicKey(signer)
				if err != nil {
					return err
				}
				if err := opened.Verify(pub); err != nil {
					return err
				}
			}
			return a.encode(OpenOutput{
				Metadata:     opened.Metadata,
				SenderBoxKey: fmt.Sprintf("%x", opened.SenderBoxKey),
				Verified:     opened.Verified,
			})
		},
	}
	cmd.Flags().StringVar(&envelopePath, "envelope", "", "hex envelope (default stdin)")
	cmd.Flags().StringVar(&signer, "verify", "", "sender signing public key hex")
	return cmd
}

// SendOutput is the printed form of a send. Stream keys stay out of it.
type SendOutput struct {
	Locator            string            `json:"locator,omitempty"`
	Hash               string            `json:"hash,omitempty"`
	Envelopes          int               `json:"envelopes"`
	Failed             []FailedRecipient `json:"failed,omitempty"`
	ExternalRecipients []string          `json:"external_recipients,omitempty"`
	Skipped            []string          `json:"skipped,omitempty"`
}

// FailedRecipient is a recipient whose envelope was not sent.
type FailedRecipient struct {
	Address string `json:"address"`
	Error   string `json:"error"`
}

func sendOutput(r *sealmail.SendResult) SendOutput {
	out := SendOutput{
		Envelopes:          r.Envelopes,
		ExternalRecipients: r.ExternalRecipients,
		Skipped:            r.Skipped,
	}
	if r.File != nil {
		out.Locator = r.File.Locator
		out.Hash = r.File.Hash
	}
	for _, f := range r.Failed {
		out.Failed = append(out.Failed, FailedRecipient{Address: f.Address, Error: f.Err.Error()})
	}
	return out
}

func (a *app) sendCmd() *cobra.Command {
	var from, to, cc, bcc, subject, body string
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message through the configured mailbox API",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			kp, err := a.keys()
			if err != nil {
				return err
			}
			msg := &sealmail.Message{Subject: subject, TextBody: body, Date: time.Now().UTC()}
			for _, f := range []struct {
				raw string
				dst *[]sealmail.Address
			}{{from, &msg.From}, {to, &msg.To}, {cc, &msg.Cc}, {bcc, &msg.Bcc}} {
				if *f.dst, err = sealmail.ParseAddressList(f.raw); err != nil {
					return err
				}
			}

			client, err := a.client(kp)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := a.context()
			defer cancel()
			result, err := client.Send(ctx, msg)
			if err != nil {
				return err
			}
			return a.encode(sendOutput(result))
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "sender address")
	cmd.Flags().StringVar(&to, "to", "", "comma separated recipients")
	cmd.Flags().StringVar(&cc, "cc", "", "comma separated cc recipients")
	cmd.Flags().StringVar(&bcc, "bcc", "", "comma separated bcc recipients")
	cmd.Flags().StringVar(&subject, "subject", "", "subject")
	cmd.Flags().StringVar(&body, "body", "", "text body")
	return cmd
}

func (a *app) receiveCmd() *cobra.Command {
	var markSynced bool
	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Fetch and open pending envelopes",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			kp, err := a.keys()
			if err != nil {
				return err
			}
			client, err := a.client(kp)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := a.context()
			defer cancel()
			result, err := client.ReceiveMail(ctx)
			if err != nil {
				return err
			}
			for _, f := range result.Failed {
				a.logger.Warn().Str("id", f.ID).Err(f.Err).Msg("envelope rejected")
			}

			out := make([]OpenOutput, 0, len(result.Envelopes))
			ids := make([]string, 0, len(result.Envelopes))
			for _, env := range result.Envelopes {
				out = append(out, OpenOutput{
					Metadata:     env.Metadata,
					SenderBoxKey: fmt.Sprintf("%x", env.SenderBoxKey),
					Verified:     env.Verified,
				})
				ids = append(ids, env.ID)
			}
			if markSynced {
				if err := client.MarkSynced(ctx, ids); err != nil {
					return err
				}
			}
			return a.encode(out)
		},
	}
	cmd.Flags().BoolVar(&markSynced, "mark-synced", false, "acknowledge opened envelopes")
	return cmd
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
