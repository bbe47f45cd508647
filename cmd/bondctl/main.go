package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"bondledger/cmd/internal/passphrase"
	"bondledger/crypto"
)

const (
	defaultNode     = "http://127.0.0.1:8085"
	defaultPassEnv  = "BONDCTL_PASS"
	defaultKeystore = "operator.keystore"
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(1)
	}
	var err error
	switch os.Args[1] {
	case "keygen":
		err = runKeygen(os.Args[2:], os.Stdout)
	case "address":
		err = runAddress(os.Args[2:], os.Stdout)
	case "sign":
		err = runSign(os.Args[2:], os.Stdout)
	case "submit":
		err = runSubmit(os.Args[2:], os.Stdout)
	case "get":
		err = runGet(os.Args[2:], os.Stdout)
	case "help", "-h", "--help":
		usage(os.Stdout)
		return
	default:
		usage(os.Stderr)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: bondctl <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  keygen   create a new keystore and print its address")
	fmt.Fprintln(w, "  address  print the address of a keystore")
	fmt.Fprintln(w, "  sign     print a signed envelope without submitting it")
	fmt.Fprintln(w, "  submit   sign an operation and submit it to bondd")
	fmt.Fprintln(w, "  get      issue a GET request against the bondd API")
}

type keyFlags struct {
	keystore *string
	passEnv  *string
}

func addKeyFlags(fs *flag.FlagSet) keyFlags {
	return keyFlags{
		keystore: fs.String("keystore", defaultKeystore, "Path to the keystore file"),
		passEnv:  fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase"),
	}
}

func (k keyFlags) load() (*crypto.PrivateKey, error) {
	pass, err := passphrase.NewSource(*k.passEnv).Get()
	if err != nil {
		return nil, err
	}
	return crypto.LoadFromKeystore(*k.keystore, pass)
}

func runKeygen(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	keys := addKeyFlags(fs)
	force := fs.Bool("force", false, "Overwrite an existing keystore file")
	fs.Parse(args)

	if !*force {
		if _, err := os.Stat(*keys.keystore); err == nil {
			return fmt.Errorf("keystore file %s already exists (use --force to overwrite)", *keys.keystore)
		} else if !os.IsNotExist(err) {
			return err
		}
	}
	pass, err := passphrase.NewSource(*keys.passEnv).WithPrompt("Choose keystore passphrase: ").Get()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if err := crypto.SaveToKeystore(*keys.keystore, key, pass); err != nil {
		return fmt.Errorf("write keystore: %w", err)
	}
	fmt.Fprintln(out, key.PubKey().Address().String())
	return nil
}

func runAddress(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("address", flag.ExitOnError)
	keys := addKeyFlags(fs)
	fs.Parse(args)

	key, err := keys.load()
	if err != nil {
		return err
	}
	fmt.Fprintln(out, key.PubKey().Address().String())
	return nil
}

func runSign(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("sign", flag.ExitOnError)
	keys := addKeyFlags(fs)
	op := fs.String("op", "", "Operation name, e.g. borrow")
	payload := fs.String("payload", "{}", "Operation payload as a JSON object")
	nonce := fs.Uint64("nonce", 0, "Envelope nonce (stored nonce + 1)")
	fs.Parse(args)

	if *nonce == 0 {
		return fmt.Errorf("nonce must be positive")
	}
	key, err := keys.load()
	if err != nil {
		return err
	}
	env, err := buildEnvelope(key, *op, *payload, *nonce)
	if err != nil {
		return err
	}
	return printJSON(out, env)
}

func runSubmit(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	keys := addKeyFlags(fs)
	node := fs.String("node", defaultNode, "bondd base URL")
	op := fs.String("op", "", "Operation name, e.g. borrow")
	payload := fs.String("payload", "{}", "Operation payload as a JSON object")
	fs.Parse(args)

	key, err := keys.load()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return submit(ctx, newClient(*node), key, *op, *payload, out)
}

// submit fetches the caller's nonce, signs the next envelope and posts it.
func submit(ctx context.Context, c *client, key *crypto.PrivateKey, op, payload string, out io.Writer) error {
	current, err := c.nonce(ctx, key.PubKey().Address())
	if err != nil {
		return fmt.Errorf("fetch nonce: %w", err)
	}
	env, err := buildEnvelope(key, op, payload, current+1)
	if err != nil {
		return err
	}
	resp, err := c.submit(ctx, env)
	if err != nil {
		return err
	}
	return printRaw(out, resp)
}

func runGet(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	node := fs.String("node", defaultNode, "bondd base URL")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: bondctl get [-node URL] /v1/path")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	resp, err := newClient(*node).get(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	return printRaw(out, resp)
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRaw(out io.Writer, raw json.RawMessage) error {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		_, err = out.Write(raw)
		return err
	}
	return printJSON(out, v)
}
