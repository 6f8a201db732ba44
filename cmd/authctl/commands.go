package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/avaropoint/authcore/internal/security"
	"github.com/avaropoint/authcore/internal/version"
)

func runKeygen(e *env, args []string) error {
	fs := newFlagSet(e, "keygen")
	dataDir := fs.String("data-dir", "", "write token-signing.key and token-signing.key.pub into this directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *dataDir != "" {
		if err := os.MkdirAll(*dataDir, 0700); err != nil {
			return err
		}
		id, created, err := security.LoadOrCreateIdentity(*dataDir)
		if err != nil {
			return err
		}
		if !created {
			return fmt.Errorf("%s already holds a signing key (fingerprint %s)", *dataDir, id.Fingerprint())
		}
		fmt.Fprintf(e.stdout, "public_key=%s\nfingerprint=%s\n", id.PublicKeyHex(), id.Fingerprint())
		return nil
	}

	publicHex, privateHex, err := security.GenerateKeypair()
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "public_key=%s\nprivate_key=%s\n", publicHex, privateHex)
	return nil
}

func runHash(e *env, args []string) error {
	fs := newFlagSet(e, "hash")
	preset := fs.String("preset", "high", "parameter preset: high or interactive")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var params security.Params
	switch *preset {
	case "high":
		params = security.HighSecurityParams
	case "interactive":
		params = security.InteractiveParams
	default:
		return fmt.Errorf("unknown preset %q", *preset)
	}
	hasher, err := security.NewPasswordHasher(params)
	if err != nil {
		return err
	}

	password, err := readSecret(e.stdin)
	if err != nil {
		return err
	}
	encoded, err := hasher.Hash(password)
	if err != nil {
		return err
	}
	fmt.Fprintln(e.stdout, encoded)
	return nil
}

func runVerifyPassword(e *env, args []string) error {
	fs := newFlagSet(e, "verify-password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: authctl verify-password HASH < password")
	}

	password, err := readSecret(e.stdin)
	if err != nil {
		return err
	}
	ok, err := security.VerifyPassword(fs.Arg(0), password)
	if err != nil {
		return err
	}
	if !ok {
		return &exitCodeError{code: exitMismatch, msg: "mismatch"}
	}
	fmt.Fprintln(e.stdout, "ok")
	return nil
}

func runSign(e *env, args []string) error {
	fs := newFlagSet(e, "sign")
	keyHex := fs.String("key", "", "hex private key (32-byte seed or 64-byte seed||public)")
	keyFile := fs.String("key-file", "", "file holding the hex private key")
	claimsFile := fs.String("claims", "-", "JSON claims file, - for stdin")
	if err := fs.Parse(args); err != nil {
		return err
	}

	privateHex, err := resolveKey(*keyHex, *keyFile)
	if err != nil {
		return err
	}

	var claims []byte
	if *claimsFile == "-" {
		claims, err = io.ReadAll(e.stdin)
	} else {
		claims, err = os.ReadFile(*claimsFile)
	}
	if err != nil {
		return fmt.Errorf("reading claims: %w", err)
	}
	claims = bytes.TrimSpace(claims)
	if !json.Valid(claims) {
		return errors.New("claims are not valid JSON")
	}

	token, err := security.SignToken(json.RawMessage(claims), privateHex)
	if err != nil {
		return err
	}
	fmt.Fprintln(e.stdout, token)
	return nil
}

func runVerify(e *env, args []string) error {
	fs := newFlagSet(e, "verify")
	keyHex := fs.String("key", "", "hex public key")
	keyFile := fs.String("key-file", "", "file holding the hex public key")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: authctl verify --key HEX TOKEN")
	}

	publicHex, err := resolveKey(*keyHex, *keyFile)
	if err != nil {
		return err
	}

	claims, err := security.VerifyToken[json.RawMessage](strings.TrimSpace(fs.Arg(0)), publicHex)
	if err != nil {
		return fmt.Errorf("%s: %w", security.KindOf(err), err)
	}

	var out bytes.Buffer
	if err := json.Indent(&out, claims, "", "  "); err != nil {
		return err
	}
	fmt.Fprintln(e.stdout, out.String())
	return nil
}

func runVersion(e *env, args []string) error {
	fs := newFlagSet(e, "version")
	if err := fs.Parse(args); err != nil {
		return err
	}
	fmt.Fprintln(e.stdout, "authctl", version.Info())
	return nil
}

// resolveKey returns the hex key given inline or read from a file.
func resolveKey(inline, path string) (string, error) {
	switch {
	case inline != "" && path != "":
		return "", errors.New("--key and --key-file are mutually exclusive")
	case inline != "":
		return strings.TrimSpace(inline), nil
	case path != "":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading key: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	default:
		return "", errors.New("one of --key or --key-file is required")
	}
}
