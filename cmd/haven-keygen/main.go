// Command haven-keygen manages the Ed25519 identity keypair a peer uses to
// authenticate handshakes and relay bearer tokens.
package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"golang.org/x/term"

	"github.com/havenlink/transfercore/internal/crypto"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "generate":
		generateCmd(args)
	case "show":
		showCmd(args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("haven-keygen - Haven Transfer Core identity management")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  haven-keygen generate [flags]  - generate a new identity keypair")
	fmt.Println("  haven-keygen show [flags]      - print public key and fingerprint")
}

func generateCmd(args []string) {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	outputDir := fs.String("output-dir", crypto.GetDefaultKeystorePath(), "key storage directory")
	noPassphrase := fs.Bool("no-passphrase", false, "store the identity key unencrypted (insecure)")
	force := fs.Bool("force", false, "overwrite an existing identity key")
	fs.Parse(args)

	if err := os.MkdirAll(*outputDir, 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "create output directory: %v\n", err)
		os.Exit(1)
	}

	keyPath := filepath.Join(*outputDir, "identity.key")
	pubPath := filepath.Join(*outputDir, "identity.pub")

	if !*force {
		if _, err := os.Stat(keyPath); err == nil {
			fmt.Print("identity key already exists, overwrite? [y/N]: ")
			var resp string
			fmt.Scanln(&resp)
			if resp != "y" && resp != "Y" {
				fmt.Println("aborted")
				return
			}
		}
	}

	kp, err := crypto.GenerateEd25519()
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate keypair: %v\n", err)
		os.Exit(1)
	}

	passphrase := ""
	if !*noPassphrase {
		passphrase = readPassphrase()
	}

	if err := crypto.SaveKey(kp.PrivateKey, keyPath, passphrase); err != nil {
		fmt.Fprintf(os.Stderr, "save private key: %v\n", err)
		os.Exit(1)
	}
	pubB64 := base64.StdEncoding.EncodeToString(kp.PublicKey)
	if err := os.WriteFile(pubPath, []byte(pubB64+"\n"), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "save public key: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("identity keypair generated")
	fmt.Printf("  public key:  %s\n", pubB64)
	fmt.Printf("  fingerprint: %s\n", crypto.ComputeFingerprint(kp.PublicKey))
	fmt.Printf("  stored in:   %s\n", *outputDir)
	if passphrase == "" {
		fmt.Println("  WARNING: stored without passphrase encryption")
	}
}

func readPassphrase() string {
	fmt.Print("enter passphrase (leave empty for no encryption): ")
	pass, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		fmt.Fprintf(os.Stderr, "read passphrase: %v\n", err)
		os.Exit(1)
	}
	if len(pass) == 0 {
		return ""
	}
	fmt.Print("confirm passphrase: ")
	confirm, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		fmt.Fprintf(os.Stderr, "read passphrase: %v\n", err)
		os.Exit(1)
	}
	if string(pass) != string(confirm) {
		fmt.Fprintln(os.Stderr, "passphrases do not match")
		os.Exit(1)
	}
	return string(pass)
}

func showCmd(args []string) {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	keysDir := fs.String("keys-dir", crypto.GetDefaultKeystorePath(), "key storage directory")
	fs.Parse(args)

	pubPath := filepath.Join(*keysDir, "identity.pub")
	data, err := os.ReadFile(pubPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read public key: %v\n", err)
		fmt.Fprintln(os.Stderr, "run 'haven-keygen generate' first")
		os.Exit(1)
	}

	pubB64 := string(bytesTrimNewline(data))
	pub, err := base64.StdEncoding.DecodeString(pubB64)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		fmt.Fprintf(os.Stderr, "corrupt public key file\n")
		os.Exit(1)
	}

	fmt.Printf("public key:  %s\n", pubB64)
	fmt.Printf("fingerprint: %s\n", crypto.ComputeFingerprint(ed25519.PublicKey(pub)))
}

func bytesTrimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
