// keygen creates or recovers a gateway identity. The printed secret is the
// base58 64-byte signing key the gateway expects in KEYRELAY_FEE_PAYER_SECRET
// or a key file.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"key-chat/relay-gateway/internal/crypto"
	"key-chat/relay-gateway/internal/identity"
)

func main() {
	recoverFlag := flag.Bool("recover", false, "recover an identity from a mnemonic read on stdin")
	outFile := flag.String("out", "", "write the secret key to this file (0600) instead of stdout")
	flag.Parse()

	var (
		id       *identity.Identity
		mnemonic string
		err      error
	)
	if *recoverFlag {
		reader := bufio.NewReader(os.Stdin)
		fmt.Fprint(os.Stderr, "mnemonic: ")
		line, readErr := reader.ReadString('\n')
		if readErr != nil {
			fmt.Fprintf(os.Stderr, "read mnemonic: %v\n", readErr)
			os.Exit(1)
		}
		id, err = identity.FromMnemonic(strings.TrimSpace(line))
	} else {
		id, mnemonic, err = identity.GenerateWithMnemonic()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "keygen failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("address:        %s\n", id.Address())
	fmt.Printf("encryption key: %s\n", crypto.PublicKeyToBase58(id.EncryptionPublic[:]))
	if mnemonic != "" {
		fmt.Printf("mnemonic:       %s\n", mnemonic)
	}

	secret := id.SecretBase58()
	if *outFile != "" {
		if err := os.WriteFile(*outFile, []byte(secret+"\n"), 0o600); err != nil {
			fmt.Fprintf(os.Stderr, "write key file: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("secret key written to %s\n", *outFile)
		return
	}
	fmt.Printf("secret key:     %s\n", secret)
}
