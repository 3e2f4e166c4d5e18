package cli

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/reqguard/reqguard/guardlib"
)

type GenerateSecret struct {
	Size   int  `kong:"help='Size of the secret in bytes.',default='32'"`
	Base64 bool `kong:"help='Print secret in base64 instead of hex.',short='b'"`

	output io.Writer
}

func (g *GenerateSecret) Run(cli *CLI, _ string) error {
	if g.Size < guardlib.MinSecretLength {
		return fmt.Errorf("secret has to be at least %d bytes", guardlib.MinSecretLength)
	}

	secret := make([]byte, g.Size)

	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("cannot generate secret: %w", err)
	}

	output := g.output
	if output == nil {
		output = os.Stdout
	}

	if g.Base64 {
		fmt.Fprintln(output, "base64:"+base64.StdEncoding.EncodeToString(secret)) //nolint: errcheck
	} else {
		fmt.Fprintln(output, "hex:"+hex.EncodeToString(secret)) //nolint: errcheck
	}

	return nil
}
