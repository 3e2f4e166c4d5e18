package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/reqguard/reqguard/guardlib"
	"github.com/reqguard/reqguard/internal/utils"
)

var errSuspiciousPaths = errors.New("some paths are suspicious")

type CheckPath struct {
	Paths      []string `kong:"arg,required,help='Request paths to classify.'"`
	ConfigPath string   `kong:"help='Path to config file with extra signatures.',type='existingfile',short='c'"` //nolint: lll

	output io.Writer
}

func (c *CheckPath) Run(cli *CLI, _ string) error {
	signatures := guardlib.DefaultThreatSignatures()

	if c.ConfigPath != "" {
		conf, err := utils.ReadConfig(c.ConfigPath)
		if err != nil {
			return fmt.Errorf("cannot parse config: %w", err)
		}

		signatures = append(signatures, conf.Defense.ThreatSignatures...)
	}

	output := c.output
	if output == nil {
		output = os.Stdout
	}

	threats := guardlib.NewThreatSignatures(signatures)
	suspicious := false

	for _, path := range c.Paths {
		verdict := threats.Classify(path)

		if verdict.Suspicious {
			suspicious = true

			fmt.Fprintf(output, "suspicious\t%s\t%s\n", verdict.Signature, path) //nolint: errcheck
		} else {
			fmt.Fprintf(output, "ok\t-\t%s\n", path) //nolint: errcheck
		}
	}

	if suspicious {
		return errSuspiciousPaths
	}

	return nil
}
