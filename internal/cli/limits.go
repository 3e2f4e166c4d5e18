package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/reqguard/reqguard/guardlib"
	"github.com/reqguard/reqguard/internal/config"
	"github.com/reqguard/reqguard/internal/utils"
)

const limitsTimeout = 10 * time.Second

var errLimitsNeedSharedStore = errors.New("limits of the memory backend live in the server process")

// Limits shows and resets rate windows of a client in the shared store.
type Limits struct {
	ConfigPath string   `kong:"arg,required,type='existingfile',help='Path to config file.',name='config-path'"` //nolint: lll
	Client     string   `kong:"arg,required,help='Client identifier, usually an IP address.'"`
	Classes    []string `kong:"help='Limiter classes. All of them by default.',name='class'"`
	Reset      bool     `kong:"help='Drop client windows before showing them.'"`

	output io.Writer
}

func (l *Limits) Run(cli *CLI, _ string) error {
	conf, err := utils.ReadConfig(l.ConfigPath)
	if err != nil {
		return fmt.Errorf("cannot parse config: %w", err)
	}

	if conf.Storage.Backend.Get(config.StorageBackendMemory) == config.StorageBackendMemory {
		return errLimitsNeedSharedStore
	}

	release := closers{}
	defer release.close()

	rates, _ := makeStores(conf, makeLogger(conf), &release)

	var speed *guardlib.SpeedPolicy

	if !conf.SpeedLimit.Disabled.Get(false) {
		policy := conf.SpeedPolicy()
		speed = &policy
	}

	classes := conf.LimiterClasses()
	if len(classes) == 0 {
		classes = guardlib.DefaultLimiterClasses()
	}

	ctrl, err := guardlib.NewRateController(rates, classes, speed, nil)
	if err != nil {
		return fmt.Errorf("cannot build a rate controller: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), limitsTimeout)
	defer cancel()

	if l.Reset {
		if err := ctrl.Reset(ctx, l.Client, l.Classes...); err != nil {
			return fmt.Errorf("cannot reset limits: %w", err)
		}
	}

	names := l.Classes
	if len(names) == 0 {
		names = ctrl.ClassNames()
	}

	output := l.output
	if output == nil {
		output = os.Stdout
	}

	for _, class := range names {
		decision, err := ctrl.Status(ctx, l.Client, class)
		if err != nil {
			return fmt.Errorf("cannot read limits: %w", err)
		}

		fmt.Fprintf(output, "%s\t%d/%d\t%s\n", //nolint: errcheck
			class, decision.Count, decision.Max, decision.RetryAfter)
	}

	return nil
}
