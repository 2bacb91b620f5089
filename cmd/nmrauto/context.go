package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"nmrauto/internal/config"
	"nmrauto/internal/queue"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

// withStore opens the queue store for the duration of fn.
func (c *commandContext) withStore(fn func(*queue.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return fmt.Errorf("open queue store: %w", err)
	}
	defer store.Close()
	return fn(store)
}

const commandPollInterval = 200 * time.Millisecond

// submitCommand enqueues an operator command and waits up to wait for the
// daemon to complete it. A zero wait returns right after enqueueing.
func submitCommand(cmd *cobra.Command, store *queue.Store, device, action, argument string, wait time.Duration) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	queued, err := store.EnqueueCommand(ctx, device, action, argument)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if wait <= 0 {
		fmt.Fprintf(out, "Queued %s %s (command %s)\n", device, action, queued.CommandID)
		return nil
	}

	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(commandPollInterval)
	defer ticker.Stop()
	for {
		current, err := store.GetCommand(ctx, queued.CommandID)
		if err != nil {
			return err
		}
		if current != nil && current.Status != queue.CommandPending {
			if current.Status == queue.CommandFailed {
				return fmt.Errorf("%s %s failed: %s", device, action, current.Result)
			}
			fmt.Fprintln(out, current.Result)
			return nil
		}
		if time.Now().After(deadline) {
			fmt.Fprintf(out, "Queued %s %s (command %s); the daemon has not picked it up yet\n", device, action, queued.CommandID)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
