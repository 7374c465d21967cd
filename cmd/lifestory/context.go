package main

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"lifestory/internal/api"
	"lifestory/internal/audit"
	"lifestory/internal/config"
	"lifestory/internal/draft"
	"lifestory/internal/eventbus"
	"lifestory/internal/logging"
	"lifestory/internal/notifications"
	"lifestory/internal/services"
	"lifestory/internal/services/storyapi"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	log        *slog.Logger
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
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// logger returns the stderr logger used by one-shot commands.
func (c *commandContext) logger() *slog.Logger {
	c.loggerOnce.Do(func() {
		cfg, _ := c.ensureConfig()
		logger, err := logging.NewFromConfig(cfg, "", nil)
		if err != nil {
			logger = logging.NewNop()
		}
		c.log = logger
	})
	return c.log
}

func (c *commandContext) apiClient() (*storyapi.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return storyapi.NewFromConfig(cfg, storyapi.WithLogger(c.logger())), nil
}

// admin is the operator recorded on decisions and notes.
func (c *commandContext) admin() draft.Actor {
	cfg, _ := c.ensureConfig()
	if cfg == nil {
		return draft.Actor{}
	}
	return draft.Actor{
		ID:    cfg.Admin.ID,
		Name:  cfg.Admin.Name,
		Email: cfg.Admin.Email,
		Role:  cfg.Admin.Role,
	}
}

// withDraftService opens the audit journal and hands fn a service over the REST client.
func (c *commandContext) withDraftService(fn func(*draft.Service, *storyapi.Client) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	client, err := c.apiClient()
	if err != nil {
		return err
	}
	journal, err := audit.Open(cfg.JournalPath())
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer journal.Close()
	svc := draft.NewService(client, draft.WithJournal(journal), draft.WithLogger(c.logger()))
	return fn(svc, client)
}

func (c *commandContext) withJournal(fn func(*audit.Journal) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	journal, err := audit.Open(cfg.JournalPath())
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer journal.Close()
	return fn(journal)
}

// newBus builds an event bus from [events]. It returns nil when no URL is configured.
func (c *commandContext) newBus(logger *slog.Logger) *eventbus.Bus {
	cfg, _ := c.ensureConfig()
	if cfg == nil || cfg.Events.URL == "" {
		return nil
	}
	transport := eventbus.NewWebSocketTransport(cfg.Events.URL, cfg.API.Token,
		time.Duration(cfg.Events.HandshakeTimeout)*time.Second)
	initial, maxDelay := cfg.ReconnectBackoff()
	return eventbus.New(transport, logger, eventbus.WithBackoff(initial, maxDelay))
}

func (c *commandContext) requireBus(logger *slog.Logger, purpose string) (*eventbus.Bus, error) {
	bus := c.newBus(logger)
	if bus == nil {
		return nil, services.Wrap(services.ErrConfiguration, "cli", purpose,
			"events.url is not configured (set it in the config file or LIFESTORY_EVENTS_URL)", nil)
	}
	return bus, nil
}

func (c *commandContext) notifier() notifications.Service {
	cfg, _ := c.ensureConfig()
	return notifications.NewService(cfg)
}

func (c *commandContext) watchClient() (*api.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return api.NewClient(cfg.Watch.APIBind, cfg.Watch.APIToken), nil
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
