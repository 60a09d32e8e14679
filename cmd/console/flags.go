package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/jrsteele09/mailsentry-console/internal/config"
	"github.com/spf13/pflag"
)

// flagConfig overrides selected environment settings from the command line. An empty flag
// falls through to the environment.
type flagConfig struct {
	config.Config

	logLevel     string
	apiBaseURL   string
	realtimeURL  string
	pollURL      string
	credentialFS string
}

var _ config.Config = (*flagConfig)(nil)

// parseFlags returns base with any command line overrides applied. showHelp is true when the
// user asked for usage and the process should exit.
func parseFlags(base config.Config, args []string) (cfg config.Config, showHelp bool, err error) {
	fc := &flagConfig{Config: base}

	flagSet := pflag.NewFlagSet("console", pflag.ContinueOnError)
	flagSet.StringVar(&fc.logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	flagSet.StringVar(&fc.apiBaseURL, "api", "", "API base URL (overrides API_BASE_URL)")
	flagSet.StringVar(&fc.realtimeURL, "realtime", "", "websocket URL (overrides REALTIME_URL)")
	flagSet.StringVar(&fc.pollURL, "poll", "", "long-polling fallback URL (overrides REALTIME_POLL_URL)")
	flagSet.StringVar(&fc.credentialFS, "credentials", "", "credential file path (overrides CREDENTIAL_FILE)")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil, true, nil
		}
		return nil, false, err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil, true, nil
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return nil, false, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return fc, false, nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, "Headless mail sentry console. Keeps a session and follows realtime notifications.\n\nUsage:\n")
	flagSet.PrintDefaults()
}

func (c *flagConfig) GetLogLevel() string {
	return override(c.logLevel, c.Config.GetLogLevel())
}

func (c *flagConfig) GetAPIBaseURL() string {
	if c.apiBaseURL != "" {
		return strings.TrimRight(c.apiBaseURL, "/")
	}
	return c.Config.GetAPIBaseURL()
}

func (c *flagConfig) GetRealtimeURL() string {
	return override(c.realtimeURL, c.Config.GetRealtimeURL())
}

func (c *flagConfig) GetRealtimePollURL() string {
	return override(c.pollURL, c.Config.GetRealtimePollURL())
}

func (c *flagConfig) GetCredentialFile() string {
	return override(c.credentialFS, c.Config.GetCredentialFile())
}

func override(flagValue, fallback string) string {
	if flagValue != "" {
		return flagValue
	}
	return fallback
}
