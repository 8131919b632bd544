package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/rpms-portal/messaging/internal/chat"
	"github.com/rpms-portal/messaging/internal/config"
	"github.com/rpms-portal/messaging/internal/middleware"
	"github.com/rpms-portal/messaging/internal/transport"
	"github.com/rpms-portal/messaging/pkg/logger"
)

var version = "dev"

// session is the state shared by every command once the root has run.
type session struct {
	cfg  *config.Client
	log  *logger.Logger
	api  *chat.Client
	self string
}

var (
	cliSession session

	apiURL   string
	token    string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "chatcli",
	Short: "Portal chat client",
	Long: `chatcli talks to the portal chat service: list contacts, read threads,
send and forward messages, upload attachments, and watch a thread live.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return cliSession.open()
	},
}

// Execute runs the root command. This is called by main.main().
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", describe(err))
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "chat API base URL (default $CHAT_API_URL)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "bearer token (default $CHAT_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level written to stderr (default $LOG_LEVEL or warn)")
}

func (s *session) open() error {
	s.cfg = config.LoadClient()
	if apiURL != "" {
		s.cfg.APIURL = apiURL
	}
	if token != "" {
		s.cfg.Token = token
	}
	if logLevel != "" {
		s.cfg.LogLevel = logLevel
	}

	log, err := logger.NewStderr(s.cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	s.log = log

	tc := transport.New(s.cfg.APIURL, transport.NewSession(s.cfg.Token),
		transport.WithTimeout(s.cfg.Timeout),
		transport.WithRateLimit(s.cfg.RateLimit, s.cfg.RateBurst),
		transport.WithLogger(log.Named("transport")),
	)
	s.api = chat.NewClient(tc, log.Named("chat"))
	s.self = subject(s.cfg.Token)
	return nil
}

// subject reads the user ID from the token without verifying it. The server
// verifies; the client only needs to know which messages are its own.
func subject(tokenString string) string {
	if tokenString == "" {
		return ""
	}
	claims := &middleware.Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return ""
	}
	return claims.Subject
}

// describe turns transport failures into one-line messages for the terminal.
func describe(err error) string {
	var te *transport.Error
	if !errors.As(err, &te) {
		return err.Error()
	}
	switch te.Kind {
	case transport.KindNetwork:
		return "cannot reach the chat service: " + te.Message
	case transport.KindServer:
		if te.Status == http.StatusUnauthorized {
			return te.Message + " (set CHAT_TOKEN or --token)"
		}
	}
	return te.Message
}
