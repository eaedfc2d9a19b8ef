package runner

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-runewidth"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/dayframe/calsync/tlmt"
	"github.com/dayframe/calsync/tlmt/gonoop"
	"github.com/dayframe/calsync/tlmt/goposthog"
)

const (
	// RunModeWeb serves the HTTP API and runs the sync and notification
	// loops in-process. It is the default and the only mode that works
	// without Redis.
	RunModeWeb = iota + 1
	// RunModeWorker consumes sync and notification tasks from Redis
	// instead of running its own tickers.
	RunModeWorker
)

var (
	ErrInvalidRunMode = errors.New("invalid run mode")
)

type Runner interface {
	Run(context.Context) error
	Close(context.Context) error
}

type Config struct {
	Concurrency        int
	Debug              bool
	Dsn                string
	DataFolder         string
	Addr               string
	Worker             bool
	SyncInterval       time.Duration
	NotifyInterval     time.Duration
	RunMode            int
	DisableTelemetry   bool
	RedisURL           string
	GoogleClientID     string
	GoogleClientSecret string
	OAuthRedirectURL   string
	EncryptionKey      string
	VAPIDPublicKey     string
	VAPIDPrivateKey    string
	VAPIDSubscriber    string
	APITokens          string
	AllowedOrigins     string
}

func ParseConfig() *Config {
	cfg := Config{}

	flag.IntVar(&cfg.Concurrency, "c", max(runtime.NumCPU()/2, 1), "sets the worker concurrency [default: half of CPU cores]")
	flag.BoolVar(&cfg.Debug, "debug", false, "enable debug logging [default: false]")
	flag.StringVar(&cfg.Dsn, "dsn", "", "postgres connection string [default: empty, uses embedded sqlite]")
	flag.StringVar(&cfg.DataFolder, "data-folder", "caldata", "data folder for the embedded sqlite store")
	flag.StringVar(&cfg.Addr, "addr", ":8080", "address to listen on for the API server")
	flag.BoolVar(&cfg.Worker, "worker", false, "consume tasks from Redis instead of serving the API")
	flag.DurationVar(&cfg.SyncInterval, "sync-interval", 5*time.Minute, "how often connected mailboxes are synced (e.g., '5m')")
	flag.DurationVar(&cfg.NotifyInterval, "notify-interval", time.Minute, "how often upcoming events are scanned for notifications (e.g., '60s')")
	flag.StringVar(&cfg.RedisURL, "redis-url", "", "redis connection URL, required for worker mode")
	flag.StringVar(&cfg.GoogleClientID, "google-client-id", "", "google OAuth client id")
	flag.StringVar(&cfg.GoogleClientSecret, "google-client-secret", "", "google OAuth client secret")
	flag.StringVar(&cfg.OAuthRedirectURL, "oauth-redirect-url", "", "redirect URL registered with the OAuth client")
	flag.StringVar(&cfg.VAPIDPublicKey, "vapid-public-key", "", "VAPID public key for web push")
	flag.StringVar(&cfg.VAPIDPrivateKey, "vapid-private-key", "", "VAPID private key for web push")
	flag.StringVar(&cfg.VAPIDSubscriber, "vapid-subscriber", "", "contact address announced to push services (mailto: or https:)")
	flag.StringVar(&cfg.AllowedOrigins, "allowed-origins", "", "comma separated browser origins allowed to send credentialed requests")

	flag.Parse()

	if cfg.RedisURL == "" {
		cfg.RedisURL = os.Getenv("REDIS_URL")
	}

	if cfg.GoogleClientID == "" {
		cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	}

	if cfg.GoogleClientSecret == "" {
		cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	}

	if cfg.OAuthRedirectURL == "" {
		cfg.OAuthRedirectURL = os.Getenv("OAUTH_REDIRECT_URL")
	}

	if cfg.VAPIDPublicKey == "" {
		cfg.VAPIDPublicKey = os.Getenv("VAPID_PUBLIC_KEY")
	}

	if cfg.VAPIDPrivateKey == "" {
		cfg.VAPIDPrivateKey = os.Getenv("VAPID_PRIVATE_KEY")
	}

	if cfg.VAPIDSubscriber == "" {
		cfg.VAPIDSubscriber = os.Getenv("VAPID_SUBSCRIBER")
	}

	if cfg.AllowedOrigins == "" {
		cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")
	}

	cfg.EncryptionKey = os.Getenv("TOKEN_ENCRYPTION_KEY")
	cfg.APITokens = os.Getenv("API_TOKENS")

	if cfg.Concurrency < 1 {
		panic("Concurrency must be greater than 0")
	}

	if cfg.SyncInterval < time.Minute {
		panic("SyncInterval must be at least one minute")
	}

	if cfg.NotifyInterval < time.Second {
		panic("NotifyInterval must be at least one second")
	}

	if cfg.GoogleClientID == "" || cfg.GoogleClientSecret == "" {
		panic("GoogleClientID and GoogleClientSecret must be provided (flags or GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET)")
	}

	if cfg.OAuthRedirectURL == "" {
		panic("OAuthRedirectURL must be provided (flag or OAUTH_REDIRECT_URL)")
	}

	if cfg.EncryptionKey == "" {
		panic("TOKEN_ENCRYPTION_KEY must be provided")
	}

	if cfg.VAPIDPublicKey == "" || cfg.VAPIDPrivateKey == "" {
		panic("VAPIDPublicKey and VAPIDPrivateKey must be provided (flags or VAPID_PUBLIC_KEY/VAPID_PRIVATE_KEY)")
	}

	if !cfg.Worker && cfg.APITokens == "" {
		panic("API_TOKENS must be provided when serving the API")
	}

	if cfg.Worker && cfg.Dsn == "" {
		panic("Dsn must be provided when running as worker")
	}

	switch {
	case cfg.Worker:
		cfg.RunMode = RunModeWorker
	default:
		cfg.RunMode = RunModeWeb
	}

	return &cfg
}

// NewLogger builds the process logger. Debug switches to the development
// encoder with level set to debug.
func NewLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}

	return zap.NewProduction()
}

var (
	telemetryOnce sync.Once
	telemetry     tlmt.Telemetry
)

func Telemetry() tlmt.Telemetry {
	telemetryOnce.Do(func() {
		disableTel := func() bool {
			return os.Getenv("DISABLE_TELEMETRY") == "1"
		}()

		if disableTel {
			telemetry = gonoop.New()

			return
		}

		val, err := goposthog.New("phc_Qm4wNdE1eJRzOA7ZWhyiKFuXa9TMLDnaYS47aoPAY6C", "https://eu.i.posthog.com")
		if err != nil || val == nil {
			telemetry = gonoop.New()

			return
		}

		telemetry = val
	})

	return telemetry
}

func wrapText(text string, width int) []string {
	var lines []string

	currentLine := ""
	currentWidth := 0

	for _, r := range text {
		runeWidth := runewidth.RuneWidth(r)
		if currentWidth+runeWidth > width {
			lines = append(lines, currentLine)
			currentLine = string(r)
			currentWidth = runeWidth
		} else {
			currentLine += string(r)
			currentWidth += runeWidth
		}
	}

	if currentLine != "" {
		lines = append(lines, currentLine)
	}

	return lines
}

func banner(messages []string, width int) string {
	if width <= 0 {
		var err error

		width, _, err = term.GetSize(0)
		if err != nil {
			width = 80
		}
	}

	if width < 20 {
		width = 20
	}

	contentWidth := width - 4

	var wrappedLines []string
	for _, message := range messages {
		wrappedLines = append(wrappedLines, wrapText(message, contentWidth)...)
	}

	var builder strings.Builder

	builder.WriteString("╔" + strings.Repeat("═", width-2) + "╗\n")

	for _, line := range wrappedLines {
		lineWidth := runewidth.StringWidth(line)
		paddingRight := contentWidth - lineWidth

		if paddingRight < 0 {
			paddingRight = 0
		}

		builder.WriteString(fmt.Sprintf("║ %s%s ║\n", line, strings.Repeat(" ", paddingRight)))
	}

	builder.WriteString("╚" + strings.Repeat("═", width-2) + "╝\n")

	return builder.String()
}

func Banner() {
	message1 := "📅 Dayframe Calendar Sync"
	message2 := "⭐ If you find this project useful, please star it on GitHub: https://github.com/dayframe/calsync"
	message3 := "🐛 Issues and feature requests: https://github.com/dayframe/calsync/issues"

	fmt.Fprintln(os.Stderr, banner([]string{message1, message2, message3}, 0))
}
