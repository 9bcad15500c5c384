package config

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// ErrNoCredentials is returned when none of the Google credential forms is set.
var ErrNoCredentials = errors.New("no google credentials configured")

type Config struct {
	TelegramToken string `envconfig:"TELEGRAM_BOT_TOKEN" required:"true"`

	MongoURL      string `envconfig:"MONGO_URL" required:"true"`
	MongoDatabase string `envconfig:"MONGO_DATABASE" default:"meetup"`

	AdminIDsRaw string         `envconfig:"ADMIN_TG_IDS"`
	AdminTGIDs  map[int64]bool `ignored:"true"`

	// EventsChatID is the validation chat where payment proofs are forwarded.
	EventsChatID int64 `envconfig:"EVENTS_CHAT_ID"`

	SpreadsheetID           string `envconfig:"SPREADSHEET_ID"`
	SheetName               string `envconfig:"SHEET_NAME"`
	GoogleCredentialsJSON   string `envconfig:"GOOGLE_CREDENTIALS_JSON"`
	GoogleCredentialsBase64 string `envconfig:"GOOGLE_CREDENTIALS_BASE64"`
	GoogleCredentialsFile   string `envconfig:"GOOGLE_CREDENTIALS_FILE"`

	HTTPAddr      string `envconfig:"HTTP_ADDR" default:":8080"`
	BasePublicURL string `envconfig:"BASE_PUBLIC_URL"`
	// SigningSecret keys the CSV export token and the entry pass signature.
	// Both features are off while it is empty.
	SigningSecret string `envconfig:"SIGNING_SECRET"`

	PaymentPhone string `envconfig:"PAYMENT_PHONE_NUMBER"`
	PaymentName  string `envconfig:"PAYMENT_NAME"`

	PromptTimeout  time.Duration `envconfig:"PROMPT_TIMEOUT" default:"5m"`
	PaymentTimeout time.Duration `envconfig:"PAYMENT_TIMEOUT" default:"20m"`
	AdminTimeout   time.Duration `envconfig:"ADMIN_TIMEOUT" default:"5m"`

	EventCatalogFile string `envconfig:"EVENT_CATALOG_FILE"`

	Debug bool `envconfig:"DEBUG"`
}

func FromEnv() (Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return c, fmt.Errorf("env: %w", err)
	}

	c.TelegramToken = strings.TrimSpace(c.TelegramToken)
	c.MongoURL = strings.TrimSpace(c.MongoURL)
	c.SpreadsheetID = strings.TrimSpace(c.SpreadsheetID)
	c.BasePublicURL = strings.TrimRight(strings.TrimSpace(c.BasePublicURL), "/")
	c.SigningSecret = strings.TrimSpace(c.SigningSecret)

	if c.TelegramToken == "" {
		return c, fmt.Errorf("TELEGRAM_BOT_TOKEN is empty")
	}
	if c.MongoURL == "" {
		return c, fmt.Errorf("MONGO_URL is empty")
	}
	if c.BasePublicURL != "" && c.SigningSecret == "" {
		return c, fmt.Errorf("BASE_PUBLIC_URL is set but SIGNING_SECRET is empty")
	}
	for name, d := range map[string]time.Duration{
		"PROMPT_TIMEOUT":  c.PromptTimeout,
		"PAYMENT_TIMEOUT": c.PaymentTimeout,
		"ADMIN_TIMEOUT":   c.AdminTimeout,
	} {
		if d <= 0 {
			return c, fmt.Errorf("%s must be positive", name)
		}
	}

	c.AdminTGIDs = parseAdminIDs(c.AdminIDsRaw)

	return c, nil
}

func (c Config) IsAdmin(tgID int64) bool {
	return c.AdminTGIDs[tgID]
}

// SigningEnabled reports whether signed export links and entry passes can be issued.
func (c Config) SigningEnabled() bool {
	return c.SigningSecret != ""
}

// SheetsEnabled reports whether Google Sheets export is configured.
func (c Config) SheetsEnabled() bool {
	return c.SpreadsheetID != ""
}

// GoogleCredentials resolves the service account JSON from one of its three
// supply forms, checked in order: base64, inline JSON, file path.
func (c Config) GoogleCredentials() ([]byte, error) {
	if raw := strings.TrimSpace(c.GoogleCredentialsBase64); raw != "" {
		b, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("GOOGLE_CREDENTIALS_BASE64: %w", err)
		}
		if !json.Valid(b) {
			return nil, fmt.Errorf("GOOGLE_CREDENTIALS_BASE64: decoded value is not JSON")
		}
		return b, nil
	}
	if raw := strings.TrimSpace(c.GoogleCredentialsJSON); raw != "" {
		if !json.Valid([]byte(raw)) {
			return nil, fmt.Errorf("GOOGLE_CREDENTIALS_JSON: invalid JSON")
		}
		return []byte(raw), nil
	}
	if path := strings.TrimSpace(c.GoogleCredentialsFile); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("service account json: %w", err)
		}
		return b, nil
	}
	return nil, ErrNoCredentials
}

func parseAdminIDs(raw string) map[int64]bool {
	m := map[int64]bool{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return m
	}
	parts := strings.Split(raw, ",")
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			continue
		}
		m[v] = true
	}
	return m
}
