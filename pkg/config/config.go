package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type App struct {
	// HTTP
	HTTPAddr   string `envconfig:"HTTP_ADDR" default:":8080"`
	ServiceURL string `envconfig:"SERVICE_URL" required:"true"`

	// DB
	PGDSN string `envconfig:"PG_DSN" required:"true"`

	// RabbitMQ (ops notifications)
	RabbitURL       string `envconfig:"RABBIT_URL" required:"true"`
	BookingExchange string `envconfig:"BOOKING_EXCHANGE" default:"booking.exchange"`
	NotifyQueue     string `envconfig:"NOTIFY_QUEUE" default:"meetconfirm.notify.q"`

	// Security
	JWTSecret       string `envconfig:"JWT_SECRET" required:"true"`
	TokenSigningKey string `envconfig:"TOKEN_SIGNING_KEY" required:"true"`

	// Workflow timing
	EventTitleKeyword    string `envconfig:"EVENT_TITLE_KEYWORD" required:"true"`
	ConfirmSendHours     int    `envconfig:"CONFIRM_SEND_HOURS" default:"2"`
	ConfirmDeadlineHours int    `envconfig:"CONFIRM_DEADLINE_HOURS" default:"1"`

	// Google OAuth (calendar + gmail)
	GoogleClientID     string `envconfig:"GOOGLE_CLIENT_ID" required:"true"`
	GoogleClientSecret string `envconfig:"GOOGLE_CLIENT_SECRET" required:"true"`
	GoogleRefreshToken string `envconfig:"GOOGLE_REFRESH_TOKEN" required:"true"`

	// Google Calendar / Cloud Tasks
	CalendarID       string `envconfig:"CALENDAR_ID" default:"primary"`
	GCPProjectID     string `envconfig:"GCP_PROJECT_ID" required:"true"`
	GCPLocation      string `envconfig:"GCP_LOCATION" default:"europe-west1"`
	CloudTasksQueue  string `envconfig:"CLOUD_TASKS_QUEUE" default:"meetconfirm"`
	TaskInvokerEmail string `envconfig:"TASK_INVOKER_EMAIL"`

	// Periodic jobs
	ResyncCron       string `envconfig:"RESYNC_CRON" default:"@every 15m"`
	WatchRenewalCron string `envconfig:"WATCH_RENEWAL_CRON" default:"@daily"`
}

func Load() (App, error) {
	var c App
	err := envconfig.Process("", &c)
	return c, err
}

func (c App) SendOffset() time.Duration {
	return time.Duration(c.ConfirmSendHours) * time.Hour
}

func (c App) DeadlineOffset() time.Duration {
	return time.Duration(c.ConfirmDeadlineHours) * time.Hour
}
