package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/mihmosh/MeetConfirm/internal/calendar"
	"github.com/mihmosh/MeetConfirm/internal/handlers"
	"github.com/mihmosh/MeetConfirm/internal/middlewares"
	"github.com/mihmosh/MeetConfirm/internal/notifier"
	"github.com/mihmosh/MeetConfirm/internal/notify"
	"github.com/mihmosh/MeetConfirm/internal/reconciler"
	"github.com/mihmosh/MeetConfirm/internal/repository"
	"github.com/mihmosh/MeetConfirm/internal/scheduler"
	"github.com/mihmosh/MeetConfirm/internal/token"
	"github.com/mihmosh/MeetConfirm/internal/workflow"
	"github.com/mihmosh/MeetConfirm/pkg/config"
	"github.com/mihmosh/MeetConfirm/pkg/db"
	"github.com/mihmosh/MeetConfirm/pkg/mq"
	"github.com/mihmosh/MeetConfirm/pkg/obs"
)

func must[T any](v T, err error) T {
	if err != nil {
		log.Fatal(err)
	}
	return v
}

func main() {
	_ = godotenv.Load()
	cfg := must(config.Load())

	shutdownTracer := obs.InitTracer("meetconfirm")
	defer func() { _ = shutdownTracer(context.Background()) }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	gdb := db.Open(cfg.PGDSN)
	repo := repository.NewBookingRepo(gdb)
	must(0, repo.Migrate())

	// Google collaborators share one token source
	ts := tokenSource(ctx, cfg)
	calSvc := must(gcal.NewService(ctx, option.WithTokenSource(ts)))
	feed := calendar.NewGoogleFeed(calSvc, cfg.CalendarID)
	gmailSvc := must(gmail.NewService(ctx, option.WithTokenSource(ts)))
	mail := notifier.NewGmail(gmailSvc)

	selfCheck(ctx, feed, mail)

	// Delayed dispatch
	tasksClient := must(cloudtasks.NewClient(ctx))
	defer tasksClient.Close()
	dispatch := scheduler.NewCloudTasksDispatch(tasksClient, cfg.GCPProjectID, cfg.GCPLocation, cfg.CloudTasksQueue, cfg.TaskInvokerEmail)
	sched := scheduler.New(dispatch, cfg.ServiceURL)

	// Event bus
	pub := must(mq.NewPublisher(cfg.RabbitURL, cfg.BookingExchange))
	defer pub.Close()
	cons := must(mq.NewConsumer(cfg.RabbitURL, cfg.BookingExchange, cfg.NotifyQueue, []string{"booking.*"}))
	defer cons.Close()
	go func() {
		if err := notify.NewWorker(cons).Run(ctx); err != nil {
			log.Printf("[meetconfirm] notify worker stopped: %v", err)
		}
	}()

	// Core
	tokens := token.NewAuthority(cfg.TokenSigningKey)
	wf := workflow.New(repo, tokens, feed, mail, pub, cfg.ServiceURL)
	rec := reconciler.New(feed, repo, sched, pub, reconciler.Config{
		Keyword:        cfg.EventTitleKeyword,
		SendOffset:     cfg.SendOffset(),
		DeadlineOffset: cfg.DeadlineOffset(),
	})

	bh := handlers.NewBookingHandler(wf)
	th := handlers.NewTaskHandler(wf)
	sh := handlers.NewSyncHandler(rec, repo, feed, cfg.ServiceURL)

	// Periodic fallback sync + watch renewal; booking-time waiting itself
	// stays on Cloud Tasks
	cr := cron.New()
	must(cr.AddFunc(cfg.ResyncCron, func() {
		if err := sh.RunReconcile(ctx); err != nil {
			log.Printf("[meetconfirm] periodic reconcile: %v", err)
		}
	}))
	must(cr.AddFunc(cfg.WatchRenewalCron, func() {
		if _, err := sh.RenewWatch(ctx); err != nil {
			log.Printf("[meetconfirm] watch renewal: %v", err)
		}
	}))
	cr.Start()
	defer cr.Stop()

	r := gin.Default()
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"service": "meetconfirm", "version": "1.1.0", "status": "running"})
	})
	v1 := r.Group("/api/v1")
	{
		v1.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

		v1.POST("/webhook/calendar", sh.Webhook)
		v1.GET("/confirm", bh.Confirm)
		v1.GET("/cancel", bh.Cancel)

		v1.POST("/tasks/remind/:id", th.Remind)
		v1.POST("/tasks/enforce/:id", th.Enforce)

		admin := v1.Group("/admin")
		admin.Use(middlewares.JWTAuth(cfg.JWTSecret), middlewares.RequireRole("ADMIN"))
		admin.POST("/reconcile", sh.Reconcile)
		admin.POST("/watch", sh.SetupWatch)
	}

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		log.Printf("[meetconfirm] keyword=%q send=T-%dh deadline=T-%dh", cfg.EventTitleKeyword, cfg.ConfirmSendHours, cfg.ConfirmDeadlineHours)
		log.Println("[meetconfirm] listening on", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	// graceful shutdown
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	_ = srv.Shutdown(shutdownCtx)
	log.Println("[meetconfirm] stopped")
}

func tokenSource(ctx context.Context, cfg config.App) oauth2.TokenSource {
	oc := &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		Endpoint:     googleoauth.Endpoint,
		Scopes: []string{
			gcal.CalendarScope,
			gmail.GmailSendScope,
		},
	}
	return oc.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.GoogleRefreshToken})
}

// selfCheck verifies collaborator access before serving; a misconfigured
// deployment should die at startup, not at the first deadline.
func selfCheck(ctx context.Context, feed *calendar.GoogleFeed, mail *notifier.GmailNotifier) {
	checkCtx, stop := context.WithTimeout(ctx, 30*time.Second)
	defer stop()
	if err := feed.SelfCheck(checkCtx); err != nil {
		log.Fatalf("[meetconfirm] startup check failed: %v", err)
	}
	if err := mail.SelfCheck(checkCtx); err != nil {
		log.Fatalf("[meetconfirm] startup check failed: %v", err)
	}
	log.Println("[meetconfirm] startup self-check completed")
}
