// Command client walks a NoteFiber account through the runtime: sign in,
// quota-gated writes, and the live notification channel.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ai-notetaking-client/internal/apierror"
	"ai-notetaking-client/internal/bootstrap"
	"ai-notetaking-client/internal/config"
	"ai-notetaking-client/internal/dto"
	"ai-notetaking-client/internal/realtime"
	"ai-notetaking-client/internal/signals"
	"ai-notetaking-client/internal/usage"

	"github.com/fatih/color"
)

func main() {
	email := flag.String("email", os.Getenv("CLIENT_EMAIL"), "account email")
	password := flag.String("password", os.Getenv("CLIENT_PASSWORD"), "account password")
	fullName := flag.String("name", "NoteFiber Client", "full name used when the account has to be registered")
	listen := flag.Duration("listen", 30*time.Second, "how long to stay connected for notifications (0 = until interrupted)")
	flag.Parse()

	if *email == "" || *password == "" {
		color.Red("email and password are required (flags or CLIENT_EMAIL / CLIENT_PASSWORD)")
		os.Exit(2)
	}

	cfg := config.Load()
	container, err := bootstrap.NewContainer(cfg, nil, nil)
	if err != nil {
		color.Red("Failed to start runtime: %v", err)
		os.Exit(1)
	}
	defer container.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	color.Cyan("🚀 NoteFiber client against %s\n", cfg.API.BaseURL)
	unsubscribe := watchSignals(container.Bus)
	defer unsubscribe()

	if err := run(ctx, container, *email, *password, *fullName, *listen); err != nil {
		color.Red("Failed: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c *bootstrap.Container, email, password, fullName string, listen time.Duration) error {
	// 1. Sign in, registering on first use
	color.Yellow("\n[AUTH] 1. Login")
	login, err := c.AuthService.Login(ctx, &dto.LoginRequest{Email: email, Password: password})
	if msg, ok := fieldError(err, "email"); ok {
		color.White("Login rejected (%s), registering", msg)
		if _, err := c.AuthService.Register(ctx, &dto.RegisterRequest{FullName: fullName, Email: email, Password: password}); err != nil {
			return describe(err)
		}
		login, err = c.AuthService.Login(ctx, &dto.LoginRequest{Email: email, Password: password})
	}
	if err != nil {
		return describe(err)
	}
	color.Green("Signed in as %s (%s)", login.User.FullName, login.User.Email)

	// 2. Live notifications
	color.Yellow("\n[REALTIME] 2. Connect")
	removeEvents := c.Channel.OnEvent(func(ev realtime.Event) {
		switch ev.Kind {
		case realtime.EventStateChanged:
			color.White("channel %s", ev.State)
		case realtime.EventReconnectScheduled:
			color.Yellow("reconnect #%d in %s", ev.Attempt, ev.Delay)
		case realtime.EventReconnectExhausted:
			color.Red("realtime unavailable after %d attempts", ev.Attempt)
		}
	})
	defer removeEvents()
	removeHandler := c.Channel.OnNotification(func(msg realtime.NotificationMessage) {
		if n, ok := msg.Notification(); ok {
			color.Magenta("🔔 %s: %s", n.Title, n.Message)
		}
		if count, ok := msg.UnreadCount(); ok {
			color.Magenta("🔔 unread: %d", count)
		}
	})
	defer removeHandler()
	if err := c.Channel.Connect(ctx); err != nil {
		return err
	}

	// 3. Usage
	color.Yellow("\n[USAGE] 3. Usage status")
	status, err := c.UserService.GetUsageStatus(ctx)
	if err != nil {
		return describe(err)
	}
	color.Green("Plan %s: notebooks %d/%d, notes %d/%d, ai chat %d/%d",
		status.Plan.Name,
		status.Storage.Notebooks.Used, status.Storage.Notebooks.Limit,
		status.Storage.Notes.Used, status.Storage.Notes.Limit,
		status.Daily.AiChat.Used, status.Daily.AiChat.Limit)

	// 4. Gated writes
	color.Yellow("\n[NOTEBOOK] 4. Create notebook and note")
	nb, err := c.NotebookService.Create(ctx, &dto.CreateNotebookRequest{Name: "Inbox " + time.Now().Format(time.Kitchen)})
	switch {
	case errors.Is(err, usage.ErrLimitReached):
		color.Yellow("Notebook quota reached, skipping writes")
	case err != nil:
		return describe(err)
	default:
		note, err := c.NoteService.Create(ctx, &dto.CreateNoteRequest{Title: "Hello", Content: "Written by the client runtime", NotebookId: nb.Id})
		if err != nil && !errors.Is(err, usage.ErrLimitReached) {
			return describe(err)
		}
		if note != nil {
			color.Green("Created note %s in notebook %s", note.Id, nb.Id)
		}
	}

	// 5. Notifications
	color.Yellow("\n[NOTIFICATION] 5. History")
	unread, err := c.NotificationService.GetUnreadCount(ctx)
	if err != nil {
		return describe(err)
	}
	color.Green("Unread notifications: %d", unread)

	if listen > 0 {
		color.Cyan("\nListening for %s (Ctrl+C to stop)", listen)
		select {
		case <-ctx.Done():
		case <-time.After(listen):
		}
	} else {
		color.Cyan("\nListening until interrupted")
		<-ctx.Done()
	}

	// 6. Sign out
	color.Yellow("\n[AUTH] 6. Logout")
	if err := c.AuthService.Logout(context.Background()); err != nil {
		color.Yellow("Server logout failed (%v); local session cleared anyway", err)
	}
	color.Green("Done")
	return nil
}

func watchSignals(bus *signals.Bus) func() {
	var removers []func()
	if remove, err := signals.Subscribe(bus, signals.UpgradeRequiredTopic, func(s signals.UpgradeRequired) {
		if s.FeatureName != "" {
			color.Red("⬆ Upgrade required for %s (%d/%d): %s", s.FeatureName, s.Used, s.Limit, s.Reason)
			return
		}
		color.Red("⬆ Upgrade required: %s", s.Reason)
	}); err == nil {
		removers = append(removers, remove)
	}
	if remove, err := signals.Subscribe(bus, signals.SessionExpiredTopic, func(s signals.SessionExpired) {
		color.Red("Session expired: %s. Sign in again.", s.Reason)
	}); err == nil {
		removers = append(removers, remove)
	}
	return func() {
		for _, remove := range removers {
			remove()
		}
	}
}

func fieldError(err error, field string) (string, bool) {
	apiErr, ok := apierror.As(err)
	if !ok || apiErr.Kind != apierror.KindValidation {
		return "", false
	}
	return apiErr.FieldError(field)
}

// describe flattens validation field errors into the message.
func describe(err error) error {
	apiErr, ok := apierror.As(err)
	if !ok || len(apiErr.FieldErrors) == 0 {
		return err
	}
	return fmt.Errorf("%w %v", err, apiErr.FieldErrors)
}
