// --- File: cmd/devicectl/main.go ---
package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-device-messaging/messagingservice"
	"github.com/tinywideclouds/go-device-messaging/messagingservice/config"
	"github.com/tinywideclouds/go-device-messaging/pkg/messaging"
)

//go:embed local.yaml
var configFile []byte

const usage = `usage: devicectl <command> [flags]

commands:
  register  register the device token for the signed-in account
  status    print the cached device registration
  enable    set the background notification preference (-on=true|false)
  reset     forget the local registration (-unregister also deletes it remotely)
  push      send a test notification to a device token`

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "devicectl")
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		logger.Error("Failed to map yaml config", "err", err)
		os.Exit(1)
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "register":
		err = runRegister(ctx, cfg, args, logger)
	case "status":
		err = runStatus(ctx, cfg, args, logger)
	case "enable":
		err = runEnable(ctx, cfg, args, logger)
	case "reset":
		err = runReset(ctx, cfg, args, logger)
	case "push":
		err = runPush(ctx, cfg, args, logger)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		if errors.Is(err, messaging.ErrTokenUnregistered) {
			logger.Warn("Token is no longer valid; run register again", "err", err)
		}
		logger.Error("Command failed", "command", cmd, "err", err)
		os.Exit(1)
	}
}

func runRegister(ctx context.Context, cfg *config.Config, args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	token := fs.String("token", os.Getenv("DEVICE_TOKEN"), "provider delivery token")
	_ = fs.Parse(args)
	if *token == "" {
		return errors.New("a delivery token is required (-token or DEVICE_TOKEN)")
	}

	app, err := newApp(ctx, cfg, *token, logger)
	if err != nil {
		return err
	}
	defer app.close()

	if err := app.service.Start(ctx); err != nil {
		return err
	}
	// Signing in after Start lets the service register through its session hook.
	if err := app.signIn(ctx); err != nil {
		return err
	}
	return printDevice(ctx, app.service)
}

func runStatus(ctx context.Context, cfg *config.Config, args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	_ = fs.Parse(args)

	app, err := newApp(ctx, cfg, "", logger)
	if err != nil {
		return err
	}
	defer app.close()
	return printDevice(ctx, app.service)
}

func runEnable(ctx context.Context, cfg *config.Config, args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("enable", flag.ExitOnError)
	on := fs.Bool("on", true, "allow background notifications")
	token := fs.String("token", os.Getenv("DEVICE_TOKEN"), "provider delivery token, used if the device is not yet registered")
	_ = fs.Parse(args)

	app, err := newApp(ctx, cfg, *token, logger)
	if err != nil {
		return err
	}
	defer app.close()

	if err := app.signIn(ctx); err != nil {
		return err
	}
	if _, err := app.service.EnablePushNotifications(ctx, *on); err != nil {
		return err
	}
	// Registers with the new preference when nothing was cached yet.
	if err := app.service.Start(ctx); err != nil {
		return err
	}
	return printDevice(ctx, app.service)
}

func runReset(ctx context.Context, cfg *config.Config, args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	unregister := fs.Bool("unregister", cfg.UnregisterOnSignOut, "delete the device from the directory first")
	_ = fs.Parse(args)
	cfg.UnregisterOnSignOut = *unregister

	app, err := newApp(ctx, cfg, "", logger)
	if err != nil {
		return err
	}
	defer app.close()

	if *unregister {
		if err := app.signIn(ctx); err != nil {
			return err
		}
		if err := app.service.WillSignOut(ctx); err != nil {
			logger.Warn("Remote unregister failed; clearing local registration anyway", "err", err)
		}
	}
	if err := app.service.DidSignOut(ctx); err != nil {
		return err
	}
	logger.Info("Local device registration cleared")
	return nil
}

func runPush(ctx context.Context, cfg *config.Config, args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("push", flag.ExitOnError)
	via := fs.String("via", "fcm", "delivery service: fcm, apns or web")
	token := fs.String("token", "", "device token; defaults to the cached device's token")
	title := fs.String("title", "Test notification", "notification title")
	body := fs.String("body", "Sent by devicectl", "notification body")
	_ = fs.Parse(args)

	app, err := newApp(ctx, cfg, "", logger)
	if err != nil {
		return err
	}
	defer app.close()

	target := *token
	if target == "" {
		current, err := app.service.Device(ctx)
		if err != nil {
			return err
		}
		if current == nil {
			return errors.New("no cached device; pass -token or run register first")
		}
		target = current.Token
	}

	sender, err := newSender(ctx, *via, cfg, logger)
	if err != nil {
		return err
	}
	return sender.Send(ctx, target, messaging.Notification{
		ID:    fmt.Sprintf("devicectl-%d", os.Getpid()),
		Title: *title,
		Body:  *body,
	})
}

func printDevice(ctx context.Context, svc *messagingservice.Service) error {
	current, err := svc.Device(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"registered": current != nil,
		"device":     current,
	})
}
