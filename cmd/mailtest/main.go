// Command mailtest sends a diagnostic message through the configured
// pipeline and reports the active feature flags and the outcome.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"mailrelay/internal/config"
	"mailrelay/internal/email"
	"mailrelay/provider"
	"mailrelay/relay"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "mailtest",
		Short:        "Diagnostics for the mail relay configuration",
		SilenceUsage: true,
	}
	root.AddCommand(sendCmd())
	return root
}

func sendCmd() *cobra.Command {
	var scope string

	cmd := &cobra.Command{
		Use:   "send <recipient>",
		Short: "Send a test email through the configured relay",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			return runSend(cmd, args[0], config.Scope(scope))
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "tenant scope to test (default: global)")
	return cmd
}

func runSend(cmd *cobra.Command, recipient string, scope config.Scope) error {
	if !email.Valid(recipient) {
		return fmt.Errorf("%q is not a valid email address", recipient)
	}

	settings := config.NewSettings(config.NewEnvStore())
	printConfig(cmd, settings, scope)

	r, err := relay.Connect(settings)
	if err != nil {
		return fmt.Errorf("connect stores: %w", err)
	}

	msg := &email.Message{
		To:       []string{recipient},
		Subject:  "Test email from mailrelay",
		TextBody: "This is a test message confirming the relay configuration works.",
		HTMLBody: "<html><body><p>This is a test message confirming the relay configuration works.</p></body></html>",
	}

	outcome, res, err := r.Send(scope, msg)
	if err != nil {
		var f *relay.Failure
		if errors.As(err, &f) {
			cmd.PrintErrf("FAILED (%s): %s\n", f.Kind, f.Message)
			cmd.PrintErrf("  detail: %s\n", f.Detail)
			return errors.New("test send failed")
		}
		return err
	}

	switch outcome {
	case relay.OutcomeQueued:
		cmd.Println("QUEUED: the message was accepted into the delivery queue")
	default:
		cmd.Printf("SENT via %s in %s\n", res.Provider, res.Duration)
		cmd.Printf("  message id: %s\n", res.MessageID)
		if res.FallbackUsed {
			cmd.Println("  delivered through the fallback provider")
		}
		for _, w := range res.Warnings {
			cmd.Printf("  warning: %s\n", w)
		}
	}
	return nil
}

func printConfig(cmd *cobra.Command, settings *config.Settings, scope config.Scope) {
	onOff := func(b bool) string {
		if b {
			return "on"
		}
		return "off"
	}
	p := provider.Provider(settings.Provider(scope))
	profile := provider.Resolve(p, settings, scope)

	cmd.Printf("provider:   %s\n", profile.Provider)
	cmd.Printf("host:       %s:%d\n", profile.Host, profile.Port)
	cmd.Printf("encryption: %s\n", profile.Encryption)
	if profile.APIEndpoint != "" {
		cmd.Printf("api:        %s\n", profile.APIEndpoint)
	}
	cmd.Printf("queueing:   %s\n", onOff(settings.QueueEnabled(scope)))
	cmd.Printf("tracking:   %s\n", onOff(settings.TrackingEnabled(scope)))
	cmd.Printf("dkim:       %s\n", onOff(settings.DkimEnabled(scope)))
	cmd.Printf("spf:        %s\n", onOff(settings.SpfCheckEnabled(scope)))
	cmd.Printf("dmarc:      %s\n", onOff(settings.DmarcCheckEnabled(scope)))
	cmd.Printf("logging:    %s\n", onOff(settings.LoggingEnabled(scope)))
	cmd.Println()
}
