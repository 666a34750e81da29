package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/beacon/internal/campaign"
)

var settingsInput campaign.SMTPSettings

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "SMTP relay settings commands",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the active SMTP settings",
	RunE:  runSettingsShow,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Replace the active SMTP settings",
	Long: `Replace the active SMTP settings. When --pass is omitted the stored
password is kept.`,
	RunE: runSettingsSet,
}

func init() {
	f := settingsSetCmd.Flags()
	f.StringVar(&settingsInput.Host, "host", "", "SMTP relay host (required)")
	f.IntVar(&settingsInput.Port, "port", campaign.DefaultSMTPPort, "SMTP relay port")
	f.BoolVar(&settingsInput.Secure, "secure", false, "Use implicit TLS")
	f.StringVar(&settingsInput.User, "user", "", "SMTP username, also the sender address (required)")
	f.StringVar(&settingsInput.Pass, "pass", "", "SMTP password")
	f.StringVar(&settingsInput.SenderName, "sender-name", "", "Display name of the sender")
	f.StringVar(&settingsInput.ReplyTo, "reply-to", "", "Reply-To address")
	settingsSetCmd.MarkFlagRequired("host")
	settingsSetCmd.MarkFlagRequired("user")

	settingsCmd.AddCommand(settingsShowCmd, settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}

func runSettingsShow(cmd *cobra.Command, args []string) error {
	store, err := openStorage()
	if err != nil {
		return err
	}
	defer store.Close()

	settings, err := store.SMTPSettings(context.Background())
	if err != nil {
		return fmt.Errorf("failed to read settings: %w", err)
	}
	if settings == nil {
		fmt.Println("SMTP settings are not configured")
		return nil
	}

	printSettings(settings)
	return nil
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	settings := settingsInput
	if err := settings.Validate(); err != nil {
		return err
	}

	store, err := openStorage()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.SaveSMTPSettings(ctx, &settings); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}

	// Re-read so a kept password shows as set
	saved, err := store.SMTPSettings(ctx)
	if err != nil {
		return fmt.Errorf("failed to read settings: %w", err)
	}

	fmt.Printf("SMTP settings saved\n\n")
	printSettings(saved)
	return nil
}

func printSettings(s *campaign.SMTPSettings) {
	pass := "(not set)"
	if s.Pass != "" {
		pass = "********"
	}
	fmt.Printf("Host:        %s\n", s.Host)
	fmt.Printf("Port:        %d\n", s.Port)
	fmt.Printf("Secure:      %v\n", s.Secure)
	fmt.Printf("User:        %s\n", s.User)
	fmt.Printf("Password:    %s\n", pass)
	if s.SenderName != "" {
		fmt.Printf("Sender Name: %s\n", s.SenderName)
	}
	if s.ReplyTo != "" {
		fmt.Printf("Reply-To:    %s\n", s.ReplyTo)
	}
	if !s.UpdatedAt.IsZero() {
		fmt.Printf("Updated:     %s\n", s.UpdatedAt.Format(time.RFC3339))
	}
}
