package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/beacon/internal/tls"
)

var tlsCmd = &cobra.Command{
	Use:   "tls",
	Short: "TLS certificate commands",
}

var tlsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show TLS certificate status",
	RunE:  runTLSStatus,
}

func init() {
	tlsCmd.AddCommand(tlsStatusCmd)
	rootCmd.AddCommand(tlsCmd)
}

func runTLSStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	tlsCfg := cfg.API.TLS
	if tlsCfg.ACME.Enabled {
		fmt.Println("TLS Certificate (ACME):")
		fmt.Printf("  Domains: %s\n", strings.Join(tlsCfg.ACME.Domains, ", "))
		fmt.Printf("  Email: %s\n", tlsCfg.ACME.Email)
		fmt.Printf("  Cache: %s\n", tlsCfg.ACME.CacheDir)
		fmt.Printf("  Challenge listener: %s\n", tlsCfg.ACME.ChallengeAddr)
		return nil
	}

	if tlsCfg.CertFile == "" {
		fmt.Println("TLS is not configured")
		return nil
	}

	info, err := tls.GetCertificateInfo(tlsCfg.CertFile)
	if err != nil {
		return fmt.Errorf("failed to read certificate: %w", err)
	}

	status := "OK"
	if info.DaysLeft < 0 {
		status = "EXPIRED"
	} else if info.DaysLeft < 14 {
		status = "EXPIRING SOON"
	}

	fmt.Println("TLS Certificate (manual):")
	fmt.Printf("  File: %s\n", tlsCfg.CertFile)
	fmt.Printf("  Subject: %s\n", info.Subject)
	fmt.Printf("  Issuer: %s\n", info.Issuer)
	if len(info.DNSNames) > 0 {
		fmt.Printf("  DNS names: %s\n", strings.Join(info.DNSNames, ", "))
	}
	fmt.Printf("  Valid from: %s\n", info.NotBefore.Format(time.RFC3339))
	fmt.Printf("  Valid until: %s\n", info.NotAfter.Format(time.RFC3339))
	fmt.Printf("  Days left: %d\n", info.DaysLeft)
	fmt.Printf("  Status: %s\n", status)

	return nil
}
