package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cfraser/docsink/internal/hnap"
	"github.com/cfraser/docsink/internal/telemetry"
)

var checkFlags struct {
	modemURL      string
	modemUsername string
	modemPassword string
	timeout       time.Duration
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Log in and scrape the modem once",
	Long: `Perform one login handshake and one status scrape, then print the
parsed telemetry. Useful to verify credentials and connectivity before
deploying the pipeline.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkFlags.modemURL, "modem-url", getEnv("MODEM_URL", ""), "modem base URL")
	checkCmd.Flags().StringVar(&checkFlags.modemUsername, "modem-username", getEnv("MODEM_USERNAME", "admin"), "modem username")
	checkCmd.Flags().StringVar(&checkFlags.modemPassword, "modem-password", os.Getenv("MODEM_PASSWORD"), "modem password")
	checkCmd.Flags().DurationVar(&checkFlags.timeout, "timeout", time.Minute, "overall deadline for the check")
}

func runCheck(cmd *cobra.Command, args []string) error {
	if checkFlags.modemURL == "" {
		return fmt.Errorf("modem URL required (use --modem-url or MODEM_URL)")
	}
	if checkFlags.modemPassword == "" {
		return fmt.Errorf("modem password required (use --modem-password or MODEM_PASSWORD)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), checkFlags.timeout)
	defer cancel()

	client := hnap.NewClient(checkFlags.modemURL, checkFlags.modemUsername, checkFlags.modemPassword, logger.Named("hnap"))

	start := time.Now()
	if err := client.Login(ctx); err != nil {
		return err
	}

	status, err := client.Status(ctx)
	if err != nil {
		return err
	}
	latency := time.Since(start)

	downstream, err := telemetry.ParseDownstream(status.DownstreamChannels)
	if err != nil {
		return err
	}
	upstream, err := telemetry.ParseUpstream(status.UpstreamChannels)
	if err != nil {
		return err
	}
	uptime, err := telemetry.ParseUptime(status.SystemUpTime)
	if err != nil {
		return err
	}

	fmt.Printf("Model:            %s\n", telemetry.ModemModel)
	fmt.Printf("Software:         %s\n", status.SoftwareVersion)
	fmt.Printf("Config file:      %s\n", status.ConfigFilename)
	fmt.Printf("Uptime:           %s (%d seconds)\n", status.SystemUpTime, uptime)
	fmt.Printf("Scrape latency:   %.2fs\n", latency.Seconds())
	fmt.Println()

	fmt.Printf("%-4s  %-10s  %-12s  %-10s  %-8s  %-10s  %s\n",
		"ID", "FREQ(MHz)", "MODULATION", "POWER", "SNR", "CORRECTED", "UNCORRECTED")
	for _, ch := range downstream {
		fmt.Printf("%-4d  %-10.1f  %-12s  %-10.1f  %-8.1f  %-10d  %d\n",
			ch.ID, ch.FrequencyHz/1e6, ch.Modulation, ch.PowerDBmV, ch.SNRDb, ch.Correcteds, ch.Uncorrecteds)
	}
	fmt.Println()

	fmt.Printf("%-4s  %-10s  %-12s  %-10s  %s\n", "ID", "FREQ(MHz)", "MODULATION", "POWER", "WIDTH(kHz)")
	for _, ch := range upstream {
		fmt.Printf("%-4d  %-10.1f  %-12s  %-10.1f  %.1f\n",
			ch.ID, ch.FrequencyHz/1e6, ch.Modulation, ch.PowerDBmV, ch.WidthHz)
	}

	return nil
}
