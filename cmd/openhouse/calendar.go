package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/openhouse/internal/calendar"
	"golang.org/x/oauth2"
)

func newCalendarCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Google Calendar setup",
	}

	cmd.AddCommand(newCalendarAuthorizeCmd())
	return cmd
}

func newCalendarAuthorizeCmd() *cobra.Command {
	var (
		configPath      string
		credentialsFile string
		tokenFile       string
	)

	cmd := &cobra.Command{
		Use:   "authorize",
		Short: "Authorize access to Google Calendar",
		Long: `Prints the Google consent URL, reads the authorization code you paste back,
and saves the resulting token to calendar.token_file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			if credentialsFile == "" {
				credentialsFile = orDefault(cfg.Calendar.CredentialsFile, "credentials.json")
			}
			if tokenFile == "" {
				tokenFile = orDefault(cfg.Calendar.TokenFile, "token.json")
			}
			oc, err := calendar.OAuthConfig(credentialsFile)
			if err != nil {
				return err
			}
			return runCalendarAuthorize(cmd, oc, tokenFile)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to OpenHouse config file")
	cmd.Flags().StringVar(&credentialsFile, "credentials", "", "OAuth client credentials file (overrides calendar.credentials_file)")
	cmd.Flags().StringVar(&tokenFile, "token", "", "where to save the token (overrides calendar.token_file)")
	return cmd
}

func runCalendarAuthorize(cmd *cobra.Command, oc *oauth2.Config, tokenFile string) error {
	out := cmd.OutOrStdout()
	url := oc.AuthCodeURL("openhouse", oauth2.AccessTypeOffline)
	fmt.Fprintf(out, "Open this URL in your browser and authorize access:\n\n  %s\n\nAuthorization code: ", url)

	scanner := bufio.NewScanner(cmd.InOrStdin())
	if !scanner.Scan() {
		return fmt.Errorf("calendar authorize: no authorization code given")
	}
	code := strings.TrimSpace(scanner.Text())
	if code == "" {
		return fmt.Errorf("calendar authorize: no authorization code given")
	}

	tok, err := oc.Exchange(cmd.Context(), code)
	if err != nil {
		return fmt.Errorf("calendar authorize: exchange code: %w", err)
	}
	if err := calendar.SaveToken(tokenFile, tok); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nToken saved to %s\n", tokenFile)
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
